package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/goenvml/pkg/bundle"
	"github.com/itohio/goenvml/pkg/engine"
	"github.com/itohio/goenvml/pkg/model"
	"github.com/itohio/goenvml/pkg/normalize"
	"github.com/itohio/goenvml/pkg/quant"
	"github.com/itohio/goenvml/pkg/softmax"
)

func newDefault(t *testing.T, opts ...Option) *Pipeline {
	t.Helper()
	b, err := model.Default()
	require.NoError(t, err)
	p, err := New(b, append([]Option{WithLabels(model.Labels()...)}, opts...)...)
	require.NoError(t, err)
	return p
}

func TestPipeline_Scenarios(t *testing.T) {
	p := newDefault(t)

	tests := []struct {
		name   string
		values normalize.Values
		label  string
	}{
		{name: "normal", values: normalize.Values{1.2, 25, 45, 60, 450}, label: "normal"},
		{name: "high temperature", values: normalize.Values{1.5, 38, 25, 70, 500}, label: "high_temp"},
		{name: "high humidity", values: normalize.Values{0.9, 28, 85, 120, 600}, label: "high_humidity"},
		{name: "poor air", values: normalize.Values{1.0, 26, 50, 300, 1200}, label: "normal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := p.Run(tt.values)
			require.NoError(t, err)
			assert.NoError(t, r.Err())
			assert.False(t, r.Degenerate)
			assert.True(t, softmax.Valid(r.Probabilities, 1e-5), "%v", r.Probabilities)
			assert.Equal(t, tt.label, r.Label)
			assert.Equal(t, tt.label, p.Label(r.Class))
		})
	}
}

func TestPipeline_Intermediates(t *testing.T) {
	p := newDefault(t)

	r, err := p.Run(normalize.Values{1.2, 25, 45, 60, 450})
	require.NoError(t, err)

	assert.InDeltaSlice(t, []float32{1.2 / 3.3, 0, -0.5, 0.06, 50.0 / 1600.0}, r.Normalized, 1e-6)
	assert.Equal(t, []int8{-35, -128, -128, -113, -121}, r.Input)
	assert.Equal(t, []int8{-72, -69, 30}, r.Output)

	out := p.OutputParams()
	for i, c := range r.Output {
		assert.Equal(t, quant.Dequantize(c, out), r.Logits[i])
	}
	assert.Equal(t, softmax.Softmax(nil, r.Logits), r.Probabilities)
	assert.Equal(t, 2, r.Class)
}

func TestPipeline_RunReturnsOwnedResults(t *testing.T) {
	p := newDefault(t)

	a, err := p.Run(normalize.Values{1.5, 38, 25, 70, 500})
	require.NoError(t, err)
	saved := append([]float32(nil), a.Probabilities...)

	_, err = p.Run(normalize.Values{0.9, 28, 85, 120, 600})
	require.NoError(t, err)
	assert.Equal(t, saved, a.Probabilities)
}

func TestPipeline_PredictDoesNotAllocate(t *testing.T) {
	p := newDefault(t)
	v := normalize.Values{1.2, 25, 45, 60, 450}
	dst := make([]float32, 3)

	allocs := testing.AllocsPerRun(100, func() {
		dst, _ = p.Predict(dst, v)
	})
	assert.Zero(t, allocs)
	assert.True(t, softmax.Valid(dst, 1e-5))
}

func TestPipeline_OutOfRangeReadingsSaturate(t *testing.T) {
	p := newDefault(t)

	r, err := p.Run(normalize.Values{100, 500, -300, 1e6, -1e6})
	require.NoError(t, err)
	assert.Equal(t, []int8{127, 127, -128, 127, -128}, r.Input)
	assert.True(t, softmax.Valid(r.Probabilities, 1e-5))
}

func TestPipeline_Rounding(t *testing.T) {
	trunc := newDefault(t)
	nearest := newDefault(t, WithRounding(quant.Nearest))

	v := normalize.Values{1.2, 25, 45, 60, 450}
	a, err := trunc.Run(v)
	require.NoError(t, err)
	b, err := nearest.Run(v)
	require.NoError(t, err)

	for i := range a.Input {
		d := int(b.Input[i]) - int(a.Input[i])
		assert.True(t, d == 0 || d == 1, "channel %d: truncate %d nearest %d", i, a.Input[i], b.Input[i])
	}
}

func TestPipeline_UnnamedClasses(t *testing.T) {
	b, err := model.Default()
	require.NoError(t, err)
	p, err := New(b)
	require.NoError(t, err)

	r, err := p.Run(normalize.Values{1.2, 25, 45, 60, 450})
	require.NoError(t, err)
	assert.Equal(t, "class2", r.Label)
	assert.Equal(t, "", p.Label(-1))
}

func TestNew_Errors(t *testing.T) {
	t.Run("invalid profile", func(t *testing.T) {
		b, err := model.Default()
		require.NoError(t, err)
		prof := normalize.DefaultProfile()
		prof[normalize.Light] = normalize.NewMinMax(1, 1)

		_, err = New(b, WithProfile(prof))
		assert.ErrorIs(t, err, normalize.ErrInvalidProfile)
	})

	t.Run("label count", func(t *testing.T) {
		b, err := model.Default()
		require.NoError(t, err)
		_, err = New(b, WithLabels("a", "b"))
		assert.Error(t, err)
	})

	t.Run("arena too small", func(t *testing.T) {
		b, err := model.Default()
		require.NoError(t, err)
		_, err = New(b, WithEngineOptions(engine.WithArenaCapacity(8)))
		assert.ErrorIs(t, err, engine.ErrModelInit)
		assert.ErrorIs(t, err, engine.ErrArenaTooSmall)
	})

	t.Run("wrong input arity", func(t *testing.T) {
		m1, s1 := bundle.QuantizeMultiplier(0.01)
		b := &bundle.Bundle{
			Header: bundle.Header{
				Input:       quant.Params{Scale: 0.1, ZeroPoint: 0},
				Output:      quant.Params{Scale: 0.1, ZeroPoint: 0},
				InputArity:  2,
				OutputArity: 1,
				ArenaBytes:  4,
			},
			Layers: []bundle.Layer{{
				Op: bundle.OpFullyConnected, In: 2, Out: 1,
				Multiplier: m1, Shift: s1,
				Weights: []int8{1, 1}, Bias: []int32{0},
			}},
		}
		_, err := New(b)
		var ie *engine.ModelInitError
		require.True(t, errors.As(err, &ie))
		assert.ErrorIs(t, err, engine.ErrShapeMismatch)
	})
}

func TestResult_Err(t *testing.T) {
	r := Result{Degenerate: true, Class: -1}
	assert.ErrorIs(t, r.Err(), ErrNumericDegeneracy)
	r.Degenerate = false
	assert.NoError(t, r.Err())
}
