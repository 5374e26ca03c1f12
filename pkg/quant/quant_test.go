package quant

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuantize(t *testing.T) {
	tests := []struct {
		name  string
		value float32
		p     Params
		want  int8
	}{
		{
			name:  "reference input calibration",
			value: 0.5,
			p:     Params{Scale: 0.00391, ZeroPoint: -128},
			want:  -1, // trunc(127.877) - 128
		},
		{
			name:  "zero maps to zero point",
			value: 0,
			p:     Params{Scale: 0.1, ZeroPoint: 5},
			want:  5,
		},
		{
			name:  "negative truncates toward zero not floor",
			value: -0.5,
			p:     Params{Scale: 0.00391, ZeroPoint: 0},
			want:  -127, // floor would give -128
		},
		{
			name:  "positive fraction below one step",
			value: 0.09,
			p:     Params{Scale: 0.1, ZeroPoint: 0},
			want:  0,
		},
		{
			name:  "saturates high",
			value: 1000,
			p:     Params{Scale: 0.01, ZeroPoint: 0},
			want:  127,
		},
		{
			name:  "saturates low",
			value: -1000,
			p:     Params{Scale: 0.01, ZeroPoint: 0},
			want:  -128,
		},
		{
			name:  "zero point pushes past max",
			value: 1.0,
			p:     Params{Scale: 0.01, ZeroPoint: 100},
			want:  127,
		},
		{
			name:  "positive infinity",
			value: math32.Inf(1),
			p:     Params{Scale: 0.01, ZeroPoint: -128},
			want:  127,
		},
		{
			name:  "negative infinity",
			value: math32.Inf(-1),
			p:     Params{Scale: 0.01, ZeroPoint: -128},
			want:  -128,
		},
		{
			name:  "NaN maps to zero point",
			value: math32.NaN(),
			p:     Params{Scale: 0.01, ZeroPoint: -7},
			want:  -7,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Quantize(tt.value, tt.p)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQuantizeMode_NearestDiffersFromTruncate(t *testing.T) {
	p := Params{Scale: 0.00391, ZeroPoint: -128}

	assert.Equal(t, int8(-1), QuantizeMode(0.5, p, Truncate))
	assert.Equal(t, int8(0), QuantizeMode(0.5, p, Nearest))

	// Truncation is biased toward the zero point on both sides.
	q := Params{Scale: 1, ZeroPoint: 0}
	assert.Equal(t, int8(2), QuantizeMode(2.7, q, Truncate))
	assert.Equal(t, int8(3), QuantizeMode(2.7, q, Nearest))
	assert.Equal(t, int8(-2), QuantizeMode(-2.7, q, Truncate))
	assert.Equal(t, int8(-3), QuantizeMode(-2.7, q, Nearest))
	assert.Equal(t, int8(-3), QuantizeMode(-2.5, q, Nearest))
}

func TestQuantize_Saturation(t *testing.T) {
	params := []Params{
		{Scale: 0.00391, ZeroPoint: -128},
		{Scale: 1e-6, ZeroPoint: 127},
		{Scale: 1000, ZeroPoint: 0},
	}

	for _, p := range params {
		for v := float32(-1e6); v <= 1e6; v += 997.3 {
			for _, mode := range []Rounding{Truncate, Nearest} {
				got := int(QuantizeMode(v, p, mode))
				assert.GreaterOrEqual(t, got, MinCode)
				assert.LessOrEqual(t, got, MaxCode)
			}
		}
	}
}

func TestRoundTripWithinOneStep(t *testing.T) {
	p := Params{Scale: 0.00391, ZeroPoint: -128}

	// Representable range is [(-128 - zp) * s, (127 - zp) * s].
	lo := float32(MinCode-p.ZeroPoint) * p.Scale
	hi := float32(MaxCode-p.ZeroPoint) * p.Scale

	for x := lo; x <= hi; x += 0.0007 {
		got := Dequantize(Quantize(x, p), p)
		assert.LessOrEqual(t, math32.Abs(got-x), p.Scale+1e-6, "x=%v got=%v", x, got)

		near := Dequantize(QuantizeMode(x, p, Nearest), p)
		assert.LessOrEqual(t, math32.Abs(near-x), p.Scale/2+1e-6, "x=%v near=%v", x, near)
	}
}

func TestDequantize(t *testing.T) {
	tests := []struct {
		name string
		code int8
		p    Params
		want float32
	}{
		{name: "zero point is zero", code: -128, p: Params{Scale: 0.1, ZeroPoint: -128}, want: 0},
		{name: "max code", code: 127, p: Params{Scale: 0.00390625, ZeroPoint: -128}, want: 0.99609375},
		{name: "negative", code: -10, p: Params{Scale: 0.5, ZeroPoint: 0}, want: -5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Dequantize(tt.code, tt.p), 1e-6)
		})
	}
}

func TestBatch(t *testing.T) {
	p := Params{Scale: 0.5, ZeroPoint: 0}

	dst := make([]int8, 3)
	got := QuantizeInto(dst, []float32{1.0, -1.9, 2.4, 9}, p, Truncate)
	assert.Equal(t, []int8{2, -3, 4}, got)

	back := DequantizeInto(make([]float32, 5), got, p)
	assert.Equal(t, []float32{1.0, -1.5, 2.0}, back)
}

func TestParamsValidate(t *testing.T) {
	require.NoError(t, Params{Scale: 0.1, ZeroPoint: -128}.Validate())
	assert.Error(t, Params{Scale: 0, ZeroPoint: 0}.Validate())
	assert.Error(t, Params{Scale: -1, ZeroPoint: 0}.Validate())
	assert.Error(t, Params{Scale: math32.NaN(), ZeroPoint: 0}.Validate())
	assert.Error(t, Params{Scale: math32.Inf(1), ZeroPoint: 0}.Validate())
	assert.Error(t, Params{Scale: 1, ZeroPoint: 128}.Validate())
}

func TestParseRounding(t *testing.T) {
	r, err := ParseRounding("")
	require.NoError(t, err)
	assert.Equal(t, Truncate, r)

	r, err = ParseRounding("nearest")
	require.NoError(t, err)
	assert.Equal(t, Nearest, r)
	assert.Equal(t, "nearest", r.String())

	_, err = ParseRounding("floor")
	assert.Error(t, err)
}
