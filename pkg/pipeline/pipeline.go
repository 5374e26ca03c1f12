// Package pipeline wires normalization, quantization, the inference engine,
// dequantization and softmax into a single call.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/itohio/goenvml/pkg/bundle"
	"github.com/itohio/goenvml/pkg/engine"
	"github.com/itohio/goenvml/pkg/normalize"
	"github.com/itohio/goenvml/pkg/quant"
	"github.com/itohio/goenvml/pkg/softmax"
)

// ErrNumericDegeneracy is returned by Result.Err when softmax produced NaNs.
var ErrNumericDegeneracy = errors.New("numeric degeneracy: probabilities are not finite")

// Result holds every intermediate of one inference.
type Result struct {
	Normalized    []float32
	Input         []int8
	Output        []int8
	Logits        []float32
	Probabilities []float32
	// Class is the argmax of Probabilities, -1 when Degenerate.
	Class int
	Label string
	// Degenerate is set when softmax returned NaNs.
	Degenerate bool
}

// Err returns ErrNumericDegeneracy for a degenerate result.
func (r *Result) Err() error {
	if r.Degenerate {
		return ErrNumericDegeneracy
	}
	return nil
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithProfile sets the normalization profile. It must be valid.
func WithProfile(p normalize.Profile) Option {
	return func(pl *Pipeline) {
		pl.profile = p
	}
}

// WithRounding selects the input quantization rounding.
func WithRounding(r quant.Rounding) Option {
	return func(pl *Pipeline) {
		pl.rounding = r
	}
}

// WithLabels names the output classes.
func WithLabels(labels ...string) Option {
	return func(pl *Pipeline) {
		pl.labels = labels
	}
}

// WithEngineOptions passes options to the inference engine.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(pl *Pipeline) {
		pl.engineOpts = append(pl.engineOpts, opts...)
	}
}

// Pipeline runs one inference at a time. It is not safe for concurrent use.
type Pipeline struct {
	profile    normalize.Profile
	rounding   quant.Rounding
	labels     []string
	engineOpts []engine.Option

	input  quant.Params
	output quant.Params
	engine *engine.Engine

	scratch Result
}

// New builds a pipeline around a freshly initialized engine.
// An engine failure is returned as *engine.ModelInitError.
func New(b *bundle.Bundle, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{profile: normalize.DefaultProfile()}
	for _, opt := range opts {
		opt(p)
	}

	if err := p.profile.Validate(); err != nil {
		return nil, err
	}

	p.engine = engine.New(p.engineOpts...)
	if err := p.engine.Init(b); err != nil {
		return nil, err
	}
	if n := p.engine.InputArity(); n != normalize.Channels {
		return nil, &engine.ModelInitError{
			Reason: fmt.Sprintf("model takes %d inputs, sensors provide %d", n, normalize.Channels),
			Err:    engine.ErrShapeMismatch,
		}
	}
	if len(p.labels) != 0 && len(p.labels) != p.engine.OutputArity() {
		return nil, fmt.Errorf("%d labels for %d model outputs", len(p.labels), p.engine.OutputArity())
	}

	p.input = b.Header.Input
	p.output = b.Header.Output
	p.scratch.grow(p.engine.OutputArity())
	return p, nil
}

// Run evaluates one reading. The returned Result owns its slices.
func (p *Pipeline) Run(v normalize.Values) (Result, error) {
	var r Result
	if err := p.RunInto(&r, v); err != nil {
		return Result{}, err
	}
	return r, nil
}

// RunInto evaluates one reading into r, reusing its slices when large enough.
// A degenerate softmax is reported in r, not as an error.
func (p *Pipeline) RunInto(r *Result, v normalize.Values) error {
	r.grow(p.engine.OutputArity())

	r.Normalized = p.profile.Apply(r.Normalized, v)
	r.Input = quant.QuantizeInto(r.Input, r.Normalized, p.input, p.rounding)
	if err := p.engine.Predict(r.Output, r.Input); err != nil {
		return err
	}
	r.Logits = quant.DequantizeInto(r.Logits, r.Output, p.output)
	r.Probabilities = softmax.Softmax(r.Probabilities, r.Logits)

	r.Class = softmax.Argmax(r.Probabilities)
	r.Degenerate = r.Class < 0
	r.Label = p.Label(r.Class)
	return nil
}

// Predict returns the class probabilities of one reading in dst, reusing it
// when large enough. It does not allocate when dst is large enough.
func (p *Pipeline) Predict(dst []float32, v normalize.Values) ([]float32, error) {
	if err := p.RunInto(&p.scratch, v); err != nil {
		return dst, err
	}
	if cap(dst) < len(p.scratch.Probabilities) {
		dst = make([]float32, len(p.scratch.Probabilities))
	}
	dst = dst[:len(p.scratch.Probabilities)]
	copy(dst, p.scratch.Probabilities)
	return dst, p.scratch.Err()
}

// Label returns the name of class i. Unnamed classes are "class<i>".
func (p *Pipeline) Label(i int) string {
	switch {
	case i < 0:
		return ""
	case i < len(p.labels):
		return p.labels[i]
	default:
		return fmt.Sprintf("class%d", i)
	}
}

// Labels returns the configured class names.
func (p *Pipeline) Labels() []string { return p.labels }

// Engine exposes the underlying engine for inspection.
func (p *Pipeline) Engine() *engine.Engine { return p.engine }

// InputParams returns the input quantization constants.
func (p *Pipeline) InputParams() quant.Params { return p.input }

// OutputParams returns the output quantization constants.
func (p *Pipeline) OutputParams() quant.Params { return p.output }

func (r *Result) grow(classes int) {
	r.Normalized = growF(r.Normalized, normalize.Channels)
	r.Input = growI(r.Input, normalize.Channels)
	r.Output = growI(r.Output, classes)
	r.Logits = growF(r.Logits, classes)
	r.Probabilities = growF(r.Probabilities, classes)
}

func growF(s []float32, n int) []float32 {
	if cap(s) < n {
		return make([]float32, n)
	}
	return s[:n]
}

func growI(s []int8, n int) []int8 {
	if cap(s) < n {
		return make([]int8, n)
	}
	return s[:n]
}
