// Package engine runs quantized int8 models inside a fixed tensor arena.
//
// An Engine is initialized once with a bundle and then reused for every
// inference. Predict never allocates and overwrites whatever the arena held
// before. An Engine is not safe for concurrent use.
package engine

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/itohio/goenvml/pkg/bundle"
)

// DefaultArenaCapacity is the tensor arena size in bytes.
const DefaultArenaCapacity = 16 * 1024

// State is the engine lifecycle state.
type State int

const (
	Uninitialized State = iota
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithArenaCapacity sets the arena size in bytes.
func WithArenaCapacity(n int) Option {
	return func(e *Engine) {
		e.capacity = n
	}
}

// WithBuildID makes Init reject bundles with a different build id.
func WithBuildID(id uuid.UUID) Option {
	return func(e *Engine) {
		e.buildID = id
	}
}

// Engine evaluates a quantized layer graph.
type Engine struct {
	state    State
	err      error
	capacity int
	buildID  uuid.UUID

	arena []int8
	used  int
	// ping and pong alternate as layer input and output.
	ping []int8
	pong []int8

	layers   []layer
	inArity  int
	outArity int
}

// New creates an uninitialized engine.
func New(opts ...Option) *Engine {
	e := &Engine{capacity: DefaultArenaCapacity}
	for _, opt := range opts {
		opt(e)
	}
	if e.capacity > 0 {
		e.arena = make([]int8, e.capacity)
	}
	return e
}

// Init loads b into the arena. Both outcomes are final: on success the engine
// is Ready, otherwise it is Failed and every Predict returns ErrNotReady.
func (e *Engine) Init(b *bundle.Bundle) error {
	if e.state != Uninitialized {
		return ErrAlreadyInitialized
	}
	if err := e.init(b); err != nil {
		e.state = Failed
		e.err = err
		return err
	}
	e.state = Ready
	return nil
}

func (e *Engine) init(b *bundle.Bundle) error {
	if b == nil {
		return &ModelInitError{Reason: "no model"}
	}
	if err := b.Validate(); err != nil {
		return &ModelInitError{Reason: "invalid model", Err: err}
	}
	if err := b.VerifyBuildID(e.buildID); err != nil {
		return &ModelInitError{Reason: "wrong model", Err: err}
	}

	width := b.MaxWidth()
	plan := 2 * width
	if b.Header.ArenaBytes < plan {
		return &ModelInitError{
			Reason: fmt.Sprintf("model declares %d arena bytes, needs %d", b.Header.ArenaBytes, plan),
			Err:    bundle.ErrCorruptBundle,
		}
	}
	if b.Header.ArenaBytes > e.capacity {
		return &ModelInitError{
			Reason: fmt.Sprintf("model needs %d bytes, capacity %d", b.Header.ArenaBytes, e.capacity),
			Err:    ErrArenaTooSmall,
		}
	}

	e.layers = make([]layer, len(b.Layers))
	for i := range b.Layers {
		e.layers[i] = newLayer(&b.Layers[i])
	}
	e.ping = e.arena[:width:width]
	e.pong = e.arena[width:plan:plan]
	e.used = b.Header.ArenaBytes
	e.inArity = b.Header.InputArity
	e.outArity = b.Header.OutputArity
	return nil
}

// Predict runs the model on src and writes the output codes to dst.
// Buffer lengths must equal the input and output arity.
func (e *Engine) Predict(dst, src []int8) error {
	if e.state != Ready {
		return ErrNotReady
	}
	if len(src) != e.inArity {
		return &ShapeMismatchError{Buffer: "input", Want: e.inArity, Got: len(src)}
	}
	if len(dst) != e.outArity {
		return &ShapeMismatchError{Buffer: "output", Want: e.outArity, Got: len(dst)}
	}

	cur, next := e.ping, e.pong
	copy(cur, src)
	for i := range e.layers {
		l := &e.layers[i]
		l.fullyConnected(next[:l.out], cur[:l.in])
		cur, next = next, cur
	}
	copy(dst, cur[:e.outArity])
	return nil
}

// State returns the lifecycle state.
func (e *Engine) State() State { return e.state }

// Err returns the Init failure of a Failed engine.
func (e *Engine) Err() error { return e.err }

// InputArity returns the model input length, 0 until Ready.
func (e *Engine) InputArity() int { return e.inArity }

// OutputArity returns the model output length, 0 until Ready.
func (e *Engine) OutputArity() int { return e.outArity }

// ArenaUsed returns the bytes of arena reserved by the model.
func (e *Engine) ArenaUsed() int { return e.used }

// ArenaCapacity returns the arena size.
func (e *Engine) ArenaCapacity() int { return e.capacity }
