// Package bundle implements the versioned model bundle.
//
// A bundle keeps the quantization constants, the quantized layer graph and a
// checksum together so that a model and its calibration can never be paired up
// by accident. All integers are little-endian.
//
//	offset size field
//	0      4    magic "ENVQ"
//	4      2    major version
//	6      2    minor version
//	8      4    header size (64)
//	12     4    flags
//	16     16   build id (UUID)
//	32     4    input scale (float32)
//	36     4    input zero point (int32)
//	40     4    output scale (float32)
//	44     4    output zero point (int32)
//	48     2    input arity
//	50     2    output arity
//	52     4    arena bytes
//	56     4    payload size
//	60     4    CRC-32 (IEEE) of bytes [0, 60), then [64, header size), then the payload
//
// The payload is a layer count (uint16) and a reserved uint16, then for each
// layer a 24 byte descriptor, Out*In int8 weights (row-major, one row per
// output) and Out int32 biases.
package bundle

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/itohio/goenvml/pkg/quant"
)

// Bundle format constants must never change.
const (
	// Magic is the file magic.
	Magic = "ENVQ"

	// CurrentMajor changes on breaking format changes.
	CurrentMajor uint16 = 1
	// CurrentMinor changes when optional fields are added.
	CurrentMinor uint16 = 0

	// HeaderSize is the size of the fixed header.
	HeaderSize = 64

	checksumOffset  = 60
	layerDescSize   = 24
	payloadPrologue = 4
)

// Op identifies a layer operation.
type Op uint8

const (
	// OpFullyConnected is an int8 dense layer with int32 bias.
	OpFullyConnected Op = 1
)

// String returns the operation name.
func (o Op) String() string {
	switch o {
	case OpFullyConnected:
		return "fully_connected"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// Activation is the activation fused into a layer's output clamp.
type Activation uint8

const (
	ActivationNone Activation = 0
	ActivationReLU Activation = 1
)

// String returns the activation name.
func (a Activation) String() string {
	switch a {
	case ActivationNone:
		return "none"
	case ActivationReLU:
		return "relu"
	default:
		return fmt.Sprintf("activation(%d)", uint8(a))
	}
}

// ParseActivation parses an activation name. Empty means none.
func ParseActivation(s string) (Activation, error) {
	switch s {
	case "", "none", "linear":
		return ActivationNone, nil
	case "relu":
		return ActivationReLU, nil
	default:
		return ActivationNone, fmt.Errorf("unknown activation %q", s)
	}
}

// Header holds the bundle constants.
type Header struct {
	Major       uint16
	Minor       uint16
	Flags       uint32
	BuildID     uuid.UUID
	Input       quant.Params
	Output      quant.Params
	InputArity  int
	OutputArity int
	// ArenaBytes is the scratch memory the model needs at peak.
	ArenaBytes  int
	PayloadSize uint32
	Checksum    uint32
}

// Layer is one quantized layer.
//
// The int32 accumulator of output o is
//
//	Bias[o] + sum_i Weights[o*In+i] * (x[i] - InputZeroPoint)
//
// and is rescaled by Multiplier * 2^(Shift-31) before OutputZeroPoint is added.
// Weights are symmetric (zero point 0).
type Layer struct {
	Op              Op
	Activation      Activation
	In              int
	Out             int
	InputZeroPoint  int32
	OutputZeroPoint int32
	Multiplier      int32
	Shift           int32
	Weights         []int8
	Bias            []int32
}

// Bundle is a decoded model bundle.
type Bundle struct {
	Header Header
	Layers []Layer
}

// MaxWidth returns the widest activation vector in the graph.
func (b *Bundle) MaxWidth() int {
	w := b.Header.InputArity
	for i := range b.Layers {
		w = max(w, b.Layers[i].In, b.Layers[i].Out)
	}
	return w
}

// Params returns the number of weights and biases.
func (b *Bundle) Params() int {
	n := 0
	for i := range b.Layers {
		n += len(b.Layers[i].Weights) + len(b.Layers[i].Bias)
	}
	return n
}

// VerifyBuildID checks that the bundle carries the expected build id.
// A nil expected id accepts any bundle.
func (b *Bundle) VerifyBuildID(expected uuid.UUID) error {
	if expected == uuid.Nil || expected == b.Header.BuildID {
		return nil
	}
	return fmt.Errorf("%w: want %s, got %s", ErrBuildIDMismatch, expected, b.Header.BuildID)
}

// Validate checks the header constants and the layer graph.
// Decode calls it; Encode calls it before writing.
func (b *Bundle) Validate() error {
	h := &b.Header
	if err := h.Input.Validate(); err != nil {
		return fmt.Errorf("%w: input params: %v", ErrCorruptBundle, err)
	}
	if err := h.Output.Validate(); err != nil {
		return fmt.Errorf("%w: output params: %v", ErrCorruptBundle, err)
	}
	if h.InputArity <= 0 || h.OutputArity <= 0 {
		return fmt.Errorf("%w: arity %d -> %d", ErrCorruptBundle, h.InputArity, h.OutputArity)
	}
	if h.ArenaBytes < 0 {
		return fmt.Errorf("%w: negative arena size", ErrCorruptBundle)
	}
	if len(b.Layers) == 0 {
		return fmt.Errorf("%w: no layers", ErrCorruptBundle)
	}

	prevOut := h.InputArity
	prevZP := h.Input.ZeroPoint
	for i := range b.Layers {
		l := &b.Layers[i]
		if l.Op != OpFullyConnected {
			return fmt.Errorf("%w: layer %d: unsupported %s", ErrCorruptBundle, i, l.Op)
		}
		if l.Activation != ActivationNone && l.Activation != ActivationReLU {
			return fmt.Errorf("%w: layer %d: unsupported %s", ErrCorruptBundle, i, l.Activation)
		}
		if l.In <= 0 || l.Out <= 0 {
			return fmt.Errorf("%w: layer %d: shape %dx%d", ErrCorruptBundle, i, l.Out, l.In)
		}
		if l.In != prevOut {
			return fmt.Errorf("%w: layer %d: input width %d, previous output %d", ErrCorruptBundle, i, l.In, prevOut)
		}
		if len(l.Weights) != l.In*l.Out || len(l.Bias) != l.Out {
			return fmt.Errorf("%w: layer %d: %d weights, %d biases for %dx%d", ErrCorruptBundle, i, len(l.Weights), len(l.Bias), l.Out, l.In)
		}
		if !inInt8(l.InputZeroPoint) || !inInt8(l.OutputZeroPoint) {
			return fmt.Errorf("%w: layer %d: zero point out of int8 range", ErrCorruptBundle, i)
		}
		if l.Multiplier <= 0 || l.Shift < -31 || l.Shift > 30 {
			return fmt.Errorf("%w: layer %d: multiplier %d shift %d", ErrCorruptBundle, i, l.Multiplier, l.Shift)
		}
		if l.InputZeroPoint != prevZP {
			return fmt.Errorf("%w: layer %d: input zero point %d, expected %d", ErrCalibrationMismatch, i, l.InputZeroPoint, prevZP)
		}
		prevOut = l.Out
		prevZP = l.OutputZeroPoint
	}

	if prevOut != h.OutputArity {
		return fmt.Errorf("%w: last layer width %d, output arity %d", ErrCorruptBundle, prevOut, h.OutputArity)
	}
	if prevZP != h.Output.ZeroPoint {
		return fmt.Errorf("%w: output zero point %d, last layer emits %d", ErrCalibrationMismatch, h.Output.ZeroPoint, prevZP)
	}
	return nil
}

func inInt8(v int32) bool {
	return v >= quant.MinCode && v <= quant.MaxCode
}
