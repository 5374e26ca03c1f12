//go:build !tinygo

package bundle

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/itohio/goenvml/pkg/quant"
)

// Manifest is the JSON form of a bundle, as exported by the training scripts.
// `envml pack` turns a manifest into a bundle.
type Manifest struct {
	BuildID    string          `json:"build_id,omitempty"`
	Input      quant.Params    `json:"input"`
	Output     quant.Params    `json:"output"`
	ArenaBytes int             `json:"arena_bytes,omitempty"`
	Labels     []string        `json:"labels,omitempty"` // not stored in the bundle
	Layers     []LayerManifest `json:"layers"`
}

// LayerManifest describes one fully connected layer.
// Either Multiplier/Shift or RealMultiplier must be set.
type LayerManifest struct {
	Activation      string  `json:"activation"`
	In              int     `json:"in"`
	Out             int     `json:"out"`
	InputZeroPoint  int32   `json:"input_zero_point"`
	OutputZeroPoint int32   `json:"output_zero_point"`
	Multiplier      int32   `json:"multiplier,omitempty"`
	Shift           int32   `json:"shift,omitempty"`
	RealMultiplier  float64 `json:"real_multiplier,omitempty"`
	Weights         []int8  `json:"weights"`
	Bias            []int32 `json:"bias"`
}

// ReadManifest decodes a JSON manifest.
func ReadManifest(r io.Reader) (*Manifest, error) {
	var m Manifest
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

// Build converts the manifest into a validated bundle.
// A missing build id is generated. A zero arena size is filled with the
// ping-pong requirement of the graph.
func (m *Manifest) Build() (*Bundle, error) {
	id := uuid.New()
	if m.BuildID != "" {
		var err error
		if id, err = uuid.Parse(m.BuildID); err != nil {
			return nil, fmt.Errorf("build id: %w", err)
		}
	}
	if len(m.Layers) == 0 {
		return nil, fmt.Errorf("%w: no layers", ErrCorruptBundle)
	}

	b := &Bundle{
		Header: Header{
			Major:       CurrentMajor,
			Minor:       CurrentMinor,
			BuildID:     id,
			Input:       m.Input,
			Output:      m.Output,
			InputArity:  m.Layers[0].In,
			OutputArity: m.Layers[len(m.Layers)-1].Out,
			ArenaBytes:  m.ArenaBytes,
		},
		Layers: make([]Layer, len(m.Layers)),
	}

	for i, lm := range m.Layers {
		act, err := ParseActivation(lm.Activation)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		mult, shift := lm.Multiplier, lm.Shift
		if lm.RealMultiplier != 0 {
			mult, shift = QuantizeMultiplier(lm.RealMultiplier)
		}
		b.Layers[i] = Layer{
			Op:              OpFullyConnected,
			Activation:      act,
			In:              lm.In,
			Out:             lm.Out,
			InputZeroPoint:  lm.InputZeroPoint,
			OutputZeroPoint: lm.OutputZeroPoint,
			Multiplier:      mult,
			Shift:           shift,
			Weights:         lm.Weights,
			Bias:            lm.Bias,
		}
	}

	if b.Header.ArenaBytes == 0 {
		b.Header.ArenaBytes = 2 * b.MaxWidth()
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}
