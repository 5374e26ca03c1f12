// Package normalize maps raw sensor units to the distribution the classifier
// was trained on.
package normalize

import (
	"errors"
	"fmt"

	"github.com/chewxy/math32"
)

// Channels is the number of sensor channels fed to the model.
const Channels = 5

// Channel indices in a Values vector.
const (
	Light       = iota // LDR voltage (V)
	Temperature        // degrees Celsius
	Humidity           // relative humidity (%)
	TVOC               // total volatile organic compounds (ppb)
	ECO2               // equivalent CO2 (ppm)
)

// Names holds the channel names in Values order.
var Names = [Channels]string{"light", "temperature", "humidity", "tvoc", "eco2"}

// Values is one ordered vector of channel values.
type Values [Channels]float32

// Kind selects the per-channel transform.
type Kind int

const (
	// MinMax scales linearly so that [A, B] maps to [0, 1].
	MinMax Kind = iota
	// ZScore subtracts the mean A and divides by the standard deviation B.
	ZScore
)

// String returns the config name of the kind.
func (k Kind) String() string {
	switch k {
	case MinMax:
		return "minmax"
	case ZScore:
		return "zscore"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind parses a config name into a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "minmax", "min_max":
		return MinMax, nil
	case "zscore", "z_score":
		return ZScore, nil
	default:
		return MinMax, fmt.Errorf("unknown normalization kind %q", s)
	}
}

// Channel is the transform for a single channel.
// For MinMax, A is min and B is max. For ZScore, A is mean and B is std.
type Channel struct {
	Kind Kind
	A    float32
	B    float32
}

// NewMinMax returns a min-max channel.
func NewMinMax(min, max float32) Channel {
	return Channel{Kind: MinMax, A: min, B: max}
}

// NewZScore returns a z-score channel.
func NewZScore(mean, std float32) Channel {
	return Channel{Kind: ZScore, A: mean, B: std}
}

// offset and divisor reduce both kinds to (x - offset) / divisor.
func (c Channel) offset() float32 {
	return c.A
}

func (c Channel) divisor() float32 {
	if c.Kind == MinMax {
		return c.B - c.A
	}
	return c.B
}

// Apply normalizes a single value. No clamping is done; out of range readings
// produce values outside [0, 1] and the quantizer saturates them later.
func (c Channel) Apply(x float32) float32 {
	return (x - c.offset()) / c.divisor()
}

// Validate checks that the divisor is finite and nonzero.
func (c Channel) Validate() error {
	if c.Kind != MinMax && c.Kind != ZScore {
		return fmt.Errorf("unknown kind %d", int(c.Kind))
	}
	if math32.IsNaN(c.A) || math32.IsInf(c.A, 0) {
		return fmt.Errorf("%s offset %v is not finite", c.Kind, c.A)
	}
	d := c.divisor()
	if d == 0 || math32.IsNaN(d) || math32.IsInf(d, 0) {
		return fmt.Errorf("%s divisor %v must be finite and nonzero", c.Kind, d)
	}
	return nil
}

// Profile holds one transform per channel.
type Profile [Channels]Channel

// ErrInvalidProfile is returned when a profile has a zero or non-finite divisor.
var ErrInvalidProfile = errors.New("invalid normalization profile")

// DefaultProfile returns the reference firmware profile.
func DefaultProfile() Profile {
	return Profile{
		Light:       NewMinMax(0, 3.3),
		Temperature: NewZScore(25, 5),
		Humidity:    NewZScore(50, 10),
		TVOC:        NewMinMax(0, 1000),
		ECO2:        NewMinMax(400, 2000),
	}
}

// New validates p and returns it.
func New(p Profile) (Profile, error) {
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Validate checks every channel.
func (p *Profile) Validate() error {
	for i, c := range p {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("%w: channel %s: %v", ErrInvalidProfile, Names[i], err)
		}
	}
	return nil
}

// Apply normalizes v into dst and returns dst. dst is allocated when nil or short.
func (p *Profile) Apply(dst []float32, v Values) []float32 {
	if cap(dst) < Channels {
		dst = make([]float32, Channels)
	}
	dst = dst[:Channels]
	for i := range v {
		dst[i] = p[i].Apply(v[i])
	}
	return dst
}
