// Package quant converts between float32 values and int8 fixed-point codes.
package quant

import (
	"fmt"
	"math"

	"github.com/chewxy/math32"
)

const (
	// MinCode is the smallest int8 code.
	MinCode = -128
	// MaxCode is the largest int8 code.
	MaxCode = 127
)

// Params holds the affine quantization parameters of a tensor.
// real = (code - ZeroPoint) * Scale
type Params struct {
	Scale     float32 `yaml:"scale" json:"scale"`
	ZeroPoint int32   `yaml:"zero_point" json:"zero_point"`
}

// Validate checks that the scale is a positive finite number and the zero point fits int8.
func (p Params) Validate() error {
	if !(p.Scale > 0) || math32.IsInf(p.Scale, 0) {
		return fmt.Errorf("invalid scale %v: must be positive and finite", p.Scale)
	}
	if p.ZeroPoint < MinCode || p.ZeroPoint > MaxCode {
		return fmt.Errorf("invalid zero point %d: must be in [%d, %d]", p.ZeroPoint, MinCode, MaxCode)
	}
	return nil
}

// Rounding selects how value/scale is reduced to an integer.
type Rounding int

const (
	// Truncate rounds toward zero. This is the firmware behaviour and biases every
	// code toward the zero point.
	Truncate Rounding = iota
	// Nearest rounds half away from zero, matching the usual converter calibration.
	Nearest
)

// String returns the config name of the rounding mode.
func (r Rounding) String() string {
	switch r {
	case Truncate:
		return "truncate"
	case Nearest:
		return "nearest"
	default:
		return fmt.Sprintf("rounding(%d)", int(r))
	}
}

// ParseRounding parses a config name into a Rounding mode. Empty means Truncate.
func ParseRounding(s string) (Rounding, error) {
	switch s {
	case "", "truncate", "trunc":
		return Truncate, nil
	case "nearest", "round":
		return Nearest, nil
	default:
		return Truncate, fmt.Errorf("unknown rounding mode %q", s)
	}
}

// Quantize maps value to an int8 code using truncation toward zero:
// trunc(value/scale) + zero_point, saturated to [-128, 127].
func Quantize(value float32, p Params) int8 {
	return QuantizeMode(value, p, Truncate)
}

// QuantizeMode is Quantize with an explicit rounding mode.
// NaN maps to the zero point. Out of range values saturate, they never wrap.
func QuantizeMode(value float32, p Params, mode Rounding) int8 {
	if math32.IsNaN(value) {
		return saturate(float32(p.ZeroPoint))
	}

	v := value / p.Scale
	if mode == Nearest {
		v = float32(math.Round(float64(v)))
	} else {
		v = math32.Trunc(v)
	}

	return saturate(v + float32(p.ZeroPoint))
}

// saturate clamps in the float domain before the integer conversion so that
// infinities and huge values cannot overflow.
func saturate(v float32) int8 {
	if v >= MaxCode {
		return MaxCode
	}
	if v <= MinCode {
		return MinCode
	}
	return int8(v)
}

// Dequantize maps an int8 code back to a real value: (code - zero_point) * scale.
func Dequantize(code int8, p Params) float32 {
	return float32(int32(code)-p.ZeroPoint) * p.Scale
}

// QuantizeInto quantizes src into dst. It quantizes min(len(dst), len(src)) values
// and returns dst truncated to that length.
func QuantizeInto(dst []int8, src []float32, p Params, mode Rounding) []int8 {
	n := min(len(dst), len(src))
	for i := range n {
		dst[i] = QuantizeMode(src[i], p, mode)
	}
	return dst[:n]
}

// DequantizeInto dequantizes src into dst. It converts min(len(dst), len(src)) codes
// and returns dst truncated to that length.
func DequantizeInto(dst []float32, src []int8, p Params) []float32 {
	n := min(len(dst), len(src))
	for i := range n {
		dst[i] = Dequantize(src[i], p)
	}
	return dst[:n]
}
