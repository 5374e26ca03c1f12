package bundle

import "math"

// QuantizeMultiplier splits a positive real multiplier into a Q31 mantissa in
// [2^30, 2^31) and a power-of-two exponent so that
// real = multiplier * 2^(shift-31).
// Multipliers too small to represent return (0, 0).
func QuantizeMultiplier(real float64) (multiplier, shift int32) {
	if real <= 0 || math.IsNaN(real) || math.IsInf(real, 0) {
		return 0, 0
	}
	frac, exp := math.Frexp(real)
	q := int64(math.Round(frac * (1 << 31)))
	if q == 1<<31 {
		q /= 2
		exp++
	}
	if exp < -31 {
		return 0, 0
	}
	if exp > 30 {
		return math.MaxInt32, 30
	}
	return int32(q), int32(exp)
}
