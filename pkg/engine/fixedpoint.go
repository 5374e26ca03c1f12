package engine

import "math"

// saturatingRoundingDoublingHighMul returns the high 32 bits of 2*a*b, rounded
// to nearest. The only overflowing case, MinInt32*MinInt32, saturates.
func saturatingRoundingDoublingHighMul(a, b int32) int32 {
	if a == b && a == math.MinInt32 {
		return math.MaxInt32
	}
	ab := int64(a) * int64(b)
	nudge := int64(1 << 30)
	if ab < 0 {
		nudge = 1 - (1 << 30)
	}
	// Go division truncates toward zero.
	return int32((ab + nudge) / (1 << 31))
}

// roundingDivideByPOT divides by 2^exponent, rounding half away from zero.
func roundingDivideByPOT(x int32, exponent int) int32 {
	if exponent <= 0 {
		return x
	}
	mask := int32((int64(1) << exponent) - 1)
	remainder := x & mask
	threshold := mask >> 1
	if x < 0 {
		threshold++
	}
	result := x >> exponent
	if remainder > threshold {
		result++
	}
	return result
}

// multiplyByQuantizedMultiplier computes x * multiplier * 2^(shift-31) in
// integer arithmetic.
func multiplyByQuantizedMultiplier(x, multiplier, shift int32) int32 {
	left, right := 0, 0
	if shift > 0 {
		left = int(shift)
	} else {
		right = int(-shift)
	}
	return roundingDivideByPOT(saturatingRoundingDoublingHighMul(saturate32(int64(x)<<left), multiplier), right)
}

func saturate32(v int64) int32 {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < math.MinInt32 {
		return math.MinInt32
	}
	return int32(v)
}
