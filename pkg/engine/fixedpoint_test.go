package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSaturatingRoundingDoublingHighMul(t *testing.T) {
	tests := []struct {
		a, b int32
		want int32
	}{
		{a: math.MinInt32, b: math.MinInt32, want: math.MaxInt32},
		{a: 1 << 30, b: 1 << 30, want: 1 << 29},
		{a: 1000, b: 1 << 30, want: 500},
		{a: -1000, b: 1 << 30, want: -500},
		{a: 0, b: math.MaxInt32, want: 0},
		{a: math.MaxInt32, b: math.MaxInt32, want: math.MaxInt32 - 1},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, saturatingRoundingDoublingHighMul(tt.a, tt.b), "%d*%d", tt.a, tt.b)
	}
}

func TestRoundingDivideByPOT(t *testing.T) {
	tests := []struct {
		x        int32
		exponent int
		want     int32
	}{
		{x: 5, exponent: 0, want: 5},
		{x: 5, exponent: 1, want: 3},   // 2.5 rounds away from zero
		{x: -5, exponent: 1, want: -3}, // -2.5 rounds away from zero
		{x: 7, exponent: 2, want: 2},
		{x: -6, exponent: 2, want: -2},
		{x: -7, exponent: 2, want: -2},
		{x: 1 << 20, exponent: 20, want: 1},
		{x: math.MaxInt32, exponent: 31, want: 1},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, roundingDivideByPOT(tt.x, tt.exponent), "%d/2^%d", tt.x, tt.exponent)
	}
}

func TestMultiplyByQuantizedMultiplier(t *testing.T) {
	assert.Equal(t, int32(500), multiplyByQuantizedMultiplier(1000, 1<<30, 0))
	assert.Equal(t, int32(125), multiplyByQuantizedMultiplier(1000, 1<<30, -2))
	assert.Equal(t, int32(-125), multiplyByQuantizedMultiplier(-1000, 1<<30, -2))
	assert.Equal(t, int32(3), multiplyByQuantizedMultiplier(3, 1<<30, 1))
	// Left shift saturates instead of wrapping.
	assert.Equal(t, int32(1<<30), multiplyByQuantizedMultiplier(math.MaxInt32, 1<<30, 4))
}
