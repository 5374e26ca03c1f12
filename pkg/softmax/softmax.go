// Package softmax turns logits into a probability distribution.
package softmax

import (
	"github.com/chewxy/math32"
)

// Softmax writes the softmax of logits into dst and returns it.
// Destination-based: reuses dst if it has sufficient capacity, otherwise allocates.
// dst may alias logits.
//
// The maximum logit is subtracted before exponentiating so large logits cannot
// overflow. Equal logits give a uniform distribution. If any logit is NaN or
// infinite every output is NaN; the caller decides how to react.
func Softmax(dst, logits []float32) []float32 {
	if cap(dst) < len(logits) {
		dst = make([]float32, len(logits))
	}
	dst = dst[:len(logits)]
	if len(logits) == 0 {
		return dst
	}

	maxv := logits[0]
	for _, v := range logits {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return fill(dst, math32.NaN())
		}
		if v > maxv {
			maxv = v
		}
	}

	var sum float32
	for i, v := range logits {
		e := math32.Exp(v - maxv)
		dst[i] = e
		sum += e
	}

	// sum >= 1 because the max entry contributes exp(0).
	inv := 1 / sum
	for i := range dst {
		dst[i] *= inv
	}
	return dst
}

func fill(dst []float32, v float32) []float32 {
	for i := range dst {
		dst[i] = v
	}
	return dst
}

// Valid reports whether p is a probability distribution: every entry in [0, 1]
// and the sum within tol of 1.
func Valid(p []float32, tol float32) bool {
	if len(p) == 0 {
		return false
	}
	var sum float32
	for _, v := range p {
		if !(v >= 0 && v <= 1) {
			return false
		}
		sum += v
	}
	return math32.Abs(sum-1) <= tol
}

// Argmax returns the index of the largest entry, the first one on ties.
// It returns -1 for an empty slice or when any entry is NaN.
func Argmax(p []float32) int {
	if len(p) == 0 {
		return -1
	}
	best := 0
	for i, v := range p {
		if math32.IsNaN(v) {
			return -1
		}
		if v > p[best] {
			best = i
		}
	}
	return best
}
