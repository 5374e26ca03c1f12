package engine

import (
	"github.com/itohio/goenvml/pkg/bundle"
	"github.com/itohio/goenvml/pkg/quant"
)

// layer is a fully connected layer prepared for execution.
type layer struct {
	in, out    int
	inZP       int32
	outZP      int32
	multiplier int32
	shift      int32
	// Output clamp; ReLU is fused by raising actMin to the output zero point.
	actMin  int32
	actMax  int32
	weights []int8
	bias    []int32
}

func newLayer(l *bundle.Layer) layer {
	actMin := int32(quant.MinCode)
	if l.Activation == bundle.ActivationReLU {
		actMin = max(actMin, l.OutputZeroPoint)
	}
	return layer{
		in:         l.In,
		out:        l.Out,
		inZP:       l.InputZeroPoint,
		outZP:      l.OutputZeroPoint,
		multiplier: l.Multiplier,
		shift:      l.Shift,
		actMin:     actMin,
		actMax:     quant.MaxCode,
		weights:    l.Weights,
		bias:       l.Bias,
	}
}

// fullyConnected computes dst = clamp(requant(W*(x - inZP) + bias) + outZP).
// len(x) == l.in and len(dst) == l.out.
func (l *layer) fullyConnected(dst, x []int8) {
	for o := 0; o < l.out; o++ {
		acc := l.bias[o]
		row := l.weights[o*l.in : (o+1)*l.in]
		for i, w := range row {
			acc += int32(w) * (int32(x[i]) - l.inZP)
		}

		v := int64(multiplyByQuantizedMultiplier(acc, l.multiplier, l.shift)) + int64(l.outZP)
		if v < int64(l.actMin) {
			v = int64(l.actMin)
		} else if v > int64(l.actMax) {
			v = int64(l.actMax)
		}
		dst[o] = int8(v)
	}
}
