// Package console formats the lines the sensor node prints on its serial
// console. It is shared by the firmware and the host text reporter, and
// builds with TinyGo.
package console

import (
	"strconv"

	"github.com/itohio/goenvml/pkg/normalize"
)

// ProbabilityPrefix starts the line that follows every reading.
const ProbabilityPrefix = "AI probabilities: "

// AppendReading appends the data line without newline:
// millis,ldr,temp,hum,tvoc,eco2,scenario with values to two decimals.
func AppendReading(b []byte, millis uint64, v normalize.Values, scenario string) []byte {
	b = strconv.AppendUint(b, millis, 10)
	for _, x := range v {
		b = append(b, ',')
		b = strconv.AppendFloat(b, float64(x), 'f', 2, 32)
	}
	b = append(b, ',')
	return append(b, scenario...)
}

// AppendProbabilities appends the probability line without newline. Every
// value is followed by a space.
func AppendProbabilities(b []byte, p []float32, precision int) []byte {
	b = append(b, ProbabilityPrefix...)
	for _, x := range p {
		b = strconv.AppendFloat(b, float64(x), 'f', precision, 32)
		b = append(b, ' ')
	}
	return b
}
