package report

import (
	"bufio"
	"io"

	"github.com/itohio/goenvml/pkg/console"
	"github.com/itohio/goenvml/pkg/sensor"
)

// text reproduces the firmware console: the data line followed by the
// probability line.
//
//	123456,1.20,25.00,45.00,60.00,450.00,anomaly
//	AI probabilities: 0.254 0.690 0.057
type text struct {
	w   *bufio.Writer
	o   options
	buf []byte
}

func newText(w io.Writer, o options) *text {
	return &text{w: bufio.NewWriter(w), o: o}
}

func (t *text) Report(rec *Record) error {
	b := t.buf[:0]
	b = appendReading(b, &rec.Reading)
	b = append(b, '\n')
	b = console.AppendProbabilities(b, rec.Result.Probabilities, t.o.precision)
	b = append(b, '\n')
	t.buf = b

	if _, err := t.w.Write(b); err != nil {
		return err
	}
	return t.w.Flush()
}

func (t *text) Flush() error {
	return t.w.Flush()
}

// appendReading appends the firmware CSV data line without newline.
func appendReading(b []byte, r *sensor.Reading) []byte {
	return console.AppendReading(b, r.Millis, r.Values, scenario(r))
}
