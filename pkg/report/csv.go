package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/itohio/goenvml/pkg/normalize"
)

// csvReporter writes the firmware data columns followed by one column per
// class probability and the winning label. The header is written before the
// first record.
type csvReporter struct {
	w      *csv.Writer
	o      options
	header bool
	row    []string
}

func newCSV(w io.Writer, o options) *csvReporter {
	return &csvReporter{w: csv.NewWriter(w), o: o}
}

func (c *csvReporter) Report(rec *Record) error {
	probs := rec.Result.Probabilities
	if !c.header {
		if err := c.w.Write(c.columns(len(probs))); err != nil {
			return err
		}
		c.header = true
	}

	r := &rec.Reading
	row := c.row[:0]
	row = append(row, strconv.FormatUint(r.Millis, 10))
	for _, v := range r.Values {
		row = append(row, strconv.FormatFloat(float64(v), 'f', 2, 32))
	}
	row = append(row, scenario(r), rec.Substituted.String())
	for _, p := range probs {
		row = append(row, strconv.FormatFloat(float64(p), 'f', c.o.precision, 32))
	}
	row = append(row, rec.Result.Label)
	c.row = row

	if err := c.w.Write(row); err != nil {
		return err
	}
	c.w.Flush()
	return c.w.Error()
}

func (c *csvReporter) columns(classes int) []string {
	cols := []string{"millis"}
	cols = append(cols, normalize.Names[:]...)
	cols = append(cols, "scenario", "substituted")
	for i := 0; i < classes; i++ {
		if i < len(c.o.labels) {
			cols = append(cols, "p_"+c.o.labels[i])
		} else {
			cols = append(cols, fmt.Sprintf("p_class%d", i))
		}
	}
	return append(cols, "label")
}

func (c *csvReporter) Flush() error {
	c.w.Flush()
	return c.w.Error()
}
