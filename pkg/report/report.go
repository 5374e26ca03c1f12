// Package report writes one record per inference cycle.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/itohio/goenvml/pkg/pipeline"
	"github.com/itohio/goenvml/pkg/sensor"
)

// Formats lists the supported output formats.
var Formats = []string{"text", "csv", "json"}

// DefaultPrecision is the number of decimals printed for probabilities.
const DefaultPrecision = 3

// Record is everything known about one cycle.
type Record struct {
	Cycle       uint64
	Reading     sensor.Reading
	Substituted sensor.Mask
	Result      *pipeline.Result
	Latency     time.Duration
}

// Reporter writes records. Implementations are not safe for concurrent use.
type Reporter interface {
	Report(rec *Record) error
	Flush() error
}

// Option configures a reporter.
type Option func(*options)

type options struct {
	precision int
	labels    []string
}

// WithPrecision sets the number of probability decimals.
func WithPrecision(n int) Option {
	return func(o *options) {
		o.precision = n
	}
}

// WithLabels names the probability columns of the csv format.
func WithLabels(labels ...string) Option {
	return func(o *options) {
		o.labels = labels
	}
}

// New returns a reporter for format writing to w.
func New(format string, w io.Writer, opts ...Option) (Reporter, error) {
	o := options{precision: DefaultPrecision}
	for _, opt := range opts {
		opt(&o)
	}
	if o.precision < 0 {
		o.precision = DefaultPrecision
	}

	switch strings.ToLower(format) {
	case "", "text":
		return newText(w, o), nil
	case "csv":
		return newCSV(w, o), nil
	case "json":
		return newJSON(w, o), nil
	default:
		return nil, fmt.Errorf("unknown report format %q, want one of %v", format, Formats)
	}
}

// scenario returns the label written in the scenario column.
func scenario(r *sensor.Reading) string {
	if r.Scenario == "" {
		return "anomaly"
	}
	return r.Scenario
}
