// Package loop runs the acquisition and inference cycle: read, substitute,
// infer, report.
package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/itohio/goenvml/pkg/logger"
	"github.com/itohio/goenvml/pkg/metrics"
	"github.com/itohio/goenvml/pkg/pipeline"
	"github.com/itohio/goenvml/pkg/report"
	"github.com/itohio/goenvml/pkg/sensor"
)

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(l *Loop) {
		if log != nil {
			l.log = log
		}
	}
}

// WithMetrics records every cycle in m.
func WithMetrics(m *metrics.Manager) Option {
	return func(l *Loop) {
		l.metrics = m
	}
}

// WithSubstitution sets the fallback values for missing readings.
func WithSubstitution(s sensor.Substitution) Option {
	return func(l *Loop) {
		l.subst = s
	}
}

// WithInterval sets the minimum time between cycles. Readings closer than d
// to the last processed one are skipped. Readings carrying the device uptime
// are spaced by that clock, so a replayed log is throttled as it was
// recorded. Otherwise arrival times are used, with a tenth of d allowed for
// scheduling jitter.
func WithInterval(d time.Duration) Option {
	return func(l *Loop) {
		l.interval = d
	}
}

// WithCycles stops the loop after n cycles. Zero means no limit.
func WithCycles(n uint64) Option {
	return func(l *Loop) {
		l.maxCycles = n
	}
}

// WithScenario labels readings that carry no scenario of their own.
func WithScenario(s string) Option {
	return func(l *Loop) {
		l.scenario = s
	}
}

// WithStages inserts stream stages between the source and the cycle.
func WithStages(stages ...sensor.Stage) Option {
	return func(l *Loop) {
		l.stages = append(l.stages, stages...)
	}
}

// Loop drives one pipeline from one source. It runs one cycle at a time.
type Loop struct {
	source   sensor.Source
	pipeline *pipeline.Pipeline
	reporter report.Reporter
	metrics  *metrics.Manager
	log      logger.Logger

	subst     sensor.Substitution
	stages    []sensor.Stage
	interval  time.Duration
	maxCycles uint64
	scenario  string

	result     pipeline.Result
	record     report.Record
	seen       bool
	lastTime   time.Time
	lastMillis uint64

	mu        sync.RWMutex
	cycles    uint64
	callbacks []func(rec *report.Record)
}

// New creates a loop. The source must be connected before Run.
func New(source sensor.Source, p *pipeline.Pipeline, reporter report.Reporter, opts ...Option) *Loop {
	l := &Loop{
		source:   source,
		pipeline: p,
		reporter: reporter,
		log:      logger.Discard(),
		subst:    sensor.DefaultSubstitution(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// OnCycle registers a callback invoked after each reported cycle. The
// record and its result are reused by the next cycle.
func (l *Loop) OnCycle(fn func(rec *report.Record)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.callbacks = append(l.callbacks, fn)
}

// Cycles returns the number of completed cycles.
func (l *Loop) Cycles() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cycles
}

// Run processes readings until the source closes, the cycle limit is
// reached or ctx is done. It returns ctx.Err() on cancellation, nil when
// the source closes or the limit is reached, and the first cycle error
// otherwise.
func (l *Loop) Run(ctx context.Context) error {
	readings := l.source.Readings()
	for _, stage := range l.stages {
		readings = stage(ctx, readings)
	}

	l.log.Info("loop started", "interval", l.interval, "cycles", l.maxCycles)
	defer func() {
		if err := l.reporter.Flush(); err != nil {
			l.log.Error("failed to flush report", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			l.log.Info("loop stopped", "reason", ctx.Err(), "cycles", l.Cycles())
			return ctx.Err()

		case r, ok := <-readings:
			if !ok {
				l.log.Info("source closed", "cycles", l.Cycles())
				return nil
			}
			if l.throttled(r) {
				continue
			}
			if _, err := l.Step(r); err != nil {
				return err
			}
			if l.maxCycles > 0 && l.Cycles() >= l.maxCycles {
				l.log.Info("cycle limit reached", "cycles", l.maxCycles)
				return nil
			}
		}
	}
}

func (l *Loop) throttled(r sensor.Reading) bool {
	if l.interval <= 0 {
		return false
	}
	if l.seen {
		if elapsed, ok := l.elapsed(r); ok && elapsed < l.interval {
			l.log.Debug("skipping reading", "millis", r.Millis, "since_last", elapsed)
			return true
		}
	}
	l.seen = true
	l.lastTime = r.Timestamp
	l.lastMillis = r.Millis
	return false
}

// elapsed returns the time since the last processed reading, adjusted so it
// can be compared with the interval. ok is false when it cannot be known.
func (l *Loop) elapsed(r sensor.Reading) (time.Duration, bool) {
	if r.Millis != 0 || l.lastMillis != 0 {
		// A smaller uptime means the device restarted.
		if r.Millis < l.lastMillis {
			return 0, false
		}
		return time.Duration(r.Millis-l.lastMillis) * time.Millisecond, true
	}
	if r.Timestamp.IsZero() || l.lastTime.IsZero() {
		return 0, false
	}
	return r.Timestamp.Sub(l.lastTime) + l.interval/10, true
}

// Step runs one cycle on r. The returned record is reused by the next call.
func (l *Loop) Step(r sensor.Reading) (*report.Record, error) {
	start := time.Now()

	values, mask := l.subst.Apply(r.Values)
	if mask != 0 {
		l.log.Debug("substituted missing readings", "channels", mask.String())
	}
	r.Values = values
	if r.Scenario == "" {
		r.Scenario = l.scenario
	}

	if err := l.pipeline.RunInto(&l.result, r.Values); err != nil {
		l.recordError("predict")
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	latency := time.Since(start)

	l.mu.Lock()
	l.cycles++
	cycle := l.cycles
	l.mu.Unlock()

	l.record = report.Record{
		Cycle:       cycle,
		Reading:     r,
		Substituted: mask,
		Result:      &l.result,
		Latency:     latency,
	}

	if l.result.Degenerate {
		l.log.Warn("numeric degeneracy", "error", l.result.Err(), "input", l.result.Input, "output", l.result.Output)
	} else {
		l.log.Debug("cycle", "cycle", cycle, "label", l.result.Label, "latency", latency)
	}

	if l.metrics != nil {
		for ch := range r.Values {
			if mask.Has(ch) {
				l.metrics.RecordSubstitution(ch)
			}
		}
		l.metrics.RecordCycle(l.result.Label, latency, l.result.Degenerate)
	}

	if err := l.reporter.Report(&l.record); err != nil {
		l.recordError("report")
		return nil, fmt.Errorf("failed to report cycle %d: %w", cycle, err)
	}

	l.mu.RLock()
	callbacks := l.callbacks
	l.mu.RUnlock()
	for _, fn := range callbacks {
		fn(&l.record)
	}

	return &l.record, nil
}

func (l *Loop) recordError(stage string) {
	if l.metrics != nil {
		l.metrics.RecordError(stage)
	}
}

// IsShutdown reports whether err ends a run normally.
func IsShutdown(err error) bool {
	return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
