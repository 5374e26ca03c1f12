package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/itohio/goenvml/pkg/normalize"
)

// Latency buckets in seconds. A cycle on a host takes microseconds.
var defaultBuckets = prometheus.ExponentialBuckets(1e-6, 4, 10)

// Manager owns the inference metrics and their registry.
type Manager struct {
	namespace        string
	histogramBuckets []float64
	enabled          bool
	constLabels      map[string]string
	registry         *prometheus.Registry

	cycles        prometheus.Counter
	degenerate    prometheus.Counter
	errors        *prometheus.CounterVec
	classes       *prometheus.CounterVec
	substitutions *prometheus.CounterVec
	latency       prometheus.Histogram
	lastCycle     prometheus.Gauge
	arenaBytes    prometheus.Gauge
	modelInfo     *prometheus.GaugeVec
}

// NewManager creates a metrics manager on its own registry.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "envml",
		histogramBuckets: defaultBuckets,
		enabled:          true,
		constLabels:      make(map[string]string),
		registry:         prometheus.NewRegistry(),
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)
	labels := prometheus.Labels(m.constLabels)

	m.cycles = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   "inference",
		Name:        "cycles_total",
		Help:        "Total number of completed inference cycles",
		ConstLabels: labels,
	})

	m.degenerate = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   "inference",
		Name:        "degenerate_total",
		Help:        "Cycles whose softmax produced non-finite probabilities",
		ConstLabels: labels,
	})

	m.errors = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   "inference",
			Name:        "errors_total",
			Help:        "Failed cycles by stage",
			ConstLabels: labels,
		},
		[]string{"stage"},
	)

	m.classes = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   "inference",
			Name:        "class_total",
			Help:        "Predicted class of each cycle",
			ConstLabels: labels,
		},
		[]string{"label"},
	)

	m.latency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   "inference",
		Name:        "latency_seconds",
		Help:        "Time from raw reading to probabilities",
		Buckets:     m.histogramBuckets,
		ConstLabels: labels,
	})

	m.lastCycle = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   "inference",
		Name:        "last_cycle_timestamp_seconds",
		Help:        "Unix time of the last completed cycle",
		ConstLabels: labels,
	})

	m.substitutions = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   "sensor",
			Name:        "substitutions_total",
			Help:        "Missing readings replaced by their fallback value",
			ConstLabels: labels,
		},
		[]string{"channel"},
	)

	m.arenaBytes = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   "model",
		Name:        "arena_bytes",
		Help:        "Tensor arena bytes reserved by the model",
		ConstLabels: labels,
	})

	m.modelInfo = auto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   m.namespace,
			Subsystem:   "model",
			Name:        "info",
			Help:        "Loaded model build id",
			ConstLabels: labels,
		},
		[]string{"build_id"},
	)

	// Pre-create the channel series so absent substitutions read as 0.
	for _, name := range normalize.Names {
		m.substitutions.WithLabelValues(name)
	}
}

// RecordModel records the loaded model.
func (m *Manager) RecordModel(buildID string, arenaBytes int) {
	if !m.enabled {
		return
	}
	m.modelInfo.Reset()
	m.modelInfo.WithLabelValues(buildID).Set(1)
	m.arenaBytes.Set(float64(arenaBytes))
}

// RecordCycle records one completed cycle.
func (m *Manager) RecordCycle(label string, latency time.Duration, degenerate bool) {
	if !m.enabled {
		return
	}
	m.cycles.Inc()
	m.latency.Observe(latency.Seconds())
	m.lastCycle.SetToCurrentTime()
	if degenerate {
		m.degenerate.Inc()
		return
	}
	m.classes.WithLabelValues(label).Inc()
}

// RecordSubstitution counts one replaced value of channel ch.
func (m *Manager) RecordSubstitution(ch int) {
	if !m.enabled || ch < 0 || ch >= normalize.Channels {
		return
	}
	m.substitutions.WithLabelValues(normalize.Names[ch]).Inc()
}

// RecordError counts one failed cycle at stage.
func (m *Manager) RecordError(stage string) {
	if !m.enabled {
		return
	}
	m.errors.WithLabelValues(stage).Inc()
}

// Registry returns the registry holding the metrics.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes all metrics in the text exposition format for the
// node exporter textfile collector. The file is replaced atomically.
func (m *Manager) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

// Flush writes the textfile every interval until ctx is done, then once more.
// It returns the error of the final write.
func (m *Manager) Flush(ctx context.Context, path string, interval time.Duration, onError func(error)) error {
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for done := false; !done; {
			select {
			case <-ctx.Done():
				done = true
			case <-ticker.C:
				if err := m.WriteTextfile(path); err != nil && onError != nil {
					onError(err)
				}
			}
		}
	} else {
		<-ctx.Done()
	}
	return m.WriteTextfile(path)
}
