package sensor

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/itohio/goenvml/pkg/config"
	"github.com/itohio/goenvml/pkg/normalize"
)

// Scenarios lists the environments the simulator can produce.
var Scenarios = []string{"normal", "high_temp", "high_humidity", "poor_air", "rapid_change"}

// baseline is the mean reading of a scenario.
var baselines = map[string]normalize.Values{
	"normal":        {1.2, 25, 45, 60, 450},
	"high_temp":     {1.5, 38, 25, 70, 500},
	"high_humidity": {0.9, 28, 85, 120, 600},
	"poor_air":      {1.0, 26, 50, 300, 1200},
	"rapid_change":  {1.2, 25, 45, 60, 450},
}

// rapidSteps are the light, temperature and humidity offsets that
// rapid_change cycles through.
var rapidSteps = [][3]float64{
	{0, 0, 0},
	{2.5, -5, -30},
	{-0.9, 10, 10},
	{0.6, 2, -10},
}

const rapidStepSamples = 30

// Sensor noise and range from the part datasheets.
const (
	lightNoise    = 0.03 // V
	tempNoise     = 0.2  // °C
	humidityNoise = 0.5  // %RH
	airNoise      = 0.05 // relative
	tempSwing     = 0.5  // °C slow oscillation
	tempPeriod    = 120  // samples
	dhtHold       = 2    // samples between DHT updates
)

// Mock simulates the sensor node for testing and development.
type Mock struct {
	cfg  config.MockConfig
	base normalize.Values
	rng  *rand.Rand

	readings  chan Reading
	done      chan struct{}
	mu        sync.RWMutex
	cancel    context.CancelFunc
	connected bool
	closed    bool

	// Simulation state
	n         uint64
	dht       [2]float32
	startTime time.Time
}

// NewMock creates a simulator. The scenario must be one of Scenarios.
func NewMock(cfg config.MockConfig) (*Mock, error) {
	if cfg.Scenario == "" {
		cfg.Scenario = "normal"
	}
	base, ok := baselines[cfg.Scenario]
	if !ok {
		return nil, fmt.Errorf("unknown scenario %q, want one of %v", cfg.Scenario, Scenarios)
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = time.Second
	}

	return &Mock{
		cfg:      cfg,
		base:     base,
		rng:      rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		readings: make(chan Reading, DefaultBufferSize),
		done:     make(chan struct{}),
	}, nil
}

// Connect starts producing a reading every SampleRate.
func (m *Mock) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}
	if m.closed {
		return fmt.Errorf("source closed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.connected = true
	m.startTime = time.Now()

	go m.generate(ctx)

	return nil
}

// Close stops the simulator and waits for the generator to exit.
func (m *Mock) Close() error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return nil
	}
	m.cancel()
	m.connected = false
	m.closed = true
	m.mu.Unlock()

	<-m.done
	return nil
}

// Readings returns the channel for reading samples.
func (m *Mock) Readings() <-chan Reading {
	return m.readings
}

// IsConnected returns whether the simulator is running.
func (m *Mock) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

func (m *Mock) generate(ctx context.Context) {
	defer close(m.done)
	defer close(m.readings)

	ticker := time.NewTicker(m.cfg.SampleRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r := m.Next()
			r.Timestamp = time.Now()
			select {
			case m.readings <- r:
			case <-ctx.Done():
				return
			default:
				// Channel full, skip
			}
		}
	}
}

// Next returns the next simulated reading. The sequence depends only on
// the configuration, so equal seeds give equal readings. Next must not be
// called concurrently with a connected simulator.
func (m *Mock) Next() Reading {
	n := m.n
	m.n++

	base := m.base
	if m.cfg.Scenario == "rapid_change" {
		step := rapidSteps[(n/rapidStepSamples)%uint64(len(rapidSteps))]
		base[normalize.Light] += float32(step[0])
		base[normalize.Temperature] += float32(step[1])
		base[normalize.Humidity] += float32(step[2])
	}

	noise := m.cfg.Noise
	var v normalize.Values

	v[normalize.Light] = clamp(float64(base[normalize.Light])+m.gauss(lightNoise*noise), 0.18, 2.7)

	// The DHT22 only refreshes every two seconds.
	if n%dhtHold == 0 {
		swing := tempSwing * math.Sin(2*math.Pi*float64(n)/tempPeriod)
		t := float64(base[normalize.Temperature]) + swing
		h := float64(base[normalize.Humidity]) * (1 - 0.002*swing)
		m.dht[0] = clamp(t+m.gauss(tempNoise*noise), -40, 80)
		m.dht[1] = clamp(h+m.gauss(humidityNoise*noise), 0, 100)
	}
	v[normalize.Temperature] = m.dht[0]
	v[normalize.Humidity] = m.dht[1]

	if m.cfg.SGP30 {
		v[normalize.TVOC] = clamp(float64(base[normalize.TVOC])*(1+m.gauss(airNoise*noise)), 0, 60000)
		v[normalize.ECO2] = clamp(float64(base[normalize.ECO2])*(1+m.gauss(airNoise*noise)), 400, 60000)
	} else {
		v[normalize.TVOC] = -1
		v[normalize.ECO2] = -1
	}

	return Reading{
		Millis:   n * uint64(m.cfg.SampleRate/time.Millisecond),
		Values:   v,
		Scenario: m.cfg.Scenario,
	}
}

func (m *Mock) gauss(sigma float64) float64 {
	if sigma == 0 {
		return 0
	}
	return m.rng.NormFloat64() * sigma
}

func clamp(x, lo, hi float64) float32 {
	return float32(math.Max(lo, math.Min(hi, x)))
}
