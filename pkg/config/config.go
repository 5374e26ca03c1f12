package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"

	"github.com/itohio/goenvml/pkg/normalize"
	"github.com/itohio/goenvml/pkg/quant"
)

// EnvPrefix prefixes environment overrides. Nested keys are separated by a
// double underscore: ENVML_SERIAL__BAUD_RATE=9600.
const EnvPrefix = "ENVML_"

// Config represents the application configuration.
type Config struct {
	Serial        SerialConfig        `yaml:"serial"`
	Sensor        SensorConfig        `yaml:"sensor"`
	Normalization NormalizationConfig `yaml:"normalization"`
	Model         ModelConfig         `yaml:"model"`
	Loop          LoopConfig          `yaml:"loop"`
	Report        ReportConfig        `yaml:"report"`
	Log           LogConfig           `yaml:"log"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Mock          MockConfig          `yaml:"mock"`
}

// SerialConfig contains serial port configuration.
type SerialConfig struct {
	Port       string `yaml:"port"`
	BaudRate   int    `yaml:"baud_rate"`
	BufferSize int    `yaml:"buffer_size"` // Readings buffered between the port and the loop
}

// SensorConfig controls how raw readings are cleaned up before inference.
type SensorConfig struct {
	Substitute     SubstitutionConfig `yaml:"substitute"`
	AverageSamples int                `yaml:"average_samples"` // Readings averaged per cycle (0 or 1 = disabled)
}

// SubstitutionConfig holds the values used in place of missing readings.
type SubstitutionConfig struct {
	Light       float32 `yaml:"light"`
	Temperature float32 `yaml:"temperature"`
	Humidity    float32 `yaml:"humidity"`
	TVOC        float32 `yaml:"tvoc"`
	ECO2        float32 `yaml:"eco2"`
}

// NormalizationConfig describes the per-channel transforms. When Scaler is
// set, the training scaler.json replaces the channels.
type NormalizationConfig struct {
	Scaler      string        `yaml:"scaler,omitempty"`
	Light       ChannelConfig `yaml:"light"`
	Temperature ChannelConfig `yaml:"temperature"`
	Humidity    ChannelConfig `yaml:"humidity"`
	TVOC        ChannelConfig `yaml:"tvoc"`
	ECO2        ChannelConfig `yaml:"eco2"`
}

// ChannelConfig is a min-max (min, max) or z-score (mean, std) transform.
type ChannelConfig struct {
	Kind string  `yaml:"kind"`
	Min  float32 `yaml:"min"`
	Max  float32 `yaml:"max"`
	Mean float32 `yaml:"mean"`
	Std  float32 `yaml:"std"`
}

// ModelConfig selects and checks the model bundle.
type ModelConfig struct {
	Bundle     string   `yaml:"bundle,omitempty"` // Empty = embedded default
	ArenaBytes int      `yaml:"arena_bytes"`
	Rounding   string   `yaml:"rounding"`           // truncate | nearest
	BuildID    string   `yaml:"build_id,omitempty"` // Reject bundles with another build id
	Labels     []string `yaml:"labels"`
}

// LoopConfig controls the control loop.
type LoopConfig struct {
	Interval time.Duration `yaml:"interval"` // Minimum time between cycles (0 = as fast as readings arrive)
	Cycles   int           `yaml:"cycles"`   // Stop after this many cycles (0 = run until interrupted)
	Scenario string        `yaml:"scenario"` // Label attached to readings that carry none
}

// ReportConfig selects the output format.
type ReportConfig struct {
	Format    string `yaml:"format"` // text | csv | json
	Output    string `yaml:"output"` // File path, "-" for stdout
	Precision int    `yaml:"precision"`
}

// LogConfig configures the host logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // pretty | text | json
}

// MetricsConfig configures the Prometheus textfile.
type MetricsConfig struct {
	Textfile string        `yaml:"textfile,omitempty"` // Empty disables metrics output
	Interval time.Duration `yaml:"interval"`           // Rewrite period, 0 = only on exit
}

// MockConfig contains simulated sensor configuration.
type MockConfig struct {
	Scenario   string        `yaml:"scenario"`    // normal | high_temp | high_humidity | poor_air | rapid_change
	SampleRate time.Duration `yaml:"sample_rate"` // Time between readings
	SGP30      bool          `yaml:"sgp30"`       // Simulate a present air quality sensor
	Noise      float64       `yaml:"noise"`       // Noise multiplier, 1 = sensor datasheet levels
	Seed       uint64        `yaml:"seed"`
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:       "/dev/ttyACM0",
			BaudRate:   115200,
			BufferSize: 100,
		},
		Sensor: SensorConfig{
			Substitute: SubstitutionConfig{
				Light:       0,
				Temperature: 25,
				Humidity:    50,
				TVOC:        60,
				ECO2:        450,
			},
		},
		Normalization: NormalizationConfig{
			Light:       ChannelConfig{Kind: "minmax", Min: 0, Max: 3.3},
			Temperature: ChannelConfig{Kind: "zscore", Mean: 25, Std: 5},
			Humidity:    ChannelConfig{Kind: "zscore", Mean: 50, Std: 10},
			TVOC:        ChannelConfig{Kind: "minmax", Min: 0, Max: 1000},
			ECO2:        ChannelConfig{Kind: "minmax", Min: 400, Max: 2000},
		},
		Model: ModelConfig{
			ArenaBytes: 16 * 1024,
			Rounding:   "truncate",
			Labels:     []string{"high_humidity", "high_temp", "normal"},
		},
		Loop: LoopConfig{
			Interval: time.Second,
			Scenario: "anomaly",
		},
		Report: ReportConfig{
			Format:    "text",
			Output:    "-",
			Precision: 3,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "pretty",
		},
		Metrics: MetricsConfig{
			Interval: 10 * time.Second,
		},
		Mock: MockConfig{
			Scenario:   "normal",
			SampleRate: time.Second,
			Noise:      1,
			Seed:       1,
		},
	}
}

// Load loads configuration from a YAML file and then applies ENVML_
// environment overrides. A missing file means defaults; missing fields keep
// their defaults.
func Load(filename string) (*Config, error) {
	k := koanf.New(".")

	if filename != "" {
		if _, err := os.Stat(filename); err == nil {
			if err := k.Load(file.Provider(filename), kyaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg := Default()
	// Slices are decoded in place; a shorter list would keep default tails.
	if k.Exists("model.labels") {
		cfg.Model.Labels = nil
	}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.ensureDefaults()
	return cfg, nil
}

// envKey maps ENVML_REPORT__FORMAT to report.format.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := c.Marshal()
	if err != nil {
		return err
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Marshal encodes the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// ensureDefaults fills fields that must never be zero.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}
	if c.Serial.BufferSize == 0 {
		c.Serial.BufferSize = def.Serial.BufferSize
	}

	if c.Model.ArenaBytes == 0 {
		c.Model.ArenaBytes = def.Model.ArenaBytes
	}
	if c.Model.Rounding == "" {
		c.Model.Rounding = def.Model.Rounding
	}

	if c.Report.Format == "" {
		c.Report.Format = def.Report.Format
	}
	if c.Report.Output == "" {
		c.Report.Output = def.Report.Output
	}
	if c.Report.Precision == 0 {
		c.Report.Precision = def.Report.Precision
	}

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}

	if c.Mock.Scenario == "" {
		c.Mock.Scenario = def.Mock.Scenario
	}
	if c.Mock.SampleRate == 0 {
		c.Mock.SampleRate = def.Mock.SampleRate
	}
}

// Validate checks the values that cannot be fixed by defaults.
func (c *Config) Validate() error {
	if c.Serial.BaudRate < 0 || c.Serial.BufferSize < 0 {
		return fmt.Errorf("serial: negative baud rate or buffer size")
	}
	if c.Sensor.AverageSamples < 0 {
		return fmt.Errorf("sensor: negative average_samples")
	}
	if _, err := c.Profile(); err != nil {
		return err
	}
	if _, err := c.Rounding(); err != nil {
		return fmt.Errorf("model: %w", err)
	}
	if _, err := c.BuildID(); err != nil {
		return fmt.Errorf("model: %w", err)
	}
	if c.Model.ArenaBytes < 0 {
		return fmt.Errorf("model: negative arena_bytes")
	}
	if c.Loop.Interval < 0 || c.Loop.Cycles < 0 {
		return fmt.Errorf("loop: negative interval or cycles")
	}
	switch c.Report.Format {
	case "text", "csv", "json":
	default:
		return fmt.Errorf("report: unknown format %q", c.Report.Format)
	}
	if c.Report.Precision < 0 || c.Report.Precision > 9 {
		return fmt.Errorf("report: precision %d out of range [0, 9]", c.Report.Precision)
	}
	switch c.Log.Format {
	case "pretty", "text", "json":
	default:
		return fmt.Errorf("log: unknown format %q", c.Log.Format)
	}
	if c.Mock.SampleRate < 0 || c.Mock.Noise < 0 {
		return fmt.Errorf("mock: negative sample rate or noise")
	}
	return nil
}

// Rounding returns the configured input rounding mode.
func (c *Config) Rounding() (quant.Rounding, error) {
	return quant.ParseRounding(c.Model.Rounding)
}

// BuildID returns the expected bundle build id, uuid.Nil when unset.
func (c *Config) BuildID() (uuid.UUID, error) {
	if c.Model.BuildID == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(c.Model.BuildID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("build id: %w", err)
	}
	return id, nil
}

// Profile builds the normalization profile, from the scaler file when set.
func (c *Config) Profile() (normalize.Profile, error) {
	if c.Normalization.Scaler != "" {
		return LoadScaler(c.Normalization.Scaler)
	}

	n := &c.Normalization
	var p normalize.Profile
	for i, ch := range []ChannelConfig{n.Light, n.Temperature, n.Humidity, n.TVOC, n.ECO2} {
		kind, err := normalize.ParseKind(ch.Kind)
		if err != nil {
			return p, fmt.Errorf("normalization %s: %w", normalize.Names[i], err)
		}
		if kind == normalize.ZScore {
			p[i] = normalize.NewZScore(ch.Mean, ch.Std)
		} else {
			p[i] = normalize.NewMinMax(ch.Min, ch.Max)
		}
	}
	return normalize.New(p)
}
