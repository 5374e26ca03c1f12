// Package sensor supplies raw environmental readings from a serial port or a
// simulator and cleans up missing values before inference.
package sensor

import (
	"strings"
	"time"

	"github.com/chewxy/math32"

	"github.com/itohio/goenvml/pkg/config"
	"github.com/itohio/goenvml/pkg/normalize"
)

// Reading is one raw sample of all channels.
type Reading struct {
	Timestamp time.Time
	Millis    uint64 // Device uptime in ms as reported on the wire, 0 if unknown
	Values    normalize.Values
	Scenario  string // Optional label carried through for data logging
}

// Missing reports whether v is a sentinel for channel ch. Drivers report a
// missing air quality sensor as -1 and a failed DHT read as NaN or -1
// humidity. Temperature can legitimately be negative, so only NaN counts.
func Missing(ch int, v float32) bool {
	if math32.IsNaN(v) {
		return true
	}
	if ch == normalize.Temperature {
		return false
	}
	return v < 0
}

// Mask records which channels were substituted.
type Mask uint8

// Has reports whether channel ch was substituted.
func (m Mask) Has(ch int) bool {
	return m&(1<<ch) != 0
}

// Count returns the number of substituted channels.
func (m Mask) Count() int {
	n := 0
	for ch := 0; ch < normalize.Channels; ch++ {
		if m.Has(ch) {
			n++
		}
	}
	return n
}

func (m Mask) String() string {
	if m == 0 {
		return "none"
	}
	var names []string
	for ch := 0; ch < normalize.Channels; ch++ {
		if m.Has(ch) {
			names = append(names, normalize.Names[ch])
		}
	}
	return strings.Join(names, ",")
}

// Substitution replaces missing readings with fixed typical values.
type Substitution normalize.Values

// DefaultSubstitution returns the firmware fallbacks: 0 V light, 25 °C,
// 50 %, 60 ppb TVOC and 450 ppm eCO2.
func DefaultSubstitution() Substitution {
	return Substitution{0, 25, 50, 60, 450}
}

// NewSubstitution builds a substitution from configuration.
func NewSubstitution(c config.SubstitutionConfig) Substitution {
	return Substitution{c.Light, c.Temperature, c.Humidity, c.TVOC, c.ECO2}
}

// Apply returns v with missing channels substituted. A failed humidity read
// means the DHT read failed, so temperature is replaced as well.
func (s Substitution) Apply(v normalize.Values) (normalize.Values, Mask) {
	var m Mask
	for ch := range v {
		if Missing(ch, v[ch]) {
			v[ch] = s[ch]
			m |= 1 << ch
		}
	}
	if m.Has(normalize.Humidity) && !m.Has(normalize.Temperature) {
		v[normalize.Temperature] = s[normalize.Temperature]
		m |= 1 << normalize.Temperature
	}
	return v, m
}
