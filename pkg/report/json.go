package report

import (
	"io"
	"math"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/itohio/goenvml/pkg/normalize"
)

// jsonRecord is one line of the json format.
type jsonRecord struct {
	Cycle         uint64      `json:"cycle"`
	Time          *time.Time  `json:"time,omitempty"`
	Millis        uint64      `json:"millis"`
	Scenario      string      `json:"scenario"`
	Values        jsonValues  `json:"values"`
	Substituted   []string    `json:"substituted,omitempty"`
	Input         []int8      `json:"input"`
	Output        []int8      `json:"output"`
	Probabilities []jsonFloat `json:"probabilities"`
	Class         int         `json:"class"`
	Label         string      `json:"label"`
	Degenerate    bool        `json:"degenerate,omitempty"`
	LatencyMicros float64     `json:"latency_us"`
}

type jsonValues struct {
	Light       jsonFloat `json:"light"`
	Temperature jsonFloat `json:"temperature"`
	Humidity    jsonFloat `json:"humidity"`
	TVOC        jsonFloat `json:"tvoc"`
	ECO2        jsonFloat `json:"eco2"`
}

// jsonFloat encodes a float32 with fixed decimals. NaN and infinities
// become null.
type jsonFloat struct {
	v    float32
	prec int
}

func (f jsonFloat) MarshalJSON() ([]byte, error) {
	x := float64(f.v)
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, x, 'f', f.prec, 32), nil
}

type jsonReporter struct {
	enc *json.Encoder
	o   options
}

func newJSON(w io.Writer, o options) *jsonReporter {
	return &jsonReporter{enc: json.NewEncoder(w), o: o}
}

func (j *jsonReporter) Report(rec *Record) error {
	r := &rec.Reading
	res := rec.Result

	out := jsonRecord{
		Cycle:    rec.Cycle,
		Millis:   r.Millis,
		Scenario: scenario(r),
		Values: jsonValues{
			Light:       jsonFloat{r.Values[normalize.Light], 2},
			Temperature: jsonFloat{r.Values[normalize.Temperature], 2},
			Humidity:    jsonFloat{r.Values[normalize.Humidity], 2},
			TVOC:        jsonFloat{r.Values[normalize.TVOC], 2},
			ECO2:        jsonFloat{r.Values[normalize.ECO2], 2},
		},
		Input:         res.Input,
		Output:        res.Output,
		Probabilities: make([]jsonFloat, len(res.Probabilities)),
		Class:         res.Class,
		Label:         res.Label,
		Degenerate:    res.Degenerate,
		LatencyMicros: float64(rec.Latency) / float64(time.Microsecond),
	}
	if !r.Timestamp.IsZero() {
		out.Time = &r.Timestamp
	}
	for i, p := range res.Probabilities {
		out.Probabilities[i] = jsonFloat{p, j.o.precision}
	}
	for ch := 0; ch < normalize.Channels; ch++ {
		if rec.Substituted.Has(ch) {
			out.Substituted = append(out.Substituted, normalize.Names[ch])
		}
	}

	return j.enc.Encode(&out)
}

func (j *jsonReporter) Flush() error {
	return nil
}
