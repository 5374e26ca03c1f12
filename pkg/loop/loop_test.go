package loop

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/itohio/goenvml/pkg/config"
	"github.com/itohio/goenvml/pkg/metrics"
	"github.com/itohio/goenvml/pkg/model"
	"github.com/itohio/goenvml/pkg/normalize"
	"github.com/itohio/goenvml/pkg/pipeline"
	"github.com/itohio/goenvml/pkg/report"
	"github.com/itohio/goenvml/pkg/sensor"
)

// chanSource feeds readings from a channel.
type chanSource struct {
	ch chan sensor.Reading
}

func newChanSource(readings ...sensor.Reading) *chanSource {
	s := &chanSource{ch: make(chan sensor.Reading, len(readings)+1)}
	for _, r := range readings {
		s.ch <- r
	}
	return s
}

func (s *chanSource) Connect() error                  { return nil }
func (s *chanSource) Close() error                    { close(s.ch); return nil }
func (s *chanSource) Readings() <-chan sensor.Reading { return s.ch }
func (s *chanSource) IsConnected() bool               { return true }

func newPipeline() *pipeline.Pipeline {
	b, err := model.Default()
	So(err, ShouldBeNil)
	p, err := pipeline.New(b, pipeline.WithLabels(model.Labels()...))
	So(err, ShouldBeNil)
	return p
}

func reading(millis uint64, v normalize.Values) sensor.Reading {
	return sensor.Reading{Millis: millis, Values: v}
}

var (
	normal       = normalize.Values{1.2, 25, 45, 60, 450}
	hot          = normalize.Values{1.5, 38, 25, 70, 500}
	humid        = normalize.Values{0.9, 28, 85, 120, 600}
	noAirQuality = normalize.Values{1.2, 25, 45, -1, -1}
)

// gathered returns the value of an unlabelled counter.
func gathered(m *metrics.Manager, name string) float64 {
	families, err := m.Registry().Gather()
	So(err, ShouldBeNil)
	for _, f := range families {
		if f.GetName() == name {
			return f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return -1
}

// failingReporter fails every report.
type failingReporter struct{}

func (failingReporter) Report(*report.Record) error { return errors.New("disk full") }
func (failingReporter) Flush() error                { return nil }

func TestLoop(t *testing.T) {
	Convey("Given a loop over the default model", t, func() {
		var out bytes.Buffer
		rep, err := report.New("text", &out)
		So(err, ShouldBeNil)
		m := metrics.NewManager()

		Convey("When the source delivers three readings and closes", func() {
			src := newChanSource(reading(1000, normal), reading(2000, hot), reading(3000, humid))
			src.Close()

			var labels []string
			l := New(src, newPipeline(), rep, WithMetrics(m), WithScenario("anomaly"))
			l.OnCycle(func(rec *report.Record) {
				labels = append(labels, rec.Result.Label)
			})
			err := l.Run(context.Background())

			Convey("Then every cycle should be reported in order", func() {
				So(err, ShouldBeNil)
				So(l.Cycles(), ShouldEqual, uint64(3))
				So(labels, ShouldResemble, []string{"normal", "high_temp", "high_humidity"})

				lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
				So(lines, ShouldHaveLength, 6)
				So(lines[0], ShouldEqual, "1000,1.20,25.00,45.00,60.00,450.00,anomaly")
				So(lines[1], ShouldStartWith, "AI probabilities: ")
				So(lines[4], ShouldStartWith, "3000,")
			})

			Convey("And the metrics should count them", func() {
				So(gathered(m, "envml_inference_cycles_total"), ShouldEqual, 3.0)
				So(gathered(m, "envml_inference_degenerate_total"), ShouldEqual, 0.0)
			})
		})

		Convey("When the air quality sensor is missing", func() {
			src := newChanSource(reading(1000, noAirQuality))
			src.Close()

			var substituted sensor.Mask
			l := New(src, newPipeline(), rep, WithMetrics(m))
			l.OnCycle(func(rec *report.Record) { substituted = rec.Substituted })

			Convey("Then the fallback values should be used and reported", func() {
				So(l.Run(context.Background()), ShouldBeNil)
				So(substituted.String(), ShouldEqual, "tvoc,eco2")
				So(out.String(), ShouldStartWith, "1000,1.20,25.00,45.00,60.00,450.00,anomaly\n")
			})
		})

		Convey("When a cycle limit is set", func() {
			src := newChanSource(reading(1, normal), reading(2, normal), reading(3, normal))

			l := New(src, newPipeline(), rep, WithCycles(2))
			err := l.Run(context.Background())

			Convey("Then the loop should stop after the limit", func() {
				So(err, ShouldBeNil)
				So(l.Cycles(), ShouldEqual, uint64(2))
				So(strings.Count(out.String(), "AI probabilities"), ShouldEqual, 2)
			})
		})

		Convey("When the context is cancelled", func() {
			src := newChanSource()
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)

			l := New(src, newPipeline(), rep)
			go func() { done <- l.Run(ctx) }()
			src.ch <- reading(1, normal)
			time.Sleep(20 * time.Millisecond)
			cancel()

			Convey("Then Run should return the cancellation", func() {
				select {
				case err := <-done:
					So(errors.Is(err, context.Canceled), ShouldBeTrue)
					So(IsShutdown(err), ShouldBeTrue)
				case <-time.After(5 * time.Second):
					So("loop stopped", ShouldEqual, "loop did not stop")
				}
				So(l.Cycles(), ShouldEqual, uint64(1))
			})
		})

		Convey("When readings arrive faster than the interval", func() {
			t0 := time.Unix(1000, 0)
			rs := []sensor.Reading{
				{Timestamp: t0, Values: normal},
				{Timestamp: t0.Add(300 * time.Millisecond), Values: normal},
				{Timestamp: t0.Add(time.Second), Values: normal},
				{Timestamp: t0.Add(1500 * time.Millisecond), Values: normal},
				{Timestamp: t0.Add(2100 * time.Millisecond), Values: normal},
			}
			src := newChanSource(rs...)
			src.Close()

			l := New(src, newPipeline(), rep, WithInterval(time.Second))

			Convey("Then only one reading per interval should be processed", func() {
				So(l.Run(context.Background()), ShouldBeNil)
				So(l.Cycles(), ShouldEqual, uint64(3))
			})
		})

		Convey("When arrival times jitter around the interval", func() {
			t0 := time.Unix(1000, 0)
			rs := []sensor.Reading{
				{Timestamp: t0, Values: normal},
				{Timestamp: t0.Add(990 * time.Millisecond), Values: normal},
				{Timestamp: t0.Add(1985 * time.Millisecond), Values: normal},
				{Timestamp: t0.Add(2990 * time.Millisecond), Values: normal},
			}
			src := newChanSource(rs...)
			src.Close()

			l := New(src, newPipeline(), rep, WithInterval(time.Second))

			Convey("Then no reading should be skipped", func() {
				So(l.Run(context.Background()), ShouldBeNil)
				So(l.Cycles(), ShouldEqual, uint64(4))
			})
		})

		Convey("When readings carry the device uptime", func() {
			t0 := time.Unix(1000, 0)
			var rs []sensor.Reading
			for _, ms := range []uint64{1000, 1500, 2000, 3000, 3999, 5000} {
				rs = append(rs, sensor.Reading{Timestamp: t0, Millis: ms, Values: normal})
			}
			src := newChanSource(rs...)
			src.Close()

			l := New(src, newPipeline(), rep, WithInterval(time.Second))

			Convey("Then the device clock should space the cycles", func() {
				So(l.Run(context.Background()), ShouldBeNil)
				So(l.Cycles(), ShouldEqual, uint64(4))
			})
		})

		Convey("When the device restarts", func() {
			src := newChanSource(reading(90000, normal), reading(1000, normal), reading(1200, normal))
			src.Close()

			l := New(src, newPipeline(), rep, WithInterval(time.Second))

			Convey("Then the first reading after the restart should be processed", func() {
				So(l.Run(context.Background()), ShouldBeNil)
				So(l.Cycles(), ShouldEqual, uint64(2))
			})
		})

		Convey("When the interval equals the simulator sample period", func() {
			const period = 20 * time.Millisecond
			src, err := sensor.NewMock(config.MockConfig{Scenario: "normal", SampleRate: period, Seed: 1})
			So(err, ShouldBeNil)
			So(src.Connect(), ShouldBeNil)
			defer src.Close()

			l := New(src, newPipeline(), rep, WithInterval(period), WithCycles(15))
			var millis []uint64
			l.OnCycle(func(rec *report.Record) { millis = append(millis, rec.Reading.Millis) })

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			Convey("Then every sample should be processed", func() {
				So(l.Run(ctx), ShouldBeNil)
				So(millis, ShouldHaveLength, 15)
				for i := 1; i < len(millis); i++ {
					So(millis[i]-millis[i-1], ShouldEqual, uint64(period/time.Millisecond))
				}
			})
		})

		Convey("When a captured log longer than the buffer is replayed", func() {
			const lines = 5 * sensor.DefaultBufferSize
			var capture strings.Builder
			for i := 1; i <= lines; i++ {
				fmt.Fprintf(&capture, "%d,1.20,25.00,45.00,60.00,450.00,anomaly\n", i*1000)
				capture.WriteString("AI probabilities: 0.254 0.690 0.057 \n")
			}
			src := sensor.NewStream("capture", strings.NewReader(capture.String()), nil)
			So(src.Connect(), ShouldBeNil)

			l := New(src, newPipeline(), rep, WithInterval(time.Second))

			Convey("Then every recorded cycle should be processed", func() {
				So(l.Run(context.Background()), ShouldBeNil)
				So(l.Cycles(), ShouldEqual, uint64(lines))
				So(src.Close(), ShouldBeNil)
			})
		})

		Convey("When stages are inserted", func() {
			src := newChanSource(reading(1, normal), reading(2, normal), reading(3, normal), reading(4, normal))
			src.Close()

			l := New(src, newPipeline(), rep, WithStages(sensor.NewAverager(2, 0)))

			Convey("Then the loop should see the staged stream", func() {
				So(l.Run(context.Background()), ShouldBeNil)
				So(l.Cycles(), ShouldEqual, uint64(2))
			})
		})

		Convey("When the reporter fails", func() {
			src := newChanSource(reading(1, normal))
			src.Close()

			l := New(src, newPipeline(), failingReporter{}, WithMetrics(m))
			err := l.Run(context.Background())

			Convey("Then the error should end the run", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "disk full")
				So(IsShutdown(err), ShouldBeFalse)
			})
		})
	})
}

func TestStep(t *testing.T) {
	Convey("Given a loop", t, func() {
		var out bytes.Buffer
		rep, err := report.New("json", &out)
		So(err, ShouldBeNil)
		l := New(newChanSource(), newPipeline(), rep, WithScenario("kitchen"))

		Convey("When stepping a failed DHT read", func() {
			rec, err := l.Step(reading(5, normalize.Values{1.2, -1, -1, 60, 450}))

			Convey("Then temperature and humidity should fall back", func() {
				So(err, ShouldBeNil)
				So(rec.Cycle, ShouldEqual, uint64(1))
				So(rec.Substituted.String(), ShouldEqual, "temperature,humidity")
				So(rec.Reading.Values[normalize.Temperature], ShouldEqual, float32(25))
				So(rec.Reading.Values[normalize.Humidity], ShouldEqual, float32(50))
				So(rec.Reading.Scenario, ShouldEqual, "kitchen")
				So(rec.Result.Degenerate, ShouldBeFalse)
				So(out.String(), ShouldContainSubstring, `"substituted":["temperature","humidity"]`)
			})
		})
	})
}
