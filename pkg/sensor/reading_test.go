package sensor

import (
	"context"
	"testing"
	"time"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"

	"github.com/itohio/goenvml/pkg/config"
	"github.com/itohio/goenvml/pkg/normalize"
)

func TestMissing(t *testing.T) {
	nan := math32.NaN()
	tests := []struct {
		ch   int
		v    float32
		want bool
	}{
		{normalize.Light, 0, false},
		{normalize.Light, -1, true},
		{normalize.Temperature, -1, false},
		{normalize.Temperature, -12.5, false},
		{normalize.Temperature, nan, true},
		{normalize.Humidity, -1, true},
		{normalize.Humidity, 0, false},
		{normalize.TVOC, -1, true},
		{normalize.ECO2, nan, true},
		{normalize.ECO2, 400, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Missing(tt.ch, tt.v), "%s=%v", normalize.Names[tt.ch], tt.v)
	}
}

func TestSubstitution_Apply(t *testing.T) {
	s := DefaultSubstitution()

	tests := []struct {
		name     string
		in       normalize.Values
		want     normalize.Values
		wantMask string
	}{
		{
			name:     "nothing missing",
			in:       normalize.Values{1.2, 25, 45, 60, 450},
			want:     normalize.Values{1.2, 25, 45, 60, 450},
			wantMask: "none",
		},
		{
			name:     "no air quality sensor",
			in:       normalize.Values{1.2, 30, 45, -1, -1},
			want:     normalize.Values{1.2, 30, 45, 60, 450},
			wantMask: "tvoc,eco2",
		},
		{
			name:     "failed DHT read",
			in:       normalize.Values{1.2, -1, -1, 80, 700},
			want:     normalize.Values{1.2, 25, 50, 80, 700},
			wantMask: "temperature,humidity",
		},
		{
			name:     "nan temperature only",
			in:       normalize.Values{1.2, math32.NaN(), 40, 80, 700},
			want:     normalize.Values{1.2, 25, 40, 80, 700},
			wantMask: "temperature",
		},
		{
			name:     "frost is a reading",
			in:       normalize.Values{0.3, -1, 70, 80, 700},
			want:     normalize.Values{0.3, -1, 70, 80, 700},
			wantMask: "none",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, mask := s.Apply(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantMask, mask.String())
		})
	}
}

func TestMask(t *testing.T) {
	var m Mask
	assert.Zero(t, m.Count())
	m |= 1<<normalize.TVOC | 1<<normalize.ECO2
	assert.Equal(t, 2, m.Count())
	assert.True(t, m.Has(normalize.TVOC))
	assert.False(t, m.Has(normalize.Light))
}

func TestNewSubstitution(t *testing.T) {
	s := NewSubstitution(config.Default().Sensor.Substitute)
	assert.Equal(t, DefaultSubstitution(), s)
}

func TestAverage(t *testing.T) {
	ts := time.Unix(100, 0)
	readings := []Reading{
		{Values: normalize.Values{1, 20, 40, -1, 500}},
		{Values: normalize.Values{2, 22, -1, -1, 600}},
		{Timestamp: ts, Millis: 3000, Scenario: "normal", Values: normalize.Values{3, 24, 50, -1, 700}},
	}

	got := Average(readings)
	assert.Equal(t, ts, got.Timestamp)
	assert.Equal(t, uint64(3000), got.Millis)
	assert.Equal(t, "normal", got.Scenario)
	assert.InDelta(t, 2, got.Values[normalize.Light], 1e-6)
	assert.InDelta(t, 22, got.Values[normalize.Temperature], 1e-6)
	assert.InDelta(t, 45, got.Values[normalize.Humidity], 1e-6)
	assert.Equal(t, float32(-1), got.Values[normalize.TVOC])
	assert.InDelta(t, 600, got.Values[normalize.ECO2], 1e-4)

	assert.Equal(t, Reading{}, Average(nil))
}

func TestAverage_FailedDHTRead(t *testing.T) {
	ok := normalize.Values{1.2, 25, 45, 60, 450}
	failed := normalize.Values{1.2, -1, -1, 60, 450}

	got := Average([]Reading{{Values: ok}, {Values: ok}, {Values: ok}, {Values: failed}})
	assert.InDelta(t, 25, got.Values[normalize.Temperature], 1e-6)
	assert.InDelta(t, 45, got.Values[normalize.Humidity], 1e-6)

	// Every read failed: the sentinels survive for substitution.
	got = Average([]Reading{{Values: failed}, {Values: failed}})
	assert.Equal(t, float32(-1), got.Values[normalize.Temperature])
	assert.Equal(t, float32(-1), got.Values[normalize.Humidity])
	v, mask := DefaultSubstitution().Apply(got.Values)
	assert.True(t, mask.Has(normalize.Temperature))
	assert.Equal(t, float32(25), v[normalize.Temperature])

	// Frost with a good humidity reading is kept.
	frost := normalize.Values{1.2, -1, 80, 60, 450}
	got = Average([]Reading{{Values: frost}, {Values: normalize.Values{1.2, -3, 80, 60, 450}}})
	assert.InDelta(t, -2, got.Values[normalize.Temperature], 1e-6)
}

func TestNewAverager_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan Reading)
	out := NewAverager(1, 1)(ctx, in)

	// Fill the output buffer, then leave the stage blocked on the next send.
	in <- Reading{Millis: 1}
	in <- Reading{Millis: 2}
	cancel()

	done := make(chan struct{})
	go func() {
		for range out {
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("averager did not stop")
	}
}

func TestNewAverager(t *testing.T) {
	in := make(chan Reading)
	out := NewAverager(2, 0)(context.Background(), in)

	go func() {
		for i := 1; i <= 5; i++ {
			in <- Reading{Millis: uint64(i), Values: normalize.Values{float32(i), 0, 0, 0, 0}}
		}
		close(in)
	}()

	var got []Reading
	for r := range out {
		got = append(got, r)
	}

	assert.Len(t, got, 3)
	assert.InDelta(t, 1.5, got[0].Values[normalize.Light], 1e-6)
	assert.InDelta(t, 3.5, got[1].Values[normalize.Light], 1e-6)
	assert.Equal(t, float32(5), got[2].Values[normalize.Light])
	assert.Equal(t, uint64(5), got[2].Millis)
}

func TestNewAverager_PassThrough(t *testing.T) {
	in := make(chan Reading, 2)
	in <- Reading{Millis: 1}
	in <- Reading{Millis: 2}
	close(in)

	var got []uint64
	for r := range NewAverager(0, 1)(context.Background(), in) {
		got = append(got, r.Millis)
	}
	assert.Equal(t, []uint64{1, 2}, got)
}
