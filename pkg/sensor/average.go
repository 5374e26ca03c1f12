package sensor

import (
	"context"

	"github.com/itohio/goenvml/pkg/normalize"
)

// Stage transforms a stream of readings. The stage goroutine exits when in
// closes or ctx is done.
type Stage func(ctx context.Context, in <-chan Reading) <-chan Reading

// NewAverager returns a stage that emits the mean of each group of window
// consecutive readings. Missing values are left out of the mean; a channel
// missing in every reading of the group stays missing. A partial group is
// flushed when the input closes. A window of 1 or less passes readings
// through unchanged.
func NewAverager(window int, bufSize int) Stage {
	if window <= 0 {
		window = 1
	}
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}

	return func(ctx context.Context, in <-chan Reading) <-chan Reading {
		out := make(chan Reading, bufSize)

		go func() {
			defer close(out)

			emit := func(r Reading) bool {
				select {
				case out <- r:
					return true
				case <-ctx.Done():
					return false
				}
			}

			buffer := make([]Reading, 0, window)
			for {
				select {
				case <-ctx.Done():
					return
				case r, ok := <-in:
					if !ok {
						if len(buffer) > 0 {
							emit(Average(buffer))
						}
						return
					}
					buffer = append(buffer, r)
					if len(buffer) < window {
						continue
					}
					if !emit(Average(buffer)) {
						return
					}
					buffer = buffer[:0]
				}
			}
		}()

		return out
	}
}

// Average returns the per channel mean of readings, skipping missing values.
// A reading with missing humidity comes from a failed DHT read, so its
// temperature is skipped as well. The timestamp, uptime and scenario come
// from the most recent reading.
func Average(readings []Reading) Reading {
	if len(readings) == 0 {
		return Reading{}
	}

	last := readings[len(readings)-1]
	avg := Reading{
		Timestamp: last.Timestamp,
		Millis:    last.Millis,
		Scenario:  last.Scenario,
	}

	for ch := 0; ch < normalize.Channels; ch++ {
		var sum float64
		var n int
		for _, r := range readings {
			if missingIn(r.Values, ch) {
				continue
			}
			sum += float64(r.Values[ch])
			n++
		}
		if n == 0 {
			avg.Values[ch] = last.Values[ch]
			continue
		}
		avg.Values[ch] = float32(sum / float64(n))
	}

	return avg
}

// missingIn reports whether channel ch of v is missing, counting the
// temperature of a failed DHT read as missing.
func missingIn(v normalize.Values, ch int) bool {
	if Missing(ch, v[ch]) {
		return true
	}
	return ch == normalize.Temperature && Missing(normalize.Humidity, v[normalize.Humidity])
}
