//go:build tinygo

//go:generate tinygo flash -target=xiao

// Command firmware runs the environment classifier on the sensor node.
// Each second it reads the LDR and the DHT22, substitutes missing values,
// runs the embedded model and prints the reading and class probabilities.
package main

import (
	"machine"
	"time"

	"tinygo.org/x/drivers/dht"

	"github.com/itohio/goenvml/pkg/console"
	"github.com/itohio/goenvml/pkg/model"
	"github.com/itohio/goenvml/pkg/normalize"
	"github.com/itohio/goenvml/pkg/pipeline"
)

// fallback replaces failed readings; matches the host defaults.
var fallback = normalize.Values{0, 25, 50, 60, 450}

// scenario labels every logged reading for dataset collection.
const scenario = "anomaly"

var (
	adcLDR machine.ADC
	sensor dht.Device
	uart   = machine.Serial

	start  time.Time
	result pipeline.Result

	// Output line buffer
	line [128]byte
)

func main() {
	uart.Configure(machine.UARTConfig{BaudRate: UART_BAUD_RATE})
	time.Sleep(STARTUP_DELAY_MS * time.Millisecond)
	println("Beginning setup...")

	PIN_LED.Configure(machine.PinConfig{Mode: machine.PinOutput})

	PIN_LDR.Configure(machine.PinConfig{Mode: machine.PinInput})
	adcLDR = machine.ADC{Pin: PIN_LDR}
	adcLDR.Configure(machine.ADCConfig{
		Reference:  ADC_REFERENCE_MV,
		Resolution: ADC_RESOLUTION,
	})

	sensor = dht.New(PIN_DHT, dht.DHT22)

	b, err := model.Default()
	if err != nil {
		halt("model decode failed: ", err)
	}
	p, err := pipeline.New(b, pipeline.WithLabels(model.Labels()...))
	if err != nil {
		halt("model init failed: ", err)
	}
	println("Setup done!")

	start = time.Now()
	for {
		v := readSensors()
		writeReading(v)

		if err := p.RunInto(&result, v); err != nil {
			println("inference failed:", err.Error())
		} else {
			writeProbabilities(result.Probabilities)
		}

		time.Sleep(CYCLE_INTERVAL_MS * time.Millisecond)
	}
}

// readSensors returns the substituted sensor values. The SGP30 is not
// fitted, so TVOC and eCO2 always fall back.
func readSensors() normalize.Values {
	v := fallback

	raw := adcLDR.Get() >> (16 - ADC_RESOLUTION)
	v[normalize.Light] = float32(raw) / ADC_FULL_SCALE * ADC_REFERENCE_MV / 1000

	temp, hum, err := sensor.Measurements()
	if err != nil {
		println("Failed to read from DHT sensor!")
		return v
	}
	v[normalize.Temperature] = float32(temp) / 10
	v[normalize.Humidity] = float32(hum) / 10
	return v
}

func writeReading(v normalize.Values) {
	buf := console.AppendReading(line[:0], uint64(time.Since(start).Milliseconds()), v, scenario)
	buf = append(buf, '\n')
	uart.Write(buf)
}

func writeProbabilities(p []float32) {
	buf := console.AppendProbabilities(line[:0], p, 3)
	buf = append(buf, '\n')
	uart.Write(buf)
}

// halt reports err and blinks the LED forever.
func halt(msg string, err error) {
	for {
		println(msg + err.Error())
		for range 5 {
			PIN_LED.High()
			time.Sleep(100 * time.Millisecond)
			PIN_LED.Low()
			time.Sleep(100 * time.Millisecond)
		}
		time.Sleep(time.Second)
	}
}
