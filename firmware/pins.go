//go:build tinygo

package main

import "machine"

const (
	// Sampling
	CYCLE_INTERVAL_MS = 1000 // time between inference cycles
	STARTUP_DELAY_MS  = 2000 // wait for the host to open the port

	// ADC configuration
	ADC_REFERENCE_MV = 3300 // Reference voltage in millivolts (3.3V)
	ADC_RESOLUTION   = 12   // ADC resolution in bits (12-bit = 0-4095)
	ADC_FULL_SCALE   = 4095

	// Sensor pins
	PIN_LDR = machine.A0
	PIN_DHT = machine.D4
	PIN_LED = machine.LED

	// Serial configuration
	// Format: "millis,ldr,temp,hum,tvoc,eco2,scenario\nAI probabilities: p0 p1 p2 \n"
	// ~45 + 40 bytes per cycle at 1 Hz, far below 115200 baud.
	UART_BAUD_RATE = 115200
)
