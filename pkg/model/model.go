// Package model embeds the default environment classifier bundle.
//
// The classifier is 5 -> 32 -> 24 -> 3 (ReLU, ReLU, linear) over the
// normalized light, temperature, humidity, TVOC and eCO2 channels.
package model

import (
	_ "embed"

	"github.com/google/uuid"

	"github.com/itohio/goenvml/pkg/bundle"
)

//go:generate go run ../../envml pack --manifest default.json --output default.envq

//go:embed default.envq
var defaultBundle []byte

// BuildID identifies the embedded bundle.
var BuildID = uuid.MustParse("3b8f6c1e-2d47-4a9b-8e15-c0f7a2d94b63")

var labels = [...]string{"high_humidity", "high_temp", "normal"}

// Bytes returns the encoded default bundle. The slice must not be modified.
func Bytes() []byte {
	return defaultBundle
}

// Default decodes the embedded bundle.
func Default() (*bundle.Bundle, error) {
	return bundle.Decode(defaultBundle)
}

// Labels returns the class names in output order.
func Labels() []string {
	out := make([]string, len(labels))
	copy(out, labels[:])
	return out
}
