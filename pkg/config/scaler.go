package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"github.com/itohio/goenvml/pkg/normalize"
)

// Scaler is the scaler.json written by the training preprocessing step.
type Scaler struct {
	LDRMin   float32 `json:"ldr_min"`
	LDRMax   float32 `json:"ldr_max"`
	TempMean float32 `json:"temp_mean"`
	TempStd  float32 `json:"temp_std"`
	HumMean  float32 `json:"hum_mean"`
	HumStd   float32 `json:"hum_std"`
	TVOCMin  float32 `json:"tvoc_min"`
	TVOCMax  float32 `json:"tvoc_max"`
	ECO2Min  float32 `json:"eco2_min"`
	ECO2Max  float32 `json:"eco2_max"`
}

// Profile converts the scaler into a validated normalization profile.
func (s *Scaler) Profile() (normalize.Profile, error) {
	return normalize.New(normalize.Profile{
		normalize.Light:       normalize.NewMinMax(s.LDRMin, s.LDRMax),
		normalize.Temperature: normalize.NewZScore(s.TempMean, s.TempStd),
		normalize.Humidity:    normalize.NewZScore(s.HumMean, s.HumStd),
		normalize.TVOC:        normalize.NewMinMax(s.TVOCMin, s.TVOCMax),
		normalize.ECO2:        normalize.NewMinMax(s.ECO2Min, s.ECO2Max),
	})
}

// LoadScaler reads a scaler.json file into a profile.
func LoadScaler(filename string) (normalize.Profile, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return normalize.Profile{}, fmt.Errorf("failed to read scaler: %w", err)
	}

	var s Scaler
	if err := json.Unmarshal(data, &s); err != nil {
		return normalize.Profile{}, fmt.Errorf("failed to parse scaler: %w", err)
	}
	return s.Profile()
}

// ScalerFromProfile is the inverse of Scaler.Profile. Channels must have the
// kinds the scaler file expects.
func ScalerFromProfile(p normalize.Profile) (Scaler, error) {
	want := [normalize.Channels]normalize.Kind{normalize.MinMax, normalize.ZScore, normalize.ZScore, normalize.MinMax, normalize.MinMax}
	for i, k := range want {
		if p[i].Kind != k {
			return Scaler{}, fmt.Errorf("channel %s is %s, scaler needs %s", normalize.Names[i], p[i].Kind, k)
		}
	}
	return Scaler{
		LDRMin: p[normalize.Light].A, LDRMax: p[normalize.Light].B,
		TempMean: p[normalize.Temperature].A, TempStd: p[normalize.Temperature].B,
		HumMean: p[normalize.Humidity].A, HumStd: p[normalize.Humidity].B,
		TVOCMin: p[normalize.TVOC].A, TVOCMax: p[normalize.TVOC].B,
		ECO2Min: p[normalize.ECO2].A, ECO2Max: p[normalize.ECO2].B,
	}, nil
}
