package domain

import (
	"fmt"
	"math"
)

// Horizon is a named future time bucket selecting a heat dataset.
type Horizon string

const (
	Horizon6h  Horizon = "6h"
	Horizon12h Horizon = "12h"
	Horizon24h Horizon = "24h"
)

// Horizons lists every supported horizon in ascending order.
var Horizons = []Horizon{Horizon6h, Horizon12h, Horizon24h}

// ParseHorizon validates s as a supported horizon.
func ParseHorizon(s string) (Horizon, error) {
	for _, h := range Horizons {
		if string(h) == s {
			return h, nil
		}
	}
	return "", &ValidationError{Field: "horizon", Reason: fmt.Sprintf("unsupported horizon %q", s)}
}

// ValidateThreshold checks that t is a usable intensity threshold.
func ValidateThreshold(t float64) error {
	if math.IsNaN(t) || t < 0 || t > 1 {
		return &ValidationError{Field: "threshold", Reason: fmt.Sprintf("%v is outside [0,1]", t)}
	}
	return nil
}

// HeatCell is a single (location, intensity) sample for one horizon.
type HeatCell struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Intensity float64 `json:"intensity"` // 0.0–1.0
	Horizon   Horizon `json:"horizon"`
}

// Datasets holds the fixed cell sequence of each horizon.
type Datasets map[Horizon][]HeatCell

// HeatLayer is the renderable heat overlay for one horizon and threshold.
type HeatLayer struct {
	Horizon   Horizon    `json:"horizon"`
	Threshold float64    `json:"threshold"`
	Cells     []HeatCell `json:"cells"`
}
