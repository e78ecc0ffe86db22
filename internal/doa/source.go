// Package doa turns beam power estimates into smoothed direction of arrival results
package doa

import (
	"context"
	"math"
	"time"
)

// Reading represents a single DOA measurement over one block of signal
type Reading struct {
	Angle     float64   `json:"angle"`      // Radians, 0 = broadside, + toward the array axis
	Beam      int       `json:"beam"`       // Index of the loudest beam
	Power     float64   `json:"power"`      // Mean power of the loudest beam
	Powers    []float64 `json:"powers"`     // Mean power of every beam
	Active    bool      `json:"active"`     // Power above the activity threshold
	Frames    int       `json:"frames"`     // Analysis windows in this reading
	Timestamp time.Time `json:"timestamp"`  // When this reading was taken
	LatencyMs int64     `json:"latency_ms"` // Processing latency
}

// Source provides DOA readings
type Source interface {
	// GetDOA returns the current direction of arrival
	GetDOA(ctx context.Context) (Reading, error)

	// Close releases acquisition resources
	Close() error

	// Healthy returns true if the source is operational
	Healthy() bool

	// Name returns the source type name
	Name() string
}

// Degrees converts radians to degrees
func Degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

// Radians converts degrees to radians
func Radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// NormalizeAngle normalizes an angle to [-π, π]
func NormalizeAngle(angle float64) float64 {
	for angle > math.Pi {
		angle -= 2 * math.Pi
	}
	for angle < -math.Pi {
		angle += 2 * math.Pi
	}
	return angle
}

// Clamp clamps a value to [min, max]
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
