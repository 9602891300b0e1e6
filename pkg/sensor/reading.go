// Package sensor reads the ultrasonic range finder and the IMU, and runs the
// timed poll loops that feed their readings into the pipeline.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

var (
	// ErrNoReading means the sensor produced nothing usable this cycle.
	ErrNoReading = errors.New("sensor: no reading")
	// ErrOutOfRange means the echo was outside the valid 2-400 cm band.
	ErrOutOfRange = errors.New("sensor: distance out of range")
)

// Range limits and conversion for the HC-SR04.
const (
	MinCM     = 2.0
	MaxCM     = 400.0
	CMPerFoot = 30.48
)

// DistanceReading is one filtered ultrasonic measurement.
type DistanceReading struct {
	Time time.Time
	CM   float64
}

// Feet returns the distance in feet.
func (r DistanceReading) Feet() float64 {
	return r.CM / CMPerFoot
}

// Describe renders a distance in feet as a short spoken phrase.
func Describe(feet float64) string {
	switch {
	case feet < 1.0:
		return "Very close, less than 1 foot"
	case feet < 3.0:
		return fmt.Sprintf("Obstacle at %.1f feet", feet)
	case feet < 6.0:
		return fmt.Sprintf("Object at %.1f feet ahead", feet)
	case feet < 10.0:
		return fmt.Sprintf("Clear path, obstacle %d feet away", int(math.Round(feet)))
	default:
		return "Clear path ahead"
	}
}

// IMUSample is one accelerometer (g) and gyroscope (deg/s) reading.
type IMUSample struct {
	Time  time.Time
	Accel [3]float64
	Gyro  [3]float64
}

// AccelMagnitude returns |a| in g.
func (s IMUSample) AccelMagnitude() float64 {
	return magnitude(s.Accel)
}

// GyroMagnitude returns |ω| in deg/s.
func (s IMUSample) GyroMagnitude() float64 {
	return magnitude(s.Gyro)
}

func magnitude(v [3]float64) float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

// DistanceReader produces filtered distance readings.
type DistanceReader interface {
	ReadDistance(ctx context.Context) (DistanceReading, error)
	Close() error
}

// IMUReader produces IMU samples.
type IMUReader interface {
	ReadIMU(ctx context.Context) (IMUSample, error)
	Close() error
}

// MedianFilter keeps the last Size values and returns their median.
// With fewer than three values it returns the most recent one.
type MedianFilter struct {
	size   int
	window []float64
}

// NewMedianFilter creates a filter over the last size values.
func NewMedianFilter(size int) *MedianFilter {
	if size <= 0 {
		size = 5
	}
	return &MedianFilter{size: size, window: make([]float64, 0, size)}
}

// Add records v and returns the filtered value.
func (m *MedianFilter) Add(v float64) float64 {
	if len(m.window) == m.size {
		m.window = m.window[1:]
	}
	m.window = append(m.window, v)
	return m.Value()
}

// Value returns the current filtered value, or NaN when empty.
func (m *MedianFilter) Value() float64 {
	n := len(m.window)
	switch {
	case n == 0:
		return math.NaN()
	case n < 3:
		return m.window[n-1]
	}
	sorted := append([]float64(nil), m.window...)
	sort.Float64s(sorted)
	return sorted[n/2]
}

// Len returns the number of buffered values.
func (m *MedianFilter) Len() int {
	return len(m.window)
}
