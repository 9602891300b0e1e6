package sensor

import "math"

// DistanceMonitor passes on readings that moved at least ThresholdFeet since
// the last one passed on. The first reading always passes.
type DistanceMonitor struct {
	ThresholdFeet float64
	last          float64
	seen          bool
}

// NewDistanceMonitor creates a monitor with the given change threshold in feet.
func NewDistanceMonitor(thresholdFeet float64) *DistanceMonitor {
	if thresholdFeet <= 0 {
		thresholdFeet = 1.0
	}
	return &DistanceMonitor{ThresholdFeet: thresholdFeet}
}

// Changed reports whether r differs enough from the last passed reading.
func (m *DistanceMonitor) Changed(r DistanceReading) bool {
	feet := r.Feet()
	if m.seen && math.Abs(feet-m.last) < m.ThresholdFeet {
		return false
	}
	m.last = feet
	m.seen = true
	return true
}

// Reset forgets the last reading.
func (m *DistanceMonitor) Reset() {
	m.seen = false
}
