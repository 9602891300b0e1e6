// Package fall detects falls from a stream of IMU samples.
//
// The classifier is a small state machine:
//
//	NORMAL -> FREEFALL -> IMPACT -> CONFIRMING -> FALL_CONFIRMED -> NORMAL
//
// Every state other than NORMAL has a bounded lifetime, so a noisy sensor can
// never wedge the machine. Time comes from the samples, not the wall clock.
package fall

import (
	"fmt"
	"math"
	"time"

	"github.com/teslashibe/go-iris/pkg/announce"
	"github.com/teslashibe/go-iris/pkg/eventlog"
	"github.com/teslashibe/go-iris/pkg/sensor"
)

// AlertText is spoken when a fall is confirmed.
const AlertText = "Fall detected! Are you okay?"

// State is a fall classifier state.
type State int

const (
	Normal State = iota
	Freefall
	Impact
	Confirming
	Confirmed
)

func (s State) String() string {
	switch s {
	case Normal:
		return "NORMAL"
	case Freefall:
		return "FREEFALL"
	case Impact:
		return "IMPACT"
	case Confirming:
		return "CONFIRMING"
	case Confirmed:
		return "FALL_CONFIRMED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config holds the classifier thresholds. All of them are deployment
// calibration, tuned per user and mounting.
type Config struct {
	// FreefallG: |a| below this (g) counts as free fall.
	FreefallG float64 `yaml:"freefall_g"`
	// FreefallSamples consecutive low-g samples enter FREEFALL.
	FreefallSamples int `yaml:"freefall_samples"`
	// MinFreefall rejects impacts that follow too short a free fall.
	MinFreefall time.Duration `yaml:"min_freefall"`
	// ImpactG: |a| above this (g) after free fall is an impact.
	ImpactG float64 `yaml:"impact_g"`
	// ImpactWindow bounds FREEFALL waiting for an impact.
	ImpactWindow time.Duration `yaml:"impact_window"`
	// ImpactSettle is ignored motion right after the impact.
	ImpactSettle time.Duration `yaml:"impact_settle"`
	// ConfirmWindow bounds IMPACT waiting for stillness. In CONFIRMING, a
	// restless sample after this window gives up on the episode.
	ConfirmWindow time.Duration `yaml:"confirm_window"`
	// StillBandG: stillness means ||a| - 1g| within this band.
	StillBandG float64 `yaml:"still_band_g"`
	// StillRotation: stillness means |ω| below this (deg/s).
	StillRotation float64 `yaml:"still_rotation"`
	// Dwell is how long stillness must last, without a break, to confirm.
	Dwell time.Duration `yaml:"dwell"`
	// GetUpG / GetUpRotation: motion above either while confirming is a false alarm.
	GetUpG        float64 `yaml:"get_up_g"`
	GetUpRotation float64 `yaml:"get_up_rotation"`
	// Cooldown holds FALL_CONFIRMED before re-arming.
	Cooldown time.Duration `yaml:"cooldown"`
	// Location is reported in the fall event payload.
	Location string `yaml:"location"`
}

// DefaultConfig returns thresholds for a body-worn sensor sampled at 50 Hz.
func DefaultConfig() Config {
	return Config{
		FreefallG:       0.5,
		FreefallSamples: 1,
		ImpactG:         2.5,
		ImpactWindow:    1500 * time.Millisecond,
		ImpactSettle:    500 * time.Millisecond,
		ConfirmWindow:   2 * time.Second,
		StillBandG:      0.2,
		StillRotation:   50,
		Dwell:           time.Second,
		GetUpG:          1.2,
		GetUpRotation:   100,
		Cooldown:        10 * time.Second,
		Location:        "unknown",
	}
}

// Validate checks that thresholds are ordered sensibly.
func (c Config) Validate() error {
	switch {
	case c.FreefallG <= 0:
		return fmt.Errorf("fall: freefall_g must be > 0")
	case c.ImpactG <= c.FreefallG:
		return fmt.Errorf("fall: impact_g (%.2f) must exceed freefall_g (%.2f)", c.ImpactG, c.FreefallG)
	case c.FreefallSamples < 1:
		return fmt.Errorf("fall: freefall_samples must be >= 1")
	case c.ImpactWindow <= 0 || c.ConfirmWindow <= 0:
		return fmt.Errorf("fall: windows must be > 0")
	case c.ImpactSettle >= c.ConfirmWindow:
		return fmt.Errorf("fall: impact_settle must be shorter than confirm_window")
	case c.StillBandG <= 0 || c.StillRotation <= 0:
		return fmt.Errorf("fall: stillness thresholds must be > 0")
	case c.GetUpRotation < c.StillRotation:
		return fmt.Errorf("fall: get_up_rotation must be >= still_rotation")
	}
	return nil
}

// Transition records a state change. From == To means nothing changed.
type Transition struct {
	From State
	To   State
	At   time.Time
}

// Changed reports whether the transition moved the machine.
func (t Transition) Changed() bool {
	return t.From != t.To
}

// Machine is the fall classifier. It is owned by a single loop and is not
// safe for concurrent use.
type Machine struct {
	cfg        Config
	state      State
	since      time.Time
	stillSince time.Time
	lowCount   int
	peakG     float64
	confirmed uint64
}

// New creates a machine in NORMAL.
func New(cfg Config) *Machine {
	return &Machine{cfg: cfg}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Confirmed returns how many falls have been confirmed.
func (m *Machine) Confirmed() uint64 {
	return m.confirmed
}

// Update feeds one sample. It returns the resulting transition and, when a
// fall is confirmed, exactly one ALERT request carrying a fall event.
func (m *Machine) Update(s sensor.IMUSample) (Transition, *announce.Request) {
	from := m.state
	a := s.AccelMagnitude()
	w := s.GyroMagnitude()
	elapsed := s.Time.Sub(m.since)

	var req *announce.Request
	switch m.state {
	case Normal:
		if a < m.cfg.FreefallG {
			m.lowCount++
			if m.lowCount >= m.cfg.FreefallSamples {
				m.enter(Freefall, s.Time)
			}
		} else {
			m.lowCount = 0
		}

	case Freefall:
		switch {
		case a > m.cfg.ImpactG:
			if elapsed < m.cfg.MinFreefall {
				m.enter(Normal, s.Time)
				break
			}
			m.peakG = a
			m.enter(Impact, s.Time)
		case elapsed > m.cfg.ImpactWindow:
			m.enter(Normal, s.Time)
		}

	case Impact:
		if a > m.peakG {
			m.peakG = a
		}
		switch {
		case elapsed >= m.cfg.ImpactSettle && m.still(a, w):
			m.enter(Confirming, s.Time)
		case elapsed > m.cfg.ConfirmWindow:
			m.enter(Normal, s.Time)
		}

	case Confirming:
		switch {
		case a > m.cfg.GetUpG || w > m.cfg.GetUpRotation:
			m.enter(Normal, s.Time)
		case !m.still(a, w):
			// Restless but not up: the dwell starts over.
			m.stillSince = s.Time
			if elapsed >= m.cfg.ConfirmWindow {
				m.enter(Normal, s.Time)
			}
		case s.Time.Sub(m.stillSince) >= m.cfg.Dwell:
			m.enter(Confirmed, s.Time)
			m.confirmed++
			req = m.alert(s.Time)
		}

	case Confirmed:
		if elapsed >= m.cfg.Cooldown {
			m.enter(Normal, s.Time)
		}
	}

	return Transition{From: from, To: m.state, At: s.Time}, req
}

func (m *Machine) still(a, w float64) bool {
	return math.Abs(a-1.0) <= m.cfg.StillBandG && w < m.cfg.StillRotation
}

func (m *Machine) enter(st State, t time.Time) {
	m.state = st
	m.since = t
	m.stillSince = t
	m.lowCount = 0
	if st == Normal {
		m.peakG = 0
	}
}

func (m *Machine) alert(t time.Time) *announce.Request {
	ev := eventlog.New(eventlog.KindFall, t, map[string]any{
		"severity": "critical",
		"location": m.cfg.Location,
		"peak_g":   math.Round(m.peakG*100) / 100,
	})
	req := announce.NewRequest(AlertText, announce.Alert, announce.SourceFall, t).WithEvent(ev)
	return &req
}

// Reset returns the machine to NORMAL.
func (m *Machine) Reset(t time.Time) {
	m.enter(Normal, t)
}
