package fall

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teslashibe/go-iris/pkg/announce"
	"github.com/teslashibe/go-iris/pkg/eventlog"
	"github.com/teslashibe/go-iris/pkg/sensor"
)

const tick = 20 * time.Millisecond // 50 Hz

// feed drives samples through the machine and collects states and alerts.
type feed struct {
	m      *Machine
	t      time.Time
	seen   []State
	alerts []*announce.Request
}

func newFeed(cfg Config) *feed {
	return &feed{m: New(cfg), t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// run feeds d worth of samples with the given accel magnitude (on z) and rotation rate.
func (f *feed) run(d time.Duration, g, dps float64) {
	for elapsed := time.Duration(0); elapsed < d; elapsed += tick {
		f.t = f.t.Add(tick)
		tr, req := f.m.Update(sensor.IMUSample{
			Time:  f.t,
			Accel: [3]float64{0, 0, g},
			Gyro:  [3]float64{dps, 0, 0},
		})
		if tr.Changed() {
			f.seen = append(f.seen, tr.To)
		}
		if req != nil {
			f.alerts = append(f.alerts, req)
		}
	}
}

func TestMachine_FallRoundTrip(t *testing.T) {
	f := newFeed(DefaultConfig())

	f.run(time.Second, 1.0, 0)           // standing
	f.run(300*time.Millisecond, 0.2, 0)  // free fall
	f.run(tick, 3.5, 200)                // impact
	f.run(2500*time.Millisecond, 1.0, 5) // lying still

	assert.Equal(t, []State{Freefall, Impact, Confirming, Confirmed}, f.seen)
	require.Len(t, f.alerts, 1)

	req := f.alerts[0]
	assert.Equal(t, AlertText, req.Text)
	assert.Equal(t, announce.Alert, req.Priority)
	assert.Equal(t, announce.SourceFall, req.Source)
	require.NotNil(t, req.Event)
	assert.Equal(t, eventlog.KindFall, req.Event.Kind)
	assert.Equal(t, "critical", req.Event.Payload["severity"])
	assert.Equal(t, "unknown", req.Event.Payload["location"])
	assert.Equal(t, 3.5, req.Event.Payload["peak_g"])
	assert.Equal(t, uint64(1), f.m.Confirmed())
}

func TestMachine_FreefallWithoutImpactTimesOut(t *testing.T) {
	f := newFeed(DefaultConfig())

	f.run(200*time.Millisecond, 0.2, 0)
	f.run(2*time.Second, 1.0, 0)

	assert.Equal(t, []State{Freefall, Normal}, f.seen)
	assert.Empty(t, f.alerts)
	assert.Equal(t, Normal, f.m.State())
}

func TestMachine_ImpactWithoutStillnessTimesOut(t *testing.T) {
	f := newFeed(DefaultConfig())

	f.run(100*time.Millisecond, 0.2, 0)
	f.run(tick, 3.0, 0)
	f.run(3*time.Second, 1.6, 150) // walking away

	assert.Equal(t, []State{Freefall, Impact, Normal}, f.seen)
	assert.Empty(t, f.alerts)
}

func TestMachine_GetUpIsFalseAlarm(t *testing.T) {
	f := newFeed(DefaultConfig())

	f.run(100*time.Millisecond, 0.2, 0)
	f.run(tick, 3.0, 0)
	f.run(600*time.Millisecond, 1.0, 0) // settles, enters CONFIRMING
	f.run(tick, 1.8, 0)                 // stands up

	assert.Equal(t, []State{Freefall, Impact, Confirming, Normal}, f.seen)
	assert.Empty(t, f.alerts)
}

func TestMachine_RestlessnessRestartsDwell(t *testing.T) {
	enterConfirming := func(f *feed) {
		f.run(100*time.Millisecond, 0.2, 0)
		f.run(tick, 3.0, 0)
		f.run(600*time.Millisecond, 1.0, 0)
		require.Equal(t, Confirming, f.m.State())
	}

	t.Run("never still long enough", func(t *testing.T) {
		f := newFeed(DefaultConfig())
		enterConfirming(f)

		// Shifting around below the get-up limits, never still for a full dwell.
		for i := 0; i < 8; i++ {
			f.run(400*time.Millisecond, 1.0, 0)
			f.run(tick, 1.15, 80)
		}

		assert.Equal(t, []State{Freefall, Impact, Confirming, Normal}, f.seen)
		assert.Empty(t, f.alerts)
	})

	t.Run("still after one shift", func(t *testing.T) {
		f := newFeed(DefaultConfig())
		enterConfirming(f)

		f.run(400*time.Millisecond, 1.0, 0)
		f.run(tick, 1.15, 80)
		f.run(900*time.Millisecond, 1.0, 0)
		assert.Equal(t, Confirming, f.m.State(), "dwell counts from the last shift")
		f.run(200*time.Millisecond, 1.0, 0)

		assert.Equal(t, []State{Freefall, Impact, Confirming, Confirmed}, f.seen)
		assert.Len(t, f.alerts, 1)
	})
}

func TestMachine_CooldownPreventsRepeatAlerts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cooldown = 5 * time.Second
	f := newFeed(cfg)

	fallOnce := func() {
		f.run(100*time.Millisecond, 0.2, 0)
		f.run(tick, 3.0, 0)
		f.run(2*time.Second, 1.0, 0)
	}

	fallOnce()
	require.Len(t, f.alerts, 1)
	require.Equal(t, Confirmed, f.m.State())

	// A second episode inside the cooldown is ignored.
	fallOnce()
	assert.Len(t, f.alerts, 1)

	f.run(5*time.Second, 1.0, 0)
	assert.Equal(t, Normal, f.m.State())

	fallOnce()
	assert.Len(t, f.alerts, 2)
}

func TestMachine_Thresholds(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		lowG    float64
		impactG float64
		wantHit bool
	}{
		{"default thresholds", func(*Config) {}, 0.2, 3.0, true},
		{"stricter free fall", func(c *Config) { c.FreefallG = 0.3 }, 0.4, 3.0, false},
		{"lenient free fall", func(c *Config) { c.FreefallG = 0.6 }, 0.55, 3.0, true},
		{"higher impact", func(c *Config) { c.ImpactG = 4.0 }, 0.2, 3.0, false},
		{"lower impact", func(c *Config) { c.ImpactG = 1.8 }, 0.2, 2.0, true},
		{"min free fall not met", func(c *Config) { c.MinFreefall = 300 * time.Millisecond }, 0.2, 3.0, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			require.NoError(t, cfg.Validate())
			f := newFeed(cfg)

			f.run(100*time.Millisecond, tc.lowG, 0)
			f.run(tick, tc.impactG, 0)
			f.run(2*time.Second, 1.0, 0)

			assert.Equal(t, tc.wantHit, len(f.alerts) == 1)
		})
	}
}

func TestMachine_FreefallSamples(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FreefallSamples = 3
	f := newFeed(cfg)

	f.run(2*tick, 0.2, 0)
	assert.Equal(t, Normal, f.m.State())
	f.run(tick, 0.2, 0)
	assert.Equal(t, Freefall, f.m.State())
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.ImpactG = 0.4
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.ImpactSettle = 3 * time.Second
	assert.Error(t, bad.Validate())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "FALL_CONFIRMED", Confirmed.String())
	assert.Equal(t, "NORMAL", Normal.String())
}
