package iris

import (
	"time"

	"github.com/teslashibe/go-iris/pkg/web"
)

var _ web.Controller = (*App)(nil)

// Status reports what the assistant is doing right now.
func (a *App) Status() web.Status {
	stats := a.arbiter.Stats()

	a.mu.RLock()
	labels := a.latest.Labels()
	var distance *float64
	if a.distance != nil {
		d := *a.distance
		distance = &d
	}
	fallState := a.fallState
	started := a.started
	a.mu.RUnlock()

	st := web.Status{
		Continuous:  a.continuous.Load(),
		Speaking:    a.arbiter.Busy(),
		WakeState:   "disabled",
		FallState:   fallState.String(),
		Labels:      labels,
		Distance:    distance,
		Subsystems:  a.subsystems(),
		Accepted:    stats.Accepted,
		Dropped:     stats.Dropped,
		EventsSaved: a.dev.Events.Stats().Written,
	}
	if a.voice != nil {
		st.WakeState = a.voice.State().String()
	}
	if st.Labels == nil {
		st.Labels = []string{}
	}
	if !started.IsZero() {
		st.Uptime = time.Since(started).Round(time.Second).String()
	}
	return st
}
