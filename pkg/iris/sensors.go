package iris

import (
	"context"

	"github.com/teslashibe/go-iris/pkg/fall"
	"github.com/teslashibe/go-iris/pkg/sensor"
)

// distanceLoop pairs each reading with the latest vision label. Readings
// are only fused while continuous detection is on.
func (a *App) distanceLoop(ctx context.Context, readings <-chan sensor.DistanceReading) error {
	monitor := sensor.NewDistanceMonitor(a.cfg.Sensors.ChangeFeet)
	var label string

	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-readings:
			select {
			case label = <-a.labels:
			default:
			}

			a.metrics.SensorReading("ultrasonic")
			feet := r.Feet()
			a.mu.Lock()
			a.distance = &feet
			a.mu.Unlock()

			if monitor.Changed(r) {
				a.logger.Debug("distance changed", "feet", feet, "label", label)
			}
			if !a.continuous.Load() {
				continue
			}
			if req, ok := a.fusion.Evaluate(r, label); ok {
				a.arbiter.Submit(req)
			}
		}
	}
}

// fallLoop feeds IMU samples to the fall machine.
func (a *App) fallLoop(ctx context.Context, samples <-chan sensor.IMUSample) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-samples:
			a.metrics.SensorReading("imu")
			tr, req := a.falls.Update(s)
			if tr.Changed() {
				a.logger.Info("fall state", "from", tr.From, "to", tr.To)
				a.metrics.SetFallState(int(tr.To))
				a.mu.Lock()
				a.fallState = tr.To
				a.mu.Unlock()
			}
			if req != nil {
				a.logger.Warn("fall confirmed", "location", a.cfg.Fall.Location)
				a.arbiter.Submit(*req)
			}
		}
	}
}

// FallState returns the fall machine's last known state.
func (a *App) FallState() fall.State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.fallState
}
