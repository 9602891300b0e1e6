package iris

import (
	"context"
	"errors"
	"time"

	"github.com/teslashibe/go-iris/pkg/detection"
)

// visionLoop runs detection every Detector.Interval while continuous mode
// is on and idles otherwise.
func (a *App) visionLoop(ctx context.Context) error {
	a.logger.Info("vision loop started", "interval", a.cfg.Detector.Interval, "continuous", a.continuous.Load())
	defer a.logger.Info("vision loop stopped")

	ticker := time.NewTicker(a.cfg.Detector.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.toggled:
			if !a.continuous.Load() {
				a.publishLabel("")
				a.debouncer.Reset()
			}
			continue
		case <-ticker.C:
		}

		if !a.continuous.Load() {
			continue
		}
		snap, ok := a.detectOnce(ctx)
		if !ok {
			continue
		}
		if req, ok := a.debouncer.Evaluate(snap); ok {
			a.arbiter.Submit(req)
		}
	}
}

// detectOnce captures a frame and runs the detector. Failures are logged and
// reported as no snapshot; the latest snapshot is left untouched then.
func (a *App) detectOnce(ctx context.Context) (detection.Snapshot, bool) {
	a.visionMu.Lock()
	defer a.visionMu.Unlock()

	frame, err := a.dev.Camera.Capture(ctx)
	if err != nil {
		if ctx.Err() == nil {
			a.logger.Warn("capture failed", "error", err)
		}
		return detection.Snapshot{}, false
	}

	start := time.Now()
	dets, err := a.dev.Detector.Detect(ctx, frame)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			a.logger.Warn("detection failed", "error", err)
		}
		// A failed run means no detections.
		dets = nil
	}
	dets = detection.FilterByConfidence(dets, a.cfg.Detector.Confidence)

	t := frame.Time
	if t.IsZero() {
		t = time.Now()
	}
	snap := detection.NewSnapshot(t, dets)
	a.metrics.ObserveDetection(time.Since(start), snap.Labels())

	a.mu.Lock()
	a.latest = snap
	a.mu.Unlock()

	// On-demand frames do not feed distance fusion while detection is stopped.
	if a.continuous.Load() {
		label, _ := snap.Dominant()
		a.publishLabel(label)
	}
	return snap, true
}

// publishLabel replaces whatever label the distance loop has not read yet.
func (a *App) publishLabel(label string) {
	for {
		select {
		case a.labels <- label:
			return
		default:
		}
		select {
		case <-a.labels:
		default:
		}
	}
}

// currentSnapshot returns a fresh snapshot when a camera is present, else
// the last one seen.
func (a *App) currentSnapshot(ctx context.Context) detection.Snapshot {
	if a.dev.Camera != nil {
		if snap, ok := a.detectOnce(ctx); ok {
			return snap
		}
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.latest
}

// Describe speaks the current scene, bypassing the cooldown. It reports
// whether the arbiter accepted the announcement.
func (a *App) Describe() bool {
	snap := a.currentSnapshot(a.runContext())
	return a.arbiter.Submit(a.debouncer.AnnounceNow(snap))
}

// SetContinuous turns continuous detection on or off.
func (a *App) SetContinuous(on bool) {
	if a.continuous.Swap(on) == on {
		return
	}
	a.metrics.SetContinuous(on)
	a.logger.Info("continuous detection", "on", on)
	select {
	case a.toggled <- struct{}{}:
	default:
	}
}

// Continuous reports whether continuous detection is on.
func (a *App) Continuous() bool {
	return a.continuous.Load()
}
