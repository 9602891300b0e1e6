// Package metrics exposes pipeline counters for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-iris/pkg/announce"
	"github.com/teslashibe/go-iris/pkg/eventlog"
)

const namespace = "iris"

// Collector owns a private registry so several instances (one per test)
// never collide.
type Collector struct {
	reg *prometheus.Registry

	announceAccepted *prometheus.CounterVec
	announceDropped  *prometheus.CounterVec
	announceSpoken   *prometheus.CounterVec
	speakFailures    *prometheus.CounterVec
	speakDuration    prometheus.Histogram

	detectDuration prometheus.Histogram
	detectObjects  *prometheus.CounterVec
	sensorErrors   *prometheus.CounterVec
	sensorReadings *prometheus.CounterVec

	fallState    prometheus.Gauge
	fallsTotal   prometheus.Counter
	wakeCommands *prometheus.CounterVec
	wakeState    prometheus.Gauge
	continuous   prometheus.Gauge
}

// New creates a collector with Go runtime and process metrics registered.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		reg: reg,

		announceAccepted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "announcements_accepted_total",
			Help: "Announcement requests accepted by the arbiter.",
		}, []string{"source", "priority"}),
		announceDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "announcements_dropped_total",
			Help: "Announcement requests dropped by the arbiter.",
		}, []string{"source", "reason"}),
		announceSpoken: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "announcements_spoken_total",
			Help: "Announcements played to completion.",
		}, []string{"source"}),
		speakFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "speak_failures_total",
			Help: "Announcements the speaker failed to play.",
		}, []string{"source"}),
		speakDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "speak_duration_seconds",
			Help:    "Time from synthesis start to end of playback.",
			Buckets: []float64{0.25, 0.5, 1, 2, 3, 5, 8, 13},
		}),

		detectDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "detection_duration_seconds",
			Help:    "Object detector inference time per frame.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4},
		}),
		detectObjects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "detected_objects_total",
			Help: "Objects detected above the confidence threshold.",
		}, []string{"label"}),
		sensorErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sensor_read_errors_total",
			Help: "Failed or timed-out sensor reads.",
		}, []string{"sensor"}),
		sensorReadings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sensor_readings_total",
			Help: "Successful sensor reads.",
		}, []string{"sensor"}),

		fallState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "fall_state",
			Help: "Fall detector state: 0 normal, 1 freefall, 2 impact, 3 confirming, 4 confirmed.",
		}),
		fallsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "falls_confirmed_total",
			Help: "Confirmed falls.",
		}),
		wakeCommands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "voice_commands_total",
			Help: "Voice commands recognized after the wake word.",
		}, []string{"intent"}),
		wakeState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "wake_awaiting_command",
			Help: "1 while waiting for a command after the wake word.",
		}),
		continuous: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "continuous_detection",
			Help: "1 while continuous object announcements are on.",
		}),
	}
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}

// Accepted implements announce.Observer.
func (c *Collector) Accepted(req announce.Request) {
	c.announceAccepted.WithLabelValues(string(req.Source), req.Priority.String()).Inc()
}

// Dropped implements announce.Observer.
func (c *Collector) Dropped(req announce.Request, reason announce.DropReason) {
	c.announceDropped.WithLabelValues(string(req.Source), string(reason)).Inc()
}

// Spoken implements announce.Observer.
func (c *Collector) Spoken(req announce.Request, took time.Duration) {
	c.announceSpoken.WithLabelValues(string(req.Source)).Inc()
	c.speakDuration.Observe(took.Seconds())
}

// SpeakFailed implements announce.Observer.
func (c *Collector) SpeakFailed(req announce.Request, _ error) {
	c.speakFailures.WithLabelValues(string(req.Source)).Inc()
}

// ObserveDetection records one detector run.
func (c *Collector) ObserveDetection(took time.Duration, labels []string) {
	c.detectDuration.Observe(took.Seconds())
	for _, l := range labels {
		c.detectObjects.WithLabelValues(l).Inc()
	}
}

// SensorError returns a callback counting failed reads of sensor, shaped
// for sensor.PollConfig.OnError.
func (c *Collector) SensorError(sensor string) func(error) {
	counter := c.sensorErrors.WithLabelValues(sensor)
	return func(error) { counter.Inc() }
}

// SensorReading counts a successful read.
func (c *Collector) SensorReading(sensor string) {
	c.sensorReadings.WithLabelValues(sensor).Inc()
}

// SetFallState records the fall detector state; entering the confirmed
// state (4) counts a fall.
func (c *Collector) SetFallState(state int) {
	c.fallState.Set(float64(state))
	if state == 4 {
		c.fallsTotal.Inc()
	}
}

// Command counts a recognized voice command.
func (c *Collector) Command(intent string) {
	c.wakeCommands.WithLabelValues(intent).Inc()
}

// SetAwaiting records whether the voice loop is waiting for a command.
func (c *Collector) SetAwaiting(awaiting bool) {
	c.wakeState.Set(boolFloat(awaiting))
}

// SetContinuous records the continuous-detection toggle.
func (c *Collector) SetContinuous(on bool) {
	c.continuous.Set(boolFloat(on))
}

// WatchEventLog exports the event log's counters, read at scrape time.
func (c *Collector) WatchEventLog(stats func() eventlog.Stats) {
	c.reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_written_total",
			Help: "Safety events appended to the event log.",
		}, func() float64 { return float64(stats().Written) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_failed_total",
			Help: "Safety events that could not be written.",
		}, func() float64 { return float64(stats().Failed) }),
	)
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

var _ announce.Observer = (*Collector)(nil)
