// Package iris wires the detection, voice, sensor and safety loops into one
// long-running assistant.
package iris

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-iris/internal/config"
	"github.com/teslashibe/go-iris/pkg/announce"
	"github.com/teslashibe/go-iris/pkg/audioio"
	"github.com/teslashibe/go-iris/pkg/camera"
	"github.com/teslashibe/go-iris/pkg/debounce"
	"github.com/teslashibe/go-iris/pkg/detection"
	"github.com/teslashibe/go-iris/pkg/eventlog"
	"github.com/teslashibe/go-iris/pkg/fall"
	"github.com/teslashibe/go-iris/pkg/metrics"
	"github.com/teslashibe/go-iris/pkg/notify"
	"github.com/teslashibe/go-iris/pkg/sensor"
	"github.com/teslashibe/go-iris/pkg/stt"
	"github.com/teslashibe/go-iris/pkg/wake"
	"github.com/teslashibe/go-iris/pkg/web"
)

// ErrNoInputs is returned when neither the camera nor the microphone is
// available; there is nothing for the assistant to do.
var ErrNoInputs = errors.New("iris: no camera and no microphone available")

// Spoken responses to voice commands.
const (
	SayStarting = "Starting detection"
	SayStopping = "Stopping detection"
)

// Devices are the opened hardware and service handles. A nil field marks a
// subsystem that is unavailable; its loop is not started. The App owns the
// devices and closes them on Shutdown.
type Devices struct {
	Camera      camera.Camera
	Detector    detection.Detector
	Microphone  audioio.Source
	Transcriber stt.Transcriber
	// Speaker is required. Use speaker.Log when there is no audio output.
	Speaker  announce.Speaker
	Distance sensor.DistanceReader
	IMU      sensor.IMUReader
	// Events is required; every safety event goes through it.
	Events *eventlog.Sink
	Mailer notify.Mailer
}

// App is the iris application orchestrator.
type App struct {
	cfg     *config.Config
	dev     Devices
	logger  *slog.Logger
	metrics *metrics.Collector

	arbiter   *announce.Arbiter
	debouncer *debounce.Debouncer
	fusion    *debounce.DistanceFusion
	falls     *fall.Machine
	voice     *wake.Controller
	web       *web.Server
	notifier  *notify.Notifier

	continuous atomic.Bool
	// toggled wakes the vision loop when continuous mode changes.
	toggled chan struct{}
	// labels carries the dominant vision label to the distance loop,
	// keeping only the latest value.
	labels chan string

	// visionMu serializes camera and detector use between the vision loop
	// and on-demand descriptions.
	visionMu sync.Mutex

	mu        sync.RWMutex
	latest    detection.Snapshot
	distance  *float64
	fallState fall.State
	runCtx    context.Context
	started   time.Time

	closeOnce sync.Once
}

// Option configures an App.
type Option func(*App)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithMetrics sets the collector; New creates one otherwise.
func WithMetrics(m *metrics.Collector) Option {
	return func(a *App) { a.metrics = m }
}

// New builds every component from cfg and dev. It fails when both the
// camera and the microphone are missing, or when a required device is nil.
func New(cfg *config.Config, dev Devices, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dev.Speaker == nil {
		return nil, fmt.Errorf("iris: speaker is required")
	}
	if dev.Events == nil {
		return nil, fmt.Errorf("iris: event sink is required")
	}
	if dev.Camera != nil && dev.Detector == nil {
		return nil, fmt.Errorf("iris: camera without detector")
	}
	if dev.Microphone != nil && dev.Transcriber == nil {
		return nil, fmt.Errorf("iris: microphone without transcriber")
	}
	if dev.Camera == nil && dev.Microphone == nil {
		return nil, ErrNoInputs
	}

	a := &App{
		cfg:     cfg,
		dev:     dev,
		logger:  slog.Default(),
		toggled: make(chan struct{}, 1),
		labels:  make(chan string, 1),
		runCtx:  context.Background(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.metrics == nil {
		a.metrics = metrics.New()
	}
	a.logger = a.logger.With("component", "iris")
	a.metrics.WatchEventLog(dev.Events.Stats)

	a.arbiter = announce.NewArbiter(dev.Speaker, dev.Events,
		announce.WithAlertQueue(cfg.Arbiter.AlertQueue),
		announce.WithSpeakTimeout(cfg.Arbiter.SpeakTimeout),
		announce.WithObserver(a.metrics),
		announce.WithLogger(a.logger),
	)
	a.debouncer = debounce.New(debounce.WithCooldown(cfg.Debounce.Cooldown), debounce.WithClock(cfg.Debounce.Now))
	a.fusion = debounce.NewDistanceFusion(cfg.Fusion)
	a.falls = fall.New(cfg.Fall)

	if dev.Microphone != nil {
		l := &micListener{app: a, src: dev.Microphone, stt: dev.Transcriber}
		a.voice = wake.NewController(cfg.Wake, l, wake.CommandHandlerFunc(a.handleCommand), a.arbiter, a.logger)
	}
	if cfg.Enable.Web {
		a.web = web.New(cfg.Web, a, a.metrics.Handler(), a.logger)
	}
	if cfg.Notify.Enabled && dev.Mailer != nil {
		n, err := notify.New(cfg.Notify.Config, dev.Mailer, a.logger)
		if err != nil {
			return nil, err
		}
		a.notifier = n
	}

	a.continuous.Store(cfg.Continuous)
	a.metrics.SetContinuous(cfg.Continuous)
	return a, nil
}

// Metrics returns the collector.
func (a *App) Metrics() *metrics.Collector {
	return a.metrics
}

// Arbiter returns the announcement arbiter.
func (a *App) Arbiter() *announce.Arbiter {
	return a.arbiter
}

// Web returns the dashboard server, or nil when disabled.
func (a *App) Web() *web.Server {
	return a.web
}

// Run starts every available loop and blocks until ctx is done or a loop
// fails.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	a.runCtx = ctx
	a.started = time.Now()
	a.mu.Unlock()

	a.logger.Info("iris starting", "subsystems", a.subsystems())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.arbiter.Run(ctx) })

	if a.dev.Camera != nil {
		g.Go(func() error { return a.visionLoop(ctx) })
	}
	if a.voice != nil {
		g.Go(func() error { return a.voice.Run(ctx) })
	}
	if a.dev.Distance != nil {
		readings := make(chan sensor.DistanceReading, 8)
		g.Go(func() error {
			return sensor.Poll(ctx, a.pollConfig("ultrasonic", a.cfg.Sensors.DistanceInterval), a.dev.Distance.ReadDistance, readings)
		})
		g.Go(func() error { return a.distanceLoop(ctx, readings) })
	}
	if a.dev.IMU != nil {
		samples := make(chan sensor.IMUSample, 64)
		g.Go(func() error {
			return sensor.Poll(ctx, a.pollConfig("imu", a.cfg.Sensors.IMUInterval), a.dev.IMU.ReadIMU, samples)
		})
		g.Go(func() error { return a.fallLoop(ctx, samples) })
	}
	if a.web != nil {
		g.Go(func() error { return a.web.Run(ctx) })
	}
	if a.notifier != nil {
		g.Go(func() error {
			if err := a.notifier.Run(ctx); err != nil {
				// Email is best effort; the rest keeps running.
				a.logger.Error("notifier stopped", "error", err)
			}
			return nil
		})
	}

	err := g.Wait()
	a.logger.Info("iris stopped")
	return err
}

func (a *App) pollConfig(name string, interval time.Duration) sensor.PollConfig {
	return sensor.PollConfig{
		Name:     name,
		Interval: interval,
		Timeout:  a.cfg.Sensors.ReadTimeout,
		Logger:   a.logger,
		OnError:  a.metrics.SensorError(name),
	}
}

// Close releases every present device in reverse order of acquisition.
func (d Devices) Close() error {
	var closers []io.Closer
	add := func(c io.Closer) {
		if c != nil {
			closers = append(closers, c)
		}
	}
	if d.Events != nil {
		add(d.Events)
	}
	if d.Camera != nil {
		add(d.Camera)
	}
	if d.Detector != nil {
		add(d.Detector)
	}
	if d.Microphone != nil {
		add(d.Microphone)
	}
	if c, ok := d.Speaker.(io.Closer); ok {
		add(c)
	}
	if d.Distance != nil {
		add(d.Distance)
	}
	if d.IMU != nil {
		add(d.IMU)
	}

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Shutdown releases the devices. It is safe to call more than once.
func (a *App) Shutdown() error {
	var err error
	a.closeOnce.Do(func() {
		err = a.dev.Close()
		a.logger.Info("devices released", "error", err)
	})
	return err
}

func (a *App) subsystems() map[string]bool {
	return map[string]bool{
		"camera":     a.dev.Camera != nil,
		"microphone": a.dev.Microphone != nil,
		"ultrasonic": a.dev.Distance != nil,
		"imu":        a.dev.IMU != nil,
		"web":        a.web != nil,
		"notify":     a.notifier != nil,
	}
}

func (a *App) runContext() context.Context {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.runCtx
}
