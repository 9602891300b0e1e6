// Package web serves the iris dashboard: a small REST API, a Prometheus
// endpoint and a websocket stream of logged events.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-iris/pkg/eventlog"
	"github.com/teslashibe/go-iris/pkg/hub"
)

// Status is the snapshot served by /api/status and pushed on /ws/events.
type Status struct {
	Continuous  bool            `json:"continuous"`
	Speaking    bool            `json:"speaking"`
	WakeState   string          `json:"wake_state"`
	FallState   string          `json:"fall_state"`
	Labels      []string        `json:"labels"`
	Distance    *float64        `json:"distance_feet,omitempty"`
	Subsystems  map[string]bool `json:"subsystems"`
	Accepted    uint64          `json:"announcements_accepted"`
	Dropped     uint64          `json:"announcements_dropped"`
	EventsSaved uint64          `json:"events_written"`
	Uptime      string          `json:"uptime"`
}

// Controller is what the dashboard can see and drive.
type Controller interface {
	Status() Status
	// Describe speaks the current scene. It reports whether the
	// announcement was accepted.
	Describe() bool
	// Say speaks arbitrary text as a voice response.
	Say(text string) bool
	SetContinuous(on bool)
}

// Config configures the dashboard.
type Config struct {
	Addr string `yaml:"addr"`
	// StaticDir is served at / when set.
	StaticDir string `yaml:"static_dir"`
	// EventFile is tailed for /ws/events and read for /api/events.
	EventFile string `yaml:"-"`
	// StatusInterval is how often status is pushed to websocket clients;
	// zero disables it.
	StatusInterval time.Duration `yaml:"status_interval"`
	// RecentEvents caps /api/events when no limit is given.
	RecentEvents int `yaml:"recent_events"`
}

// DefaultConfig returns the dashboard defaults.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		EventFile:      eventlog.DefaultPath,
		StatusInterval: 2 * time.Second,
		RecentEvents:   50,
	}
}

// Server is the dashboard server.
type Server struct {
	cfg     Config
	app     *fiber.App
	ctrl    Controller
	events  *hub.Hub
	metrics http.Handler
	logger  *slog.Logger

	// ctx is the Run context; websocket clients register under it.
	ctx context.Context
}

// New builds the fiber app. metrics may be nil, in which case /metrics is
// not mounted.
func New(cfg Config, ctrl Controller, metrics http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RecentEvents <= 0 {
		cfg.RecentEvents = 50
	}
	logger = logger.With("component", "web")
	s := &Server{
		cfg:     cfg,
		ctrl:    ctrl,
		events:  hub.New("events", logger),
		metrics: metrics,
		logger:  logger,
		ctx:     context.Background(),
	}

	app := fiber.New(fiber.Config{
		AppName:               "iris",
		DisableStartupMessage: true,
	})

	app.Use(cors.New())

	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/events", s.handleEvents)
	api.Post("/announce", s.handleAnnounce)
	api.Post("/detection/start", s.handleDetection(true))
	api.Post("/detection/stop", s.handleDetection(false))

	if metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(metrics))
	}

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(s.handleEventsWS))

	s.app = app
	return s
}

// App exposes the fiber app for in-process tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Hub returns the websocket hub events are published on.
func (s *Server) Hub() *hub.Hub {
	return s.events
}

// Run listens on cfg.Addr until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve runs the dashboard on ln until ctx is done. The listener is closed
// on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.ctx = ctx
	s.logger.Info("dashboard listening", "addr", ln.Addr().String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.events.Run(gctx) })
	if s.cfg.EventFile != "" {
		g.Go(func() error { return s.followEvents(gctx) })
	}
	if s.cfg.StatusInterval > 0 && s.ctrl != nil {
		g.Go(func() error { return s.pushStatus(gctx) })
	}
	g.Go(func() error {
		err := s.app.Listener(ln)
		if gctx.Err() != nil {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		return s.app.ShutdownWithTimeout(5 * time.Second)
	})
	return g.Wait()
}

func (s *Server) followEvents(ctx context.Context) error {
	err := eventlog.Follow(ctx, s.cfg.EventFile, false, func(ev eventlog.Event) {
		if err := s.events.Publish("event", ev); err != nil {
			s.logger.Warn("publish event failed", "error", err)
		}
	})
	if err != nil {
		// The dashboard keeps serving without the live stream.
		s.logger.Error("event stream stopped", "path", s.cfg.EventFile, "error", err)
	}
	return nil
}

func (s *Server) pushStatus(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if s.events.ClientCount() == 0 {
				continue
			}
			if err := s.events.Publish("status", s.ctrl.Status()); err != nil {
				s.logger.Warn("publish status failed", "error", err)
			}
		}
	}
}

var errNoController = errors.New("web: no controller configured")
