// Package wake gates the voice pipeline between listening for the wake word
// and listening for a single command.
package wake

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-iris/pkg/announce"
)

// State is the controller state.
type State int

const (
	IdleListening State = iota
	AwaitingCommand
)

func (s State) String() string {
	if s == AwaitingCommand {
		return "AWAITING_COMMAND"
	}
	return "IDLE_LISTENING"
}

// Listener captures at most window of audio and returns its transcript.
// It is the only reader of the microphone.
type Listener interface {
	Listen(ctx context.Context, window time.Duration) (string, error)
}

// Command is a recognized request handed to a CommandHandler.
type Command struct {
	Intent     Intent
	Transcript string
	Time       time.Time
}

// CommandHandler acts on commands. It runs on the controller loop, so it
// should hand long work to the arbiter rather than block.
type CommandHandler interface {
	HandleCommand(ctx context.Context, cmd Command)
}

// CommandHandlerFunc adapts a function to CommandHandler.
type CommandHandlerFunc func(ctx context.Context, cmd Command)

// HandleCommand calls f.
func (f CommandHandlerFunc) HandleCommand(ctx context.Context, cmd Command) {
	f(ctx, cmd)
}

// Submitter accepts spoken responses; *announce.Arbiter implements it.
type Submitter interface {
	Submit(req announce.Request) bool
}

// Config configures a Controller.
type Config struct {
	Word      string  `yaml:"word"`
	Threshold float64 `yaml:"threshold"`
	// ListenWindow is each capture while waiting for the wake word.
	ListenWindow time.Duration `yaml:"listen_window"`
	// CommandWindow bounds each command capture.
	CommandWindow time.Duration `yaml:"command_window"`
	// Timeout is the hard limit on AWAITING_COMMAND.
	Timeout time.Duration `yaml:"timeout"`
	// Ack is spoken on wake; empty disables.
	Ack string `yaml:"ack"`
	// Clarify is spoken for unrecognized commands.
	Clarify string `yaml:"clarify"`
	// NoCommand is spoken when the window closes with nothing heard; empty disables.
	NoCommand string `yaml:"no_command"`
	// ErrorBackoff pauses the loop after a failed capture.
	ErrorBackoff time.Duration    `yaml:"error_backoff"`
	Now          func() time.Time `yaml:"-"`
}

// DefaultConfig returns the default wake configuration for the token "iris".
func DefaultConfig() Config {
	return Config{
		Word:          "iris",
		Threshold:     0.6,
		ListenWindow:  2 * time.Second,
		CommandWindow: 3 * time.Second,
		Timeout:       6 * time.Second,
		Ack:           "Yes?",
		Clarify:       "Say START or STOP",
		NoCommand:     "No command heard",
		ErrorBackoff:  time.Second,
		Now:           time.Now,
	}
}

// Controller is the wake/command state machine. One capture is in flight at
// a time; Step and Run must not be called concurrently.
type Controller struct {
	cfg      Config
	listener Listener
	handler  CommandHandler
	out      Submitter
	logger   *slog.Logger

	mu       sync.Mutex
	state    State
	deadline time.Time
}

// NewController creates a controller in IDLE_LISTENING. out may be nil to
// disable spoken responses.
func NewController(cfg Config, l Listener, h CommandHandler, out Submitter, logger *slog.Logger) *Controller {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:      cfg,
		listener: l,
		handler:  h,
		out:      out,
		logger:   logger.With("component", "wake"),
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State, deadline time.Time) {
	c.mu.Lock()
	c.state = s
	c.deadline = deadline
	c.mu.Unlock()
}

// Step runs one capture and the resulting transition. It returns an error
// only for capture failures; the state is left consistent either way.
func (c *Controller) Step(ctx context.Context) error {
	c.mu.Lock()
	state, deadline := c.state, c.deadline
	c.mu.Unlock()

	if state == IdleListening {
		return c.stepIdle(ctx)
	}
	return c.stepAwaiting(ctx, deadline)
}

func (c *Controller) stepIdle(ctx context.Context) error {
	text, err := c.listener.Listen(ctx, c.cfg.ListenWindow)
	if err != nil {
		return err
	}
	ok, rest := MatchWake(text, c.cfg.Word, c.cfg.Threshold)
	if !ok {
		return nil
	}

	now := c.cfg.Now()
	c.logger.Info("wake word heard", "transcript", text)

	// "iris, what do you see" carries its command inline.
	if intent := ParseIntent(rest); intent != IntentNone && intent != IntentUnknown {
		c.dispatch(ctx, Command{Intent: intent, Transcript: rest, Time: now})
		return nil
	}

	c.setState(AwaitingCommand, now.Add(c.cfg.Timeout))
	c.say(c.cfg.Ack, now)
	return nil
}

func (c *Controller) stepAwaiting(ctx context.Context, deadline time.Time) error {
	now := c.cfg.Now()
	remaining := deadline.Sub(now)
	if remaining <= 0 {
		c.timeout(now)
		return nil
	}

	window := c.cfg.CommandWindow
	if remaining < window {
		window = remaining
	}
	lctx, cancel := context.WithTimeout(ctx, remaining)
	defer cancel()

	text, err := c.listener.Listen(lctx, window)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			c.timeout(c.cfg.Now())
			return nil
		}
		return err
	}

	now = c.cfg.Now()
	if !now.Before(deadline) {
		c.logger.Debug("transcript arrived after command window", "transcript", text)
		c.timeout(now)
		return nil
	}

	switch intent := ParseIntent(text); intent {
	case IntentNone:
		// Silence; keep waiting until the deadline.
		return nil
	case IntentUnknown:
		c.logger.Info("unclear command", "transcript", text)
		c.say(c.cfg.Clarify, now)
		return nil
	default:
		c.setState(IdleListening, time.Time{})
		c.dispatch(ctx, Command{Intent: intent, Transcript: text, Time: now})
		return nil
	}
}

func (c *Controller) timeout(now time.Time) {
	c.logger.Info("command window closed")
	c.setState(IdleListening, time.Time{})
	c.say(c.cfg.NoCommand, now)
}

func (c *Controller) dispatch(ctx context.Context, cmd Command) {
	c.logger.Info("command", "intent", cmd.Intent, "transcript", cmd.Transcript)
	if c.handler != nil {
		c.handler.HandleCommand(ctx, cmd)
	}
}

func (c *Controller) say(text string, now time.Time) {
	if text == "" || c.out == nil {
		return
	}
	c.out.Submit(announce.NewRequest(text, announce.Routine, announce.SourceVoice, now))
}

// Run steps until ctx is done. Capture errors are logged and followed by a
// short backoff; they never end the loop.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("voice loop started", "wake_word", c.cfg.Word)
	defer c.logger.Info("voice loop stopped")

	for ctx.Err() == nil {
		if err := c.Step(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			c.logger.Warn("capture failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(c.cfg.ErrorBackoff):
			}
		}
	}
	return nil
}
