// Package camera supplies JPEG frames to the vision loop.
package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/teslashibe/go-iris/pkg/detection"
)

// ErrNoFrame is returned when the device produced an empty frame.
var ErrNoFrame = errors.New("camera: no frame")

// Camera captures single frames.
type Camera interface {
	Capture(ctx context.Context) (detection.Frame, error)
	io.Closer
}

// Config holds capture settings.
type Config struct {
	// Index is the video device number (/dev/videoN).
	Index   int `yaml:"index" json:"index"`
	Width   int `yaml:"width" json:"width"`
	Height  int `yaml:"height" json:"height"`
	FPS     int `yaml:"fps" json:"fps"`
	Quality int `yaml:"quality" json:"quality"` // JPEG quality 1-100

	// Timeout bounds a single Capture.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// DefaultConfig returns 640x480 captures, the resolution the detector is
// tuned for on a Raspberry Pi.
func DefaultConfig() Config {
	return Config{
		Index:   0,
		Width:   640,
		Height:  480,
		FPS:     15,
		Quality: 85,
		Timeout: 2 * time.Second,
	}
}

// Validate checks ranges.
func (c Config) Validate() error {
	switch {
	case c.Index < 0:
		return fmt.Errorf("camera: index must be >= 0, got %d", c.Index)
	case c.Width < 160 || c.Width > 4608:
		return fmt.Errorf("camera: width must be 160-4608, got %d", c.Width)
	case c.Height < 120 || c.Height > 2592:
		return fmt.Errorf("camera: height must be 120-2592, got %d", c.Height)
	case c.Quality < 1 || c.Quality > 100:
		return fmt.Errorf("camera: quality must be 1-100, got %d", c.Quality)
	case c.Timeout <= 0:
		return fmt.Errorf("camera: timeout must be positive")
	}
	return nil
}
