// Package webcam captures frames from a V4L2 device through OpenCV.
package webcam

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-iris/pkg/camera"
	"github.com/teslashibe/go-iris/pkg/detection"
)

// Webcam wraps a gocv.VideoCapture. Captures are serialized.
type Webcam struct {
	cfg    camera.Config
	logger *slog.Logger

	mu  sync.Mutex
	vc  *gocv.VideoCapture
	img gocv.Mat
}

// Open opens the device at cfg.Index and applies the resolution.
func Open(cfg camera.Config, logger *slog.Logger) (*Webcam, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	vc, err := gocv.OpenVideoCapture(cfg.Index)
	if err != nil {
		return nil, fmt.Errorf("camera: open device %d: %w", cfg.Index, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("camera: device %d did not open", cfg.Index)
	}
	vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	if cfg.FPS > 0 {
		vc.Set(gocv.VideoCaptureFPS, float64(cfg.FPS))
	}

	w := &Webcam{
		cfg:    cfg,
		logger: logger.With("component", "camera"),
		vc:     vc,
		img:    gocv.NewMat(),
	}
	w.logger.Info("camera opened",
		"index", cfg.Index,
		"width", int(vc.Get(gocv.VideoCaptureFrameWidth)),
		"height", int(vc.Get(gocv.VideoCaptureFrameHeight)),
	)
	return w, nil
}

type result struct {
	frame detection.Frame
	err   error
}

// Capture grabs one frame and JPEG-encodes it, giving up after cfg.Timeout.
// A read abandoned by the timeout finishes in the background and holds the
// device until it returns.
func (w *Webcam) Capture(ctx context.Context) (detection.Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		f, err := w.grab()
		done <- result{f, err}
	}()

	select {
	case r := <-done:
		return r.frame, r.err
	case <-ctx.Done():
		return detection.Frame{}, fmt.Errorf("camera: capture: %w", ctx.Err())
	}
}

func (w *Webcam) grab() (detection.Frame, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.vc == nil {
		return detection.Frame{}, camera.ErrNoFrame
	}
	if ok := w.vc.Read(&w.img); !ok || w.img.Empty() {
		return detection.Frame{}, camera.ErrNoFrame
	}
	now := time.Now()

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, w.img, []int{gocv.IMWriteJpegQuality, w.cfg.Quality})
	if err != nil {
		return detection.Frame{}, fmt.Errorf("camera: encode: %w", err)
	}
	defer buf.Close()

	jpeg := append([]byte(nil), buf.GetBytes()...)
	return detection.Frame{
		Time:   now,
		Width:  w.img.Cols(),
		Height: w.img.Rows(),
		JPEG:   jpeg,
	}, nil
}

// Close releases the device. It waits for a capture in progress.
func (w *Webcam) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.vc == nil {
		return nil
	}
	err := w.vc.Close()
	w.vc = nil
	w.img.Close()
	return err
}

var _ camera.Camera = (*Webcam)(nil)
