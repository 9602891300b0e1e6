// Package yolo runs YOLOv8 ONNX models through OpenCV's DNN module.
package yolo

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"

	"github.com/teslashibe/go-iris/pkg/detection"
	"gocv.io/x/gocv"
)

// Config holds detector configuration.
type Config struct {
	ModelPath        string  `yaml:"model"`
	ConfidenceThresh float32 `yaml:"confidence"`
	NMSThresh        float32 `yaml:"nms"`
	InputWidth       int     `yaml:"input_width"`
	InputHeight      int     `yaml:"input_height"`
}

// DefaultConfig returns defaults for yolov8n at 640x640.
func DefaultConfig() Config {
	return Config{
		ModelPath:        "models/yolov8n.onnx",
		ConfidenceThresh: 0.5,
		NMSThresh:        0.45,
		InputWidth:       640,
		InputHeight:      640,
	}
}

// Detector is a YOLOv8 object detector. Safe for concurrent use; inference is serialized.
type Detector struct {
	mu        sync.Mutex
	net       gocv.Net
	cfg       Config
	inputSize image.Point
	logger    *slog.Logger
}

var _ detection.Detector = (*Detector)(nil)

// New loads the ONNX model at cfg.ModelPath.
func New(cfg Config, logger *slog.Logger) (*Detector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("yolo: model file: %w", err)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("yolo: failed to load model from %s", cfg.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &Detector{
		net:       net,
		cfg:       cfg,
		inputSize: image.Pt(cfg.InputWidth, cfg.InputHeight),
		logger:    logger.With("component", "yolo"),
	}, nil
}

// Detect decodes the frame and runs one forward pass.
func (d *Detector) Detect(ctx context.Context, frame detection.Frame) ([]detection.Detection, error) {
	if len(frame.JPEG) == 0 {
		return nil, detection.ErrEmptyFrame
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	img, err := gocv.IMDecode(frame.JPEG, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("yolo: decode image: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, detection.ErrEmptyFrame
	}

	blob := gocv.BlobFromImage(img, 1.0/255.0, d.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	dets, err := d.parse(output, float32(img.Cols()), float32(img.Rows()))
	if err != nil {
		return nil, err
	}
	d.logger.Debug("inference done", "objects", len(dets))
	return dets, nil
}

// parse decodes the YOLOv8 output tensor [1, 84, N]: 4 box values then 80 class scores per anchor.
func (d *Detector) parse(output gocv.Mat, imgW, imgH float32) ([]detection.Detection, error) {
	sizes := output.Size()
	if len(sizes) != 3 {
		return nil, fmt.Errorf("yolo: unexpected output shape %v", sizes)
	}
	cols := sizes[1] // 84
	rows := sizes[2] // anchors

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("yolo: read output: %w", err)
	}

	var (
		boxes       []image.Rectangle
		confidences []float32
		classIDs    []int
	)
	sx := imgW / float32(d.cfg.InputWidth)
	sy := imgH / float32(d.cfg.InputHeight)

	for i := 0; i < rows; i++ {
		best := float32(0)
		classID := 0
		for c := 4; c < cols; c++ {
			if score := data[c*rows+i]; score > best {
				best = score
				classID = c - 4
			}
		}
		if best < d.cfg.ConfidenceThresh {
			continue
		}

		cx, cy := data[i], data[rows+i]
		w, h := data[2*rows+i], data[3*rows+i]
		boxes = append(boxes, image.Rect(
			int((cx-w/2)*sx), int((cy-h/2)*sy),
			int((cx+w/2)*sx), int((cy+h/2)*sy),
		))
		confidences = append(confidences, best)
		classIDs = append(classIDs, classID)
	}
	if len(boxes) == 0 {
		return nil, nil
	}

	indices := gocv.NMSBoxes(boxes, confidences, d.cfg.ConfidenceThresh, d.cfg.NMSThresh)
	out := make([]detection.Detection, 0, len(indices))
	for _, idx := range indices {
		box := boxes[idx]
		out = append(out, detection.Detection{
			Label:      ClassName(classIDs[idx]),
			Confidence: float64(confidences[idx]),
			Box: detection.Box{
				X: float64(box.Min.X) / float64(imgW),
				Y: float64(box.Min.Y) / float64(imgH),
				W: float64(box.Dx()) / float64(imgW),
				H: float64(box.Dy()) / float64(imgH),
			},
		})
	}
	return out, nil
}

// Close releases the network.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}
