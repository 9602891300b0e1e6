// Package detection holds the vision value types shared by the pipeline:
// per-object detections, per-frame snapshots and their spoken summary.
package detection

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrEmptyFrame is returned when a detector is handed a frame with no image data.
var ErrEmptyFrame = errors.New("detection: empty frame")

// Box is a bounding box in normalized (0-1) image coordinates.
type Box struct {
	X, Y float64 // top-left corner
	W, H float64
}

// Area returns the normalized box area.
func (b Box) Area() float64 {
	return b.W * b.H
}

// Detection is a single recognized object in one frame.
type Detection struct {
	Label      string
	Confidence float64
	Box        Box
}

// Frame is one captured camera image, JPEG encoded.
type Frame struct {
	Time   time.Time
	Width  int
	Height int
	JPEG   []byte
}

// Detector finds objects in a frame.
type Detector interface {
	Detect(ctx context.Context, frame Frame) ([]Detection, error)
	Close() error
}

// FilterByConfidence returns the detections at or above min.
func FilterByConfidence(dets []Detection, min float64) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence >= min {
			out = append(out, d)
		}
	}
	return out
}

// Snapshot is the set of detections produced from one frame.
// Counts holds the number of detections per label; every present label has count >= 1.
type Snapshot struct {
	Time       time.Time
	Detections []Detection
	Counts     map[string]int
}

// NewSnapshot builds a snapshot and its label counts.
func NewSnapshot(t time.Time, dets []Detection) Snapshot {
	counts := make(map[string]int, len(dets))
	for _, d := range dets {
		if d.Label == "" {
			continue
		}
		counts[d.Label]++
	}
	cp := make([]Detection, len(dets))
	copy(cp, dets)
	return Snapshot{Time: t, Detections: cp, Counts: counts}
}

// Empty reports whether the snapshot has no labeled detections.
func (s Snapshot) Empty() bool {
	return len(s.Counts) == 0
}

// Labels returns the distinct labels, sorted alphabetically.
func (s Snapshot) Labels() []string {
	labels := make([]string, 0, len(s.Counts))
	for l := range s.Counts {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

// LabelSet returns the distinct labels as a set.
func (s Snapshot) LabelSet() map[string]struct{} {
	set := make(map[string]struct{}, len(s.Counts))
	for l := range s.Counts {
		set[l] = struct{}{}
	}
	return set
}

// Dominant returns the label with the highest count, ties broken alphabetically.
func (s Snapshot) Dominant() (string, bool) {
	ranked := s.ranked()
	if len(ranked) == 0 {
		return "", false
	}
	return ranked[0].label, true
}

type labelCount struct {
	label string
	count int
}

// ranked orders labels by descending count, then alphabetically.
func (s Snapshot) ranked() []labelCount {
	out := make([]labelCount, 0, len(s.Counts))
	for l, c := range s.Counts {
		out = append(out, labelCount{l, c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].label < out[j].label
	})
	return out
}

// NothingSeen is spoken for an empty snapshot.
const NothingSeen = "I don't see anything."

// Summarize renders the snapshot as a sentence, e.g. "I see 2 chairs and 1 person."
func Summarize(s Snapshot) string {
	ranked := s.ranked()
	if len(ranked) == 0 {
		return NothingSeen
	}

	parts := make([]string, len(ranked))
	for i, lc := range ranked {
		parts[i] = strconv.Itoa(lc.count) + " " + Pluralize(lc.label, lc.count)
	}

	var b strings.Builder
	b.WriteString("I see ")
	switch len(parts) {
	case 1:
		b.WriteString(parts[0])
	case 2:
		b.WriteString(parts[0] + " and " + parts[1])
	default:
		b.WriteString(strings.Join(parts[:len(parts)-1], ", "))
		b.WriteString(", and " + parts[len(parts)-1])
	}
	b.WriteString(".")
	return b.String()
}

// CountSummary answers "how many" with the total object count.
func CountSummary(s Snapshot) string {
	total := 0
	for _, c := range s.Counts {
		total += c
	}
	switch total {
	case 0:
		return NothingSeen
	case 1:
		return "I see 1 object."
	default:
		return "I see " + strconv.Itoa(total) + " objects."
	}
}

// Pluralize returns label in plural form when count != 1.
// Multi-word labels pluralize their last word ("wine glass" -> "wine glasses").
func Pluralize(label string, count int) string {
	if count == 1 || label == "" {
		return label
	}
	for _, suffix := range []string{"s", "x", "z", "ch", "sh"} {
		if strings.HasSuffix(label, suffix) {
			return label + "es"
		}
	}
	return label + "s"
}
