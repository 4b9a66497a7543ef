// Package detect finds the tracking target in a camera frame.
package detect

import (
	"context"

	"github.com/banshee-data/tracklink/internal/geometry"
	"github.com/banshee-data/tracklink/internal/source"
)

// Detection is a located target. Rect is in sensor coordinates unless
// Upright is set, in which case the detector already corrected rotation and
// only mirroring remains.
type Detection struct {
	Rect    geometry.Rect `json:"rect"`
	Label   string        `json:"label,omitempty"`
	Score   float64       `json:"score,omitempty"`
	Upright bool          `json:"upright,omitempty"`
}

// Detector returns the target in a frame, or nil when there is none.
// Implementations must not retain the frame after returning.
type Detector interface {
	Detect(ctx context.Context, f source.Frame) (*Detection, error)
}

// Func adapts a plain function to Detector.
type Func func(ctx context.Context, f source.Frame) (*Detection, error)

// Detect implements Detector.
func (fn Func) Detect(ctx context.Context, f source.Frame) (*Detection, error) {
	return fn(ctx, f)
}

// Fixed always reports the same rectangle. A nil Rect means no target.
type Fixed struct {
	Rect *geometry.Rect
}

// Detect implements Detector.
func (d Fixed) Detect(_ context.Context, _ source.Frame) (*Detection, error) {
	if d.Rect == nil {
		return nil, nil
	}
	return &Detection{Rect: *d.Rect}, nil
}
