// Package source defines camera frames and the sources that deliver them.
package source

import (
	"context"
	"image"
	"time"

	"github.com/banshee-data/tracklink/internal/geometry"
)

// Frame is one camera sample. The image is in sensor orientation; Rotation
// says how far to turn it clockwise to be upright and Mirrored marks a
// front-facing (selfie) camera. Frames are treated as immutable once
// delivered.
type Frame struct {
	Image    image.Image
	Width    int
	Height   int
	Rotation geometry.Rotation
	Mirrored bool
	// Seq increases monotonically per source.
	Seq      uint64
	Captured time.Time
}

// NewFrame fills Width and Height from the image bounds.
func NewFrame(img image.Image, rot geometry.Rotation, mirrored bool, seq uint64) Frame {
	b := img.Bounds()
	return Frame{
		Image:    img,
		Width:    b.Dx(),
		Height:   b.Dy(),
		Rotation: rot,
		Mirrored: mirrored,
		Seq:      seq,
		Captured: time.Now(),
	}
}

// UprightSize is the frame size after rotation correction.
func (f Frame) UprightSize() (float64, float64) {
	return geometry.UprightSize(float64(f.Width), float64(f.Height), f.Rotation)
}

// AspectRatio is upright width over upright height, 0 for an empty frame.
func (f Frame) AspectRatio() float64 {
	w, h := f.UprightSize()
	if h == 0 {
		return 0
	}
	return w / h
}

// Source delivers frames at its own cadence. Next blocks until a frame is
// available and returns io.EOF once the source is exhausted.
type Source interface {
	Next(ctx context.Context) (Frame, error)
}
