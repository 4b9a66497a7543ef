// Package geometry maps detector rectangles between sensor orientation and
// the upright, optionally mirrored frame the control law works in.
package geometry

import (
	"fmt"
	"image"
)

// Rect is an axis-aligned rectangle in pixel coordinates. Values are floats
// because detectors report sub-pixel boxes.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

// FromImageRect converts an integer image.Rectangle.
func FromImageRect(r image.Rectangle) Rect {
	return Rect{
		Left:   float64(r.Min.X),
		Top:    float64(r.Min.Y),
		Right:  float64(r.Max.X),
		Bottom: float64(r.Max.Y),
	}
}

func (r Rect) Width() float64  { return r.Right - r.Left }
func (r Rect) Height() float64 { return r.Bottom - r.Top }
func (r Rect) Area() float64   { return r.Width() * r.Height() }

// Center returns the midpoint of the rectangle.
func (r Rect) Center() (x, y float64) {
	return (r.Left + r.Right) / 2, (r.Top + r.Bottom) / 2
}

// Canon orders the edges so that Left <= Right and Top <= Bottom.
func (r Rect) Canon() Rect {
	if r.Left > r.Right {
		r.Left, r.Right = r.Right, r.Left
	}
	if r.Top > r.Bottom {
		r.Top, r.Bottom = r.Bottom, r.Top
	}
	return r
}

func (r Rect) String() string {
	return fmt.Sprintf("(%.0f,%.0f)-(%.0f,%.0f)", r.Left, r.Top, r.Right, r.Bottom)
}

// Rotation is the clockwise angle the sensor image must be turned to be
// upright.
type Rotation int

const (
	Rotate0   Rotation = 0
	Rotate90  Rotation = 90
	Rotate180 Rotation = 180
	Rotate270 Rotation = 270
)

// ParseRotation accepts 0, 90, 180 or 270 degrees.
func ParseRotation(deg int) (Rotation, error) {
	switch deg {
	case 0, 90, 180, 270:
		return Rotation(deg), nil
	}
	return Rotate0, fmt.Errorf("unsupported rotation %d: expected 0, 90, 180 or 270", deg)
}

// Inverse returns the rotation that undoes r.
func (r Rotation) Inverse() Rotation {
	return Rotation((360 - int(r)) % 360)
}

// SwapsAxes reports whether r exchanges width and height.
func (r Rotation) SwapsAxes() bool {
	return r == Rotate90 || r == Rotate270
}

// UprightSize returns the frame dimensions after applying rot to a w x h
// sensor image.
func UprightSize(w, h float64, rot Rotation) (float64, float64) {
	if rot.SwapsAxes() {
		return h, w
	}
	return w, h
}
