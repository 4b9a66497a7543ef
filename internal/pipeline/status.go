package pipeline

import (
	"time"

	"github.com/banshee-data/tracklink/internal/control"
	"github.com/banshee-data/tracklink/internal/geometry"
)

// Status is what the presentation layer shows for the latest frame.
type Status struct {
	// Rect is the normalized target box, nil while scanning.
	Rect        *geometry.Rect  `json:"rect,omitempty"`
	Command     control.Command `json:"command"`
	Locked      bool            `json:"locked"`
	Text        string          `json:"text"`
	Label       string          `json:"label,omitempty"`
	Score       float64         `json:"score,omitempty"`
	AreaPct     float64         `json:"area_pct"`
	Seq         uint64          `json:"frame_seq"`
	Updated     time.Time       `json:"updated"`
	FrameWidth  float64         `json:"frame_width"`
	FrameHeight float64         `json:"frame_height"`

	// Aspect is the upright width over height the viewer should draw at.
	Aspect float64 `json:"aspect"`
}

// Point is one entry of the error history.
type Point struct {
	Seq       uint64    `json:"frame_seq"`
	Time      time.Time `json:"time"`
	HasTarget bool      `json:"has_target"`
	ErrX      float64   `json:"err_x"`
	ErrY      float64   `json:"err_y"`
	Z         int       `json:"z"`
	Locked    bool      `json:"locked"`
}

// ring is a fixed-size FIFO of points.
type ring struct {
	buf  []Point
	next int
	full bool
}

func newRing(n int) *ring {
	return &ring{buf: make([]Point, n)}
}

func (r *ring) push(p Point) {
	r.buf[r.next] = p
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

func (r *ring) slice() []Point {
	if !r.full {
		return append([]Point(nil), r.buf[:r.next]...)
	}
	out := make([]Point, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}
