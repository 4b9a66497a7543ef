package source

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"io"
	"math"
	"sync/atomic"
	"time"

	"github.com/banshee-data/tracklink/internal/geometry"
)

// Yellow is the fill colour of the synthetic target; it sits inside the
// default colour-blob HSV band.
var Yellow = color.RGBA{R: 240, G: 210, B: 30, A: 255}

// Synthetic renders a yellow square orbiting the frame centre on a dark
// background. It is used for demos and tests when no camera is attached.
type Synthetic struct {
	frameID atomic.Uint64
	startNs int64

	// Configuration
	Width       int
	Height      int
	FrameRate   float64 // frames per second, 0 means as fast as Next is called
	TargetSize  int     // side of the square, pixels
	OrbitRadius float64 // pixels
	OrbitPeriod time.Duration
	Rotation    geometry.Rotation
	Mirrored    bool

	// MaxFrames stops the source after this many frames when > 0.
	MaxFrames uint64

	// now is replaceable for deterministic tests.
	now  func() time.Time
	last time.Time
}

// NewSynthetic creates a 320x240 synthetic source at 15 fps.
func NewSynthetic() *Synthetic {
	return &Synthetic{
		startNs:     time.Now().UnixNano(),
		Width:       320,
		Height:      240,
		FrameRate:   15,
		TargetSize:  40,
		OrbitRadius: 60,
		OrbitPeriod: 8 * time.Second,
		now:         time.Now,
	}
}

// Next implements Source.
func (g *Synthetic) Next(ctx context.Context) (Frame, error) {
	if g.now == nil {
		g.now = time.Now
	}
	if g.MaxFrames > 0 && g.frameID.Load() >= g.MaxFrames {
		return Frame{}, io.EOF
	}
	if err := g.pace(ctx); err != nil {
		return Frame{}, err
	}

	seq := g.frameID.Add(1)
	img := g.render(g.TargetCenter(g.now()))
	f := NewFrame(img, g.Rotation, g.Mirrored, seq)
	f.Captured = g.now()
	return f, nil
}

// pace waits out the remainder of the frame interval.
func (g *Synthetic) pace(ctx context.Context) error {
	if g.FrameRate <= 0 {
		return ctx.Err()
	}
	interval := time.Duration(float64(time.Second) / g.FrameRate)
	if !g.last.IsZero() {
		if wait := interval - g.now().Sub(g.last); wait > 0 {
			t := time.NewTimer(wait)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}
		}
	}
	g.last = g.now()
	return ctx.Err()
}

// TargetCenter is where the square is drawn at time t, in sensor pixels.
func (g *Synthetic) TargetCenter(t time.Time) image.Point {
	elapsed := float64(t.UnixNano()-g.startNs) / 1e9
	phase := 0.0
	if g.OrbitPeriod > 0 {
		phase = 2 * math.Pi * elapsed / g.OrbitPeriod.Seconds()
	}
	return image.Point{
		X: g.Width/2 + int(g.OrbitRadius*math.Cos(phase)),
		Y: g.Height/2 + int(g.OrbitRadius*math.Sin(phase)),
	}
}

func (g *Synthetic) render(center image.Point) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, g.Width, g.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: 20, G: 24, B: 28, A: 255}}, image.Point{}, draw.Src)

	half := g.TargetSize / 2
	target := image.Rect(center.X-half, center.Y-half, center.X+half, center.Y+half).Intersect(img.Bounds())
	draw.Draw(img, target, &image.Uniform{C: Yellow}, image.Point{}, draw.Src)
	return img
}
