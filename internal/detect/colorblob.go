package detect

import (
	"context"
	"fmt"
	"image"
	"image/draw"

	"github.com/disintegration/gift"

	"github.com/banshee-data/tracklink/internal/geometry"
	"github.com/banshee-data/tracklink/internal/source"
)

// HSVRange bounds a colour in OpenCV units: H on 0..180, S and V on 0..255.
type HSVRange struct {
	HueMin, HueMax uint8
	SatMin, SatMax uint8
	ValMin, ValMax uint8
}

// YellowRange matches saturated yellows.
var YellowRange = HSVRange{
	HueMin: 20, HueMax: 35,
	SatMin: 100, SatMax: 255,
	ValMin: 100, ValMax: 255,
}

// Contains reports whether the hsv triple is inside the range.
func (r HSVRange) Contains(h, s, v uint8) bool {
	return h >= r.HueMin && h <= r.HueMax &&
		s >= r.SatMin && s <= r.SatMax &&
		v >= r.ValMin && v <= r.ValMax
}

// Validate checks the bounds are ordered.
func (r HSVRange) Validate() error {
	if r.HueMax > 180 {
		return fmt.Errorf("hue max %d exceeds 180", r.HueMax)
	}
	if r.HueMin > r.HueMax || r.SatMin > r.SatMax || r.ValMin > r.ValMax {
		return fmt.Errorf("hsv range has min above max: %+v", r)
	}
	return nil
}

// DefaultMinArea is the smallest blob, in pixels, treated as a target.
const DefaultMinArea = 500

// ColorBlob thresholds the frame in HSV and returns the bounding box of the
// largest 8-connected blob, in sensor coordinates.
type ColorBlob struct {
	Range HSVRange
	// MinArea is exclusive: a blob must have more pixels than this.
	MinArea int
	// BlurSigma applies a gaussian pre-blur when > 0.
	BlurSigma float32
}

// NewColorBlob returns a yellow detector with the default area floor.
func NewColorBlob() *ColorBlob {
	return &ColorBlob{Range: YellowRange, MinArea: DefaultMinArea}
}

// Detect implements Detector.
func (c *ColorBlob) Detect(ctx context.Context, f source.Frame) (*Detection, error) {
	if f.Image == nil {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img := c.prepare(f.Image)
	mask, w, h := c.threshold(img)
	blob, ok := largestBlob(mask, w, h)
	if !ok || blob.area <= c.MinArea {
		return nil, nil
	}

	return &Detection{
		Rect: geometry.Rect{
			Left:   float64(blob.minX),
			Top:    float64(blob.minY),
			Right:  float64(blob.maxX + 1),
			Bottom: float64(blob.maxY + 1),
		},
		Label: "blob",
		Score: float64(blob.area) / float64(w*h),
	}, nil
}

// prepare returns a zero-origin RGBA copy, blurred if configured.
func (c *ColorBlob) prepare(src image.Image) *image.RGBA {
	if c.BlurSigma > 0 {
		g := gift.New(gift.GaussianBlur(c.BlurSigma))
		dst := image.NewRGBA(g.Bounds(src.Bounds()))
		g.Draw(dst, src)
		return dst
	}
	if rgba, ok := src.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

func (c *ColorBlob) threshold(img *image.RGBA) ([]bool, int, int) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	mask := make([]bool, w*h)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			p := row[x*4 : x*4+3]
			hh, s, v := rgbToHSV(p[0], p[1], p[2])
			mask[y*w+x] = c.Range.Contains(hh, s, v)
		}
	}
	return mask, w, h
}

// rgbToHSV converts to OpenCV's 8-bit HSV: H in 0..180, S and V in 0..255.
func rgbToHSV(r, g, b uint8) (uint8, uint8, uint8) {
	maxc := max(r, g, b)
	minc := min(r, g, b)
	v := maxc
	if maxc == 0 {
		return 0, 0, 0
	}
	delta := float64(maxc) - float64(minc)
	s := uint8(delta*255/float64(maxc) + 0.5)
	if delta == 0 {
		return 0, s, v
	}

	var hue float64
	switch maxc {
	case r:
		hue = 60 * (float64(g) - float64(b)) / delta
	case g:
		hue = 120 + 60*(float64(b)-float64(r))/delta
	default:
		hue = 240 + 60*(float64(r)-float64(g))/delta
	}
	if hue < 0 {
		hue += 360
	}
	return uint8(hue/2 + 0.5), s, v
}

type blob struct {
	area       int
	minX, minY int
	maxX, maxY int
}

// largestBlob labels 8-connected regions of mask with an explicit stack and
// returns the one with the most pixels.
func largestBlob(mask []bool, w, h int) (blob, bool) {
	seen := make([]bool, len(mask))
	var best blob
	found := false
	stack := make([]int, 0, 256)

	for start := range mask {
		if !mask[start] || seen[start] {
			continue
		}
		cur := blob{minX: w, minY: h, maxX: -1, maxY: -1}
		seen[start] = true
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := i%w, i/w
			cur.area++
			cur.minX = min(cur.minX, x)
			cur.maxX = max(cur.maxX, x)
			cur.minY = min(cur.minY, y)
			cur.maxY = max(cur.maxY, y)

			for dy := -1; dy <= 1; dy++ {
				ny := y + dy
				if ny < 0 || ny >= h {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					nx := x + dx
					if nx < 0 || nx >= w || (dx == 0 && dy == 0) {
						continue
					}
					j := ny*w + nx
					if mask[j] && !seen[j] {
						seen[j] = true
						stack = append(stack, j)
					}
				}
			}
		}
		if cur.area > best.area {
			best = cur
			found = true
		}
	}
	return best, found
}
