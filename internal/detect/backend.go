package detect

import (
	"context"
	"fmt"
	"image"
	"slices"

	"github.com/banshee-data/tracklink/internal/geometry"
	"github.com/banshee-data/tracklink/internal/source"
)

// Candidate is one result from an inference backend.
type Candidate struct {
	Rect  geometry.Rect
	Label string
	Score float64
}

// Backend runs a face or object model. rot tells the backend how the image
// must be turned to be upright. If Upright reports true the returned boxes
// are already in upright coordinates.
type Backend interface {
	Infer(ctx context.Context, img image.Image, rot geometry.Rotation) ([]Candidate, error)
	Upright() bool
}

// Face tracks the first face the backend reports.
type Face struct {
	Backend  Backend
	MinScore float64
}

// Detect implements Detector.
func (d *Face) Detect(ctx context.Context, f source.Frame) (*Detection, error) {
	cands, err := d.Backend.Infer(ctx, f.Image, f.Rotation)
	if err != nil {
		return nil, fmt.Errorf("face inference: %w", err)
	}
	for _, c := range cands {
		if c.Score >= d.MinScore {
			return candidateDetection(c, d.Backend.Upright()), nil
		}
	}
	return nil, nil
}

// DefaultPreferredLabels are the object classes tracked ahead of anything
// else the model reports.
var DefaultPreferredLabels = []string{"sports ball", "bottle", "cup"}

// Object tracks a preferred object class, falling back to the first result.
type Object struct {
	Backend    Backend
	Preferred  []string
	MaxResults int
	MinScore   float64
}

// NewObject returns an Object detector with the stock label preference,
// five results and a 0.3 score floor.
func NewObject(b Backend) *Object {
	return &Object{
		Backend:    b,
		Preferred:  DefaultPreferredLabels,
		MaxResults: 5,
		MinScore:   0.3,
	}
}

// Detect implements Detector.
func (d *Object) Detect(ctx context.Context, f source.Frame) (*Detection, error) {
	cands, err := d.Backend.Infer(ctx, f.Image, f.Rotation)
	if err != nil {
		return nil, fmt.Errorf("object inference: %w", err)
	}

	var kept []Candidate
	for _, c := range cands {
		if c.Score < d.MinScore {
			continue
		}
		kept = append(kept, c)
		if d.MaxResults > 0 && len(kept) == d.MaxResults {
			break
		}
	}
	if len(kept) == 0 {
		return nil, nil
	}

	pick := kept[0]
	for _, c := range kept {
		if slices.Contains(d.Preferred, c.Label) {
			pick = c
			break
		}
	}
	return candidateDetection(pick, d.Backend.Upright()), nil
}

func candidateDetection(c Candidate, upright bool) *Detection {
	return &Detection{
		Rect:    c.Rect.Canon(),
		Label:   c.Label,
		Score:   c.Score,
		Upright: upright,
	}
}
