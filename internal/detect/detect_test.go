package detect

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tracklink/internal/geometry"
	"github.com/banshee-data/tracklink/internal/source"
)

func frameWith(w, h int, squares ...image.Rectangle) source.Frame {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: 20, G: 24, B: 28, A: 255}}, image.Point{}, draw.Src)
	for _, sq := range squares {
		draw.Draw(img, sq, &image.Uniform{C: source.Yellow}, image.Point{}, draw.Src)
	}
	return source.NewFrame(img, geometry.Rotate0, false, 1)
}

func TestColorBlob_FindsLargestBlob(t *testing.T) {
	f := frameWith(200, 100,
		image.Rect(10, 10, 40, 40),   // 900 px
		image.Rect(100, 20, 150, 80), // 3000 px
	)
	d, err := NewColorBlob().Detect(context.Background(), f)
	require.NoError(t, err)
	require.NotNil(t, d)

	want := geometry.Rect{Left: 100, Top: 20, Right: 150, Bottom: 80}
	if diff := cmp.Diff(want, d.Rect); diff != "" {
		t.Errorf("rect mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, d.Upright)
	assert.InDelta(t, 3000.0/20000.0, d.Score, 1e-9)
}

func TestColorBlob_AreaFloor(t *testing.T) {
	// 20x25 = 500 px, not strictly above the floor
	f := frameWith(100, 100, image.Rect(0, 0, 20, 25))
	d, err := NewColorBlob().Detect(context.Background(), f)
	require.NoError(t, err)
	assert.Nil(t, d)

	f = frameWith(100, 100, image.Rect(0, 0, 21, 25))
	d, err = NewColorBlob().Detect(context.Background(), f)
	require.NoError(t, err)
	assert.NotNil(t, d)
}

func TestColorBlob_DiagonalPixelsConnect(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for i := 0; i < 10; i++ {
		img.Set(i, i, source.Yellow)
	}
	c := &ColorBlob{Range: YellowRange, MinArea: 5}
	d, err := c.Detect(context.Background(), source.NewFrame(img, geometry.Rotate0, false, 1))
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, geometry.Rect{Left: 0, Top: 0, Right: 10, Bottom: 10}, d.Rect)
}

func TestColorBlob_EmptyAndBlurred(t *testing.T) {
	d, err := NewColorBlob().Detect(context.Background(), frameWith(64, 48))
	require.NoError(t, err)
	assert.Nil(t, d)

	c := NewColorBlob()
	c.BlurSigma = 1.5
	d, err = c.Detect(context.Background(), frameWith(160, 120, image.Rect(60, 40, 100, 80)))
	require.NoError(t, err)
	require.NotNil(t, d)
	cx, cy := d.Rect.Center()
	assert.InDelta(t, 80, cx, 2)
	assert.InDelta(t, 60, cy, 2)
}

func TestColorBlob_SyntheticSource(t *testing.T) {
	g := source.NewSynthetic()
	g.FrameRate = 0
	g.OrbitRadius = 0
	f, err := g.Next(context.Background())
	require.NoError(t, err)

	d, err := NewColorBlob().Detect(context.Background(), f)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, geometry.Rect{Left: 140, Top: 100, Right: 180, Bottom: 140}, d.Rect)
}

func TestRGBToHSV(t *testing.T) {
	tests := []struct {
		name    string
		r, g, b uint8
		h, s, v uint8
	}{
		{"black", 0, 0, 0, 0, 0, 0},
		{"white", 255, 255, 255, 0, 0, 255},
		{"red", 255, 0, 0, 0, 255, 255},
		{"green", 0, 255, 0, 60, 255, 255},
		{"blue", 0, 0, 255, 120, 255, 255},
		{"yellow", 255, 255, 0, 30, 255, 255},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, s, v := rgbToHSV(tt.r, tt.g, tt.b)
			assert.Equal(t, []uint8{tt.h, tt.s, tt.v}, []uint8{h, s, v})
		})
	}
}

func TestHSVRange_Validate(t *testing.T) {
	assert.NoError(t, YellowRange.Validate())
	assert.Error(t, HSVRange{HueMin: 40, HueMax: 30}.Validate())
	assert.Error(t, HSVRange{HueMax: 200}.Validate())
}

type stubBackend struct {
	cands   []Candidate
	err     error
	upright bool
	gotRot  geometry.Rotation
}

func (b *stubBackend) Infer(_ context.Context, _ image.Image, rot geometry.Rotation) ([]Candidate, error) {
	b.gotRot = rot
	return b.cands, b.err
}

func (b *stubBackend) Upright() bool { return b.upright }

func TestFace(t *testing.T) {
	b := &stubBackend{
		upright: true,
		cands: []Candidate{
			{Rect: geometry.Rect{Left: 0, Top: 0, Right: 5, Bottom: 5}, Score: 0.1},
			{Rect: geometry.Rect{Left: 10, Top: 10, Right: 30, Bottom: 40}, Score: 0.9},
			{Rect: geometry.Rect{Left: 50, Top: 50, Right: 60, Bottom: 60}, Score: 0.95},
		},
	}
	d := &Face{Backend: b, MinScore: 0.5}
	f := frameWith(100, 100)
	f.Rotation = geometry.Rotate270

	got, err := d.Detect(context.Background(), f)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, geometry.Rect{Left: 10, Top: 10, Right: 30, Bottom: 40}, got.Rect)
	assert.True(t, got.Upright)
	assert.Equal(t, geometry.Rotate270, b.gotRot)

	b.cands = nil
	got, err = d.Detect(context.Background(), f)
	require.NoError(t, err)
	assert.Nil(t, got)

	b.err = errors.New("model not loaded")
	_, err = d.Detect(context.Background(), f)
	assert.ErrorIs(t, err, b.err)
}

func TestObject_SelectionPolicy(t *testing.T) {
	person := Candidate{Label: "person", Score: 0.9, Rect: geometry.Rect{Right: 1, Bottom: 1}}
	cup := Candidate{Label: "cup", Score: 0.5, Rect: geometry.Rect{Right: 2, Bottom: 2}}
	lowBall := Candidate{Label: "sports ball", Score: 0.2, Rect: geometry.Rect{Right: 3, Bottom: 3}}
	chair := Candidate{Label: "chair", Score: 0.8}

	tests := []struct {
		name  string
		cands []Candidate
		want  string
	}{
		{"preferred wins over higher score", []Candidate{person, cup}, "cup"},
		{"fallback to first", []Candidate{person, chair}, "person"},
		{"low score ignored", []Candidate{lowBall, chair}, "chair"},
		{"preferred past max results", []Candidate{person, chair, chair, chair, chair, cup}, "person"},
		{"nothing", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewObject(&stubBackend{cands: tt.cands})
			got, err := d.Detect(context.Background(), frameWith(10, 10))
			require.NoError(t, err)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Label)
			assert.False(t, got.Upright)
		})
	}
}

func TestFuncAndFixed(t *testing.T) {
	called := false
	fn := Func(func(_ context.Context, f source.Frame) (*Detection, error) {
		called = true
		return &Detection{Label: "x"}, nil
	})
	got, err := fn.Detect(context.Background(), frameWith(4, 4))
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "x", got.Label)

	got, err = Fixed{}.Detect(context.Background(), frameWith(4, 4))
	require.NoError(t, err)
	assert.Nil(t, got)

	r := geometry.Rect{Left: 1, Top: 2, Right: 3, Bottom: 4}
	got, err = Fixed{Rect: &r}.Detect(context.Background(), frameWith(4, 4))
	require.NoError(t, err)
	assert.Equal(t, r, got.Rect)
}
