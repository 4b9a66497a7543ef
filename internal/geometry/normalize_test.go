package geometry

import (
	"image"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotate_KnownTransforms(t *testing.T) {
	// 320x240 sensor image, box near the top-left corner
	r := Rect{Left: 10, Top: 20, Right: 50, Bottom: 60}

	tests := []struct {
		name string
		rot  Rotation
		want Rect
	}{
		{"0", Rotate0, r},
		{"90", Rotate90, Rect{Left: 240 - 60, Top: 10, Right: 240 - 20, Bottom: 50}},
		{"180", Rotate180, Rect{Left: 320 - 50, Top: 240 - 60, Right: 320 - 10, Bottom: 240 - 20}},
		{"270", Rotate270, Rect{Left: 20, Top: 320 - 50, Right: 60, Bottom: 320 - 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Rotate(r, 320, 240, tt.rot)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Rotate mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRotate_RoundTrip(t *testing.T) {
	const w, h = 320.0, 240.0
	for _, rot := range []Rotation{Rotate90, Rotate180, Rotate270} {
		uw, uh := UprightSize(w, h, rot)
		for left := 0.0; left < w; left += 37 {
			for top := 0.0; top < h; top += 29 {
				for _, size := range []float64{0, 1, 17, 64} {
					r := Rect{Left: left, Top: top, Right: min(left+size, w), Bottom: min(top+size*0.75, h)}
					rotated := Rotate(r, w, h, rot)
					back := Rotate(rotated, uw, uh, rot.Inverse())
					if back != r {
						t.Fatalf("rot=%d: %v -> %v -> %v", rot, r, rotated, back)
					}
				}
			}
		}
	}
}

func TestRotate_StaysInsideUprightFrame(t *testing.T) {
	const w, h = 320.0, 240.0
	r := Rect{Left: 0, Top: 0, Right: w, Bottom: h}
	for _, rot := range []Rotation{Rotate0, Rotate90, Rotate180, Rotate270} {
		uw, uh := UprightSize(w, h, rot)
		got := Rotate(r, w, h, rot)
		assert.Equal(t, Rect{Left: 0, Top: 0, Right: uw, Bottom: uh}, got, "rot=%d", rot)
	}
}

func TestMirror_Involution(t *testing.T) {
	for _, r := range []Rect{
		{Left: 0, Top: 0, Right: 10, Bottom: 10},
		{Left: 140, Top: 100, Right: 180, Bottom: 140},
		{Left: 300.5, Top: 3, Right: 320, Bottom: 239.25},
	} {
		assert.Equal(t, r, Mirror(Mirror(r, 320), 320))
	}
}

func TestNormalize(t *testing.T) {
	t.Run("nil rect", func(t *testing.T) {
		assert.Nil(t, Normalize(nil, 320, 240, Rotate90, true))
		assert.Nil(t, NormalizeUpright(nil, 240, true))
	})

	t.Run("mirror uses upright width", func(t *testing.T) {
		// 320x240 sensor rotated 90 gives a 240 wide upright frame
		r := &Rect{Left: 10, Top: 20, Right: 50, Bottom: 60}
		got := Normalize(r, 320, 240, Rotate90, true)
		require.NotNil(t, got)
		// rotated: (180,10)-(220,50), mirrored about 240
		assert.Equal(t, Rect{Left: 20, Top: 10, Right: 60, Bottom: 50}, *got)
	})

	t.Run("invariant left<=right top<=bottom", func(t *testing.T) {
		r := &Rect{Left: 50, Top: 60, Right: 10, Bottom: 20}
		for _, rot := range []Rotation{Rotate0, Rotate90, Rotate180, Rotate270} {
			for _, m := range []bool{false, true} {
				got := Normalize(r, 320, 240, rot, m)
				require.NotNil(t, got)
				assert.LessOrEqual(t, got.Left, got.Right)
				assert.LessOrEqual(t, got.Top, got.Bottom)
				assert.GreaterOrEqual(t, got.Width(), 0.0)
				assert.GreaterOrEqual(t, got.Height(), 0.0)
			}
		}
	})

	t.Run("does not alias input", func(t *testing.T) {
		r := &Rect{Left: 1, Top: 2, Right: 3, Bottom: 4}
		got := Normalize(r, 320, 240, Rotate0, false)
		got.Left = 99
		assert.Equal(t, 1.0, r.Left)
	})
}

func TestParseRotation(t *testing.T) {
	for _, deg := range []int{0, 90, 180, 270} {
		r, err := ParseRotation(deg)
		require.NoError(t, err)
		assert.Equal(t, Rotation(deg), r)
	}
	_, err := ParseRotation(45)
	assert.Error(t, err)

	assert.Equal(t, Rotate270, Rotate90.Inverse())
	assert.Equal(t, Rotate180, Rotate180.Inverse())
	assert.Equal(t, Rotate0, Rotate0.Inverse())
}

func TestRectHelpers(t *testing.T) {
	r := FromImageRect(image.Rect(140, 100, 180, 140))
	cx, cy := r.Center()
	assert.Equal(t, 160.0, cx)
	assert.Equal(t, 120.0, cy)
	assert.Equal(t, 1600.0, r.Area())
	assert.Equal(t, "(140,100)-(180,140)", r.String())
}
