package control

import (
	"math"
	"testing"

	"github.com/banshee-data/tracklink/internal/geometry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

// rectWithArea returns a rect centred in a 320x240 frame covering pct% of it.
func rectWithArea(pct float64) *geometry.Rect {
	side := math.Sqrt(320 * 240 * pct / 100)
	return &geometry.Rect{
		Left:   160 - side/2,
		Top:    120 - side/2,
		Right:  160 + side/2,
		Bottom: 120 + side/2,
	}
}

func TestCompute_Scenarios(t *testing.T) {
	p := Params{Deadzone: 60}

	t.Run("centred target is locked", func(t *testing.T) {
		res := Compute(&geometry.Rect{Left: 140, Top: 100, Right: 180, Bottom: 140}, 320, 240, p)
		require.NotNil(t, res.Error)
		assert.Equal(t, 0.0, res.Error.X)
		assert.Equal(t, 0.0, res.Error.Y)
		assert.Equal(t, "0,0", res.Command.String())
		assert.True(t, res.Locked)
		assert.Equal(t, StatusLocked, res.Status)
	})

	t.Run("offset on X only", func(t *testing.T) {
		res := Compute(&geometry.Rect{Left: 200, Top: 100, Right: 240, Bottom: 140}, 320, 240, p)
		require.NotNil(t, res.Error)
		assert.Equal(t, 60.0, res.Error.X)
		assert.Equal(t, "60,0", res.Command.String())
		assert.False(t, res.Locked)
		assert.Equal(t, "X:60 Y:0", res.Status)
	})

	t.Run("depth band", func(t *testing.T) {
		dp := Params{Deadzone: 60, AreaMin: ptr(6), AreaMax: ptr(10)}

		near := Compute(rectWithArea(4), 320, 240, dp)
		assert.Equal(t, DepthApproach, near.Command.Z)
		assert.InDelta(t, 4.0, near.Error.AreaPct, 1e-9)
		assert.Equal(t, "0,0,1", near.Command.String())
		assert.False(t, near.Locked)
		assert.Equal(t, "X:0 Y:0 Z:FWD", near.Status)

		far := Compute(rectWithArea(12), 320, 240, dp)
		assert.Equal(t, DepthRetreat, far.Command.Z)
		assert.Equal(t, "0,0,-1", far.Command.String())

		ok := Compute(rectWithArea(8), 320, 240, dp)
		assert.Equal(t, DepthHold, ok.Command.Z)
		assert.True(t, ok.Locked)
		assert.Equal(t, "0,0,0", ok.Command.String())
	})
}

func TestCompute_LockedIffStop(t *testing.T) {
	dp := Params{Deadzone: 60, AreaMin: ptr(6), AreaMax: ptr(10)}
	for _, area := range []float64{2, 4, 8, 12} {
		res := Compute(rectWithArea(area), 320, 240, dp)
		assert.Equal(t, res.Command.IsStop(), res.Locked, "area %v", area)
	}
	off := Compute(&geometry.Rect{Left: 0, Top: 0, Right: 40, Bottom: 40}, 320, 240, dp)
	assert.False(t, off.Command.IsStop())
	assert.False(t, off.Locked)
}

func TestCompute_NoTarget(t *testing.T) {
	res := Compute(nil, 320, 240, Params{Deadzone: 60})
	assert.Equal(t, "0,0", res.Command.String())
	assert.Nil(t, res.Error)
	assert.False(t, res.Locked)
	assert.Equal(t, StatusScanning, res.Status)

	res = Compute(nil, 320, 240, Params{Deadzone: 60, AreaMin: ptr(6), AreaMax: ptr(10)})
	assert.Equal(t, "0,0,0", res.Command.String())
	assert.False(t, res.Locked)
}

func TestCompute_AxesIndependent(t *testing.T) {
	// for every deadzone and every |err| < d/2 on one axis, that axis is zero
	// no matter how large the other axis error is
	for _, d := range []float64{2, 10, 60, 121} {
		half := d / 2
		for _, e := range []float64{0, 0.5, half / 3, half - 0.01, -(half - 0.01)} {
			for _, other := range []float64{0, half, 100, -150} {
				p := Params{Deadzone: d}

				// X inside, Y arbitrary
				r := &geometry.Rect{Left: 160 + e - 5, Right: 160 + e + 5, Top: 120 + other - 5, Bottom: 120 + other + 5}
				res := Compute(r, 320, 240, p)
				assert.Equal(t, 0, res.Command.X, "d=%v e=%v other=%v", d, e, other)

				// Y inside, X arbitrary
				r = &geometry.Rect{Left: 160 + other - 5, Right: 160 + other + 5, Top: 120 + e - 5, Bottom: 120 + e + 5}
				res = Compute(r, 320, 240, p)
				assert.Equal(t, 0, res.Command.Y, "d=%v e=%v other=%v", d, e, other)
			}
		}
	}
}

func TestCompute_ThresholdBoundary(t *testing.T) {
	p := Params{Deadzone: 60}
	// |err| == d/2 is outside the deadzone
	res := Compute(&geometry.Rect{Left: 170, Top: 100, Right: 210, Bottom: 140}, 320, 240, p)
	assert.Equal(t, 30, res.Command.X)

	// negative errors truncate toward zero
	res = Compute(&geometry.Rect{Left: 100, Top: 50.4, Right: 101, Bottom: 51}, 320, 240, p)
	assert.Equal(t, -59, res.Command.X)
	assert.Equal(t, -69, res.Command.Y)
}

func TestCompute_ZeroFrame(t *testing.T) {
	dp := Params{Deadzone: 60, AreaMin: ptr(6), AreaMax: ptr(10)}
	res := Compute(&geometry.Rect{}, 0, 0, dp)
	require.NotNil(t, res.Error)
	assert.Equal(t, 0.0, res.Error.AreaPct)
	assert.Equal(t, DepthApproach, res.Command.Z)
}

func TestParams_Validate(t *testing.T) {
	tests := []struct {
		name    string
		p       Params
		wantErr bool
	}{
		{"ok", Params{Deadzone: 60}, false},
		{"ok with depth", Params{Deadzone: 60, AreaMin: ptr(6), AreaMax: ptr(10)}, false},
		{"zero deadzone", Params{}, true},
		{"only min", Params{Deadzone: 60, AreaMin: ptr(6)}, true},
		{"inverted band", Params{Deadzone: 60, AreaMin: ptr(10), AreaMax: ptr(6)}, true},
		{"band over 100", Params{Deadzone: 60, AreaMin: ptr(10), AreaMax: ptr(160)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
