// Package control turns a normalized target rectangle into an actuation
// command using a stateless per-axis deadzone law with an optional
// area-based depth term.
package control

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/tracklink/internal/geometry"
)

// Status strings surfaced to the presentation layer.
const (
	StatusScanning = "Scanning..."
	StatusLocked   = "LOCKED"
)

// Depth commands.
const (
	DepthRetreat  = -1
	DepthHold     = 0
	DepthApproach = 1
)

// Params configures the control law.
type Params struct {
	// Deadzone is the side of the square "close enough" box centred on the
	// frame, in upright pixels. Each axis is zeroed while |err| < Deadzone/2.
	Deadzone float64 `json:"deadzone"`
	// AreaMin and AreaMax enable the depth term when both are set. They are
	// percentages of the frame area.
	AreaMin *float64 `json:"area_min,omitempty"`
	AreaMax *float64 `json:"area_max,omitempty"`
}

// DepthEnabled reports whether the area-based depth term is active.
func (p Params) DepthEnabled() bool {
	return p.AreaMin != nil && p.AreaMax != nil
}

// Validate checks the parameters.
func (p Params) Validate() error {
	if p.Deadzone <= 0 || math.IsNaN(p.Deadzone) {
		return fmt.Errorf("deadzone must be positive, got %v", p.Deadzone)
	}
	if (p.AreaMin == nil) != (p.AreaMax == nil) {
		return errors.New("area_min and area_max must be set together")
	}
	if p.DepthEnabled() {
		if *p.AreaMin < 0 || *p.AreaMax > 100 {
			return fmt.Errorf("area band must lie within 0..100%%, got %v..%v", *p.AreaMin, *p.AreaMax)
		}
		if *p.AreaMin > *p.AreaMax {
			return fmt.Errorf("area_min %v exceeds area_max %v", *p.AreaMin, *p.AreaMax)
		}
	}
	return nil
}

// ErrorVector is the raw signed offset of the target centre from the frame
// centre, before the deadzone is applied.
type ErrorVector struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	AreaPct float64 `json:"area_pct"`
	Depth   int     `json:"depth"`
}

// Result is the outcome of one Compute call.
type Result struct {
	Command Command
	// Error is nil when no target was supplied.
	Error  *ErrorVector
	Locked bool
	Status string
}

// Stop returns the canonical centred/stop command for p.
func Stop(p Params) Command {
	return Command{HasDepth: p.DepthEnabled()}
}

// Compute applies the control law to rect, which must already be in upright
// frame coordinates for a frameW x frameH frame. A nil rect yields the stop
// command and is never reported as locked.
func Compute(rect *geometry.Rect, frameW, frameH float64, p Params) Result {
	if rect == nil {
		return Result{Command: Stop(p), Status: StatusScanning}
	}

	cx, cy := rect.Center()
	ev := &ErrorVector{
		X: cx - frameW/2,
		Y: cy - frameH/2,
	}

	threshold := p.Deadzone / 2
	cmd := Command{
		X:        axisOutput(ev.X, threshold),
		Y:        axisOutput(ev.Y, threshold),
		HasDepth: p.DepthEnabled(),
	}

	if total := frameW * frameH; total > 0 {
		ev.AreaPct = rect.Area() / total * 100
	}
	if cmd.HasDepth {
		ev.Depth = depthCommand(ev.AreaPct, *p.AreaMin, *p.AreaMax)
		cmd.Z = ev.Depth
	}

	locked := cmd.IsStop()
	return Result{
		Command: cmd,
		Error:   ev,
		Locked:  locked,
		Status:  statusText(cmd, locked),
	}
}

// axisOutput zeroes err inside the axis threshold and truncates it otherwise.
func axisOutput(err, threshold float64) int {
	if math.Abs(err) < threshold {
		return 0
	}
	return int(err)
}

func depthCommand(areaPct, areaMin, areaMax float64) int {
	switch {
	case areaPct < areaMin:
		return DepthApproach
	case areaPct > areaMax:
		return DepthRetreat
	default:
		return DepthHold
	}
}

func statusText(cmd Command, locked bool) string {
	if locked {
		return StatusLocked
	}
	s := fmt.Sprintf("X:%d Y:%d", cmd.X, cmd.Y)
	if cmd.HasDepth {
		s += " Z:" + DepthLabel(cmd.Z)
	}
	return s
}

// DepthLabel names a depth command for display.
func DepthLabel(z int) string {
	switch z {
	case DepthApproach:
		return "FWD"
	case DepthRetreat:
		return "BCK"
	default:
		return "OK"
	}
}
