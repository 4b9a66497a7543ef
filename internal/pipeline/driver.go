// Package pipeline runs the per-frame detect, normalize, control and send
// loop that links a camera to the remote controller.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/tracklink/internal/control"
	"github.com/banshee-data/tracklink/internal/detect"
	"github.com/banshee-data/tracklink/internal/geometry"
	"github.com/banshee-data/tracklink/internal/journal"
	"github.com/banshee-data/tracklink/internal/monitoring"
	"github.com/banshee-data/tracklink/internal/source"
)

// CommandSender receives one command per frame. Implementations must not
// block.
type CommandSender interface {
	Send(cmd control.Command)
}

// FrameSender receives every frame for preview. Implementations must not
// block.
type FrameSender interface {
	SendFrame(f source.Frame)
}

// EventRecorder journals tracking transitions and samples. Implementations
// must not block.
type EventRecorder interface {
	RecordEvent(e journal.Event)
	RecordSample(s journal.Sample)
}

// Config wires a Driver.
type Config struct {
	Detector detect.Detector
	Commands CommandSender
	// Video is optional
	Video  FrameSender
	Params control.Params
	// Journal is optional
	Journal EventRecorder
	// HistorySize is the number of points kept for the error chart.
	HistorySize int
	// SampleEvery journals one sample per this many frames with a target.
	SampleEvery int
}

const defaultHistorySize = 300

// Driver executes the control loop synchronously, one frame at a time.
type Driver struct {
	cfg    Config
	errLog *monitoring.Throttle

	mu      sync.RWMutex
	status  Status
	history *ring

	// transition tracking, touched only by the frame goroutine
	hadTarget   bool
	wasLocked   bool
	sinceSample int

	frames       atomic.Uint64
	detectErrors atomic.Uint64
}

// New validates cfg and returns a Driver.
func New(cfg Config) (*Driver, error) {
	if cfg.Detector == nil {
		return nil, errors.New("pipeline: detector is required")
	}
	if cfg.Commands == nil {
		return nil, errors.New("pipeline: command sender is required")
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: invalid control params: %w", err)
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	if cfg.SampleEvery <= 0 {
		cfg.SampleEvery = 1
	}
	return &Driver{
		cfg:     cfg,
		errLog:  monitoring.NewThrottle(5*time.Second, 1),
		history: newRing(cfg.HistorySize),
		status: Status{
			Command: control.Stop(cfg.Params),
			Text:    control.StatusScanning,
		},
	}, nil
}

// HandleFrame runs one control step for f and returns the control result.
// Detector failures are logged and treated as no detection.
func (d *Driver) HandleFrame(ctx context.Context, f source.Frame) control.Result {
	d.frames.Add(1)

	// 1. preview
	if d.cfg.Video != nil {
		d.cfg.Video.SendFrame(f)
	}

	// 2. detect
	det, err := d.cfg.Detector.Detect(ctx, f)
	if err != nil {
		d.detectErrors.Add(1)
		d.errLog.Logf("[Pipeline] Detector failed on frame %d: %v", f.Seq, err)
		det = nil
	}

	// 3. normalize
	uw, uh := f.UprightSize()
	var rect *geometry.Rect
	if det != nil {
		r := det.Rect
		if det.Upright {
			rect = geometry.NormalizeUpright(&r, uw, f.Mirrored)
		} else {
			rect = geometry.Normalize(&r, float64(f.Width), float64(f.Height), f.Rotation, f.Mirrored)
		}
	}

	// 4. control law, 5. send
	res := control.Compute(rect, uw, uh, d.cfg.Params)
	d.cfg.Commands.Send(res.Command)

	// 6. presentation
	d.publish(f, det, rect, res, uw, uh)

	// 7. journal
	d.journal(f, det, res)
	return res
}

func (d *Driver) publish(f source.Frame, det *detect.Detection, rect *geometry.Rect, res control.Result, uw, uh float64) {
	st := Status{
		Rect:        rect,
		Command:     res.Command,
		Locked:      res.Locked,
		Text:        res.Status,
		Seq:         f.Seq,
		Updated:     time.Now(),
		FrameWidth:  uw,
		FrameHeight: uh,
		Aspect:      f.AspectRatio(),
	}
	if det != nil {
		st.Label = det.Label
		st.Score = det.Score
	}
	if res.Error != nil {
		st.AreaPct = res.Error.AreaPct
	}

	p := Point{Seq: f.Seq, Time: st.Updated, Locked: res.Locked, Z: res.Command.Z}
	if res.Error != nil {
		p.HasTarget = true
		p.ErrX = res.Error.X
		p.ErrY = res.Error.Y
	}

	d.mu.Lock()
	d.status = st
	d.history.push(p)
	d.mu.Unlock()
}

func (d *Driver) journal(f source.Frame, det *detect.Detection, res control.Result) {
	rec := d.cfg.Journal
	hasTarget := res.Error != nil
	defer func() {
		d.hadTarget = hasTarget
		d.wasLocked = res.Locked
	}()
	if rec == nil {
		return
	}

	now := time.Now()
	switch {
	case hasTarget && !d.hadTarget:
		rec.RecordEvent(journal.Event{Kind: journal.TargetAcquired, Time: now, Seq: f.Seq, Detail: det.Label})
	case !hasTarget && d.hadTarget:
		rec.RecordEvent(journal.Event{Kind: journal.TargetLost, Time: now, Seq: f.Seq})
	}
	switch {
	case res.Locked && !d.wasLocked:
		rec.RecordEvent(journal.Event{Kind: journal.Locked, Time: now, Seq: f.Seq})
	case !res.Locked && d.wasLocked:
		rec.RecordEvent(journal.Event{Kind: journal.Unlocked, Time: now, Seq: f.Seq})
	}

	if !hasTarget {
		d.sinceSample = 0
		return
	}
	if d.sinceSample%d.cfg.SampleEvery == 0 {
		rec.RecordSample(journal.Sample{
			Time:    now,
			Seq:     f.Seq,
			ErrX:    res.Error.X,
			ErrY:    res.Error.Y,
			AreaPct: res.Error.AreaPct,
			CmdX:    res.Command.X,
			CmdY:    res.Command.Y,
			CmdZ:    res.Command.Z,
			Locked:  res.Locked,
			Label:   det.Label,
		})
	}
	d.sinceSample++
}

// Run pulls frames from src until ctx is done or src is exhausted. An
// exhausted source is not an error.
func (d *Driver) Run(ctx context.Context, src source.Source) error {
	defer func() {
		monitoring.Logf("[Pipeline] Stopped after %d frames", d.frames.Load())
	}()
	for {
		f, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("frame source: %w", err)
		}
		d.HandleFrame(ctx, f)
	}
}

// Status returns the latest presentation state.
func (d *Driver) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

// History returns recent control points, oldest first.
func (d *Driver) History() []Point {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.history.slice()
}

// Stats is a snapshot of driver counters.
type Stats struct {
	Frames       uint64 `json:"frames"`
	DetectErrors uint64 `json:"detect_errors"`
}

// Stats returns the driver counters.
func (d *Driver) Stats() Stats {
	return Stats{
		Frames:       d.frames.Load(),
		DetectErrors: d.detectErrors.Load(),
	}
}
