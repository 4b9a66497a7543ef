// Package report summarizes journaled control samples offline.
package report

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/tracklink/internal/journal"
)

// ErrNoSamples is returned when there is nothing to summarize.
var ErrNoSamples = errors.New("no samples")

// Summary describes tracking quality over a set of samples.
type Summary struct {
	Samples   int     `json:"samples"`
	MeanAbsX  float64 `json:"mean_abs_err_x"`
	StdAbsX   float64 `json:"std_abs_err_x"`
	MeanAbsY  float64 `json:"mean_abs_err_y"`
	StdAbsY   float64 `json:"std_abs_err_y"`
	MaxAbsX   float64 `json:"max_abs_err_x"`
	MaxAbsY   float64 `json:"max_abs_err_y"`
	LockRatio float64 `json:"lock_ratio"`

	// P90AbsX and P90AbsY are the 90th percentile of absolute error
	P90AbsX float64 `json:"p90_abs_err_x"`
	P90AbsY float64 `json:"p90_abs_err_y"`

	Events map[journal.EventKind]int `json:"events,omitempty"`
}

// Summarize computes error statistics for samples.
func Summarize(samples []journal.Sample) (Summary, error) {
	if len(samples) == 0 {
		return Summary{}, ErrNoSamples
	}

	absX := make([]float64, len(samples))
	absY := make([]float64, len(samples))
	locked := make([]float64, len(samples))
	for i, s := range samples {
		absX[i] = math.Abs(s.ErrX)
		absY[i] = math.Abs(s.ErrY)
		if s.Locked {
			locked[i] = 1
		}
	}

	sum := Summary{Samples: len(samples)}
	sum.MeanAbsX, sum.StdAbsX = meanStdDev(absX)
	sum.MeanAbsY, sum.StdAbsY = meanStdDev(absY)
	sum.LockRatio = stat.Mean(locked, nil)

	sort.Float64s(absX)
	sort.Float64s(absY)
	sum.MaxAbsX = absX[len(absX)-1]
	sum.MaxAbsY = absY[len(absY)-1]
	sum.P90AbsX = stat.Quantile(0.9, stat.Empirical, absX, nil)
	sum.P90AbsY = stat.Quantile(0.9, stat.Empirical, absY, nil)
	return sum, nil
}

// meanStdDev is stat.MeanStdDev with a zero deviation for a single sample
// instead of NaN.
func meanStdDev(x []float64) (float64, float64) {
	if len(x) < 2 {
		return stat.Mean(x, nil), 0
	}
	return stat.MeanStdDev(x, nil)
}

// WriteText prints a human readable summary.
func (s Summary) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w,
		"samples:     %d\n"+
			"lock ratio:  %.1f%%\n"+
			"|err x|:     mean %.1f  std %.1f  p90 %.1f  max %.1f\n"+
			"|err y|:     mean %.1f  std %.1f  p90 %.1f  max %.1f\n",
		s.Samples, 100*s.LockRatio,
		s.MeanAbsX, s.StdAbsX, s.P90AbsX, s.MaxAbsX,
		s.MeanAbsY, s.StdAbsY, s.P90AbsY, s.MaxAbsY,
	)
	if err != nil {
		return err
	}
	kinds := make([]string, 0, len(s.Events))
	for k := range s.Events {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		if _, err := fmt.Fprintf(w, "%-20s %d\n", k+":", s.Events[journal.EventKind(k)]); err != nil {
			return err
		}
	}
	return nil
}

// Plot builds a line plot of the x and y error per frame.
func Plot(samples []journal.Sample) (*plot.Plot, error) {
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}

	p := plot.New()
	p.Title.Text = "Tracking error"
	p.X.Label.Text = "Frame"
	p.Y.Label.Text = "Error (px)"

	xPts := make(plotter.XYs, len(samples))
	yPts := make(plotter.XYs, len(samples))
	for i, s := range samples {
		xPts[i] = plotter.XY{X: float64(s.Seq), Y: s.ErrX}
		yPts[i] = plotter.XY{X: float64(s.Seq), Y: s.ErrY}
	}

	for _, series := range []struct {
		name string
		pts  plotter.XYs
		c    color.Color
	}{
		{"err x", xPts, color.RGBA{R: 220, G: 60, B: 40, A: 255}},
		{"err y", yPts, color.RGBA{R: 40, G: 90, B: 220, A: 255}},
	} {
		line, err := plotter.NewLine(series.pts)
		if err != nil {
			return nil, err
		}
		line.Color = series.c
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(series.name, line)
	}
	p.Add(plotter.NewGrid())

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// SavePlot writes the error plot to path. The format follows the extension.
func SavePlot(samples []journal.Sample, path string) error {
	p, err := Plot(samples)
	if err != nil {
		return err
	}
	if err := p.Save(12*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("save error plot: %w", err)
	}
	return nil
}

// FromJournal loads the most recent limit samples and the event counts.
func FromJournal(j *journal.Journal, limit int) ([]journal.Sample, Summary, error) {
	samples, err := j.Samples(limit)
	if err != nil {
		return nil, Summary{}, fmt.Errorf("failed to load samples: %w", err)
	}
	sum, err := Summarize(samples)
	if err != nil {
		return nil, Summary{}, err
	}
	if sum.Events, err = j.CountEvents(); err != nil {
		return nil, Summary{}, fmt.Errorf("failed to count events: %w", err)
	}
	return samples, sum, nil
}
