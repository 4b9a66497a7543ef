package pipeline

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/tracklink/internal/httputil"
)

// AttachAdminRoutes mounts the status feed and the error chart under /debug/.
func (d *Driver) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.KVFunc("Tracking", func() any { return d.Status().Text })

	debug.HandleFunc("status", "Pipeline status (JSON)", httputil.GetOnly(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, struct {
			Status Status `json:"status"`
			Stats  Stats  `json:"stats"`
		}{d.Status(), d.Stats()})
	}))

	debug.HandleFunc("errors", "Recent tracking error (chart)", func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := d.renderErrorChart(&buf); err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(buf.Bytes())
	})
}

func (d *Driver) renderErrorChart(buf *bytes.Buffer) error {
	points := d.History()
	x := make([]uint64, 0, len(points))
	errX := make([]opts.LineData, 0, len(points))
	errY := make([]opts.LineData, 0, len(points))
	depth := make([]opts.LineData, 0, len(points))
	locked := 0
	for _, p := range points {
		x = append(x, p.Seq)
		if !p.HasTarget {
			// gaps while scanning
			errX = append(errX, opts.LineData{Value: "-"})
			errY = append(errY, opts.LineData{Value: "-"})
		} else {
			errX = append(errX, opts.LineData{Value: p.ErrX})
			errY = append(errY, opts.LineData{Value: p.ErrY})
		}
		depth = append(depth, opts.LineData{Value: p.Z})
		if p.Locked {
			locked++
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Tracking error", Theme: "dark", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Tracking error", Subtitle: fmt.Sprintf("frames=%d locked=%d deadzone=%.0fpx", len(points), locked, d.cfg.Params.Deadzone)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "frame", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "error (px)", NameLocation: "middle", NameGap: 40}),
	)
	line.SetXAxis(x).
		AddSeries("err x", errX).
		AddSeries("err y", errY).
		AddSeries("depth", depth)

	return line.Render(buf)
}
