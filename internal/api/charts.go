package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"tailscale.com/tsweb"

	"github.com/banshee-data/kinetic/internal/aggregate"
)

// AttachAdminRoutes mounts the rolling window charts under /debug/.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("window-chart", "Rolling window (interactive)", s.handleWindowChart)
	debug.HandleSilentFunc("window.png", s.handleWindowPlot)
}

type windowSeries struct {
	name   string
	values []float64
}

// windowSeriesOf splits the window, oldest first, into one series per
// plotted quantity.
func windowSeriesOf(snaps []aggregate.FrameSnapshot) []windowSeries {
	series := []windowSeries{
		{name: "people"},
		{name: "groups"},
		{name: "people distance"},
		{name: "machine distance"},
	}
	for _, f := range snaps {
		series[0].values = append(series[0].values, float64(f.PeopleCount))
		series[1].values = append(series[1].values, float64(f.GroupCount))
		series[2].values = append(series[2].values, f.AvgPeopleDistance)
		series[3].values = append(series[3].values, f.AvgMachineDistance)
	}
	return series
}

// handleWindowChart renders the rolling window as an interactive line chart.
func (s *Server) handleWindowChart(w http.ResponseWriter, r *http.Request) {
	snaps := s.inst.Snapshots()

	x := make([]int, len(snaps))
	for i := range x {
		x[i] = i - len(snaps) + 1
	}

	subtitle := fmt.Sprintf("mode=%s frames=%d", s.inst.Mode(), len(snaps))
	if d, ok := s.inst.Diagnostics(); ok {
		subtitle = fmt.Sprintf("%s tick=%d selected=%q", subtitle, d.Tick, d.Selected)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Kinetic Window", Theme: "dark", Width: "1000px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Rolling Window", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "frame", NameLocation: "middle", NameGap: 25}),
	)
	line.SetXAxis(x)
	for _, ser := range windowSeriesOf(snaps) {
		data := make([]opts.LineData, len(ser.values))
		for i, v := range ser.values {
			data[i] = opts.LineData{Value: v}
		}
		line.AddSeries(ser.name, data)
	}

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleWindowPlot renders the rolling window as a static PNG.
func (s *Server) handleWindowPlot(w http.ResponseWriter, r *http.Request) {
	snaps := s.inst.Snapshots()

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Rolling Window (%d frames)", len(snaps))
	p.X.Label.Text = "Frame"
	p.Y.Label.Text = "Value"
	p.Legend.Top = true

	for i, ser := range windowSeriesOf(snaps) {
		if len(ser.values) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(ser.values))
		for j, v := range ser.values {
			pts[j].X = float64(j - len(ser.values) + 1)
			pts[j].Y = v
		}
		l, err := plotter.NewLine(pts)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("plot error: %v", err))
			return
		}
		l.Width = vg.Points(1)
		l.Color = plotutil.Color(i)
		p.Add(l)
		p.Legend.Add(ser.name, l)
	}

	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("plot error: %v", err))
		return
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("plot error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
