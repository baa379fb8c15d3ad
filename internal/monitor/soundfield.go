// Package monitor renders debug views of the sound field: an interactive
// go-echarts page served over HTTP and static gonum/plot curve images.
package monitor

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// ringSegments is the number of points used to draw the speaker ring.
const ringSegments = 180

// FieldSource is one instance projected onto the listener X/Z plane.
type FieldSource struct {
	ID      int32
	X, Z    float64
	WallX   float64
	WallZ   float64
	Volume  float64
	Playing bool
}

// FieldSnapshot is the state drawn by SoundFieldHandler.
type FieldSnapshot struct {
	Radius  float64
	UserX   float64
	UserZ   float64
	Sources []FieldSource
}

// ringPoints returns the speaker ring as a closed polyline.
func ringPoints(radius float64, n int) []opts.ScatterData {
	out := make([]opts.ScatterData, 0, n)
	for i := 0; i < n; i++ {
		theta := 2 * math.Pi * float64(i) / float64(n)
		out = append(out, opts.ScatterData{Value: []interface{}{radius * math.Cos(theta), radius * math.Sin(theta)}})
	}
	return out
}

// Extent returns the half-width of a square that holds the ring, the user and
// every source, padded by 5%.
func (s FieldSnapshot) Extent() float64 {
	maxAbs := s.Radius
	grow := func(v float64) {
		if a := math.Abs(v); a > maxAbs && !math.IsInf(a, 0) {
			maxAbs = a
		}
	}
	grow(s.UserX)
	grow(s.UserZ)
	for _, src := range s.Sources {
		grow(src.X)
		grow(src.Z)
	}
	if maxAbs == 0 {
		return 1
	}
	return maxAbs * 1.05
}

// BuildSoundFieldChart lays out the ring, the user, the sources and their
// projected wall points.
func BuildSoundFieldChart(s FieldSnapshot) *charts.Scatter {
	pad := s.Extent()

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Sound Field", Theme: "dark", Width: "900px", Height: "900px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Sound Field", Subtitle: fmt.Sprintf("radius=%g sources=%d", s.Radius, len(s.Sources))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Z", NameLocation: "middle", NameGap: 30}),
	)

	sources := make([]opts.ScatterData, 0, len(s.Sources))
	walls := make([]opts.ScatterData, 0, len(s.Sources))
	for _, src := range s.Sources {
		name := strconv.Itoa(int(src.ID))
		sources = append(sources, opts.ScatterData{Name: name, Value: []interface{}{src.X, src.Z, src.Volume}})
		walls = append(walls, opts.ScatterData{Name: name, Value: []interface{}{src.WallX, src.WallZ}})
	}

	scatter.AddSeries("ring", ringPoints(s.Radius, ringSegments), charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 2}))
	scatter.AddSeries("speaker", walls, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	scatter.AddSeries("source", sources, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10}))
	scatter.AddSeries("user", []opts.ScatterData{{Name: "user", Value: []interface{}{s.UserX, s.UserZ}}},
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 14}))
	return scatter
}

// SoundFieldHandler serves the chart for the snapshot taken on each request.
func SoundFieldHandler(snapshot func() FieldSnapshot) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := BuildSoundFieldChart(snapshot()).Render(&buf); err != nil {
			http.Error(w, fmt.Sprintf("failed to render chart: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(buf.Bytes())
	}
}
