package monitor

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/soundfield/internal/geometry"
)

// CurveParams describe the instance whose attenuation is plotted.
type CurveParams struct {
	Volume             float64
	MinRolloffDistance float64
	MaxDistance        float64
	Width              float64
	Samples            int
}

// DefaultCurveParams matches a freshly created instance.
func DefaultCurveParams() CurveParams {
	return CurveParams{
		Volume:             0.5,
		MinRolloffDistance: 1,
		MaxDistance:        500,
		Width:              2,
		Samples:            200,
	}
}

// CurvePoints samples volume for mode over [0, 1.2*MaxDistance].
func CurvePoints(mode geometry.Rolloff, p CurveParams) plotter.XYs {
	n := p.Samples
	if n < 2 {
		n = 2
	}
	end := p.MaxDistance * 1.2
	if end <= 0 {
		end = 1
	}
	pts := make(plotter.XYs, n)
	for i := range pts {
		d := end * float64(i) / float64(n-1)
		pts[i] = plotter.XY{X: d, Y: geometry.RolloffVolume(mode, d, p.MinRolloffDistance, p.MaxDistance, p.Volume)}
	}
	return pts
}

// WidthPoints samples the perceptual width over the same range as CurvePoints.
func WidthPoints(p CurveParams) plotter.XYs {
	pts := CurvePoints(geometry.RolloffNone, p)
	for i := range pts {
		pts[i].Y = geometry.Width(p.Width, pts[i].X)
	}
	return pts
}

var curveColors = map[geometry.Rolloff]color.Color{
	geometry.RolloffNone:        color.RGBA{R: 128, G: 128, B: 128, A: 255},
	geometry.RolloffLinear:      color.RGBA{R: 31, G: 119, B: 180, A: 255},
	geometry.RolloffLogarithmic: color.RGBA{R: 214, G: 39, B: 40, A: 255},
}

// RenderCurves writes two plots: volume by distance for each rolloff mode to
// volumePath and width by distance to widthPath.
func RenderCurves(volumePath, widthPath string, p CurveParams) error {
	pv := plot.New()
	pv.Title.Text = fmt.Sprintf("Rolloff (volume=%g, min=%g, max=%g)", p.Volume, p.MinRolloffDistance, p.MaxDistance)
	pv.X.Label.Text = "Distance"
	pv.Y.Label.Text = "Volume"

	for _, mode := range []geometry.Rolloff{geometry.RolloffNone, geometry.RolloffLinear, geometry.RolloffLogarithmic} {
		line, err := plotter.NewLine(CurvePoints(mode, p))
		if err != nil {
			return err
		}
		line.Color = curveColors[mode]
		line.Width = vg.Points(1)
		pv.Add(line)
		pv.Legend.Add(mode.String(), line)
	}
	pv.Legend.Top = true

	if err := pv.Save(10*vg.Inch, 5*vg.Inch, volumePath); err != nil {
		return fmt.Errorf("save rolloff plot: %w", err)
	}

	pw := plot.New()
	pw.Title.Text = fmt.Sprintf("Width (base=%g)", p.Width)
	pw.X.Label.Text = "Distance"
	pw.Y.Label.Text = "Width"
	line, err := plotter.NewLine(WidthPoints(p))
	if err != nil {
		return err
	}
	line.Width = vg.Points(1)
	pw.Add(line)

	if err := pw.Save(10*vg.Inch, 5*vg.Inch, widthPath); err != nil {
		return fmt.Errorf("save width plot: %w", err)
	}
	return nil
}
