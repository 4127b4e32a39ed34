// Package report renders scan results as figures.
package report

import (
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/cjeanneret/BeamGo/internal/logic/fit"
	"github.com/cjeanneret/BeamGo/internal/logic/scan"
)

var (
	colorX = color.RGBA{R: 200, G: 30, B: 30, A: 255}
	colorY = color.RGBA{R: 30, G: 60, B: 200, A: 255}
)

type errPoints struct {
	plotter.XYs
	plotter.YErrors
}

// FocusPlot builds the width-vs-position figure: measured radii with error
// bars for both axes and, when fitted, the focusing curves.
func FocusPlot(res *scan.Result) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Beam profile scan %s", res.ID.String()[:8])
	p.X.Label.Text = "Stage position (mm)"
	p.Y.Label.Text = "1/e² radius (µm)"
	p.Add(plotter.NewGrid())

	if len(res.Points) == 0 {
		return p, nil
	}
	zMin, zMax := res.Points[0].PositionMm, res.Points[0].PositionMm
	for _, pt := range res.Points {
		zMin = math.Min(zMin, pt.PositionMm)
		zMax = math.Max(zMax, pt.PositionMm)
	}

	for _, ax := range []struct {
		name  string
		col   color.Color
		width func(scan.Point) (float64, float64)
		focus fit.Focus
	}{
		{"x", colorX, func(pt scan.Point) (float64, float64) { return pt.WidthXUm, pt.WidthXErrUm }, res.FocusX},
		{"y", colorY, func(pt scan.Point) (float64, float64) { return pt.WidthYUm, pt.WidthYErrUm }, res.FocusY},
	} {
		data := errPoints{
			XYs:     make(plotter.XYs, len(res.Points)),
			YErrors: make(plotter.YErrors, len(res.Points)),
		}
		for i, pt := range res.Points {
			w, e := ax.width(pt)
			if math.IsInf(e, 0) || math.IsNaN(e) {
				e = 0
			}
			data.XYs[i] = plotter.XY{X: pt.PositionMm, Y: w}
			data.YErrors[i].Low, data.YErrors[i].High = e, e
		}

		sc, err := plotter.NewScatter(data.XYs)
		if err != nil {
			return nil, fmt.Errorf("%s widths: %w", ax.name, err)
		}
		sc.GlyphStyle.Color = ax.col
		sc.GlyphStyle.Radius = vg.Points(2)
		bars, err := plotter.NewYErrorBars(data)
		if err != nil {
			return nil, fmt.Errorf("%s error bars: %w", ax.name, err)
		}
		bars.LineStyle.Color = ax.col
		p.Add(sc, bars)
		p.Legend.Add(ax.name, sc)

		if ax.focus.Valid {
			curve := ax.focus.Params
			fn := plotter.NewFunction(curve.Eval)
			fn.Color = ax.col
			fn.Width = vg.Points(1)
			fn.Samples = 200
			fn.XMin, fn.XMax = zMin, zMax
			p.Add(fn)
			p.Legend.Add(fmt.Sprintf("%s fit: w0=%.1f µm, zR=%.3f mm, z0=%.3f mm",
				ax.name, curve.Waist, curve.RayleighMm, curve.FocusMm), fn)
		}
	}
	p.Legend.Top = true
	return p, nil
}

// SaveFocusPlot renders the figure to path; the format follows the
// extension (png, svg, pdf...).
func SaveFocusPlot(res *scan.Result, path string) error {
	p, err := FocusPlot(res)
	if err != nil {
		return err
	}
	if err := p.Save(8*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("save plot: %w", err)
	}
	return nil
}
