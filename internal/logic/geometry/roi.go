package geometry

import (
	"math"

	"github.com/cjeanneret/BeamGo/internal/fault"
)

// ROI is a region of interest in sensor millimetres. The origin is the
// bottom-left corner of the sensor: y grows toward image row 0.
type ROI struct {
	XMin, XMax float64
	YMin, YMax float64
}

// FullSensor returns the ROI covering the whole active area.
func FullSensor(widthMm, heightMm float64) ROI {
	return ROI{XMin: 0, XMax: widthMm, YMin: 0, YMax: heightMm}
}

// Clamp limits the ROI bounds to [0, extent] on each axis.
func (r ROI) Clamp(widthMm, heightMm float64) ROI {
	return ROI{
		XMin: clamp(r.XMin, 0, widthMm),
		XMax: clamp(r.XMax, 0, widthMm),
		YMin: clamp(r.YMin, 0, heightMm),
		YMax: clamp(r.YMax, 0, heightMm),
	}
}

// Window is a half-open pixel rectangle [X0,X1) x [Y0,Y1) in image
// coordinates, row 0 at the top.
type Window struct {
	X0, X1 int
	Y0, Y1 int
}

// Width returns the number of columns in the window.
func (w Window) Width() int { return w.X1 - w.X0 }

// Height returns the number of rows in the window.
func (w Window) Height() int { return w.Y1 - w.Y0 }

// PixelMapper maps sensor millimetres to pixel indices of an image plane.
// The plane may be the half-resolution colour plane or the full-resolution
// demosaiced image: the physical extent stays the same.
type PixelMapper struct {
	WidthMm  float64
	HeightMm float64
	WidthPx  int
	HeightPx int
}

// nudge absorbs float noise when an edge lands on a pixel boundary.
const nudge = 1e-9

// Window clamps the ROI to the sensor and converts it to a pixel window.
// It returns the clamped ROI alongside, since the projection axes span it.
// A ROI that is empty after clamping is a configuration error.
func (m PixelMapper) Window(r ROI) (Window, ROI, error) {
	c := r.Clamp(m.WidthMm, m.HeightMm)
	if c.XMin >= c.XMax || c.YMin >= c.YMax {
		return Window{}, c, fault.Configf("roi [%g,%g]x[%g,%g] mm is empty on a %gx%g mm sensor",
			r.XMin, r.XMax, r.YMin, r.YMax, m.WidthMm, m.HeightMm)
	}

	fx := float64(m.WidthPx) / m.WidthMm
	fy := float64(m.HeightPx) / m.HeightMm
	w := Window{
		X0: int(math.Floor(c.XMin*fx + nudge)),
		X1: int(math.Ceil(c.XMax*fx - nudge)),
		// Image rows run top-down, so YMax maps to the first row.
		Y0: int(math.Floor((m.HeightMm-c.YMax)*fy + nudge)),
		Y1: int(math.Ceil((m.HeightMm-c.YMin)*fy - nudge)),
	}
	w.X0 = clampInt(w.X0, 0, m.WidthPx)
	w.X1 = clampInt(w.X1, 0, m.WidthPx)
	w.Y0 = clampInt(w.Y0, 0, m.HeightPx)
	w.Y1 = clampInt(w.Y1, 0, m.HeightPx)
	if w.Width() <= 0 || w.Height() <= 0 {
		return Window{}, c, fault.Configf("roi [%g,%g]x[%g,%g] mm maps to no pixels", c.XMin, c.XMax, c.YMin, c.YMax)
	}
	return w, c, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
