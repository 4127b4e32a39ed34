// Package frame turns raw sensor captures into background-corrected,
// cropped intensity images and the two marginal projections the beam
// fitter works on.
package frame

import (
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/cjeanneret/BeamGo/internal/debug"
	"github.com/cjeanneret/BeamGo/internal/fault"
	"github.com/cjeanneret/BeamGo/internal/hw/camera"
	"github.com/cjeanneret/BeamGo/internal/logic/geometry"
)

// Settings selects how a capture is processed.
type Settings struct {
	Channel camera.Channel
	ROI     geometry.ROI
}

// Processed is the result of processing one capture.
type Processed struct {
	Image   *Image // full colour plane, dark-subtracted when a dark frame is set
	Cropped *Image // ROI of Image

	ProjX []float64 // column sums of Cropped / rows, len = Cropped.Width
	ProjY []float64 // row sums of Cropped / columns, len = Cropped.Height
	Xs    []float64 // sensor x (mm) of each ProjX sample, XMin..XMax
	Ys    []float64 // sensor y (mm) of each ProjY sample, YMax..YMin (row 0 is the top)

	ROI            geometry.ROI // ROI after clamping to the sensor
	Window         geometry.Window
	DarkSubtracted bool
	ShutterUs      int
	Channel        camera.Channel
}

// Processor converts raw captures. It holds the dark frame, which persists
// across captures until replaced.
type Processor struct {
	widthMm  float64
	heightMm float64

	mu   sync.RWMutex
	dark *Image
}

// NewProcessor creates a processor for a sensor of the given active area.
func NewProcessor(geom camera.Geometry) *Processor {
	return &Processor{widthMm: geom.WidthMm, heightMm: geom.HeightMm}
}

// SetDarkFrame installs img (a full colour plane) as the background.
// A nil image clears it.
func (p *Processor) SetDarkFrame(img *Image) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if img == nil {
		p.dark = nil
		return
	}
	p.dark = img.Clone()
}

// DarkFrame returns the current background, or nil.
func (p *Processor) DarkFrame() *Image {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dark
}

// Plane extracts the colour plane without cropping or subtraction. This is
// what a dark frame capture stores.
func (p *Processor) Plane(raw *camera.SensorFrame, channel camera.Channel) (*Image, error) {
	return Extract(raw, channel)
}

// Process extracts the channel, subtracts the dark frame, crops to the ROI
// and computes the projections and their physical axes.
func (p *Processor) Process(raw *camera.SensorFrame, s Settings) (*Processed, error) {
	img, err := Extract(raw, s.Channel)
	if err != nil {
		return nil, err
	}

	mapper := geometry.PixelMapper{
		WidthMm:  p.widthMm,
		HeightMm: p.heightMm,
		WidthPx:  img.Width,
		HeightPx: img.Height,
	}
	win, roi, err := mapper.Window(s.ROI)
	if err != nil {
		return nil, err
	}

	out := &Processed{
		Image:     img,
		ROI:       roi,
		Window:    win,
		ShutterUs: raw.ShutterUs,
		Channel:   s.Channel,
	}

	if dark := p.DarkFrame(); dark == nil {
		debug.Warn("No dark frame set, background not subtracted")
	} else {
		if !dark.SameShape(img) {
			return nil, fault.Configf("dark frame is %dx%d but the %s plane is %dx%d, recapture it",
				dark.Width, dark.Height, s.Channel, img.Width, img.Height)
		}
		// Subtracting before cropping covers both the full and cropped image.
		if err := img.Subtract(dark); err != nil {
			return nil, err
		}
		out.DarkSubtracted = true
	}

	cropped, err := img.Crop(win)
	if err != nil {
		return nil, err
	}
	out.Cropped = cropped
	out.ProjX, out.ProjY = Project(cropped)
	out.Xs = linspace(roi.XMin, roi.XMax, cropped.Width)
	out.Ys = linspace(roi.YMax, roi.YMin, cropped.Height)

	debug.Verbose("Frame: %s plane %dx%d, crop %dx%d at (%d,%d), peak %d",
		s.Channel, img.Width, img.Height, cropped.Width, cropped.Height, win.X0, win.Y0, cropped.Max())
	return out, nil
}

// Project returns the column and row sums of m, each divided by the
// orthogonal dimension.
func Project(m *Image) (projX, projY []float64) {
	projX = make([]float64, m.Width)
	projY = make([]float64, m.Height)
	for y := 0; y < m.Height; y++ {
		var rowSum float64
		for x, v := range m.Row(y) {
			f := float64(v)
			projX[x] += f
			rowSum += f
		}
		projY[y] = rowSum
	}
	floats.Scale(1/float64(m.Height), projX)
	floats.Scale(1/float64(m.Width), projY)
	return projX, projY
}

// linspace returns n evenly spaced values from l to u inclusive.
func linspace(l, u float64, n int) []float64 {
	switch n {
	case 0:
		return nil
	case 1:
		return []float64{l}
	}
	return floats.Span(make([]float64, n), l, u)
}
