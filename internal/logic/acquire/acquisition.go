// Package acquire is the capture path of the profiler: optional
// auto-exposure, a raw capture at the resulting shutter, then frame
// processing. It also captures the dark frame.
package acquire

import (
	"context"
	"fmt"
	"sync"

	"github.com/cjeanneret/BeamGo/internal/debug"
	"github.com/cjeanneret/BeamGo/internal/fault"
	"github.com/cjeanneret/BeamGo/internal/hw/camera"
	"github.com/cjeanneret/BeamGo/internal/logic/exposure"
	"github.com/cjeanneret/BeamGo/internal/logic/frame"
	"github.com/cjeanneret/BeamGo/internal/logic/geometry"
)

// Settings of the capture path.
type Settings struct {
	Channel      camera.Channel
	ROI          geometry.ROI
	AutoExposure bool
}

// Acquisition captures processed frames from a camera.
type Acquisition struct {
	cam  camera.Camera
	proc *frame.Processor
	exp  *exposure.Controller

	mu       sync.Mutex
	settings Settings
	shutter  int // us; updated by auto-exposure
	last     exposure.Result
}

// New creates an acquisition path starting at shutterUs.
func New(cam camera.Camera, exp *exposure.Controller, s Settings, shutterUs int) (*Acquisition, error) {
	a := &Acquisition{
		cam:      cam,
		proc:     frame.NewProcessor(cam.Geometry()),
		exp:      exp,
		settings: s,
	}
	if err := a.SetShutter(shutterUs); err != nil {
		return nil, err
	}
	return a, nil
}

// Processor returns the frame processor, which holds the dark frame.
func (a *Acquisition) Processor() *frame.Processor {
	return a.proc
}

// Geometry returns the camera's sensor geometry.
func (a *Acquisition) Geometry() camera.Geometry {
	return a.cam.Geometry()
}

// Settings returns the current settings.
func (a *Acquisition) Settings() Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings
}

// SetSettings replaces the settings used by the next capture.
func (a *Acquisition) SetSettings(s Settings) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settings = s
}

// Shutter returns the current shutter time in us.
func (a *Acquisition) Shutter() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.shutter
}

// SetShutter sets the shutter time. Values below the sensor minimum are
// rejected.
func (a *Acquisition) SetShutter(us int) error {
	if min := a.cam.Geometry().MinShutterUs; us < min {
		return fault.Configf("shutter %d us below sensor minimum %d us", us, min)
	}
	a.mu.Lock()
	a.shutter = us
	a.mu.Unlock()
	return nil
}

// LastExposure returns the result of the most recent auto-exposure search.
func (a *Acquisition) LastExposure() exposure.Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// Capture takes one processed frame. With auto-exposure enabled the
// shutter search runs first and the raw capture uses its corrected
// shutter; otherwise the current shutter is used as is.
func (a *Acquisition) Capture(ctx context.Context) (*frame.Processed, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := a.Settings()
	shutter := a.Shutter()

	if s.AutoExposure {
		res, err := a.exp.AutoExpose(a.cam.CaptureQuick, shutter, a.cam.Geometry().MinShutterUs)
		if err != nil {
			return nil, fmt.Errorf("auto exposure: %w", err)
		}
		a.mu.Lock()
		a.shutter = res.Shutter
		a.last = res
		a.mu.Unlock()
		shutter = res.CaptureShutter
	}

	raw, err := a.cam.CaptureRaw(s.Channel, shutter)
	if err != nil {
		return nil, fault.Hardware(err, fmt.Sprintf("capture %s at %d us", s.Channel, shutter))
	}
	p, err := a.proc.Process(raw, frame.Settings{Channel: s.Channel, ROI: s.ROI})
	if err != nil {
		return nil, fmt.Errorf("process capture: %w", err)
	}
	debug.Verbose("Acquire: %dx%d crop at %d us, peak %d", p.Cropped.Width, p.Cropped.Height, shutter, p.Cropped.Max())
	return p, nil
}

// CaptureDarkFrame captures a background plane with the current shutter
// and channel, without auto-exposure, and installs it in the processor.
// The beam must be blocked by the caller.
func (a *Acquisition) CaptureDarkFrame(ctx context.Context) (*frame.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := a.Settings()
	shutter := a.Shutter()
	raw, err := a.cam.CaptureRaw(s.Channel, shutter)
	if err != nil {
		return nil, fault.Hardware(err, "capture dark frame")
	}
	img, err := a.proc.Plane(raw, s.Channel)
	if err != nil {
		return nil, fmt.Errorf("dark frame: %w", err)
	}
	a.proc.SetDarkFrame(img)
	debug.Info("Dark frame set: %dx%d %s at %d us, max %d", img.Width, img.Height, s.Channel, shutter, img.Max())
	return img, nil
}
