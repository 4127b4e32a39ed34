// Package exposure searches for a shutter time that keeps the brightest
// pixel of a frame inside a target band.
package exposure

import (
	"github.com/cjeanneret/BeamGo/internal/debug"
	"github.com/cjeanneret/BeamGo/internal/fault"
)

// Config tunes the search.
type Config struct {
	TargetLow     int     // lower edge of the peak band, counts
	TargetHigh    int     // upper edge of the peak band, counts
	Correction    float64 // quick-capture to raw-capture exposure ratio
	MaxIterations int     // 0 = unlimited
	MaxShutterUs  int     // 0 = unlimited
}

// DefaultConfig returns the band used with a 10-bit sensor.
func DefaultConfig() Config {
	return Config{
		TargetLow:     800,
		TargetHigh:    950,
		Correction:    2.2,
		MaxIterations: 50,
	}
}

// QuickCapture returns the peak intensity of a cheap capture taken at the
// given shutter time.
type QuickCapture func(shutterUs int) (int, error)

// Result reports the outcome of one search.
type Result struct {
	Shutter        int // shutter found by the search, us
	CaptureShutter int // Shutter scaled by the correction factor, for the raw capture
	Peak           int // last peak measured
	Iterations     int // quick captures taken
	Converged      bool
	Clamped        bool // stopped at the minimum shutter: reduce optical power
	AtMaximum      bool // stopped at MaxShutterUs while still underexposed
}

// Controller runs the closed-loop shutter search.
type Controller struct {
	cfg Config
}

// NewController creates a controller. Zero fields of cfg take the defaults.
func NewController(cfg Config) *Controller {
	def := DefaultConfig()
	if cfg.TargetLow <= 0 {
		cfg.TargetLow = def.TargetLow
	}
	if cfg.TargetHigh <= 0 {
		cfg.TargetHigh = def.TargetHigh
	}
	if cfg.Correction <= 0 {
		cfg.Correction = def.Correction
	}
	return &Controller{cfg: cfg}
}

// Config returns the effective configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

// InBand reports whether peak lies inside the target band.
func (c *Controller) InBand(peak int) bool {
	return peak >= c.cfg.TargetLow && peak <= c.cfg.TargetHigh
}

// AutoExpose adjusts the shutter starting from current until the quick
// capture peak lands in the band.
//
// Overexposed frames scale the shutter by half the ratio of the band's low
// edge to the peak; underexposed frames by 1.1 times that ratio, with a
// minimum increment when the ratio rounds to no change. A black frame
// multiplies the shutter by 100. The search stops at the minimum shutter,
// at MaxShutterUs, or after MaxIterations captures; none of these is an
// error. Only a failing capture is.
func (c *Controller) AutoExpose(quick QuickCapture, current, minShutter int) (Result, error) {
	shutter := max(current, minShutter, 1)
	res := Result{}

	debug.Verbose("Exposure: search from %d us, band [%d,%d]", shutter, c.cfg.TargetLow, c.cfg.TargetHigh)
	for {
		if c.cfg.MaxIterations > 0 && res.Iterations >= c.cfg.MaxIterations {
			debug.Warn("Exposure: no convergence after %d captures, keeping %d us", res.Iterations, shutter)
			break
		}

		peak, err := quick(shutter)
		if err != nil {
			return res, fault.Hardware(err, "quick capture")
		}
		res.Iterations++
		res.Peak = peak
		debug.Verbose("Exposure: shutter=%d us peak=%d", shutter, peak)

		if c.InBand(peak) {
			res.Converged = true
			break
		}

		next := c.next(shutter, peak)
		if peak > c.cfg.TargetHigh && next < minShutter {
			shutter = minShutter
			res.Clamped = true
			debug.Warn("Exposure: shutter at minimum (%d us), reduce optical power", minShutter)
			break
		}
		if c.cfg.MaxShutterUs > 0 && next > c.cfg.MaxShutterUs {
			if shutter == c.cfg.MaxShutterUs {
				res.AtMaximum = true
				debug.Warn("Exposure: shutter at maximum (%d us), beam too weak", shutter)
				break
			}
			next = c.cfg.MaxShutterUs
		}
		shutter = next
	}

	res.Shutter = shutter
	res.CaptureShutter = int(float64(shutter) * c.cfg.Correction)
	debug.Verbose("Exposure: done after %d captures, shutter=%d us, capture at %d us",
		res.Iterations, res.Shutter, res.CaptureShutter)
	return res, nil
}

// next computes the shutter for the following iteration.
func (c *Controller) next(shutter, peak int) int {
	low := float64(c.cfg.TargetLow)
	switch {
	case peak > c.cfg.TargetHigh:
		return int(0.5 * float64(shutter) * low / float64(peak))
	case peak <= 0:
		return shutter * 100
	default:
		n := int(float64(shutter) * low / float64(peak) * 1.1)
		if n == shutter {
			n += 19
		}
		return n
	}
}
