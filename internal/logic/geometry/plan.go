package geometry

import (
	"math"

	"github.com/cjeanneret/BeamGo/internal/fault"
)

// MaxPoints bounds the number of positions of one sweep.
const MaxPoints = 100000

// ScanPlan is the ordered list of stage positions visited by one sweep.
type ScanPlan struct {
	StartMm   float64
	StopMm    float64
	StepMm    float64
	Positions []float64 // start, start+step, ... ; last may overshoot stop
}

// Points returns the number of positions in the plan.
func (p *ScanPlan) Points() int {
	return len(p.Positions)
}

// LastMm returns the final planned position.
func (p *ScanPlan) LastMm() float64 {
	if len(p.Positions) == 0 {
		return p.StartMm
	}
	return p.Positions[len(p.Positions)-1]
}

// PlanScan computes the positions start, start+step, ... below stop+step.
// The upper bound is exclusive, so the sweep ends at the first position at
// or beyond stop and may overshoot it by up to one step.
func PlanScan(start, stop, step float64) (*ScanPlan, error) {
	for _, v := range []float64{start, stop, step} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fault.Configf("scan bounds must be finite: start=%g stop=%g step=%g", start, stop, step)
		}
	}
	if step <= 0 {
		return nil, fault.Configf("scan step must be > 0, got %g", step)
	}
	if stop < start {
		return nil, fault.Configf("scan stop %g mm is before start %g mm", stop, start)
	}

	// Count the way a half-open range generator does, tolerating float noise
	// so that e.g. 0..1 by 0.5 yields exactly three points.
	count := math.Ceil((stop+step-start)/step - nudge)
	if count > MaxPoints {
		return nil, fault.Configf("scan of %g..%g mm by %g mm exceeds %d points", start, stop, step, MaxPoints)
	}
	n := int(count)
	positions := make([]float64, n)
	for i := range positions {
		positions[i] = start + float64(i)*step
	}

	return &ScanPlan{
		StartMm:   start,
		StopMm:    stop,
		StepMm:    step,
		Positions: positions,
	}, nil
}

// CheckTravel rejects a plan visiting a position outside the stage's
// [0, travel] range, including the overshoot of the last point past stop.
// A travel of 0 disables the check.
func (p *ScanPlan) CheckTravel(travelMm float64) error {
	if travelMm <= 0 {
		return nil
	}
	if p.StartMm < 0 {
		return fault.Configf("scan start %g mm is behind the home switch", p.StartMm)
	}
	if last := p.LastMm(); last > travelMm+nudge {
		return fault.Configf("scan ends at %g mm, beyond the %g mm stage travel", last, travelMm)
	}
	return nil
}

// CheckResolution rejects a plan whose step is finer than one motor step
// of stepMm. A stepMm of 0 disables the check.
func (p *ScanPlan) CheckResolution(stepMm float64) error {
	if stepMm <= 0 {
		return nil
	}
	if p.StepMm < stepMm*(1-nudge) {
		return fault.Configf("scan step %g mm is finer than the %g mm motor step", p.StepMm, stepMm)
	}
	return nil
}
