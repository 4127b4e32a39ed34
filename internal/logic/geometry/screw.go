package geometry

import (
	"math"

	"github.com/cjeanneret/BeamGo/internal/config"
)

// LeadScrew converts stage travel to motor step counts.
type LeadScrew struct {
	stepMm float64
}

// NewLeadScrew creates a step calculator from configuration.
func NewLeadScrew(cfg *config.Config) *LeadScrew {
	// Microsteps per revolution over the screw pitch
	return &LeadScrew{stepMm: cfg.StepLengthMm()}
}

// NewLeadScrewStep creates a calculator for a known travel per step.
func NewLeadScrewStep(stepMm float64) *LeadScrew {
	return &LeadScrew{stepMm: stepMm}
}

// StepMm returns the travel produced by one step pulse.
func (l *LeadScrew) StepMm() float64 {
	return l.stepMm
}

// StepsFromMm converts an absolute stage position (mm) to the nearest
// whole step count.
func (l *LeadScrew) StepsFromMm(mm float64) int {
	return int(math.Round(mm / l.stepMm))
}

// MmFromSteps converts a step count back to millimetres.
func (l *LeadScrew) MmFromSteps(steps int) float64 {
	return float64(steps) * l.stepMm
}

// StepsForDuration returns how many pulses fit into seconds at the given
// pulse period. Used to bound the homing move.
func StepsForDuration(seconds, periodSeconds float64) int {
	if periodSeconds <= 0 {
		return 0
	}
	return int(math.Floor(seconds/periodSeconds + 1e-9))
}
