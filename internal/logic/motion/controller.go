// Package motion positions the translation stage. It owns the absolute
// step counter and the homing state machine.
package motion

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/BeamGo/internal/debug"
	"github.com/cjeanneret/BeamGo/internal/fault"
	"github.com/cjeanneret/BeamGo/internal/hw/stepper"
	"github.com/cjeanneret/BeamGo/internal/logic/geometry"
)

// State of the motion controller.
type State int32

const (
	Uncalibrated State = iota
	Idle
	Moving
	Homing
)

func (s State) String() string {
	switch s {
	case Uncalibrated:
		return "uncalibrated"
	case Idle:
		return "idle"
	case Moving:
		return "moving"
	case Homing:
		return "homing"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// ErrNotCalibrated is returned by SetPosition before the first homing.
var ErrNotCalibrated = errors.New("stage not calibrated")

// Actuator is the pulse-level interface of the stage motor.
// *stepper.Stepper implements it.
type Actuator interface {
	Burst(n int, dir stepper.Direction) (int, error)
	Pulse() error
	SetDirection(dir stepper.Direction) error
	Enable() error
	Disable() error
	LimitAsserted() (bool, error)
	PulsePeriod() time.Duration
}

// Controller is an intermediate layer between business logic (scans) and
// the motor driver. Position queries never block; motion commands are
// serialized.
type Controller struct {
	motor         Actuator
	screw         *geometry.LeadScrew
	homingTimeout time.Duration

	mu       sync.Mutex // held for the duration of a motion command
	travelMm float64    // 0 = no upper limit
	state atomic.Int32
	steps atomic.Int64 // position relative to home, in steps
}

// NewController creates a controller in the Uncalibrated state.
// homingTimeout bounds the homing move: it is converted to a pulse budget
// at the motor's pulse period.
func NewController(motor Actuator, screw *geometry.LeadScrew, homingTimeout time.Duration) *Controller {
	c := &Controller{
		motor:         motor,
		screw:         screw,
		homingTimeout: homingTimeout,
	}
	c.state.Store(int32(Uncalibrated))
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) setState(s State) {
	debug.Trace("Motion: state -> %s", s)
	c.state.Store(int32(s))
}

// Steps returns the absolute step counter.
func (c *Controller) Steps() int {
	return int(c.steps.Load())
}

// Position returns the stage position in mm.
func (c *Controller) Position() float64 {
	return c.screw.MmFromSteps(c.Steps())
}

// StepMm returns the travel of a single step.
func (c *Controller) StepMm() float64 {
	return c.screw.StepMm()
}

// Calibrate drives the stage backward until the limit switch asserts, then
// zeroes the step counter. If the switch is not reached within the homing
// budget the controller returns to Idle with a hardware fault; it is not
// retried. Cancelling ctx aborts the move and leaves the stage
// Uncalibrated, since the carriage is then at an unknown position.
func (c *Controller) Calibrate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	budget := geometry.StepsForDuration(c.homingTimeout.Seconds(), c.motor.PulsePeriod().Seconds())
	debug.Info("Homing: up to %d pulses (%v)", budget, c.homingTimeout)
	c.setState(Homing)

	if err := c.motor.Enable(); err != nil {
		c.setState(Idle)
		return fault.Hardware(err, "calibrate: enable driver")
	}
	defer func() { _ = c.motor.Disable() }()

	if err := c.motor.SetDirection(stepper.Backward); err != nil {
		c.setState(Idle)
		return fault.Hardware(err, "calibrate: set direction")
	}

	for i := 0; i <= budget; i++ {
		pressed, err := c.motor.LimitAsserted()
		if err != nil {
			c.setState(Idle)
			return fault.Hardware(err, "calibrate: read limit switch")
		}
		if pressed {
			c.steps.Store(0)
			c.setState(Idle)
			debug.Info("Homing: limit switch reached after %d pulses", i)
			return nil
		}
		if i == budget {
			break
		}
		if err := ctx.Err(); err != nil {
			c.setState(Uncalibrated)
			return fmt.Errorf("calibrate: %w", err)
		}
		if err := c.motor.Pulse(); err != nil {
			c.setState(Idle)
			return fault.Hardware(err, "calibrate: step pulse")
		}
	}

	c.setState(Idle)
	return fault.Hardwaref("calibrate: limit switch not reached after %d pulses (%v)", budget, c.homingTimeout)
}

// SetTravel sets the usable travel from home. SetPosition rejects targets
// beyond it; 0 removes the limit.
func (c *Controller) SetTravel(mm float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.travelMm = mm
}

// SetPosition moves the stage to targetMm, rounded to the nearest step.
// A target that rounds to the current step issues no pulses. Targets behind
// the home switch or beyond the travel are rejected without moving.
func (c *Controller) SetPosition(targetMm float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() == Uncalibrated {
		return fmt.Errorf("set position %.4f mm: %w", targetMm, ErrNotCalibrated)
	}
	if math.IsNaN(targetMm) || math.IsInf(targetMm, 0) {
		return fault.Configf("set position: target %g mm is not finite", targetMm)
	}

	target := c.screw.StepsFromMm(targetMm)
	if target < 0 {
		return fault.Configf("set position: %.4f mm is behind the home switch", targetMm)
	}
	if c.travelMm > 0 && target > c.screw.StepsFromMm(c.travelMm) {
		return fault.Configf("set position: %.4f mm is beyond the %g mm travel", targetMm, c.travelMm)
	}
	delta := target - c.Steps()
	if delta == 0 {
		debug.Trace("Motion: already at %.4f mm", targetMm)
		return nil
	}

	dir := stepper.Forward
	n := delta
	if delta < 0 {
		dir = stepper.Backward
		n = -delta
	}
	debug.Live("Motion: %.4f mm -> %.4f mm (%d steps %s)", c.Position(), targetMm, n, dir)
	return c.doSteps(n, dir)
}

// DoSteps issues exactly n pulses in dir and updates the step counter by
// the pulses actually issued. It is allowed before calibration (manual
// jog); the state is restored afterwards.
func (c *Controller) DoSteps(n int, dir stepper.Direction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doSteps(n, dir)
}

func (c *Controller) doSteps(n int, dir stepper.Direction) error {
	if n <= 0 {
		return nil
	}
	prev := c.State()
	c.setState(Moving)
	issued, err := c.motor.Burst(n, dir)
	if dir == stepper.Backward {
		issued = -issued
	}
	c.steps.Add(int64(issued))
	c.setState(prev)
	if err != nil {
		return fault.Hardware(err, fmt.Sprintf("move %d steps %s", n, dir))
	}
	return nil
}
