package stepper

import (
	"fmt"
	"time"

	"github.com/cjeanneret/BeamGo/internal/debug"
	"github.com/cjeanneret/BeamGo/internal/hw/gpio"
)

// Direction of travel along the stage axis.
type Direction int

const (
	Forward  Direction = iota // away from the motor / limit switch
	Backward                  // toward the limit switch (home)
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// Config holds the hardware configuration for the stage motor.
type Config struct {
	StepPin         int
	DirPin          int
	EnablePin       int // A4988 ENABLE pin (BCM). 0 = not used. Active LOW (LOW=enabled).
	SwitchPin       int // limit switch input
	SwitchActiveLow bool
	InvertDir       bool          // forward is DIR LOW unless inverted
	StepDelay       time.Duration // delay per half-cycle of STEP pulse. Total step = 2*StepDelay.
}

// Stepper drives the STEP/DIR/ENABLE lines of a stepper driver and reads
// the homing limit switch. It does not track position; that belongs to the
// motion controller, which counts the pulses reported here.
type Stepper struct {
	gpio  gpio.Driver
	cfg   Config
	delay time.Duration // delay between STEP pulse half-cycles
}

// NewStepper creates a new stepper motor driver.
// cfg.StepDelay: if 0, defaults to 500us (1ms pulse period, the fastest
// repeatable rate of the reference stage).
func NewStepper(g gpio.Driver, cfg Config) *Stepper {
	_ = g.SetupPin(cfg.StepPin, gpio.Output)
	_ = g.SetupPin(cfg.DirPin, gpio.Output)
	_ = g.WritePin(cfg.StepPin, gpio.Low)
	if cfg.SwitchPin > 0 {
		_ = g.SetupPin(cfg.SwitchPin, gpio.InputPullUp)
	}

	delay := cfg.StepDelay
	if delay <= 0 {
		delay = 500 * time.Microsecond
	}

	s := &Stepper{
		gpio:  g,
		cfg:   cfg,
		delay: delay,
	}

	// A4988 ENABLE: active LOW. Start disabled; bursts enable the driver.
	if cfg.EnablePin > 0 {
		_ = g.SetupPin(cfg.EnablePin, gpio.Output)
		_ = g.WritePin(cfg.EnablePin, gpio.High)
	}

	return s
}

// PulsePeriod returns the duration of one full STEP pulse.
func (s *Stepper) PulsePeriod() time.Duration {
	return 2 * s.delay
}

// ForwardLevel returns the DIR level that moves the carriage forward.
func (s *Stepper) ForwardLevel() gpio.Level {
	return gpio.Level(s.cfg.InvertDir)
}

// SetDirection sets the DIR line. Called once before a burst.
func (s *Stepper) SetDirection(dir Direction) error {
	level := s.ForwardLevel()
	if dir == Backward {
		level = !level
	}
	return s.gpio.WritePin(s.cfg.DirPin, level)
}

// Pulse issues a single rising-then-falling edge on the STEP line.
func (s *Stepper) Pulse() error {
	if err := s.gpio.WritePin(s.cfg.StepPin, gpio.High); err != nil {
		return err
	}
	time.Sleep(s.delay)
	if err := s.gpio.WritePin(s.cfg.StepPin, gpio.Low); err != nil {
		return err
	}
	time.Sleep(s.delay)
	return nil
}

// Burst enables the driver, sets the direction and issues n pulses, then
// disables the driver again so the coils do not heat between moves.
// It returns the number of pulses actually issued, which is less than n
// only when an error is returned.
func (s *Stepper) Burst(n int, dir Direction) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	debug.Move(n, dir.String())

	if err := s.Enable(); err != nil {
		return 0, err
	}
	issued, err := s.burst(n, dir)
	if derr := s.Disable(); derr != nil && err == nil {
		err = derr
	}
	return issued, err
}

func (s *Stepper) burst(n int, dir Direction) (int, error) {
	if err := s.SetDirection(dir); err != nil {
		return 0, err
	}
	for i := 0; i < n; i++ {
		if err := s.Pulse(); err != nil {
			return i, fmt.Errorf("step pulse %d/%d: %w", i+1, n, err)
		}
	}
	return n, nil
}

// LimitAsserted reports whether the homing switch is pressed.
func (s *Stepper) LimitAsserted() (bool, error) {
	if s.cfg.SwitchPin <= 0 {
		return false, fmt.Errorf("no limit switch pin configured")
	}
	level, err := s.gpio.ReadPin(s.cfg.SwitchPin)
	if err != nil {
		return false, err
	}
	if s.cfg.SwitchActiveLow {
		return level == gpio.Low, nil
	}
	return level == gpio.High, nil
}

// Enable turns on the motor driver (A4988 ENABLE=LOW). Motors hold position.
func (s *Stepper) Enable() error {
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	return s.gpio.WritePin(s.cfg.EnablePin, gpio.Low)
}

// Disable turns off the motor driver (A4988 ENABLE=HIGH). Motors freewheel, no holding torque.
func (s *Stepper) Disable() error {
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	return s.gpio.WritePin(s.cfg.EnablePin, gpio.High)
}
