package gpio

import "sync"

// SimStageConfig wires a SimulatedStage to the stepper's pins.
type SimStageConfig struct {
	StepPin         int
	DirPin          int
	SwitchPin       int
	ForwardLevel    Level // DIR level that moves the carriage away from home
	SwitchActiveLow bool
	StartSteps      int // carriage offset from the limit switch at power-up
}

// SimulatedStage is a Driver that behaves like a translation stage with a
// limit switch at step 0. Every rising edge on the STEP pin moves the
// carriage one step in the direction given by the DIR pin; the switch
// input asserts while the carriage is at or behind home.
type SimulatedStage struct {
	MockDriver

	cfg      SimStageConfig
	mu       sync.Mutex
	steps    int
	stepHigh bool
	pulses   int
}

// NewSimulatedStage creates a simulated stage backend.
func NewSimulatedStage(cfg SimStageConfig) *SimulatedStage {
	return &SimulatedStage{cfg: cfg, steps: cfg.StartSteps}
}

// WritePin records the level and moves the carriage one step on each
// rising edge of the STEP pin, forward when DIR is at ForwardLevel.
func (s *SimulatedStage) WritePin(pin int, level Level) error {
	if err := s.MockDriver.WritePin(pin, level); err != nil {
		return err
	}
	if pin != s.cfg.StepPin {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rising := level == High && !s.stepHigh
	s.stepHigh = level == High
	if !rising {
		return nil
	}
	s.pulses++
	dir, _ := s.MockDriver.ReadPin(s.cfg.DirPin)
	if dir == s.cfg.ForwardLevel {
		s.steps++
	} else {
		s.steps--
	}
	return nil
}

// ReadPin reports the limit switch as asserted while the carriage is at or
// behind home. Other pins read back like a MockDriver.
func (s *SimulatedStage) ReadPin(pin int) (Level, error) {
	if pin != s.cfg.SwitchPin {
		return s.MockDriver.ReadPin(pin)
	}
	s.mu.Lock()
	pressed := s.steps <= 0
	s.mu.Unlock()
	if s.cfg.SwitchActiveLow {
		return Level(!pressed), nil
	}
	return Level(pressed), nil
}

// Steps returns the true carriage offset from the switch, in steps.
func (s *SimulatedStage) Steps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.steps
}

// Pulses returns the number of STEP rising edges seen so far.
func (s *SimulatedStage) Pulses() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pulses
}
