package gpio

import "testing"

func TestMockDriver_ReadsBackWrites(t *testing.T) {
	m := &MockDriver{}
	if err := m.WritePin(17, High); err != nil {
		t.Fatalf("WritePin: %v", err)
	}
	got, err := m.ReadPin(17)
	if err != nil {
		t.Fatalf("ReadPin: %v", err)
	}
	if got != High {
		t.Errorf("ReadPin(17) = %v, want High", got)
	}
}

func TestMockDriver_PullUpIdlesHigh(t *testing.T) {
	m := &MockDriver{}
	_ = m.SetupPin(11, InputPullUp)
	_ = m.SetupPin(12, Input)

	if got, _ := m.ReadPin(11); got != High {
		t.Errorf("pull-up input should idle High, got %v", got)
	}
	if got, _ := m.ReadPin(12); got != Low {
		t.Errorf("plain input should idle Low, got %v", got)
	}

	m.SetInput(11, Low)
	if got, _ := m.ReadPin(11); got != Low {
		t.Errorf("SetInput should override level, got %v", got)
	}
}

func TestMockDriver_ImplementsDriver(t *testing.T) {
	var _ Driver = &MockDriver{}
	var _ Driver = &SimulatedStage{}
}

func newSimStage(start int) *SimulatedStage {
	return NewSimulatedStage(SimStageConfig{
		StepPin:         17,
		DirPin:          27,
		SwitchPin:       11,
		ForwardLevel:    Low,
		SwitchActiveLow: true,
		StartSteps:      start,
	})
}

func pulse(t *testing.T, d Driver, pin, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := d.WritePin(pin, High); err != nil {
			t.Fatal(err)
		}
		if err := d.WritePin(pin, Low); err != nil {
			t.Fatal(err)
		}
	}
}

func TestSimulatedStage_CountsRisingEdges(t *testing.T) {
	s := newSimStage(10)

	_ = s.WritePin(27, Low) // forward
	pulse(t, s, 17, 5)
	if s.Steps() != 15 {
		t.Errorf("after 5 forward pulses steps = %d, want 15", s.Steps())
	}

	_ = s.WritePin(27, High) // backward
	pulse(t, s, 17, 3)
	if s.Steps() != 12 {
		t.Errorf("after 3 backward pulses steps = %d, want 12", s.Steps())
	}
	if s.Pulses() != 8 {
		t.Errorf("pulses = %d, want 8", s.Pulses())
	}
}

func TestSimulatedStage_RepeatedHighIsOneEdge(t *testing.T) {
	s := newSimStage(0)
	_ = s.WritePin(27, Low)
	_ = s.WritePin(17, High)
	_ = s.WritePin(17, High)
	if s.Pulses() != 1 {
		t.Errorf("two consecutive High writes should count as one edge, got %d", s.Pulses())
	}
}

func TestSimulatedStage_SwitchAssertsAtHome(t *testing.T) {
	s := newSimStage(2)

	if lvl, _ := s.ReadPin(11); lvl != High {
		t.Fatalf("switch should be released (High) away from home, got %v", lvl)
	}

	_ = s.WritePin(27, High) // backward
	pulse(t, s, 17, 2)
	if lvl, _ := s.ReadPin(11); lvl != Low {
		t.Errorf("switch should assert (Low) at home, got %v", lvl)
	}
}

func TestSimulatedStage_ActiveHighSwitch(t *testing.T) {
	s := NewSimulatedStage(SimStageConfig{StepPin: 1, DirPin: 2, SwitchPin: 3, StartSteps: 0})
	if lvl, _ := s.ReadPin(3); lvl != High {
		t.Errorf("active-high switch at home should read High, got %v", lvl)
	}
}

func TestCheckPin(t *testing.T) {
	for _, pin := range []int{0, 17, 27} {
		if err := checkPin(pin); err != nil {
			t.Errorf("checkPin(%d) = %v, want nil", pin, err)
		}
	}
	for _, pin := range []int{-1, 28, 40} {
		if err := checkPin(pin); err == nil {
			t.Errorf("checkPin(%d) = nil, want error", pin)
		}
	}
}

func TestRPiDriver_UnconfiguredPin(t *testing.T) {
	r := &RPiDriver{pins: map[int]rpiPin{}}
	if err := r.WritePin(17, High); err == nil {
		t.Error("WritePin before SetupPin should fail")
	}
	if _, err := r.ReadPin(11); err == nil {
		t.Error("ReadPin before SetupPin should fail")
	}
}
