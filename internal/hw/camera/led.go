package camera

import (
	"github.com/cjeanneret/BeamGo/internal/debug"
	"github.com/cjeanneret/BeamGo/internal/hw/gpio"
)

// LED drives the camera board's status LED line. The LED is switched off
// at startup: its light would otherwise reach the sensor and bias every
// frame of a low-power beam.
type LED struct {
	gpio gpio.Driver
	pin  int
}

// NewLED configures pin as an output and turns the LED off.
// A pin of 0 yields a no-op LED.
func NewLED(g gpio.Driver, pin int) (*LED, error) {
	l := &LED{gpio: g, pin: pin}
	if pin <= 0 {
		return l, nil
	}
	if err := g.SetupPin(pin, gpio.Output); err != nil {
		return nil, err
	}
	if err := l.Off(); err != nil {
		return nil, err
	}
	return l, nil
}

// On lights the LED.
func (l *LED) On() error {
	if l.pin <= 0 {
		return nil
	}
	debug.Verbose("Camera: LED on (pin %d -> HIGH)", l.pin)
	return l.gpio.WritePin(l.pin, gpio.High)
}

// Off switches the LED off.
func (l *LED) Off() error {
	if l.pin <= 0 {
		return nil
	}
	debug.Verbose("Camera: LED off (pin %d -> LOW)", l.pin)
	return l.gpio.WritePin(l.pin, gpio.Low)
}
