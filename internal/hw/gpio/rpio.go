package gpio

import (
	"fmt"
	"sync"

	"github.com/stianeikeland/go-rpio/v4"

	"github.com/cjeanneret/BeamGo/internal/debug"
)

// maxBCMPin is the highest BCM line on the 40-pin header.
const maxBCMPin = 27

// RPiDriver drives the stage lines through /dev/gpiomem with go-rpio.
// Pins must be configured with SetupPin before use: writing to a line
// configured as an input (the limit switch) is an error rather than an
// implicit mode change.
type RPiDriver struct {
	mu   sync.Mutex
	pins map[int]rpiPin
}

type rpiPin struct {
	pin  rpio.Pin
	mode PinMode
}

// NewRPiRealDriver maps the GPIO registers. It requires a Raspberry Pi with
// access to /dev/gpiomem, or root.
func NewRPiRealDriver() (*RPiDriver, error) {
	debug.Info("Initializing real GPIO driver (go-rpio)")
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("open GPIO: %w (is this a Raspberry Pi?)", err)
	}
	debug.Verbose("GPIO memory mapped")
	return &RPiDriver{pins: make(map[int]rpiPin)}, nil
}

func checkPin(pin int) error {
	if pin < 0 || pin > maxBCMPin {
		return fmt.Errorf("BCM pin %d out of range 0-%d", pin, maxBCMPin)
	}
	return nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	if err := checkPin(pin); err != nil {
		return err
	}
	p := rpio.Pin(pin)
	switch mode {
	case Input:
		p.Input()
		p.PullOff()
	case InputPullUp:
		p.Input()
		p.PullUp()
	case Output:
		p.Output()
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}

	r.mu.Lock()
	r.pins[pin] = rpiPin{pin: p, mode: mode}
	r.mu.Unlock()
	return nil
}

func (r *RPiDriver) lookup(pin int) (rpiPin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pins[pin]
	if !ok {
		return rpiPin{}, fmt.Errorf("pin %d used before SetupPin", pin)
	}
	return p, nil
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	p, err := r.lookup(pin)
	if err != nil {
		return err
	}
	if p.mode != Output {
		return fmt.Errorf("pin %d is an input, refusing to drive it", pin)
	}
	if level == High {
		p.pin.High()
	} else {
		p.pin.Low()
	}
	return nil
}

func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	p, err := r.lookup(pin)
	if err != nil {
		return Low, err
	}
	level := Level(p.pin.Read() == rpio.High)
	debug.GPIO("ReadPin", pin, level)
	return level, nil
}

// Close parks the STEP/DIR outputs low, then releases every line as a
// floating input.
func (r *RPiDriver) Close() error {
	debug.Trace("GPIO Close (real driver)")
	r.mu.Lock()
	defer r.mu.Unlock()
	for pin, p := range r.pins {
		if p.mode == Output {
			p.pin.Low()
		}
		debug.Verbose("Releasing pin %d", pin)
		p.pin.Input()
		p.pin.PullOff()
	}
	r.pins = map[int]rpiPin{}
	return rpio.Close()
}
