// Package fault defines the error taxonomy shared by the acquisition,
// motion and fitting layers.
//
// Configuration errors abort the current operation and are reported to the
// caller. Hardware faults are reported and never retried automatically.
// Non-convergence is recovered locally by the fitters and only surfaces as a
// diagnostic cause attached to a fallback result.
package fault

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks malformed settings: ROI, channel, scan bounds.
	ErrConfiguration = errors.New("configuration error")

	// ErrHardware marks an actuator or sensor failure: homing timeout,
	// capture failure, GPIO write failure.
	ErrHardware = errors.New("hardware fault")

	// ErrNonConvergence marks a least-squares fit that did not converge.
	ErrNonConvergence = errors.New("fit did not converge")
)

// Configf returns an error wrapping ErrConfiguration.
func Configf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// Hardwaref returns an error wrapping ErrHardware.
func Hardwaref(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrHardware, fmt.Sprintf(format, args...))
}

// Hardware wraps err as a hardware fault. Errors already classified as
// hardware faults are returned with the added context only.
func Hardware(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrHardware) {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrHardware, msg, err)
}

// NonConvergencef returns an error wrapping ErrNonConvergence.
func NonConvergencef(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNonConvergence, fmt.Sprintf(format, args...))
}
