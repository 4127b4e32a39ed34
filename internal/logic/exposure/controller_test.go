package exposure

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/BeamGo/internal/fault"
)

// scriptedCapture returns the peaks in order and records requested shutters.
type scriptedCapture struct {
	peaks    []int
	shutters []int
}

func (s *scriptedCapture) capture(shutterUs int) (int, error) {
	s.shutters = append(s.shutters, shutterUs)
	i := len(s.shutters) - 1
	if i >= len(s.peaks) {
		i = len(s.peaks) - 1
	}
	return s.peaks[i], nil
}

// linearSensor models a peak proportional to shutter, saturating at 1023.
func linearSensor(countsPerUs float64) QuickCapture {
	return func(shutterUs int) (int, error) {
		return min(1023, int(countsPerUs*float64(shutterUs))), nil
	}
}

func TestAutoExpose_DarkFrameMultipliesBy100(t *testing.T) {
	sc := &scriptedCapture{peaks: []int{0, 900}}
	c := NewController(DefaultConfig())

	res, err := c.AutoExpose(sc.capture, 100, 12)
	require.NoError(t, err)

	assert.Equal(t, []int{100, 10000}, sc.shutters)
	assert.Equal(t, 10000, res.Shutter)
	assert.Equal(t, 22000, res.CaptureShutter)
	assert.True(t, res.Converged)
	assert.Equal(t, 2, res.Iterations)
}

func TestAutoExpose_SaturatedClampsAtMinimum(t *testing.T) {
	sc := &scriptedCapture{peaks: []int{1023}}
	c := NewController(DefaultConfig())

	res, err := c.AutoExpose(sc.capture, 100, 12)
	require.NoError(t, err)

	// 100 -> int(0.5*100*800/1023)=39 -> 15 -> 5 < 12: clamp.
	assert.Equal(t, []int{100, 39, 15}, sc.shutters)
	assert.Equal(t, 12, res.Shutter, "clamped search must return exactly the minimum shutter")
	assert.Equal(t, 26, res.CaptureShutter) // int(12 * 2.2)
	assert.True(t, res.Clamped)
	assert.False(t, res.Converged)
}

func TestAutoExpose_OverexposedHalvesProportionally(t *testing.T) {
	sc := &scriptedCapture{peaks: []int{1000, 850}}
	c := NewController(DefaultConfig())

	res, err := c.AutoExpose(sc.capture, 10000, 12)
	require.NoError(t, err)
	assert.Equal(t, []int{10000, 4000}, sc.shutters)
	assert.Equal(t, 4000, res.Shutter)
}

func TestAutoExpose_UnderexposedScalesUp(t *testing.T) {
	sc := &scriptedCapture{peaks: []int{400, 880}}
	c := NewController(DefaultConfig())

	res, err := c.AutoExpose(sc.capture, 1000, 12)
	require.NoError(t, err)
	// 1000 * 800/400 * 1.1 = 2200
	assert.Equal(t, []int{1000, 2200}, sc.shutters)
	assert.Equal(t, 2200, res.Shutter)
	assert.Equal(t, 880, res.Peak)
}

func TestAutoExpose_SmallIncrementForced(t *testing.T) {
	c := NewController(Config{TargetLow: 100, TargetHigh: 200, Correction: 1})
	sc := &scriptedCapture{peaks: []int{99, 150}}

	res, err := c.AutoExpose(sc.capture, 5, 1)
	require.NoError(t, err)
	// int(5 * 100/99 * 1.1) = 5 -> +19
	assert.Equal(t, []int{5, 24}, sc.shutters)
	assert.Equal(t, 24, res.Shutter)
}

func TestAutoExpose_AlreadyInBand(t *testing.T) {
	sc := &scriptedCapture{peaks: []int{800}}
	res, err := NewController(DefaultConfig()).AutoExpose(sc.capture, 5000, 12)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, 5000, res.Shutter)
	assert.True(t, res.Converged)
}

func TestAutoExpose_ConvergesOnLinearSensor(t *testing.T) {
	c := NewController(DefaultConfig())
	res, err := c.AutoExpose(linearSensor(0.05), 20000, 12)
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.True(t, c.InBand(int(0.05*float64(res.Shutter))))
}

func TestAutoExpose_IterationCap(t *testing.T) {
	// Alternates above and below the band forever.
	flip := 0
	oscillating := func(int) (int, error) {
		flip++
		if flip%2 == 0 {
			return 1000, nil
		}
		return 700, nil
	}
	cfg := DefaultConfig()
	cfg.MaxIterations = 7
	res, err := NewController(cfg).AutoExpose(oscillating, 20000, 12)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Iterations)
	assert.False(t, res.Converged)
	assert.False(t, res.Clamped)
}

func TestAutoExpose_MaximumShutter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxShutterUs = 50000
	sc := &scriptedCapture{peaks: []int{0}}

	res, err := NewController(cfg).AutoExpose(sc.capture, 1000, 12)
	require.NoError(t, err)
	assert.Equal(t, []int{1000, 50000}, sc.shutters)
	assert.True(t, res.AtMaximum)
	assert.Equal(t, 50000, res.Shutter)
}

func TestAutoExpose_StartBelowMinimum(t *testing.T) {
	sc := &scriptedCapture{peaks: []int{900}}
	res, err := NewController(DefaultConfig()).AutoExpose(sc.capture, 3, 12)
	require.NoError(t, err)
	assert.Equal(t, []int{12}, sc.shutters)
	assert.Equal(t, 12, res.Shutter)
}

func TestAutoExpose_CaptureFailureIsHardwareFault(t *testing.T) {
	failing := func(int) (int, error) { return 0, errors.New("mmal timeout") }
	_, err := NewController(DefaultConfig()).AutoExpose(failing, 1000, 12)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrHardware))
	assert.Contains(t, err.Error(), "mmal timeout")
}

func TestNewController_Defaults(t *testing.T) {
	c := NewController(Config{})
	assert.Equal(t, 800, c.Config().TargetLow)
	assert.Equal(t, 950, c.Config().TargetHigh)
	assert.Equal(t, 2.2, c.Config().Correction)
	assert.Equal(t, 0, c.Config().MaxIterations)
}
