package scan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/BeamGo/internal/hw/camera"
	"github.com/cjeanneret/BeamGo/internal/hw/gpio"
	"github.com/cjeanneret/BeamGo/internal/hw/stepper"
	"github.com/cjeanneret/BeamGo/internal/logic/acquire"
	"github.com/cjeanneret/BeamGo/internal/logic/exposure"
	"github.com/cjeanneret/BeamGo/internal/logic/fit"
	"github.com/cjeanneret/BeamGo/internal/logic/geometry"
	"github.com/cjeanneret/BeamGo/internal/logic/motion"
	"github.com/cjeanneret/BeamGo/internal/store"
)

// TestRun_SimulatedInstrument scans a simulated beam through its focus with
// the real motion, capture and fit stack.
func TestRun_SimulatedInstrument(t *testing.T) {
	ctx := context.Background()
	drv := gpio.NewSimulatedStage(gpio.SimStageConfig{
		StepPin: 17, DirPin: 27, SwitchPin: 11,
		ForwardLevel: gpio.Low, SwitchActiveLow: true, StartSteps: 40,
	})
	motor := stepper.NewStepper(drv, stepper.Config{
		StepPin: 17, DirPin: 27, EnablePin: 22, SwitchPin: 11,
		SwitchActiveLow: true, StepDelay: time.Microsecond,
	})
	mc := motion.NewController(motor, geometry.NewLeadScrewStep(0.00125), time.Second)
	mc.SetTravel(25)
	require.NoError(t, mc.Calibrate(ctx))

	geom := camera.Geometry{
		WidthPx: 200, HeightPx: 150, WidthMm: 0.28, HeightMm: 0.21,
		MinShutterUs: 12, BayerOrder: "BGGR", BitDepth: 10,
	}
	beam := camera.Beam{WaistUm: 20, RayleighMm: 0.5, FocusMm: 1, PeakCounts: 800, RefShutter: 1000}
	cam := camera.NewSimulated(geom, beam, mc.Position)
	acq, err := acquire.New(cam, exposure.NewController(exposure.DefaultConfig()),
		acquire.Settings{Channel: camera.Red, ROI: geometry.FullSensor(geom.WidthMm, geom.HeightMm)}, 1000)
	require.NoError(t, err)

	rec, err := store.NewRecorder(t.TempDir())
	require.NoError(t, err)
	o := New(mc, acq, Options{TravelMm: 25, Saver: rec})

	res, err := o.Run(ctx, Params{StartMm: 0, StopMm: 2, StepMm: 0.1, SaveEachImage: true})
	require.NoError(t, err)
	require.Len(t, res.Points, 21)
	assert.Equal(t, 21, res.Saved)
	assert.InDelta(t, 2.0, mc.Position(), 1e-9)
	assert.Equal(t, 1600, drv.Steps())

	for _, pt := range res.Points {
		assert.False(t, pt.FallbackX || pt.FallbackY, "fallback fit at %.2f mm", pt.PositionMm)
	}
	for name, f := range map[string]fit.Focus{"x": res.FocusX, "y": res.FocusY} {
		require.True(t, f.Valid, "%s: %v", name, f.Err)
		assert.InDelta(t, 1.0, f.Params.FocusMm, 0.02, name)
		assert.InEpsilon(t, 20, f.Params.Waist, 0.05, name)
		assert.InEpsilon(t, 0.5, f.Params.RayleighMm, 0.05, name)
	}
}
