package acquire

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/BeamGo/internal/fault"
	"github.com/cjeanneret/BeamGo/internal/hw/camera"
	"github.com/cjeanneret/BeamGo/internal/logic/exposure"
	"github.com/cjeanneret/BeamGo/internal/logic/geometry"
)

func smallGeometry() camera.Geometry {
	return camera.Geometry{
		WidthPx: 200, HeightPx: 150,
		WidthMm: 0.28, HeightMm: 0.21,
		MinShutterUs: 12, BayerOrder: "BGGR", BitDepth: 10,
	}
}

func newAcquisition(t *testing.T, cam camera.Camera, auto bool, shutter int) *Acquisition {
	t.Helper()
	s := Settings{Channel: camera.Red, ROI: geometry.FullSensor(0.28, 0.21), AutoExposure: auto}
	a, err := New(cam, exposure.NewController(exposure.DefaultConfig()), s, shutter)
	require.NoError(t, err)
	return a
}

func TestCapture_ManualShutter(t *testing.T) {
	cam := camera.NewSimulated(smallGeometry(), camera.Beam{WaistUm: 20, PeakCounts: 500, RefShutter: 1000}, nil)
	a := newAcquisition(t, cam, false, 1000)

	p, err := a.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1000, p.ShutterUs)
	assert.Equal(t, 1, cam.Captures())
	assert.Equal(t, 0, cam.QuickCaptures())
	assert.Equal(t, 100, p.Cropped.Width)
	assert.Equal(t, 75, p.Cropped.Height)
	assert.False(t, p.DarkSubtracted)
}

func TestCapture_AutoExposure(t *testing.T) {
	cam := camera.NewSimulated(smallGeometry(), camera.Beam{WaistUm: 20, PeakCounts: 400, RefShutter: 1000}, nil)
	a := newAcquisition(t, cam, true, 1000)

	p, err := a.Capture(context.Background())
	require.NoError(t, err)

	// 1000 us gives 400 counts, 2200 us gives 880: in band.
	last := a.LastExposure()
	assert.True(t, last.Converged)
	assert.Equal(t, 2200, a.Shutter())
	assert.Equal(t, 4840, p.ShutterUs, "raw capture uses the corrected shutter")
	assert.Equal(t, 2, cam.QuickCaptures())

	// The next search starts from the shutter found, not the corrected one.
	_, err = a.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2200, a.Shutter())
	assert.Equal(t, 3, cam.QuickCaptures())
}

func TestSetShutter_BelowMinimum(t *testing.T) {
	cam := camera.NewSimulated(smallGeometry(), camera.Beam{WaistUm: 20}, nil)
	a := newAcquisition(t, cam, false, 1000)

	err := a.SetShutter(5)
	assert.True(t, errors.Is(err, fault.ErrConfiguration))
	assert.Equal(t, 1000, a.Shutter())

	_, err = New(cam, exposure.NewController(exposure.Config{}), Settings{}, 3)
	assert.True(t, errors.Is(err, fault.ErrConfiguration))
}

func TestCaptureDarkFrame(t *testing.T) {
	cam := camera.NewSimulated(smallGeometry(), camera.Beam{WaistUm: 20, DarkCounts: 30}, nil)
	a := newAcquisition(t, cam, false, 1000)

	dark, err := a.CaptureDarkFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(30), dark.Max())
	assert.NotNil(t, a.Processor().DarkFrame())

	p, err := a.Capture(context.Background())
	require.NoError(t, err)
	assert.True(t, p.DarkSubtracted)
	assert.Equal(t, int32(0), p.Cropped.Max())
}

type brokenCamera struct {
	camera.Camera
}

func (brokenCamera) CaptureRaw(camera.Channel, int) (*camera.SensorFrame, error) {
	return nil, errors.New("mmal: no data received from sensor")
}

func TestCapture_CameraFailureIsHardwareFault(t *testing.T) {
	cam := brokenCamera{camera.NewSimulated(smallGeometry(), camera.Beam{WaistUm: 20}, nil)}
	a := newAcquisition(t, cam, false, 1000)

	_, err := a.Capture(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrHardware))
	assert.Contains(t, err.Error(), "no data received")

	_, err = a.CaptureDarkFrame(context.Background())
	assert.True(t, errors.Is(err, fault.ErrHardware))
}

func TestCapture_CanceledContext(t *testing.T) {
	cam := camera.NewSimulated(smallGeometry(), camera.Beam{WaistUm: 20}, nil)
	a := newAcquisition(t, cam, true, 1000)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Capture(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, cam.Captures()+cam.QuickCaptures())
}

func TestSetSettings(t *testing.T) {
	cam := camera.NewSimulated(smallGeometry(), camera.Beam{WaistUm: 20, PeakCounts: 300, RefShutter: 1000}, nil)
	a := newAcquisition(t, cam, false, 1000)
	a.SetSettings(Settings{Channel: camera.Green, ROI: geometry.ROI{XMin: 0.07, XMax: 0.21, YMin: 0.05, YMax: 0.16}})

	p, err := a.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, camera.Green, p.Channel)
	assert.Less(t, p.Cropped.Width, 100)
}
