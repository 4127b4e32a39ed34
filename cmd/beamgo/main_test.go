package main

import (
	"math"
	"strings"
	"testing"

	"github.com/cjeanneret/BeamGo/internal/config"
	"github.com/cjeanneret/BeamGo/internal/hw/camera"
	"github.com/cjeanneret/BeamGo/internal/hw/gpio"
	"github.com/cjeanneret/BeamGo/internal/logic/fit"
)

func mustConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return cfg
}

// ---------- validateCLIOverrides ----------

func TestValidateCLIOverrides_AllZero(t *testing.T) {
	if err := validateCLIOverrides(overrides{}); err != nil {
		t.Errorf("all zeros should be valid (use config defaults), got: %v", err)
	}
}

func TestValidateCLIOverrides_Valid(t *testing.T) {
	cases := []struct {
		name string
		o    overrides
	}{
		{"start_only", overrides{StartMm: 5}},
		{"stop_only", overrides{StopMm: 20}},
		{"step_only", overrides{StepMm: 0.01}},
		{"full_sweep", overrides{StartMm: 2, StopMm: 18, StepMm: 0.2}},
		{"single_point", overrides{StartMm: 3, StopMm: 3}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := validateCLIOverrides(tc.o); err != nil {
				t.Errorf("expected valid, got: %v", err)
			}
		})
	}
}

func TestValidateCLIOverrides_Invalid(t *testing.T) {
	cases := []struct {
		name string
		o    overrides
	}{
		{"start_negative", overrides{StartMm: -1}},
		{"stop_negative", overrides{StopMm: -1}},
		{"step_negative", overrides{StepMm: -0.1}},
		{"start_NaN", overrides{StartMm: math.NaN()}},
		{"stop_+Inf", overrides{StopMm: math.Inf(1)}},
		{"step_-Inf", overrides{StepMm: math.Inf(-1)}},
		{"stop_before_start", overrides{StartMm: 10, StopMm: 5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := validateCLIOverrides(tc.o); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

// ---------- applyOverrides ----------

func TestApplyOverrides_ZeroKeepsConfig(t *testing.T) {
	cfg := mustConfig(t, "scan:\n  start_mm: 1\n  stop_mm: 9\n  step_mm: 0.5\n")
	applyOverrides(cfg, overrides{})
	if cfg.Scan.StartMm != 1 || cfg.Scan.StopMm != 9 || cfg.Scan.StepMm != 0.5 {
		t.Errorf("scan = %+v, want config values kept", cfg.Scan)
	}
	if cfg.Scan.SaveEachImage {
		t.Error("SaveEachImage = true, want false")
	}
}

func TestApplyOverrides_NonZeroReplaces(t *testing.T) {
	cfg := mustConfig(t, "scan:\n  start_mm: 1\n  stop_mm: 9\n  step_mm: 0.5\n")
	applyOverrides(cfg, overrides{StartMm: 2, StopMm: 4, StepMm: 0.1, SaveImages: true})
	if cfg.Scan.StartMm != 2 {
		t.Errorf("StartMm = %g, want 2", cfg.Scan.StartMm)
	}
	if cfg.Scan.StopMm != 4 {
		t.Errorf("StopMm = %g, want 4", cfg.Scan.StopMm)
	}
	if cfg.Scan.StepMm != 0.1 {
		t.Errorf("StepMm = %g, want 0.1", cfg.Scan.StepMm)
	}
	if !cfg.Scan.SaveEachImage {
		t.Error("SaveEachImage = false, want true")
	}
}

// ---------- hardware construction ----------

func TestNewGPIODriver_MockIsSimulatedStage(t *testing.T) {
	cfg := mustConfig(t, "defaults:\n  mock_gpio: true\n")
	d, err := newGPIODriver(cfg)
	if err != nil {
		t.Fatalf("newGPIODriver: %v", err)
	}
	defer d.Close()
	if _, ok := d.(*gpio.SimulatedStage); !ok {
		t.Errorf("driver = %T, want *gpio.SimulatedStage", d)
	}
}

func TestNewCameraFromConfig_Simulated(t *testing.T) {
	cfg := mustConfig(t, "camera:\n  type: simulated\n")
	cam, err := newCameraFromConfig(cfg, func() float64 { return 0 })
	if err != nil {
		t.Fatalf("newCameraFromConfig: %v", err)
	}
	if got := cam.Geometry(); got.WidthPx != cfg.Sensor.WidthPx || got.BayerOrder != "BGGR" {
		t.Errorf("geometry = %+v, want the configured sensor", got)
	}
}

func TestSimulatedCameraOnRealStage(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want bool
	}{
		{"mock_stage", "defaults:\n  mock_gpio: true\n", false},
		{"real_stage", "defaults:\n  mock_gpio: false\n", true},
		{"real_stage_other_camera", "defaults:\n  mock_gpio: false\ncamera:\n  type: picamera3\n", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := simulatedCameraOnRealStage(mustConfig(t, tc.yaml)); got != tc.want {
				t.Errorf("simulatedCameraOnRealStage = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNewCameraFromConfig_Unsupported(t *testing.T) {
	cfg := mustConfig(t, "camera:\n  type: picamera3\n")
	_, err := newCameraFromConfig(cfg, nil)
	if err == nil || !strings.Contains(err.Error(), "picamera3") {
		t.Errorf("err = %v, want unsupported camera type", err)
	}
}

func TestNewAcquisition_FromConfig(t *testing.T) {
	cfg := mustConfig(t, "camera:\n  channel: green\n  shutter_us: 1500\n  auto_exposure: false\n")
	cam, err := newCameraFromConfig(cfg, func() float64 { return 0 })
	if err != nil {
		t.Fatalf("newCameraFromConfig: %v", err)
	}
	acq, err := newAcquisition(cfg, cam)
	if err != nil {
		t.Fatalf("newAcquisition: %v", err)
	}
	s := acq.Settings()
	if s.Channel != camera.Green {
		t.Errorf("Channel = %v, want green", s.Channel)
	}
	if s.AutoExposure {
		t.Error("AutoExposure = true, want false")
	}
	if acq.Shutter() != 1500 {
		t.Errorf("Shutter = %d, want 1500", acq.Shutter())
	}
	if s.ROI.XMax != cfg.Sensor.WidthMm {
		t.Errorf("ROI.XMax = %g, want full sensor %g", s.ROI.XMax, cfg.Sensor.WidthMm)
	}
}

func TestFocusLine(t *testing.T) {
	if got := focusLine(fit.Focus{Params: fit.Sentinel}); got != "no fit" {
		t.Errorf("focusLine(invalid) = %q, want \"no fit\"", got)
	}
	f := fit.Focus{Valid: true, Params: fit.Curve{RayleighMm: 4, Waist: 50, FocusMm: 12.5}}
	want := "waist 50.0 um, zR 4.000 mm, focus 12.500 mm"
	if got := focusLine(f); got != want {
		t.Errorf("focusLine = %q, want %q", got, want)
	}
}
