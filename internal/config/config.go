package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// StepperConfig holds the configuration for the translation stage motor.
type StepperConfig struct {
	StepPin         int     `yaml:"step_pin"`
	DirPin          int     `yaml:"dir_pin"`
	EnablePin       int     `yaml:"enable_pin"`        // A4988 ENABLE pin (BCM). 0 = not used. Active LOW.
	SwitchPin       int     `yaml:"switch_pin"`        // homing limit switch input (BCM)
	SwitchActiveLow *bool   `yaml:"switch_active_low"` // default true: switch pulls the line to ground
	StepsPerRev     int     `yaml:"steps_per_rev"`
	Microstepping   int     `yaml:"microstepping"`
	ScrewPitchMm    float64 `yaml:"screw_pitch_mm"` // lead screw travel per revolution
	InvertDir       bool    `yaml:"invert_dir"`     // forward (away from the motor) is DIR LOW unless inverted
	StepDelayUs     int     `yaml:"step_delay_us"`  // half-cycle of the STEP pulse
	HomingTimeoutS  float64 `yaml:"homing_timeout_s"`
	TravelMm        float64 `yaml:"travel_mm"` // usable stage travel from home; moves beyond it are rejected
}

// CameraConfig describes the sensor acquisition settings.
type CameraConfig struct {
	Type         string `yaml:"type"`    // e.g., "simulated"
	Channel      string `yaml:"channel"` // red, green, blue or interpolated
	ShutterUs    int    `yaml:"shutter_us"`
	AutoExposure *bool  `yaml:"auto_exposure"`
	LEDPin       int    `yaml:"led_pin"` // camera LED line, driven low at startup. 0 = not used.
}

// SensorConfig holds the physical sensor constants.
type SensorConfig struct {
	WidthMm      float64 `yaml:"width_mm"`  // 3.67 for the Pi camera
	HeightMm     float64 `yaml:"height_mm"` // 2.74
	WidthPx      int     `yaml:"width_px"`  // raw mosaic width, e.g. 2592
	HeightPx     int     `yaml:"height_px"` // raw mosaic height, e.g. 1944
	MinShutterUs int     `yaml:"min_shutter_us"`
	BayerOrder   string  `yaml:"bayer_order"`
	BitDepth     int     `yaml:"bit_depth"`
}

// ROIConfig is the region of interest in sensor millimetres.
type ROIConfig struct {
	XMin float64 `yaml:"xmin"`
	XMax float64 `yaml:"xmax"`
	YMin float64 `yaml:"ymin"`
	YMax float64 `yaml:"ymax"`
}

// ExposureConfig tunes the auto-exposure search.
type ExposureConfig struct {
	TargetLow     int     `yaml:"target_low"`
	TargetHigh    int     `yaml:"target_high"`
	Correction    float64 `yaml:"correction"`
	MaxIterations int     `yaml:"max_iterations"`
	MaxShutterUs  int     `yaml:"max_shutter_us"`
}

// ScanConfig holds the default sweep.
type ScanConfig struct {
	StartMm         float64 `yaml:"start_mm"`
	StopMm          float64 `yaml:"stop_mm"`
	StepMm          float64 `yaml:"step_mm"`
	SaveEachImage   bool    `yaml:"save_each_image"`
	ImageDir        string  `yaml:"image_dir"`
	SkipFailedSteps bool    `yaml:"skip_failed_steps"`
}

// SimulationConfig parameterizes the simulated beam (camera.type "simulated").
type SimulationConfig struct {
	WaistUm    float64 `yaml:"waist_um"`
	RayleighMm float64 `yaml:"rayleigh_mm"`
	FocusMm    float64 `yaml:"focus_mm"`
	PeakCounts float64 `yaml:"peak_counts"` // peak at the reference shutter
	DarkCounts float64 `yaml:"dark_counts"`
	Noise      float64 `yaml:"noise"` // gaussian read noise sigma, counts
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Stepper    StepperConfig    `yaml:"stepper"`
	Camera     CameraConfig     `yaml:"camera"`
	Sensor     SensorConfig     `yaml:"sensor"`
	ROI        *ROIConfig       `yaml:"roi,omitempty"` // optional, defaults to full sensor
	Exposure   ExposureConfig   `yaml:"exposure"`
	Scan       ScanConfig       `yaml:"scan"`
	Simulation SimulationConfig `yaml:"simulation"`
	Defaults   DefaultsConfig   `yaml:"defaults"`
}

// ValidateConfigPath rejects paths that are empty, not .yaml, outside a
// configs/ directory or that contain traversal elements.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	if strings.Contains(filepath.ToSlash(path), "..") {
		return fmt.Errorf("config path must not contain '..': %s", path)
	}
	if filepath.Ext(path) != ".yaml" {
		return fmt.Errorf("config file must have .yaml extension: %s", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config file must be in a configs/ directory: %s", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	// BCM pins of the reference wiring
	if c.Stepper.StepPin == 0 && c.Stepper.DirPin == 0 {
		c.Stepper.StepPin = 17
		c.Stepper.DirPin = 27
	}
	if c.Stepper.SwitchPin == 0 {
		c.Stepper.SwitchPin = 11
	}
	// Stepper: 400 steps/rev on a 0.5 mm pitch screw = 1.25 um per step
	if c.Stepper.StepsPerRev <= 0 {
		c.Stepper.StepsPerRev = 400
	}
	if c.Stepper.Microstepping <= 0 {
		c.Stepper.Microstepping = 1
	}
	if c.Stepper.ScrewPitchMm <= 0 {
		c.Stepper.ScrewPitchMm = 0.5
	}
	if c.Stepper.StepDelayUs <= 0 {
		c.Stepper.StepDelayUs = 500 // 1 ms pulse period
	}
	if c.Stepper.HomingTimeoutS <= 0 {
		c.Stepper.HomingTimeoutS = 30
	}
	if c.Stepper.TravelMm <= 0 {
		c.Stepper.TravelMm = 25.5
	}
	if c.Stepper.SwitchActiveLow == nil {
		activeLow := true
		c.Stepper.SwitchActiveLow = &activeLow
	}

	if c.Camera.Type == "" {
		c.Camera.Type = "simulated"
	}
	if c.Camera.Channel == "" {
		c.Camera.Channel = "red"
	}
	if c.Camera.ShutterUs <= 0 {
		c.Camera.ShutterUs = 20000
	}
	if c.Camera.AutoExposure == nil {
		auto := true
		c.Camera.AutoExposure = &auto
	}

	// Pi camera v1 (OmniVision) constants
	if c.Sensor.WidthMm <= 0 {
		c.Sensor.WidthMm = 3.67
	}
	if c.Sensor.HeightMm <= 0 {
		c.Sensor.HeightMm = 2.74
	}
	if c.Sensor.WidthPx <= 0 {
		c.Sensor.WidthPx = 2592
	}
	if c.Sensor.HeightPx <= 0 {
		c.Sensor.HeightPx = 1944
	}
	if c.Sensor.MinShutterUs <= 0 {
		c.Sensor.MinShutterUs = 12
	}
	if c.Sensor.BayerOrder == "" {
		c.Sensor.BayerOrder = "BGGR"
	}
	c.Sensor.BayerOrder = strings.ToUpper(c.Sensor.BayerOrder)
	if c.Sensor.BitDepth <= 0 {
		c.Sensor.BitDepth = 10
	}

	if c.ROI == nil {
		c.ROI = &ROIConfig{XMin: 0, XMax: c.Sensor.WidthMm, YMin: 0, YMax: c.Sensor.HeightMm}
	}

	if c.Exposure.TargetLow <= 0 {
		c.Exposure.TargetLow = 800
	}
	if c.Exposure.TargetHigh <= 0 {
		c.Exposure.TargetHigh = 950
	}
	if c.Exposure.Correction <= 0 {
		c.Exposure.Correction = 2.2
	}
	if c.Exposure.MaxIterations <= 0 {
		c.Exposure.MaxIterations = 50
	}
	if c.Exposure.MaxShutterUs <= 0 {
		c.Exposure.MaxShutterUs = 6000000
	}

	if c.Scan.StepMm == 0 {
		c.Scan.StepMm = 0.15
	}
	if c.Scan.StopMm == 0 && c.Scan.StartMm == 0 {
		c.Scan.StopMm = 25
	}
	if c.Scan.ImageDir == "" {
		c.Scan.ImageDir = "scans"
	}

	if c.Simulation.WaistUm <= 0 {
		c.Simulation.WaistUm = 50
	}
	if c.Simulation.RayleighMm <= 0 {
		c.Simulation.RayleighMm = 4
	}
	if c.Simulation.FocusMm == 0 {
		c.Simulation.FocusMm = 12.5
	}
	if c.Simulation.PeakCounts <= 0 {
		c.Simulation.PeakCounts = 600
	}
}

// Validate checks ranges after defaults have been applied.
func (c *Config) Validate() error {
	if c.Stepper.StepPin == c.Stepper.DirPin {
		return fmt.Errorf("stepper.step_pin and stepper.dir_pin must differ, both %d", c.Stepper.StepPin)
	}
	switch strings.ToLower(c.Camera.Channel) {
	case "red", "green", "blue", "interpolated":
	default:
		return fmt.Errorf("camera.channel must be red, green, blue or interpolated, got %q", c.Camera.Channel)
	}
	if c.Camera.ShutterUs < c.Sensor.MinShutterUs {
		return fmt.Errorf("camera.shutter_us must be >= %d, got %d", c.Sensor.MinShutterUs, c.Camera.ShutterUs)
	}
	if o := c.Sensor.BayerOrder; len(o) != 4 ||
		strings.Count(o, "R") != 1 || strings.Count(o, "G") != 2 || strings.Count(o, "B") != 1 {
		return fmt.Errorf("sensor.bayer_order must have 4 letters with one R, two G and one B, got %q", c.Sensor.BayerOrder)
	}
	if c.Sensor.BitDepth > 16 {
		return fmt.Errorf("sensor.bit_depth must be <= 16, got %d", c.Sensor.BitDepth)
	}
	if c.Exposure.TargetLow >= c.Exposure.TargetHigh {
		return fmt.Errorf("exposure.target_low (%d) must be < target_high (%d)", c.Exposure.TargetLow, c.Exposure.TargetHigh)
	}
	if full := 1<<c.Sensor.BitDepth - 1; c.Exposure.TargetHigh > full {
		return fmt.Errorf("exposure.target_high must be <= %d, got %d", full, c.Exposure.TargetHigh)
	}
	for name, v := range map[string]float64{
		"scan.start_mm": c.Scan.StartMm,
		"scan.stop_mm":  c.Scan.StopMm,
		"scan.step_mm":  c.Scan.StepMm,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s must be finite, got %g", name, v)
		}
	}
	if c.Scan.StepMm <= 0 {
		return fmt.Errorf("scan.step_mm must be > 0, got %g", c.Scan.StepMm)
	}
	if motor := c.StepLengthMm(); c.Scan.StepMm < motor*(1-1e-9) {
		return fmt.Errorf("scan.step_mm (%g) must be >= one motor step (%g mm)", c.Scan.StepMm, motor)
	}
	if c.Scan.StopMm < c.Scan.StartMm {
		return fmt.Errorf("scan.stop_mm (%g) must be >= start_mm (%g)", c.Scan.StopMm, c.Scan.StartMm)
	}
	return nil
}

// StepDelay returns the half-cycle duration of a STEP pulse.
func (c *Config) StepDelay() time.Duration {
	return time.Duration(c.Stepper.StepDelayUs) * time.Microsecond
}

// HomingTimeout returns the maximum duration of the homing move.
func (c *Config) HomingTimeout() time.Duration {
	return time.Duration(c.Stepper.HomingTimeoutS * float64(time.Second))
}

// SwitchActiveLow reports whether the limit switch asserts by pulling low.
func (c *Config) SwitchActiveLow() bool {
	return c.Stepper.SwitchActiveLow == nil || *c.Stepper.SwitchActiveLow
}

// AutoExposure reports whether the shutter search runs before each capture.
func (c *Config) AutoExposure() bool {
	return c.Camera.AutoExposure == nil || *c.Camera.AutoExposure
}

// StepLengthMm returns the stage travel produced by one step pulse.
func (c *Config) StepLengthMm() float64 {
	return c.Stepper.ScrewPitchMm / float64(c.Stepper.StepsPerRev*c.Stepper.Microstepping)
}
