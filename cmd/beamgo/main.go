package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/theckman/yacspin"

	"github.com/cjeanneret/BeamGo/internal/config"
	"github.com/cjeanneret/BeamGo/internal/debug"
	"github.com/cjeanneret/BeamGo/internal/export"
	"github.com/cjeanneret/BeamGo/internal/hw/camera"
	"github.com/cjeanneret/BeamGo/internal/hw/gpio"
	"github.com/cjeanneret/BeamGo/internal/hw/stepper"
	"github.com/cjeanneret/BeamGo/internal/logic/acquire"
	"github.com/cjeanneret/BeamGo/internal/logic/exposure"
	"github.com/cjeanneret/BeamGo/internal/logic/fit"
	"github.com/cjeanneret/BeamGo/internal/logic/geometry"
	"github.com/cjeanneret/BeamGo/internal/logic/motion"
	"github.com/cjeanneret/BeamGo/internal/logic/scan"
	"github.com/cjeanneret/BeamGo/internal/report"
	"github.com/cjeanneret/BeamGo/internal/store"
)

// overrides holds the sweep values given on the command line. Zero means
// "use the config value".
type overrides struct {
	StartMm, StopMm, StepMm float64
	SaveImages              bool
}

func main() {
	// CLI flags
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	startMm := flag.Float64("start", 0, "override scan start position in mm")
	stopMm := flag.Float64("stop", 0, "override scan stop position in mm")
	stepMm := flag.Float64("step", 0, "override scan step in mm")
	outDir := flag.String("out", "results", "directory for the CSV exports")
	dark := flag.Bool("dark", false, "capture a dark frame before the scan (block the beam when asked)")
	saveImages := flag.Bool("save-images", false, "save every processed frame as FITS")
	plotFocus := flag.Bool("plot", false, "save the width-vs-position figure next to the CSV")
	logPath := flag.String("log", "", "also write the debug output to this file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer cancel()

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	ov := overrides{StartMm: *startMm, StopMm: *stopMm, StepMm: *stepMm, SaveImages: *saveImages}
	if err := validateCLIOverrides(ov); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	applyOverrides(cfg, ov)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid sweep: %v", err)
	}

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	if *logPath != "" {
		f, err := os.Create(*logPath)
		if err != nil {
			log.Fatalf("open log file failed: %v", err)
		}
		defer f.Close()
		debug.SetOutput(io.MultiWriter(os.Stdout, f))
	}
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	debug.Step(1, "Initializing GPIO driver")
	gpioDriver, err := newGPIODriver(cfg)
	if err != nil {
		log.Fatalf("init GPIO failed: %v", err)
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}()

	debug.Step(2, "Initializing stage")
	motor := stepper.NewStepper(gpioDriver, stepper.Config{
		StepPin:         cfg.Stepper.StepPin,
		DirPin:          cfg.Stepper.DirPin,
		EnablePin:       cfg.Stepper.EnablePin,
		SwitchPin:       cfg.Stepper.SwitchPin,
		SwitchActiveLow: cfg.SwitchActiveLow(),
		InvertDir:       cfg.Stepper.InvertDir,
		StepDelay:       cfg.StepDelay(),
	})
	debug.PrintStruct("Stepper config", cfg.Stepper)
	stage := motion.NewController(motor, geometry.NewLeadScrew(cfg), cfg.HomingTimeout())
	stage.SetTravel(cfg.Stepper.TravelMm)
	debug.Value("Step length (mm)", stage.StepMm())

	debug.Step(3, "Initializing camera")
	if _, err := camera.NewLED(gpioDriver, cfg.Camera.LEDPin); err != nil {
		log.Fatalf("camera LED: %v", err)
	}
	cam, err := newCameraFromConfig(cfg, stage.Position)
	if err != nil {
		log.Fatalf("init camera failed: %v", err)
	}
	debug.Value("Camera type", cfg.Camera.Type)
	if simulatedCameraOnRealStage(cfg) {
		debug.Warn("Real stage with a simulated camera: the widths are synthetic, not measured")
	}
	debug.PrintStruct("Sensor", cam.Geometry())

	acq, err := newAcquisition(cfg, cam)
	if err != nil {
		log.Fatalf("init acquisition failed: %v", err)
	}

	if err := run(ctx, cfg, stage, acq, runOptions{
		OutDir: *outDir,
		Dark:   *dark,
		Plot:   *plotFocus,
	}); err != nil {
		log.Fatalf("scan failed: %v", err)
	}
}

type runOptions struct {
	OutDir string
	Dark   bool
	Plot   bool
}

// run homes the stage, optionally captures a dark frame, sweeps and
// exports the result.
func run(ctx context.Context, cfg *config.Config, stage *motion.Controller, acq *acquire.Acquisition, opts runOptions) error {
	debug.Step(4, "Homing stage")
	if err := calibrate(ctx, stage); err != nil {
		return err
	}

	if opts.Dark {
		debug.Step(5, "Capturing dark frame")
		fmt.Print("Block the beam and press Enter... ")
		_, _ = bufio.NewReader(os.Stdin).ReadString('\n')
		if _, err := acq.CaptureDarkFrame(ctx); err != nil {
			return fmt.Errorf("dark frame: %w", err)
		}
		fmt.Print("Unblock the beam and press Enter... ")
		_, _ = bufio.NewReader(os.Stdin).ReadString('\n')
	}

	scanOpts := scan.Options{
		TravelMm:        cfg.Stepper.TravelMm,
		SkipFailedSteps: cfg.Scan.SkipFailedSteps,
	}
	if cfg.Scan.SaveEachImage {
		rec, err := store.NewRecorder(cfg.Scan.ImageDir)
		if err != nil {
			return err
		}
		scanOpts.Saver = rec
		debug.Value("Image dir", rec.Dir())
	}
	orch := scan.New(stage, acq, scanOpts)

	events, unsubscribe := orch.Events().Subscribe()
	defer unsubscribe()
	go func() {
		for evt := range events {
			fmt.Println(evt)
		}
	}()

	// First Ctrl-C finishes the current step and stops, the second aborts.
	interrupts := make(chan os.Signal, 2)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-interrupts:
			debug.Warn("Interrupt: stopping after the current step (Ctrl-C again to abort)")
			orch.RequestStop()
		case <-ctx.Done():
			return
		}
		select {
		case <-interrupts:
			cancel()
		case <-ctx.Done():
		}
	}()

	debug.Section("Scan")
	res, err := orch.Run(ctx, scan.Params{
		StartMm:       cfg.Scan.StartMm,
		StopMm:        cfg.Scan.StopMm,
		StepMm:        cfg.Scan.StepMm,
		SaveEachImage: cfg.Scan.SaveEachImage,
	})
	if err != nil {
		return err
	}

	debug.Section("Export")
	files, err := export.WriteResult(opts.OutDir, res)
	if err != nil {
		return err
	}
	fmt.Printf("Scan %s: %d points -> %s\n", res.ID, len(res.Points), files.Scan)
	if res.Fitted {
		fmt.Printf("Focus fit -> %s\n", files.Focus)
		fmt.Printf("  x: %s\n", focusLine(res.FocusX))
		fmt.Printf("  y: %s\n", focusLine(res.FocusY))
	}
	if opts.Plot && len(res.Points) > 0 {
		path := files.Scan[:len(files.Scan)-len(filepath.Ext(files.Scan))] + ".png"
		if err := report.SaveFocusPlot(res, path); err != nil {
			return err
		}
		fmt.Printf("Figure -> %s\n", path)
	}
	if res.Canceled {
		debug.Warn("Scan stopped early after %d of %d steps", res.Added, res.Plan.Points())
	}
	return nil
}

// calibrate homes the stage behind a terminal spinner.
func calibrate(ctx context.Context, stage *motion.Controller) error {
	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " homing stage",
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		// no spinner on unsupported terminals
		return stage.Calibrate(ctx)
	}
	_ = spinner.Start()
	if err := stage.Calibrate(ctx); err != nil {
		spinner.StopFailMessage(err.Error())
		_ = spinner.StopFail()
		return err
	}
	spinner.StopMessage("stage at home")
	return spinner.Stop()
}

func focusLine(f fit.Focus) string {
	if !f.Valid {
		return "no fit"
	}
	return fmt.Sprintf("waist %.1f um, zR %.3f mm, focus %.3f mm", f.Params.Waist, f.Params.RayleighMm, f.Params.FocusMm)
}

// validateCLIOverrides checks that non-zero CLI overrides are finite and in
// range. Zero values are ignored (they mean "use config default").
func validateCLIOverrides(o overrides) error {
	for name, v := range map[string]float64{"start": o.StartMm, "stop": o.StopMm, "step": o.StepMm} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s must be finite, got %g", name, v)
		}
		if v < 0 {
			return fmt.Errorf("%s must be >= 0, got %g", name, v)
		}
	}
	if o.StartMm != 0 && o.StopMm != 0 && o.StopMm < o.StartMm {
		return fmt.Errorf("stop (%g) must be >= start (%g)", o.StopMm, o.StartMm)
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only non-zero values are applied.
func applyOverrides(cfg *config.Config, o overrides) {
	if o.StartMm > 0 {
		cfg.Scan.StartMm = o.StartMm
	}
	if o.StopMm > 0 {
		cfg.Scan.StopMm = o.StopMm
	}
	if o.StepMm > 0 {
		cfg.Scan.StepMm = o.StepMm
	}
	if o.SaveImages {
		cfg.Scan.SaveEachImage = true
	}
}

// newGPIODriver returns the Raspberry Pi driver, or with mock_gpio a
// simulated stage wired to the stepper pins.
func newGPIODriver(cfg *config.Config) (gpio.Driver, error) {
	if !cfg.Defaults.MockGPIO {
		return gpio.NewDriver(false)
	}
	forward := gpio.Low
	if cfg.Stepper.InvertDir {
		forward = gpio.High
	}
	return gpio.NewSimulatedStage(gpio.SimStageConfig{
		StepPin:         cfg.Stepper.StepPin,
		DirPin:          cfg.Stepper.DirPin,
		SwitchPin:       cfg.Stepper.SwitchPin,
		ForwardLevel:    forward,
		SwitchActiveLow: cfg.SwitchActiveLow(),
		StartSteps:      400,
	}), nil
}

func sensorGeometry(cfg *config.Config) camera.Geometry {
	return camera.Geometry{
		WidthPx:      cfg.Sensor.WidthPx,
		HeightPx:     cfg.Sensor.HeightPx,
		WidthMm:      cfg.Sensor.WidthMm,
		HeightMm:     cfg.Sensor.HeightMm,
		MinShutterUs: cfg.Sensor.MinShutterUs,
		BayerOrder:   cfg.Sensor.BayerOrder,
		BitDepth:     cfg.Sensor.BitDepth,
	}
}

// simulatedCameraOnRealStage reports a config that moves the real stage
// while fitting rendered frames.
func simulatedCameraOnRealStage(cfg *config.Config) bool {
	return !cfg.Defaults.MockGPIO && cfg.Camera.Type == "simulated"
}

// newCameraFromConfig selects a camera implementation based on configuration.
func newCameraFromConfig(cfg *config.Config, position func() float64) (camera.Camera, error) {
	switch cfg.Camera.Type {
	case "simulated":
		sim := cfg.Simulation
		return camera.NewSimulated(sensorGeometry(cfg), camera.Beam{
			WaistUm:    sim.WaistUm,
			RayleighMm: sim.RayleighMm,
			FocusMm:    sim.FocusMm,
			PeakCounts: sim.PeakCounts,
			RefShutter: cfg.Camera.ShutterUs,
			DarkCounts: sim.DarkCounts,
			Noise:      sim.Noise,
			Seed:       uint64(time.Now().UnixNano()),
		}, position), nil
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", cfg.Camera.Type)
	}
}

func newAcquisition(cfg *config.Config, cam camera.Camera) (*acquire.Acquisition, error) {
	ch, err := camera.ParseChannel(cfg.Camera.Channel)
	if err != nil {
		return nil, err
	}
	exp := exposure.NewController(exposure.Config{
		TargetLow:     cfg.Exposure.TargetLow,
		TargetHigh:    cfg.Exposure.TargetHigh,
		Correction:    cfg.Exposure.Correction,
		MaxIterations: cfg.Exposure.MaxIterations,
		MaxShutterUs:  cfg.Exposure.MaxShutterUs,
	})
	roi := geometry.ROI{XMin: cfg.ROI.XMin, XMax: cfg.ROI.XMax, YMin: cfg.ROI.YMin, YMax: cfg.ROI.YMax}
	return acquire.New(cam, exp, acquire.Settings{
		Channel:      ch,
		ROI:          roi,
		AutoExposure: cfg.AutoExposure(),
	}, cfg.Camera.ShutterUs)
}
