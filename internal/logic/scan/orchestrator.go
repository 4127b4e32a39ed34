// Package scan drives a position sweep: move, capture, fit and accumulate
// one point per step, then fit the focusing curve over all points.
package scan

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cjeanneret/BeamGo/internal/debug"
	"github.com/cjeanneret/BeamGo/internal/fault"
	"github.com/cjeanneret/BeamGo/internal/logic/fit"
	"github.com/cjeanneret/BeamGo/internal/logic/frame"
	"github.com/cjeanneret/BeamGo/internal/logic/geometry"
	"github.com/cjeanneret/BeamGo/internal/store"
)

// State of the orchestrator.
type State int32

const (
	Idle State = iota
	Scanning
	Finishing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Finishing:
		return "finishing"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// ErrScanInProgress is returned when a scan is started while another runs.
var ErrScanInProgress = errors.New("scan already in progress")

// Stage positions the sensor. *motion.Controller implements it.
type Stage interface {
	SetPosition(mm float64) error
	Position() float64
}

// Camera returns one processed frame per call. *acquire.Acquisition
// implements it.
type Camera interface {
	Capture(ctx context.Context) (*frame.Processed, error)
}

// resolver is implemented by stages that report their step length.
type resolver interface {
	StepMm() float64
}

// FrameFitter fits the projections of a processed frame.
type FrameFitter func(*frame.Processed) (fit.FrameResult, error)

// FrameSaver persists a processed frame. *store.Recorder implements it.
type FrameSaver interface {
	Save(rec store.Record) (string, error)
}

// Params of one sweep.
type Params struct {
	StartMm       float64
	StopMm        float64
	StepMm        float64
	SaveEachImage bool
}

// Options configure the orchestrator.
type Options struct {
	TravelMm        float64     // 0 disables the travel check
	SkipFailedSteps bool        // skip steps failing with a configuration error
	Fitter          FrameFitter // nil = fit.FitFrame
	Saver           FrameSaver  // required for SaveEachImage
}

// Point is the measurement at one stage position. Widths are 1/e² radii.
type Point struct {
	PositionMm  float64
	WidthXUm    float64
	WidthXErrUm float64
	WidthYUm    float64
	WidthYErrUm float64
	FallbackX   bool // the x fit did not converge, the width is a guess
	FallbackY   bool
}

// Result of one sweep. Points holds every accumulated point, including
// those of earlier sweeps not yet cleared, sorted by position.
type Result struct {
	ID       uuid.UUID
	Plan     *geometry.ScanPlan
	Points   []Point
	Added    int // points added by this sweep
	Skipped  int
	Saved    int
	FocusX   fit.Focus
	FocusY   fit.Focus
	Fitted   bool // the focusing curve was fitted (natural completion)
	Canceled bool
	Started  time.Time
	Finished time.Time
}

// Orchestrator runs sweeps. At most one sweep runs at a time.
type Orchestrator struct {
	stage  Stage
	camera Camera
	opts   Options
	fitter FrameFitter
	events *Broadcaster

	state atomic.Int32
	stop  atomic.Bool

	mu     sync.Mutex
	points []Point
}

// New creates an idle orchestrator.
func New(stage Stage, camera Camera, opts Options) *Orchestrator {
	fitter := opts.Fitter
	if fitter == nil {
		fitter = fit.FitFrame
	}
	return &Orchestrator{
		stage:  stage,
		camera: camera,
		opts:   opts,
		fitter: fitter,
		events: NewBroadcaster(),
	}
}

// Events returns the progress broadcaster.
func (o *Orchestrator) Events() *Broadcaster {
	return o.events
}

// State returns the current state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

func (o *Orchestrator) setState(s State) {
	debug.Trace("Scan: state -> %s", s)
	o.state.Store(int32(s))
}

// Points returns a copy of the accumulated points sorted by position.
func (o *Orchestrator) Points() []Point {
	o.mu.Lock()
	pts := make([]Point, len(o.points))
	copy(pts, o.points)
	o.mu.Unlock()
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].PositionMm < pts[j].PositionMm })
	return pts
}

// Clear drops the accumulated points.
func (o *Orchestrator) Clear() {
	o.mu.Lock()
	o.points = nil
	o.mu.Unlock()
}

// RequestStop asks the running sweep to stop at its next checkpoint. It
// does not interrupt a move, capture or fit in progress.
func (o *Orchestrator) RequestStop() {
	if o.State() == Scanning {
		debug.Info("Scan: stop requested")
	}
	o.stop.Store(true)
}

// Run performs a sweep and blocks until it ends. A stop request or a
// canceled ctx ends it early with Result.Canceled set and a nil error.
func (o *Orchestrator) Run(ctx context.Context, p Params) (*Result, error) {
	plan, err := o.begin(p)
	if err != nil {
		return nil, err
	}
	return o.run(ctx, plan, p)
}

// Handle tracks a sweep started with Start.
type Handle struct {
	done chan struct{}
	res  *Result
	err  error
}

// Done is closed when the sweep ends.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the sweep ends and returns its outcome.
func (h *Handle) Wait() (*Result, error) {
	<-h.done
	return h.res, h.err
}

// Start begins a sweep in a new goroutine. Validation errors and
// ErrScanInProgress are returned immediately.
func (o *Orchestrator) Start(ctx context.Context, p Params) (*Handle, error) {
	plan, err := o.begin(p)
	if err != nil {
		return nil, err
	}
	h := &Handle{done: make(chan struct{})}
	go func() {
		defer close(h.done)
		h.res, h.err = o.run(ctx, plan, p)
	}()
	return h, nil
}

// begin validates p and moves Idle -> Scanning.
func (o *Orchestrator) begin(p Params) (*geometry.ScanPlan, error) {
	plan, err := geometry.PlanScan(p.StartMm, p.StopMm, p.StepMm)
	if err != nil {
		return nil, err
	}
	if err := plan.CheckTravel(o.opts.TravelMm); err != nil {
		return nil, err
	}
	if r, ok := o.stage.(resolver); ok {
		if err := plan.CheckResolution(r.StepMm()); err != nil {
			return nil, err
		}
	}
	if p.SaveEachImage && o.opts.Saver == nil {
		return nil, fault.Configf("save each image requested without an image store")
	}
	if !o.state.CompareAndSwap(int32(Idle), int32(Scanning)) {
		return nil, ErrScanInProgress
	}
	o.stop.Store(false)
	return plan, nil
}

func (o *Orchestrator) stopped(ctx context.Context) bool {
	return o.stop.Load() || ctx.Err() != nil
}

func (o *Orchestrator) skippable(err error) bool {
	return o.opts.SkipFailedSteps && errors.Is(err, fault.ErrConfiguration) && !errors.Is(err, fault.ErrHardware)
}

func (o *Orchestrator) run(ctx context.Context, plan *geometry.ScanPlan, p Params) (*Result, error) {
	defer o.setState(Idle)

	res := &Result{ID: uuid.New(), Plan: plan, Started: time.Now()}
	n := plan.Points()
	debug.Section("Scan " + res.ID.String())
	debug.Plan(plan.StartMm, plan.StopMm, plan.StepMm, n)
	o.events.Publish(Event{Kind: EventStarted, Index: -1, Total: n, Msg: res.ID.String()})

	for i, pos := range plan.Positions {
		o.events.Publish(Event{Kind: EventStep, Index: i, Total: n, PositionMm: pos})

		if err := o.stage.SetPosition(pos); err != nil {
			return o.fail(res, i, pos, fmt.Errorf("step %d: move to %.4f mm: %w", i, pos, err))
		}
		if o.stopped(ctx) {
			return o.cancel(res, i, pos)
		}

		processed, err := o.camera.Capture(ctx)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return o.cancel(res, i, pos)
			}
			err = fmt.Errorf("step %d: capture at %.4f mm: %w", i, pos, err)
			if o.skippable(err) {
				o.skip(res, i, pos, err)
				continue
			}
			return o.fail(res, i, pos, err)
		}
		if o.stopped(ctx) {
			return o.cancel(res, i, pos)
		}

		fr, err := o.fitter(processed)
		if err != nil {
			err = fmt.Errorf("step %d: fit at %.4f mm: %w", i, pos, err)
			if o.skippable(err) {
				o.skip(res, i, pos, err)
				continue
			}
			return o.fail(res, i, pos, err)
		}
		if o.stopped(ctx) {
			return o.cancel(res, i, pos)
		}

		pt := Point{
			PositionMm:  o.stage.Position(),
			WidthXUm:    fr.X.Params.Width * 1e3,
			WidthXErrUm: fr.X.Errors.Width * 1e3,
			WidthYUm:    fr.Y.Params.Width * 1e3,
			WidthYErrUm: fr.Y.Errors.Width * 1e3,
			FallbackX:   fr.X.UsedFallback,
			FallbackY:   fr.Y.UsedFallback,
		}
		o.mu.Lock()
		o.points = append(o.points, pt)
		o.mu.Unlock()
		res.Added++
		debug.Point(i, pt.PositionMm, pt.WidthXUm, pt.WidthYUm)
		o.events.Publish(Event{Kind: EventPoint, Index: i, Total: n, PositionMm: pt.PositionMm, Point: &pt,
			Msg: fmt.Sprintf("wx=%.1f um wy=%.1f um", pt.WidthXUm, pt.WidthYUm)})

		if p.SaveEachImage {
			path, err := o.opts.Saver.Save(store.Record{ScanID: res.ID, Index: i, PositionMm: pt.PositionMm, Frame: processed})
			if err != nil {
				debug.Warn("Scan: image at step %d not saved: %v", i, err)
				o.events.Publish(Event{Kind: EventWarning, Index: i, Total: n, PositionMm: pos, Msg: err.Error()})
			} else {
				res.Saved++
				debug.Trace("Scan: image saved to %s", path)
			}
		}
	}

	o.setState(Finishing)
	res.Points = o.Points()
	res.FocusX, res.FocusY = FitFocus(res.Points)
	res.Fitted = true
	res.Finished = time.Now()

	debug.Summary("Scan complete")
	debug.Value("Points", len(res.Points))
	debug.Value("Focus X", focusString(res.FocusX))
	debug.Value("Focus Y", focusString(res.FocusY))
	o.events.Notify(EventFinished, "%d points, x: %s, y: %s", len(res.Points), focusString(res.FocusX), focusString(res.FocusY))
	return res, nil
}

func (o *Orchestrator) cancel(res *Result, i int, pos float64) (*Result, error) {
	res.Canceled = true
	res.Points = o.Points()
	res.Finished = time.Now()
	debug.Info("Scan: stopped at step %d/%d (%.4f mm), %d points kept", i+1, res.Plan.Points(), pos, len(res.Points))
	o.events.Publish(Event{Kind: EventCanceled, Index: i, Total: res.Plan.Points(), PositionMm: pos, Msg: "stopped"})
	return res, nil
}

func (o *Orchestrator) fail(res *Result, i int, pos float64, err error) (*Result, error) {
	res.Points = o.Points()
	res.Finished = time.Now()
	debug.Error(err)
	o.events.Publish(Event{Kind: EventError, Index: i, Total: res.Plan.Points(), PositionMm: pos, Msg: err.Error()})
	return res, err
}

func (o *Orchestrator) skip(res *Result, i int, pos float64, err error) {
	res.Skipped++
	debug.Warn("Scan: skipping step %d: %v", i, err)
	o.events.Publish(Event{Kind: EventWarning, Index: i, Total: res.Plan.Points(), PositionMm: pos, Msg: err.Error()})
}

// FitFocus fits the focusing curve of both axes to pts.
func FitFocus(pts []Point) (x, y fit.Focus) {
	zs := make([]float64, len(pts))
	wx := make([]float64, len(pts))
	ex := make([]float64, len(pts))
	wy := make([]float64, len(pts))
	ey := make([]float64, len(pts))
	for i, p := range pts {
		zs[i] = p.PositionMm
		wx[i], ex[i] = p.WidthXUm, p.WidthXErrUm
		wy[i], ey[i] = p.WidthYUm, p.WidthYErrUm
	}
	return fit.FitFocusCurve(zs, wx, ex), fit.FitFocusCurve(zs, wy, ey)
}

func focusString(f fit.Focus) string {
	if !f.Valid {
		return "no fit"
	}
	return fmt.Sprintf("w0=%.1f±%.1f um zR=%.3f±%.3f mm z0=%.3f±%.3f mm",
		f.Params.Waist, f.Errors.Waist, f.Params.RayleighMm, f.Errors.RayleighMm, f.Params.FocusMm, f.Errors.FocusMm)
}
