// Package fit holds the curve models of the profiler: a Gaussian peak fitted
// to each projection of a frame, and the focusing curve fitted to widths
// measured along the scan.
package fit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/cjeanneret/BeamGo/internal/debug"
	"github.com/cjeanneret/BeamGo/internal/fault"
	"github.com/cjeanneret/BeamGo/internal/logic/frame"
)

// Initial offsets of the two axes.
const (
	OffsetGuessX = 10.0
	OffsetGuessY = 0.0
)

// Gaussian holds the parameters of
//
//	amplitude * exp(-2*(x-center)^2/width^2) + offset
//
// where width is the 1/e² radius.
type Gaussian struct {
	Amplitude float64
	Center    float64
	Width     float64
	Offset    float64
}

// Eval evaluates the peak at x.
func (g Gaussian) Eval(x float64) float64 {
	d := x - g.Center
	return g.Amplitude*math.Exp(-2*d*d/(g.Width*g.Width)) + g.Offset
}

func (g Gaussian) vector() []float64 {
	return []float64{g.Amplitude, g.Center, g.Width, g.Offset}
}

func gaussianFrom(p []float64) Gaussian {
	return Gaussian{Amplitude: p[0], Center: p[1], Width: p[2], Offset: p[3]}
}

func gaussianModel(x float64, p []float64) float64 {
	return gaussianFrom(p).Eval(x)
}

// Result is the fit of one projection. When the solver fails UsedFallback
// is set, Params is the initial guess, every error equals
// sqrt(|guess amplitude|), and Err keeps the cause.
type Result struct {
	Params       Gaussian
	Errors       Gaussian // standard errors
	UsedFallback bool
	Err          error
}

// FrameResult holds the fits of both projections of a frame.
type FrameResult struct {
	X, Y Result
}

// InitialGuess derives starting parameters from the data: the maximum and
// its position, a width of 10% of the axis span and the given offset.
func InitialGuess(xs, ys []float64, offset float64) Gaussian {
	if len(xs) == 0 || len(ys) == 0 {
		return Gaussian{Width: 1, Offset: offset}
	}
	i := floats.MaxIdx(ys)
	g := Gaussian{
		Amplitude: ys[i],
		Center:    xs[i],
		Width:     0.1 * math.Abs(xs[len(xs)-1]-xs[0]),
		Offset:    offset,
	}
	if g.Width == 0 {
		g.Width = 1
	}
	return g
}

// FitAxis fits a Gaussian peak to (xs, ys) from guess. It never fails: on
// non-convergence the guess is returned with UsedFallback set.
func FitAxis(xs, ys []float64, guess Gaussian) Result {
	sol, err := Solve(Problem{X: xs, Y: ys, Model: gaussianModel}, guess.vector(), DefaultSettings())
	if err != nil {
		e := math.Sqrt(math.Abs(guess.Amplitude))
		debug.Warn("Fit: gaussian did not converge, using initial guess: %v", err)
		return Result{
			Params:       guess,
			Errors:       Gaussian{Amplitude: e, Center: e, Width: e, Offset: e},
			UsedFallback: true,
			Err:          err,
		}
	}
	p := gaussianFrom(sol.Params)
	p.Width = math.Abs(p.Width)
	return Result{Params: p, Errors: gaussianFrom(sol.Errors)}
}

// FitFrame fits both projections of a processed frame.
func FitFrame(p *frame.Processed) (FrameResult, error) {
	if p == nil {
		return FrameResult{}, fault.Configf("fit frame: no frame")
	}
	if len(p.Xs) != len(p.ProjX) || len(p.Ys) != len(p.ProjY) {
		return FrameResult{}, fault.Configf("fit frame: axis lengths %d/%d do not match projections %d/%d",
			len(p.Xs), len(p.Ys), len(p.ProjX), len(p.ProjY))
	}
	res := FrameResult{
		X: FitAxis(p.Xs, p.ProjX, InitialGuess(p.Xs, p.ProjX, OffsetGuessX)),
		Y: FitAxis(p.Ys, p.ProjY, InitialGuess(p.Ys, p.ProjY, OffsetGuessY)),
	}
	debug.Verbose("Fit: %s", res)
	return res, nil
}

func (r FrameResult) String() string {
	return fmt.Sprintf("x: w=%.4f±%.4f mm c=%.4f mm, y: w=%.4f±%.4f mm c=%.4f mm",
		r.X.Params.Width, r.X.Errors.Width, r.X.Params.Center,
		r.Y.Params.Width, r.Y.Errors.Width, r.Y.Params.Center)
}
