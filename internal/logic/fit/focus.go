package fit

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/cjeanneret/BeamGo/internal/debug"
	"github.com/cjeanneret/BeamGo/internal/fault"
)

// MinFocusPoints is the smallest number of points a focusing curve is
// fitted to.
const MinFocusPoints = 3

// Curve holds the parameters of the focusing curve
//
//	w(z) = waist * sqrt(1 + ((z-focus)/rayleigh)^2)
//
// Widths are in the units they were given in (µm in a scan), positions in mm.
type Curve struct {
	RayleighMm float64
	Waist      float64
	FocusMm    float64
}

// Eval evaluates the beam radius at position z.
func (c Curve) Eval(z float64) float64 {
	u := (z - c.FocusMm) / c.RayleighMm
	return c.Waist * math.Sqrt(1+u*u)
}

func (c Curve) vector() []float64 {
	return []float64{c.RayleighMm, c.Waist, c.FocusMm}
}

func curveFrom(p []float64) Curve {
	return Curve{RayleighMm: p[0], Waist: p[1], FocusMm: p[2]}
}

func curveModel(z float64, p []float64) float64 {
	return curveFrom(p).Eval(z)
}

// Sentinel is reported when no focusing curve could be fitted.
var Sentinel = Curve{RayleighMm: 1, Waist: 1, FocusMm: 1}

// Focus is the focusing-curve fit of one axis. When Valid is false Params
// is Sentinel, Errors are zero and Err tells why.
type Focus struct {
	Params   Curve
	Errors   Curve
	Valid    bool
	Weighted bool // the width errors were used as sigma
	Points   int
	Err      error
}

// FitFocusCurve fits the focusing curve to widths measured at positions.
// The data is sorted by position first. A weighted fit using widthErrs as
// sigma is tried, then an unweighted one; if both fail the sentinel is
// returned.
func FitFocusCurve(positions, widths, widthErrs []float64) Focus {
	n := len(positions)
	if len(widths) != n || (widthErrs != nil && len(widthErrs) != n) {
		return sentinel(n, fault.Configf("focus fit: %d positions, %d widths, %d errors",
			n, len(widths), len(widthErrs)))
	}
	if n < MinFocusPoints {
		return sentinel(n, fault.NonConvergencef("focus fit: %d points, need at least %d", n, MinFocusPoints))
	}

	zs, ws, es := sortByPosition(positions, widths, widthErrs)
	p0 := focusGuess(zs, ws)

	var errWeighted error
	if es != nil {
		sol, err := Solve(Problem{X: zs, Y: ws, Sigma: es, Model: curveModel}, p0.vector(), DefaultSettings())
		if err == nil {
			return focusFrom(sol, n, true)
		}
		errWeighted = err
		debug.Verbose("Fit: weighted focus fit failed, retrying unweighted: %v", err)
	}

	sol, err := Solve(Problem{X: zs, Y: ws, Model: curveModel}, p0.vector(), DefaultSettings())
	if err == nil {
		return focusFrom(sol, n, false)
	}
	if errWeighted != nil {
		debug.Verbose("Fit: weighted attempt: %v", errWeighted)
	}
	debug.Warn("Fit: focus fit failed: %v", err)
	return sentinel(n, err)
}

func focusFrom(sol *Solution, n int, weighted bool) Focus {
	c := curveFrom(sol.Params)
	c.RayleighMm = math.Abs(c.RayleighMm)
	c.Waist = math.Abs(c.Waist)
	return Focus{
		Params:   c,
		Errors:   curveFrom(sol.Errors),
		Valid:    true,
		Weighted: weighted,
		Points:   n,
	}
}

func sentinel(n int, err error) Focus {
	return Focus{Params: Sentinel, Points: n, Err: err}
}

// focusGuess starts at the narrowest point with a Rayleigh range of the
// whole scan span.
func focusGuess(zs, ws []float64) Curve {
	i := floats.MinIdx(ws)
	zr := zs[len(zs)-1] - zs[0]
	if zr <= 0 {
		zr = 1
	}
	w0 := ws[i]
	if w0 == 0 {
		w0 = 1
	}
	return Curve{RayleighMm: zr, Waist: w0, FocusMm: zs[i]}
}

// sortByPosition returns copies of the data sorted by ascending position.
// Errors are dropped (nil) unless all are positive and finite.
func sortByPosition(positions, widths, widthErrs []float64) (zs, ws, es []float64) {
	idx := make([]int, len(positions))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return positions[idx[a]] < positions[idx[b]] })

	zs = make([]float64, len(idx))
	ws = make([]float64, len(idx))
	usable := widthErrs != nil
	for _, e := range widthErrs {
		if !(e > 0) || math.IsInf(e, 0) {
			usable = false
			break
		}
	}
	if usable {
		es = make([]float64, len(idx))
	}
	for k, i := range idx {
		zs[k] = positions[i]
		ws[k] = widths[i]
		if usable {
			es[k] = widthErrs[i]
		}
	}
	return zs, ws, es
}
