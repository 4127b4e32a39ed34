package fit

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/cjeanneret/BeamGo/internal/fault"
)

// Model evaluates a curve at x for parameters p.
type Model func(x float64, p []float64) float64

// Problem is a nonlinear least-squares problem.
type Problem struct {
	X, Y  []float64
	Sigma []float64 // per-point standard deviation; nil = unweighted
	Model Model
}

// Settings control the Levenberg-Marquardt iteration.
type Settings struct {
	MaxIter int
	FTol    float64 // relative reduction of the cost that counts as converged
	XTol    float64 // relative step size that counts as converged
}

// DefaultSettings mirrors the tolerances of MINPACK's lmdif.
func DefaultSettings() Settings {
	return Settings{MaxIter: 200, FTol: 1.49012e-8, XTol: 1.49012e-8}
}

// Solution is a converged fit.
type Solution struct {
	Params     []float64
	Errors     []float64 // sqrt of the covariance diagonal; +Inf when it is singular
	Cov        *mat.Dense
	Cost       float64 // sum of squared (weighted) residuals
	Iterations int
}

const (
	lambdaStart = 1e-3
	lambdaMax   = 1e30
)

// Solve fits prob.Model to the data starting from p0.
//
// The covariance is inv(JᵀJ) scaled by the reduced chi-square, so that
// sigma acts as relative weights. With no degrees of freedom left the
// errors are +Inf.
func Solve(prob Problem, p0 []float64, s Settings) (*Solution, error) {
	n, m := len(prob.X), len(p0)
	if n != len(prob.Y) || (prob.Sigma != nil && len(prob.Sigma) != n) {
		return nil, fault.Configf("fit data lengths differ: x=%d y=%d sigma=%d", n, len(prob.Y), len(prob.Sigma))
	}
	if n == 0 || m == 0 {
		return nil, fault.NonConvergencef("nothing to fit (%d points, %d parameters)", n, m)
	}
	for _, sg := range prob.Sigma {
		if !(sg > 0) || math.IsInf(sg, 0) {
			return nil, fault.NonConvergencef("sigma must be positive and finite, got %g", sg)
		}
	}

	residuals := func(r, p []float64) {
		for i, x := range prob.X {
			r[i] = prob.Y[i] - prob.Model(x, p)
			if prob.Sigma != nil {
				r[i] /= prob.Sigma[i]
			}
		}
	}

	p := append([]float64(nil), p0...)
	r := make([]float64, n)
	residuals(r, p)
	cost := floats.Dot(r, r)
	if !finite(cost) {
		return nil, fault.NonConvergencef("initial guess %v gives a non-finite cost", p0)
	}

	jac := mat.NewDense(n, m, nil)
	jacSettings := &fd.JacobianSettings{Formula: fd.Central}
	var (
		jtj   mat.SymDense
		grad  mat.VecDense
		step  mat.VecDense
		trial = make([]float64, m)
		rTry  = make([]float64, n)
	)
	lambda := lambdaStart
	converged := cost == 0
	iter := 0

	for ; !converged && iter < s.MaxIter; iter++ {
		fd.Jacobian(jac, residuals, p, jacSettings)
		jtj.SymOuterK(1, jac.T())
		grad.MulVec(jac.T(), mat.NewVecDense(n, r))

		for {
			damped := mat.NewSymDense(m, nil)
			damped.CopySym(&jtj)
			for i := 0; i < m; i++ {
				d := jtj.At(i, i)
				if d == 0 {
					d = 1
				}
				damped.SetSym(i, i, jtj.At(i, i)+lambda*d)
			}
			if err := step.SolveVec(damped, &grad); err != nil && !isCondition(err) {
				lambda *= 10
				if lambda > lambdaMax {
					return nil, fault.NonConvergencef("damped normal equations are singular: %v", err)
				}
				continue
			}

			// The residual Jacobian is -J of the model, so the descent step
			// is the negated solution.
			for i := range trial {
				trial[i] = p[i] - step.AtVec(i)
			}
			if floats.Norm(step.RawVector().Data, 2) <= s.XTol*(floats.Norm(p, 2)+s.XTol) {
				converged = true
				break
			}

			residuals(rTry, trial)
			newCost := floats.Dot(rTry, rTry)
			if finite(newCost) && newCost < cost {
				reduction := cost - newCost
				copy(p, trial)
				copy(r, rTry)
				cost = newCost
				// A small reduction only means convergence for a nearly
				// undamped step.
				if (lambda <= 1 && reduction <= s.FTol*(cost+reduction)) || cost == 0 {
					converged = true
				}
				lambda = math.Max(lambda/10, 1e-12)
				break
			}

			lambda *= 10
			if lambda > lambdaMax {
				return nil, fault.NonConvergencef("no cost reduction possible at %v (cost %g)", p, cost)
			}
		}
	}
	if !converged {
		return nil, fault.NonConvergencef("no convergence after %d iterations (cost %g, params %v)", iter, cost, p)
	}
	for _, v := range p {
		if !finite(v) {
			return nil, fault.NonConvergencef("non-finite parameters %v", p)
		}
	}

	sol := &Solution{Params: p, Cost: cost, Iterations: iter, Errors: make([]float64, m)}
	fd.Jacobian(jac, residuals, p, jacSettings)
	jtj.SymOuterK(1, jac.T())
	var cov mat.Dense
	err := cov.Inverse(&jtj)
	if (err != nil && !isCondition(err)) || n <= m {
		for i := range sol.Errors {
			sol.Errors[i] = math.Inf(1)
		}
		return sol, nil
	}
	cov.Scale(cost/float64(n-m), &cov)
	sol.Cov = &cov
	for i := range sol.Errors {
		sol.Errors[i] = math.Sqrt(math.Abs(cov.At(i, i)))
	}
	return sol, nil
}

func isCondition(err error) bool {
	var c mat.Condition
	return errors.As(err, &c)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
