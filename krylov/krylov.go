// Package krylov provides the outer iterative solvers: preconditioned CG for
// symmetric positive definite systems and flexible GMRES for nonsymmetric
// systems or whenever the preconditioner varies between applications (as it
// does with inexact inner solves). Solvers report non-convergence as a typed
// result carrying the partial iterate; they never return a plausible-looking
// answer without flagging it.
package krylov

import (
	"errors"

	"github.com/go-logr/logr"

	"github.com/gmgsolve/gmg/operator"
)

var (
	// ErrDiverged reports that the iteration hit its cap or the residual
	// grew past the divergence threshold.
	ErrDiverged = errors.New("krylov: iteration diverged or exceeded cap")
	// ErrStagnated reports that the preconditioned iteration stopped making
	// progress, typically a degraded Schur-complement approximation.
	ErrStagnated = errors.New("krylov: iteration stagnated")
)

// Preconditioner approximates the action dst = M^-1 r. A multigrid cycle and
// the field-split preconditioner both satisfy it.
type Preconditioner interface {
	Apply(dst, r []float64) error
}

// Settings bounds and steers a solve. Zero values select defaults.
type Settings struct {
	// Tolerance is the relative residual target ||r_k|| / ||r_0||.
	Tolerance float64
	// Absolute is the absolute residual target; whichever of the two
	// triggers first stops the iteration.
	Absolute float64
	// MaxIterations is a hard cap; hitting it yields ErrDiverged together
	// with the partial result.
	MaxIterations int
	// DivergenceFactor aborts early once ||r_k|| exceeds this multiple of
	// ||r_0||.
	DivergenceFactor float64
	// StagnationWindow is the number of consecutive iterations without
	// meaningful residual reduction tolerated before ErrStagnated. Zero
	// disables the check.
	StagnationWindow int
	// InitialGuess seeds the iteration; nil starts from zero.
	InitialGuess []float64
	// NullSpace declares directions the solution is insensitive to. The
	// right-hand side and every iterate are kept orthogonal to it.
	NullSpace *operator.NullSpace
	// Logger receives per-solve (V1) and per-iteration (V2) records.
	Logger logr.Logger
}

func (s *Settings) defaults() {
	if s.Tolerance <= 0 {
		s.Tolerance = 1e-8
	}
	if s.MaxIterations <= 0 {
		s.MaxIterations = 1000
	}
	if s.DivergenceFactor <= 0 {
		s.DivergenceFactor = 1e5
	}
	if s.Logger.GetSink() == nil {
		s.Logger = logr.Discard()
	}
}

// Result carries the outcome of a solve, converged or not.
type Result struct {
	X            []float64
	Iterations   int
	ResidualNorm float64
	Converged    bool
}

// converged reports whether rnorm meets either threshold.
func (s *Settings) converged(rnorm, r0norm float64) bool {
	if s.Absolute > 0 && rnorm < s.Absolute {
		return true
	}
	return rnorm < s.Tolerance*r0norm
}

// stagnation tracks a sliding best-residual window.
type stagnation struct {
	window int
	best   float64
	since  int
}

func newStagnation(window int, r0 float64) *stagnation {
	return &stagnation{window: window, best: r0}
}

// step reports true once the residual has not improved by at least 1% over
// the configured window.
func (st *stagnation) step(rnorm float64) bool {
	if st.window <= 0 {
		return false
	}
	if rnorm < 0.99*st.best {
		st.best = rnorm
		st.since = 0
		return false
	}
	st.since++
	return st.since >= st.window
}

func startResidual(a operator.Operator, b, x0 []float64) (x, r []float64) {
	n := len(b)
	x = make([]float64, n)
	r = make([]float64, n)
	if x0 != nil {
		copy(x, x0)
		operator.Residual(r, a, b, x)
	} else {
		copy(r, b)
	}
	return x, r
}
