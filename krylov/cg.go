package krylov

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/gmgsolve/gmg/operator"
)

// CG runs the preconditioned conjugate gradient iteration on the symmetric
// positive (semi-)definite system a x = b. m may be nil for the
// unpreconditioned iteration. The returned Result always carries the last
// iterate, also on ErrDiverged and ErrStagnated.
func CG(a operator.Operator, b []float64, m Preconditioner, settings Settings) (Result, error) {
	settings.defaults()
	n := len(b)
	if err := operator.CheckDims(a, n, n); err != nil {
		return Result{}, fmt.Errorf("krylov: cg: %w", err)
	}
	log := settings.Logger

	if settings.NullSpace != nil {
		bp := make([]float64, n)
		copy(bp, b)
		settings.NullSpace.Project(bp)
		b = bp
	}

	x, r := startResidual(a, b, settings.InitialGuess)
	if settings.NullSpace != nil {
		settings.NullSpace.Project(r)
	}
	r0 := floats.Norm(r, 2)
	res := Result{X: x, ResidualNorm: r0}
	if r0 == 0 || settings.converged(r0, r0) {
		res.Converged = true
		return res, nil
	}

	z := make([]float64, n)
	p := make([]float64, n)
	ap := make([]float64, n)
	st := newStagnation(settings.StagnationWindow, r0)

	var rho, rhoPrev float64
	for it := 1; it <= settings.MaxIterations; it++ {
		if m != nil {
			if err := m.Apply(z, r); err != nil {
				return res, fmt.Errorf("krylov: cg preconditioner: %w", err)
			}
		} else {
			copy(z, r)
		}
		if settings.NullSpace != nil {
			settings.NullSpace.Project(z)
		}
		rho = floats.Dot(r, z)
		if it == 1 {
			copy(p, z)
		} else {
			beta := rho / rhoPrev
			for i := range p {
				p[i] = z[i] + beta*p[i]
			}
		}
		a.Apply(ap, p)
		pap := floats.Dot(p, ap)
		if pap <= 0 {
			res.Iterations = it
			return res, fmt.Errorf("%w: operator lost positive definiteness (p.Ap=%g)", ErrDiverged, pap)
		}
		alpha := rho / pap
		floats.AddScaled(x, alpha, p)
		floats.AddScaled(r, -alpha, ap)
		if settings.NullSpace != nil {
			settings.NullSpace.Project(r)
		}
		rhoPrev = rho

		rnorm := floats.Norm(r, 2)
		res.Iterations = it
		res.ResidualNorm = rnorm
		log.V(2).Info("cg iteration", "it", it, "residual", rnorm)
		if settings.converged(rnorm, r0) {
			res.Converged = true
			log.V(1).Info("cg converged", "iterations", it, "residual", rnorm)
			return res, nil
		}
		if rnorm > settings.DivergenceFactor*r0 {
			return res, fmt.Errorf("%w: residual grew to %g from %g", ErrDiverged, rnorm, r0)
		}
		if st.step(rnorm) {
			return res, fmt.Errorf("%w: no progress over %d iterations", ErrStagnated, settings.StagnationWindow)
		}
	}
	log.V(1).Info("cg hit iteration cap", "iterations", res.Iterations, "residual", res.ResidualNorm)
	return res, fmt.Errorf("%w: %d iterations, residual %g", ErrDiverged, res.Iterations, res.ResidualNorm)
}
