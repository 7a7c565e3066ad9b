package krylov

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/gmgsolve/gmg/operator"
)

// FGMRES runs flexible restarted GMRES on a x = b. Unlike right-
// preconditioned GMRES it stores the preconditioned directions, so the
// preconditioner may change between applications — required when inner block
// solves are inexact. restart is the Krylov subspace size before a restart
// (a non-positive value selects 30).
func FGMRES(a operator.Operator, b []float64, m Preconditioner, restart int, settings Settings) (Result, error) {
	settings.defaults()
	n := len(b)
	if err := operator.CheckDims(a, n, n); err != nil {
		return Result{}, fmt.Errorf("krylov: fgmres: %w", err)
	}
	if restart <= 0 {
		restart = 30
	}
	if restart > n {
		restart = n
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

	// Arnoldi basis V, preconditioned directions Z, Hessenberg column-major
	// in h, Givens rotations (cs, sn) and the rotated rhs g.
	v := make([][]float64, restart+1)
	z := make([][]float64, restart)
	for i := range v {
		v[i] = make([]float64, n)
	}
	for i := range z {
		z[i] = make([]float64, n)
	}
	h := make([][]float64, restart+1)
	for i := range h {
		h[i] = make([]float64, restart)
	}
	cs := make([]float64, restart)
	sn := make([]float64, restart)
	g := make([]float64, restart+1)
	w := make([]float64, n)

	st := newStagnation(settings.StagnationWindow, r0)
	total := 0
	for total < settings.MaxIterations {
		beta := floats.Norm(r, 2)
		floats.ScaleTo(v[0], 1/beta, r)
		for i := range g {
			g[i] = 0
		}
		g[0] = beta

		j := 0
		for ; j < restart && total < settings.MaxIterations; j++ {
			total++
			if m != nil {
				if err := m.Apply(z[j], v[j]); err != nil {
					res.Iterations = total
					return res, fmt.Errorf("krylov: fgmres preconditioner: %w", err)
				}
			} else {
				copy(z[j], v[j])
			}
			if settings.NullSpace != nil {
				settings.NullSpace.Project(z[j])
			}
			a.Apply(w, z[j])

			// Modified Gram-Schmidt.
			for i := 0; i <= j; i++ {
				h[i][j] = floats.Dot(w, v[i])
				floats.AddScaled(w, -h[i][j], v[i])
			}
			h[j+1][j] = floats.Norm(w, 2)
			if h[j+1][j] != 0 {
				floats.ScaleTo(v[j+1], 1/h[j+1][j], w)
			}

			// Apply existing Givens rotations to the new column, then a new
			// rotation to annihilate the subdiagonal.
			for i := 0; i < j; i++ {
				hij := cs[i]*h[i][j] + sn[i]*h[i+1][j]
				h[i+1][j] = -sn[i]*h[i][j] + cs[i]*h[i+1][j]
				h[i][j] = hij
			}
			cs[j], sn[j] = givens(h[j][j], h[j+1][j])
			h[j][j] = cs[j]*h[j][j] + sn[j]*h[j+1][j]
			h[j+1][j] = 0
			g[j+1] = -sn[j] * g[j]
			g[j] = cs[j] * g[j]

			rnorm := math.Abs(g[j+1])
			res.Iterations = total
			res.ResidualNorm = rnorm
			log.V(2).Info("fgmres iteration", "it", total, "residual", rnorm)
			if settings.converged(rnorm, r0) {
				updateSolution(x, h, g, z, j+1)
				res.Converged = true
				log.V(1).Info("fgmres converged", "iterations", total, "residual", rnorm)
				return res, nil
			}
			if rnorm > settings.DivergenceFactor*r0 {
				updateSolution(x, h, g, z, j+1)
				return res, fmt.Errorf("%w: residual grew to %g from %g", ErrDiverged, rnorm, r0)
			}
			if st.step(rnorm) {
				updateSolution(x, h, g, z, j+1)
				return res, fmt.Errorf("%w: no progress over %d iterations", ErrStagnated, settings.StagnationWindow)
			}
		}

		updateSolution(x, h, g, z, j)
		operator.Residual(r, a, b, x)
		if settings.NullSpace != nil {
			settings.NullSpace.Project(r)
		}
	}
	log.V(1).Info("fgmres hit iteration cap", "iterations", res.Iterations, "residual", res.ResidualNorm)
	return res, fmt.Errorf("%w: %d iterations, residual %g", ErrDiverged, res.Iterations, res.ResidualNorm)
}

// updateSolution solves the k-by-k upper triangular system accumulated in h
// and adds the correction sum y_i z_i to x.
func updateSolution(x []float64, h [][]float64, g []float64, z [][]float64, k int) {
	if k == 0 {
		return
	}
	y := make([]float64, k)
	for i := k - 1; i >= 0; i-- {
		y[i] = g[i]
		for j := i + 1; j < k; j++ {
			y[i] -= h[i][j] * y[j]
		}
		y[i] /= h[i][i]
	}
	for i := 0; i < k; i++ {
		floats.AddScaled(x, y[i], z[i])
	}
}

// givens returns the rotation (c, s) that maps (a, b) to (r, 0).
func givens(a, b float64) (c, s float64) {
	if b == 0 {
		return 1, 0
	}
	if math.Abs(b) > math.Abs(a) {
		t := a / b
		s = 1 / math.Sqrt(1+t*t)
		return s * t, s
	}
	t := b / a
	c = 1 / math.Sqrt(1+t*t)
	return c, c * t
}
