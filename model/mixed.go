package model

import (
	"fmt"

	"github.com/gmgsolve/gmg/fieldsplit"
	"github.com/gmgsolve/gmg/operator"
)

// MixedPoisson1D assembles the lowest-order 1-D mixed discretization of
// -Δp = f on cells cells of [0,1]: nodal fluxes sigma (lumped mass M) and
// cellwise pressures p coupled by the discrete divergence,
//
//	[ M   B^T ] [ sigma ]   [ 0 ]
//	[ B   0   ] [   p   ] = [ g ]
//
// with g_j the cell average of f scaled by the cell size. The returned
// right-hand side is the concatenated (0, g).
func MixedPoisson1D(cells int, f func(x float64) float64) (*fieldsplit.BlockSystem, []float64, error) {
	if cells < 1 {
		return nil, nil, fmt.Errorf("model: mixed poisson needs at least 1 cell, got %d", cells)
	}
	nFlux := cells + 1
	h := 1.0 / float64(cells)

	mb := operator.NewBuilder(nFlux, nFlux)
	for i := 0; i < nFlux; i++ {
		mb.Set(i, i, h)
	}
	mass := mb.Finalize(true)

	// Discrete divergence: (B sigma)_j = sigma_{j+1} - sigma_j.
	db := operator.NewBuilder(cells, nFlux)
	gb := operator.NewBuilder(nFlux, cells)
	for j := 0; j < cells; j++ {
		db.Set(j, j, -1)
		db.Set(j, j+1, 1)
		gb.Set(j, j, -1)
		gb.Set(j+1, j, 1)
	}
	div := db.Finalize(false)
	grad := gb.Finalize(false)

	bs, err := fieldsplit.NewBlockSystem(mass, grad, div, nil)
	if err != nil {
		return nil, nil, err
	}

	rhs := make([]float64, nFlux+cells)
	for j := 0; j < cells; j++ {
		mid := (float64(j) + 0.5) * h
		rhs[nFlux+j] = h * f(mid)
	}
	return bs, rhs, nil
}
