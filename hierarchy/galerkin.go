package hierarchy

import (
	"github.com/james-bowman/sparse"

	"github.com/gmgsolve/gmg/operator"
)

// GalerkinCoarsen forms the Galerkin triple product P^T A P as an explicit
// sparse operator. This is the algebraic alternative to re-assembling the
// coarse operator from the coarse discretization; callers choose one or the
// other explicitly, the cycle never substitutes one for the other.
func GalerkinCoarsen(fineA *operator.Matrix, p *sparse.CSR) *operator.Matrix {
	_, nc := p.Dims()
	dok := sparse.NewDOK(nc, nc)
	fineA.CSR.DoNonZero(func(i, j int, a float64) {
		p.DoRowNonZero(i, func(_, ic int, pi float64) {
			p.DoRowNonZero(j, func(_, jc int, pj float64) {
				dok.Set(ic, jc, dok.At(ic, jc)+pi*a*pj)
			})
		})
	})
	return operator.NewMatrix(dok.ToCSR(), fineA.Symmetric)
}
