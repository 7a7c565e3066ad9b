package hierarchy

import (
	"fmt"

	"github.com/james-bowman/sparse"
)

// Prolong transfers the primal vector x on level l up to level l+1:
// dst = P*x. It fails with ErrNoFinerLevel at the finest level.
func (h *Hierarchy) Prolong(l int, x, dst []float64) error {
	if l < 0 || l >= h.Depth()-1 {
		return fmt.Errorf("%w: prolong from level %d of %d", ErrNoFinerLevel, l, h.Depth())
	}
	p := h.prolong[l]
	if err := checkTransferDims(p, len(dst), len(x)); err != nil {
		return err
	}
	// MulMatRawVec accumulates into dst.
	for i := range dst {
		dst[i] = 0
	}
	sparse.MulMatRawVec(p, x, dst)
	return nil
}

// Restrict transfers the residual (dual) vector r on level l down to level
// l-1 as the transpose action of the stored prolongation: dst = P^T*r. The
// transpose relationship is the contract; restriction is never re-derived
// independently. It fails with ErrNoCoarserLevel at level 0.
func (h *Hierarchy) Restrict(l int, r, dst []float64) error {
	if l <= 0 || l >= h.Depth() {
		return fmt.Errorf("%w: restrict from level %d of %d", ErrNoCoarserLevel, l, h.Depth())
	}
	p := h.prolong[l-1]
	if err := checkTransferDims(p, len(r), len(dst)); err != nil {
		return err
	}
	for i := range dst {
		dst[i] = 0
	}
	p.DoNonZero(func(i, j int, v float64) {
		dst[j] += v * r[i]
	})
	return nil
}

// Inject samples the primal vector v on level l at the coincident dof
// locations of level l-1. This is pointwise transfer of a solution-like
// quantity; it is not the transpose of anything and must not be used for
// residuals. It fails with ErrNoCoarserLevel at level 0.
func (h *Hierarchy) Inject(l int, v, dst []float64) error {
	if l <= 0 || l >= h.Depth() {
		return fmt.Errorf("%w: inject from level %d of %d", ErrNoCoarserLevel, l, h.Depth())
	}
	from := h.injectFrom[l-1]
	if len(v) != h.levels[l].NumDofs || len(dst) != len(from) {
		return fmt.Errorf("hierarchy: inject size mismatch at level %d", l)
	}
	for j, src := range from {
		dst[j] = v[src]
	}
	return nil
}

func checkTransferDims(p *sparse.CSR, nFine, nCoarse int) error {
	r, c := p.Dims()
	if r != nFine || c != nCoarse {
		return fmt.Errorf("hierarchy: transfer is %dx%d, vectors are %d and %d", r, c, nFine, nCoarse)
	}
	return nil
}
