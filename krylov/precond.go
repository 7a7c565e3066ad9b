package krylov

import (
	"github.com/gmgsolve/gmg/operator"
)

// IdentityPreconditioner is the no-op M = I, useful as a baseline.
type IdentityPreconditioner struct{}

func (IdentityPreconditioner) Apply(dst, r []float64) error {
	copy(dst, r)
	return nil
}

// JacobiPreconditioner applies the (optionally weighted) inverse diagonal of
// the operator.
type JacobiPreconditioner struct {
	invDiag []float64
}

// NewJacobiPreconditioner caches 1/diag(a).
func NewJacobiPreconditioner(a *operator.Matrix) *JacobiPreconditioner {
	return NewWeightedJacobiPreconditioner(a, 1)
}

// NewWeightedJacobiPreconditioner caches omega/diag(a). A non-positive omega
// selects the unweighted scaling.
func NewWeightedJacobiPreconditioner(a *operator.Matrix, omega float64) *JacobiPreconditioner {
	if omega <= 0 {
		omega = 1
	}
	d := a.Diagonal()
	for i, v := range d {
		if v != 0 {
			d[i] = omega / v
		}
	}
	return &JacobiPreconditioner{invDiag: d}
}

func (p *JacobiPreconditioner) Apply(dst, r []float64) error {
	for i, v := range r {
		dst[i] = v * p.invDiag[i]
	}
	return nil
}

// DirectPreconditioner applies an exact factorization as M^-1, turning the
// outer iteration into (numerically) a single step. Intended for small
// systems and for exact inner block solves.
type DirectPreconditioner struct {
	lu *operator.DenseLU
}

// NewDirectPreconditioner factorizes a, optionally deflated by ns.
func NewDirectPreconditioner(a *operator.Matrix, ns *operator.NullSpace) (*DirectPreconditioner, error) {
	lu, err := operator.NewDenseLU(a, ns)
	if err != nil {
		return nil, err
	}
	return &DirectPreconditioner{lu: lu}, nil
}

func (p *DirectPreconditioner) Apply(dst, r []float64) error {
	return p.lu.Solve(dst, r)
}
