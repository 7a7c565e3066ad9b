// Package fieldsplit implements Schur-complement (field-split) block
// preconditioning for 2x2 saddle-point systems. The (1,1)-block inverse and
// the Schur-block inverse are delegated to inner solvers — typically a
// multigrid cycle, a direct factorization or a fixed relaxation — each with
// its own accuracy settings.
package fieldsplit

import (
	"errors"
	"fmt"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/floats"

	"github.com/gmgsolve/gmg/operator"
)

// BlockSystem is the 2x2 block operator [[A, B], [C, D]]. D may be nil for
// the common saddle-point case with a zero (2,2) block.
type BlockSystem struct {
	A, B, C, D *operator.Matrix

	// NearNullSpace holds the orthonormalized near-null vectors of the
	// (1,1) block (rigid-body modes for elasticity). Coarsening-based inner
	// solvers need it to stay effective; omitting it is legal but degrades
	// convergence.
	NearNullSpace *operator.NullSpace

	nA, nS int
}

// NewBlockSystem validates the block shapes and returns the system. With a
// nil d the (2,2) block is taken as zero.
func NewBlockSystem(a, b, c, d *operator.Matrix) (*BlockSystem, error) {
	if a == nil || b == nil || c == nil {
		return nil, errors.New("fieldsplit: blocks A, B and C are required")
	}
	ra, ca := a.Dims()
	rb, cb := b.Dims()
	rc, cc := c.Dims()
	if ra != ca {
		return nil, fmt.Errorf("fieldsplit: A must be square, got %dx%d", ra, ca)
	}
	if rb != ra || cc != ra {
		return nil, fmt.Errorf("fieldsplit: off-diagonal blocks do not border A: B is %dx%d, C is %dx%d", rb, cb, rc, cc)
	}
	if cb != rc {
		return nil, fmt.Errorf("fieldsplit: B (%dx%d) and C (%dx%d) disagree on the second field size", rb, cb, rc, cc)
	}
	bs := &BlockSystem{A: a, B: b, C: c, D: d, nA: ra, nS: rc}
	if d != nil {
		rd, cd := d.Dims()
		if rd != bs.nS || cd != bs.nS {
			return nil, fmt.Errorf("fieldsplit: D is %dx%d, want %dx%d", rd, cd, bs.nS, bs.nS)
		}
	}
	return bs, nil
}

// SetNearNullSpace installs the near-null vectors of the (1,1) block,
// orthonormalizing them first.
func (bs *BlockSystem) SetNearNullSpace(vecs ...[]float64) error {
	ns, err := operator.NewNullSpace(vecs...)
	if err != nil {
		return err
	}
	if ns.Len() != bs.nA {
		return fmt.Errorf("fieldsplit: near-null vectors have length %d, (1,1) block has %d dofs", ns.Len(), bs.nA)
	}
	bs.NearNullSpace = ns
	return nil
}

// Dims implements operator.Operator for the monolithic system.
func (bs *BlockSystem) Dims() (r, c int) {
	n := bs.nA + bs.nS
	return n, n
}

// SplitSizes reports the dof counts of the two fields.
func (bs *BlockSystem) SplitSizes() (nA, nS int) { return bs.nA, bs.nS }

// Apply computes the monolithic block matrix-vector product, making the
// system directly usable by an outer Krylov solver.
func (bs *BlockSystem) Apply(dst, src []float64) {
	f, g := src[:bs.nA], src[bs.nA:]
	df, dg := dst[:bs.nA], dst[bs.nA:]

	bs.A.Apply(df, f)
	tmp := make([]float64, bs.nA)
	bs.B.Apply(tmp, g)
	floats.Add(df, tmp)

	bs.C.Apply(dg, f)
	if bs.D != nil {
		tms := make([]float64, bs.nS)
		bs.D.Apply(tms, g)
		floats.Add(dg, tms)
	}
}

// Context carries auxiliary problem data into Schur-operator construction.
// This is the closed set of keys a preconditioner kind may consult; user
// AuxOperator implementations receive it by reference.
type Context struct {
	// Viscosity scales mass-matrix Schur approximations for Stokes-type
	// problems. Zero means unscaled.
	Viscosity float64
	// MassMatrix is the second-field mass matrix, the usual Schur
	// approximation for Stokes and mixed Poisson.
	MassMatrix *operator.Matrix
}

// AuxOperator supplies a user-defined Schur approximation instead of the
// built-in diagonal one.
type AuxOperator interface {
	SchurOperator(bs *BlockSystem, ctx *Context) (*operator.Matrix, error)
}

// ApproximateSchur forms S = D - C diag(A)^-1 B explicitly as a sparse
// operator, the cheapest standard Schur approximation.
func (bs *BlockSystem) ApproximateSchur() (*operator.Matrix, error) {
	diag := bs.A.Diagonal()
	for i, v := range diag {
		if v == 0 {
			return nil, fmt.Errorf("fieldsplit: zero diagonal at dof %d of the (1,1) block", i)
		}
		diag[i] = 1 / v
	}
	dok := sparse.NewDOK(bs.nS, bs.nS)
	if bs.D != nil {
		bs.D.CSR.DoNonZero(func(i, j int, v float64) {
			dok.Set(i, j, v)
		})
	}
	bs.C.CSR.DoNonZero(func(i, k int, cv float64) {
		scaled := cv * diag[k]
		bs.B.CSR.DoRowNonZero(k, func(_, j int, bv float64) {
			dok.Set(i, j, dok.At(i, j)-scaled*bv)
		})
	})
	// The product C diag(A)^-1 B is symmetric whenever C is the transpose
	// of B, the usual saddle-point structure; the flag follows A and D.
	symmetric := bs.A.Symmetric && (bs.D == nil || bs.D.Symmetric)
	return operator.NewMatrix(dok.ToCSR(), symmetric), nil
}
