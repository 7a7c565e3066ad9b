package operator

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DenseLU is a dense LU factorization of a (small) sparse operator, intended
// for the coarsest multigrid level and for exact block solves. If a null
// space is supplied the factorization is deflated: the operator is rank
// augmented with the null-space dyads so it factors cleanly, and solutions
// are projected back onto the null-space complement.
type DenseLU struct {
	lu   mat.LU
	n    int
	ns   *NullSpace
	work *mat.VecDense
}

// NewDenseLU densifies a and factorizes it. Pass a non-nil null space for
// singular operators (pure Neumann problems, free rigid-body modes); without
// it a singular operator surfaces ErrSingularMatrix at Solve time.
func NewDenseLU(a *Matrix, ns *NullSpace) (*DenseLU, error) {
	n, c := a.Dims()
	if n != c {
		return nil, fmt.Errorf("operator: cannot factorize %dx%d operator", n, c)
	}
	if ns != nil && ns.Len() != n {
		return nil, fmt.Errorf("operator: null space length %d does not match operator size %d", ns.Len(), n)
	}
	dense := mat.NewDense(n, n, nil)
	a.CSR.DoNonZero(func(i, j int, v float64) {
		dense.Set(i, j, v)
	})
	if ns != nil {
		// Rank augmentation A + s*sum q q^T keeps the range-space action
		// intact while making the factorization nonsingular. The scale is
		// taken from the diagonal so the augmented system stays balanced.
		scale := 0.0
		for i := 0; i < n; i++ {
			scale += dense.At(i, i)
		}
		scale /= float64(n)
		if scale == 0 {
			scale = 1
		}
		for k := 0; k < ns.Dim(); k++ {
			q := ns.Basis(k)
			for i := 0; i < n; i++ {
				if q[i] == 0 {
					continue
				}
				for j := 0; j < n; j++ {
					dense.Set(i, j, dense.At(i, j)+scale*q[i]*q[j])
				}
			}
		}
	}
	d := &DenseLU{n: n, ns: ns, work: mat.NewVecDense(n, nil)}
	d.lu.Factorize(dense)
	return d, nil
}

// Dims implements Operator sizing for callers that only need the shape.
func (d *DenseLU) Dims() (r, c int) { return d.n, d.n }

// Solve computes dst = A^-1 b to machine precision. With a null space
// configured, b is first projected onto the null-space complement and the
// returned solution carries no null-space component.
func (d *DenseLU) Solve(dst, b []float64) error {
	if len(dst) != d.n || len(b) != d.n {
		return fmt.Errorf("operator: solve size mismatch, have %d and %d, want %d", len(dst), len(b), d.n)
	}
	rhs := b
	if d.ns != nil {
		rhs = make([]float64, d.n)
		copy(rhs, b)
		d.ns.Project(rhs)
	}
	if err := d.lu.SolveVecTo(d.work, false, mat.NewVecDense(d.n, rhs)); err != nil {
		return fmt.Errorf("%w: %v", ErrSingularMatrix, err)
	}
	copy(dst, d.work.RawVector().Data)
	if d.ns != nil {
		d.ns.Project(dst)
	}
	if floats.HasNaN(dst) {
		return fmt.Errorf("%w: factorization produced NaN", ErrSingularMatrix)
	}
	return nil
}
