// Package operator provides the sparse linear-operator layer shared by the
// multigrid hierarchy, smoothers, Krylov methods and block preconditioners.
package operator

import (
	"fmt"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/floats"
)

// Operator is the minimal contract a linear operator must satisfy: report its
// dimensions and apply itself to a raw vector.
type Operator interface {
	Dims() (r, c int)
	// Apply computes dst = A*src. dst and src must not alias.
	Apply(dst, src []float64)
}

// Matrix is a CSR-backed operator. Symmetric records whether the values (not
// just the sparsity structure) are symmetric, which selects CG over FGMRES in
// callers that care.
type Matrix struct {
	CSR       *sparse.CSR
	Symmetric bool
}

// NewMatrix wraps an assembled CSR matrix.
func NewMatrix(csr *sparse.CSR, symmetric bool) *Matrix {
	return &Matrix{CSR: csr, Symmetric: symmetric}
}

func (m *Matrix) Dims() (r, c int) { return m.CSR.Dims() }

func (m *Matrix) Apply(dst, src []float64) {
	// MulMatRawVec accumulates dst += A*src, so dst must be cleared to get
	// the overwrite semantics of the Operator contract.
	for i := range dst {
		dst[i] = 0
	}
	sparse.MulMatRawVec(m.CSR, src, dst)
}

// Diagonal extracts the main diagonal into a fresh slice.
func (m *Matrix) Diagonal() []float64 {
	n, _ := m.CSR.Dims()
	d := make([]float64, n)
	for i := 0; i < n; i++ {
		d[i] = m.CSR.At(i, i)
	}
	return d
}

// Residual computes dst = b - A*u.
func Residual(dst []float64, a Operator, b, u []float64) {
	a.Apply(dst, u)
	floats.AddScaledTo(dst, b, -1, dst)
}

// Builder accumulates matrix entries during assembly and finalizes them into
// a Matrix. It is a thin layer over a DOK store.
type Builder struct {
	dok        *sparse.DOK
	rows, cols int
}

// NewBuilder creates an empty r x c assembly target.
func NewBuilder(r, c int) *Builder {
	return &Builder{dok: sparse.NewDOK(r, c), rows: r, cols: c}
}

// Add accumulates v into entry (i, j).
func (b *Builder) Add(i, j int, v float64) {
	b.dok.Set(i, j, b.dok.At(i, j)+v)
}

// Set overwrites entry (i, j).
func (b *Builder) Set(i, j int, v float64) {
	b.dok.Set(i, j, v)
}

// At reports the current value of entry (i, j).
func (b *Builder) At(i, j int) float64 {
	return b.dok.At(i, j)
}

// Dims reports the assembly target dimensions.
func (b *Builder) Dims() (r, c int) { return b.rows, b.cols }

// Finalize converts the accumulated entries to CSR form.
func (b *Builder) Finalize(symmetric bool) *Matrix {
	return NewMatrix(b.dok.ToCSR(), symmetric)
}

// CheckDims validates that an operator can be applied between vectors of the
// given lengths.
func CheckDims(a Operator, nDst, nSrc int) error {
	r, c := a.Dims()
	if r != nDst || c != nSrc {
		return fmt.Errorf("operator is %dx%d, vectors are %d and %d", r, c, nDst, nSrc)
	}
	return nil
}
