package fieldsplit

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/gmgsolve/gmg/krylov"
	"github.com/gmgsolve/gmg/operator"
)

// mixedSystem assembles the lowest-order mixed form of -Δp = f on (0,1):
// a lumped mass block M = h I on the n+1 flux dofs, the discrete divergence
// B and its transpose G. The (2,2) block is zero.
func mixedSystem(cells int) *BlockSystem {
	h := 1.0 / float64(cells)
	nu := cells + 1

	mb := operator.NewBuilder(nu, nu)
	for i := 0; i < nu; i++ {
		mb.Set(i, i, h)
	}
	db := operator.NewBuilder(cells, nu)
	gb := operator.NewBuilder(nu, cells)
	for j := 0; j < cells; j++ {
		db.Set(j, j, -1)
		db.Set(j, j+1, 1)
		gb.Set(j, j, -1)
		gb.Set(j+1, j, 1)
	}
	bs, err := NewBlockSystem(mb.Finalize(true), gb.Finalize(false), db.Finalize(false), nil)
	if err != nil {
		panic(err)
	}
	return bs
}

func TestNewBlockSystemValidation(t *testing.T) {
	sq := func(n int) *operator.Matrix {
		b := operator.NewBuilder(n, n)
		for i := 0; i < n; i++ {
			b.Set(i, i, 1)
		}
		return b.Finalize(true)
	}
	rect := func(r, c int) *operator.Matrix {
		b := operator.NewBuilder(r, c)
		b.Set(0, 0, 1)
		return b.Finalize(false)
	}

	_, err := NewBlockSystem(nil, rect(4, 2), rect(2, 4), nil)
	assert.Error(t, err)

	// B must have as many rows as A.
	_, err = NewBlockSystem(sq(4), rect(3, 2), rect(2, 4), nil)
	assert.Error(t, err)

	// D must match the second field.
	_, err = NewBlockSystem(sq(4), rect(4, 2), rect(2, 4), sq(3))
	assert.Error(t, err)

	bs, err := NewBlockSystem(sq(4), rect(4, 2), rect(2, 4), sq(2))
	require.NoError(t, err)
	nA, nS := bs.SplitSizes()
	assert.Equal(t, 4, nA)
	assert.Equal(t, 2, nS)
}

func TestBlockSystemApply(t *testing.T) {
	bs := mixedSystem(4)
	nA, nS := bs.SplitSizes()
	n := nA + nS

	src := make([]float64, n)
	for i := range src {
		src[i] = float64(i + 1)
	}
	got := make([]float64, n)
	bs.Apply(got, src)

	// Against the blockwise products computed directly.
	want := make([]float64, n)
	bs.A.Apply(want[:nA], src[:nA])
	tmp := make([]float64, nA)
	bs.B.Apply(tmp, src[nA:])
	floats.Add(want[:nA], tmp)
	bs.C.Apply(want[nA:], src[:nA])

	assert.InDeltaSlice(t, want, got, 1e-14)
}

func TestApproximateSchurDiagonalBlock(t *testing.T) {
	// With a diagonal (1,1) block the diagonal approximation is the exact
	// Schur complement -B (h I)^-1 B^T = -(1/h) tridiag(-1, 2, -1).
	cells := 6
	bs := mixedSystem(cells)
	s, err := bs.ApproximateSchur()
	require.NoError(t, err)

	r, c := s.Dims()
	require.Equal(t, cells, r)
	require.Equal(t, cells, c)

	invH := float64(cells)
	for i := 0; i < cells; i++ {
		assert.InDelta(t, -2*invH, s.CSR.At(i, i), 1e-12, "diagonal at %d", i)
		if i > 0 {
			assert.InDelta(t, invH, s.CSR.At(i, i-1), 1e-12)
		}
		if i < cells-1 {
			assert.InDelta(t, invH, s.CSR.At(i, i+1), 1e-12)
		}
	}
}

func TestApproximateSchurZeroDiagonal(t *testing.T) {
	b := operator.NewBuilder(2, 2)
	b.Set(0, 1, 1)
	b.Set(1, 0, 1)
	a := b.Finalize(true)
	off := operator.NewBuilder(2, 1)
	off.Set(0, 0, 1)
	offT := operator.NewBuilder(1, 2)
	offT.Set(0, 0, 1)
	bs, err := NewBlockSystem(a, off.Finalize(false), offT.Finalize(false), nil)
	require.NoError(t, err)
	_, err = bs.ApproximateSchur()
	assert.Error(t, err)
}

// exactInners builds direct factorizations for both blocks of bs using the
// diagonal Schur approximation (exact here, since the mass block is lumped).
func exactInners(t *testing.T, bs *BlockSystem) (innerA, innerS krylov.Preconditioner) {
	t.Helper()
	s, err := bs.ApproximateSchur()
	require.NoError(t, err)
	pa, err := krylov.NewDirectPreconditioner(bs.A, nil)
	require.NoError(t, err)
	ps, err := krylov.NewDirectPreconditioner(s, nil)
	require.NoError(t, err)
	return pa, ps
}

func mixedRHS(bs *BlockSystem) []float64 {
	nA, nS := bs.SplitSizes()
	h := 1.0 / float64(nS)
	rhs := make([]float64, nA+nS)
	// -p'' = pi^2 sin(pi x) gives p = sin(pi x); the divergence equation
	// carries the cellwise load.
	for j := 0; j < nS; j++ {
		mid := (float64(j) + 0.5) * h
		rhs[nA+j] = -h * math.Pi * math.Pi * math.Sin(math.Pi*mid)
	}
	return rhs
}

// monolithic densifies bs into a single operator for a reference solve.
func monolithic(bs *BlockSystem) *operator.Matrix {
	nA, nS := bs.SplitSizes()
	n := nA + nS
	b := operator.NewBuilder(n, n)
	bs.A.CSR.DoNonZero(func(i, j int, v float64) { b.Set(i, j, v) })
	bs.B.CSR.DoNonZero(func(i, j int, v float64) { b.Set(i, nA+j, v) })
	bs.C.CSR.DoNonZero(func(i, j int, v float64) { b.Set(nA+i, j, v) })
	if bs.D != nil {
		bs.D.CSR.DoNonZero(func(i, j int, v float64) { b.Set(nA+i, nA+j, v) })
	}
	return b.Finalize(false)
}

func TestPreconditionerFactorizations(t *testing.T) {
	bs := mixedSystem(32)
	innerA, innerS := exactInners(t, bs)
	rhs := mixedRHS(bs)

	ref, err := krylov.NewDirectPreconditioner(monolithic(bs), nil)
	require.NoError(t, err)
	want := make([]float64, len(rhs))
	require.NoError(t, ref.Apply(want, rhs))

	// With exact inner solves and an exact Schur operator the factorizations
	// have known outer iteration counts: Full is the exact inverse, the
	// triangular factors need two steps, block-diagonal a few more.
	cases := []struct {
		fact   Factorization
		maxIts int
	}{
		{Full, 2},
		{Lower, 3},
		{Upper, 3},
		{Diag, 6},
	}
	for _, tc := range cases {
		t.Run(tc.fact.String(), func(t *testing.T) {
			p, err := NewPreconditioner(bs, tc.fact, innerA, innerS)
			require.NoError(t, err)
			res, err := krylov.FGMRES(bs, rhs, p, 30, krylov.Settings{Tolerance: 1e-10})
			require.NoError(t, err)
			assert.True(t, res.Converged)
			assert.LessOrEqual(t, res.Iterations, tc.maxIts)
			assert.InDeltaSlice(t, want, res.X, 1e-7)
		})
	}
}

func TestPreconditionerValidation(t *testing.T) {
	bs := mixedSystem(4)
	innerA, innerS := exactInners(t, bs)

	_, err := NewPreconditioner(nil, Full, innerA, innerS)
	assert.Error(t, err)
	_, err = NewPreconditioner(bs, Full, nil, innerS)
	assert.Error(t, err)
	_, err = NewPreconditioner(bs, Factorization(42), innerA, innerS)
	assert.Error(t, err)

	p, err := NewPreconditioner(bs, Diag, innerA, innerS)
	require.NoError(t, err)
	err = p.Apply(make([]float64, 3), make([]float64, 3))
	assert.Error(t, err)
}

func TestKrylovInnerAbsorbsCap(t *testing.T) {
	// An inner solve that hits its iteration cap must hand back the partial
	// iterate instead of failing the outer application.
	bs := mixedSystem(16)
	s, err := bs.ApproximateSchur()
	require.NoError(t, err)
	inner := &KrylovInner{
		A:        s,
		Settings: krylov.Settings{Tolerance: 1e-14, MaxIterations: 2},
	}
	rhs := make([]float64, 16)
	rhs[7] = 1
	dst := make([]float64, 16)
	require.NoError(t, inner.Apply(dst, rhs))
	assert.NotEqual(t, make([]float64, 16), dst)
}

func TestSetNearNullSpace(t *testing.T) {
	bs := mixedSystem(8)
	nA, _ := bs.SplitSizes()

	wrong := make([]float64, nA+3)
	assert.Error(t, bs.SetNearNullSpace(wrong))

	v := make([]float64, nA)
	for i := range v {
		v[i] = 1
	}
	require.NoError(t, bs.SetNearNullSpace(v))
	require.NotNil(t, bs.NearNullSpace)
	assert.Equal(t, 1, bs.NearNullSpace.Dim())
	// Stored basis is normalized.
	q := bs.NearNullSpace.Basis(0)
	assert.InDelta(t, 1.0, floats.Norm(q, 2), 1e-12)
}
