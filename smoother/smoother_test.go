package smoother

import (
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/floats"

	"github.com/gmgsolve/gmg/operator"
)

// dirichletPoisson builds the 1-D stiffness with identity boundary rows.
func dirichletPoisson(cells int) *operator.Matrix {
	n := cells + 1
	h := 1.0 / float64(cells)
	b := operator.NewBuilder(n, n)
	b.Set(0, 0, 1)
	b.Set(n-1, n-1, 1)
	for i := 1; i < n-1; i++ {
		b.Set(i, i, 2/h)
		if i > 1 {
			b.Set(i, i-1, -1/h)
		}
		if i < n-2 {
			b.Set(i, i+1, -1/h)
		}
	}
	return b.Finalize(true)
}

func residualNorm(a *operator.Matrix, b, u []float64) float64 {
	n := len(b)
	r := make([]float64, n)
	operator.Residual(r, a, b, u)
	return floats.Norm(r, 2)
}

func TestSmoothersReduceResidual(t *testing.T) {
	a := dirichletPoisson(32)
	n, _ := a.Dims()
	rng := rand.New(rand.NewSource(3))
	b := make([]float64, n)
	for i := 1; i < n-1; i++ {
		b[i] = rng.NormFloat64()
	}

	cases := []struct {
		name string
		cfg  Config
	}{
		{"jacobi", Config{Kind: Jacobi}},
		{"weighted-jacobi", Config{Kind: WeightedJacobi, Omega: 2.0 / 3.0}},
		{"sgs", Config{Kind: SymmetricGaussSeidel}},
		{"chebyshev", Config{Kind: Chebyshev, ChebyshevOrder: 3}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := New(tc.cfg, a)
			if err != nil {
				t.Fatal(err)
			}
			u := make([]float64, n)
			before := residualNorm(a, b, u)
			s.Smooth(b, u, 5)
			after := residualNorm(a, b, u)
			if after >= before {
				t.Errorf("residual went from %g to %g after smoothing", before, after)
			}
		})
	}
}

// The Chebyshev window must cover the whole upper spectrum: the most
// oscillatory error mode sits at the spectral radius of D^-1 A, and an
// eigenvalue bound that lands below it turns the smoother into an amplifier
// for exactly the modes it exists to kill.
func TestChebyshevDampsOscillatoryError(t *testing.T) {
	a := dirichletPoisson(32)
	n, _ := a.Dims()
	s, err := New(Config{Kind: Chebyshev, ChebyshevOrder: 3}, a)
	if err != nil {
		t.Fatal(err)
	}

	// Zero rhs, alternating-sign interior error: the solution is zero and u
	// is (nearly) the top eigenvector.
	b := make([]float64, n)
	u := make([]float64, n)
	for i := 1; i < n-1; i++ {
		if i%2 == 0 {
			u[i] = 1
		} else {
			u[i] = -1
		}
	}
	before := residualNorm(a, b, u)
	s.Smooth(b, u, 5)
	after := residualNorm(a, b, u)
	if after > 0.2*before {
		t.Errorf("oscillatory residual only went from %g to %g", before, after)
	}
}

func TestSmootherDoesNotMutateOperator(t *testing.T) {
	a := dirichletPoisson(8)
	n, _ := a.Dims()
	before := make([]float64, 0)
	a.CSR.DoNonZero(func(_, _ int, v float64) {
		before = append(before, v)
	})

	s, err := New(Config{Kind: SymmetricGaussSeidel}, a)
	if err != nil {
		t.Fatal(err)
	}
	b := make([]float64, n)
	u := make([]float64, n)
	for i := range b {
		b[i] = 1
	}
	s.Smooth(b, u, 3)

	after := make([]float64, 0)
	a.CSR.DoNonZero(func(_, _ int, v float64) {
		after = append(after, v)
	})
	if !floats.Equal(before, after) {
		t.Fatal("smoother mutated the operator values")
	}
}

func TestNewRejectsBadOperator(t *testing.T) {
	b := operator.NewBuilder(3, 3)
	b.Set(0, 0, 1)
	b.Set(1, 1, 0) // zero diagonal
	b.Set(2, 2, 1)
	if _, err := New(Config{Kind: Jacobi}, b.Finalize(true)); err == nil {
		t.Fatal("expected error for zero diagonal")
	}
}

func TestSGSExactOnTriangularReach(t *testing.T) {
	// On a diagonal system a single sweep solves exactly.
	b := operator.NewBuilder(4, 4)
	for i := 0; i < 4; i++ {
		b.Set(i, i, float64(i+1))
	}
	a := b.Finalize(true)
	s, err := New(Config{Kind: SymmetricGaussSeidel}, a)
	if err != nil {
		t.Fatal(err)
	}
	rhs := []float64{1, 2, 3, 4}
	u := make([]float64, 4)
	s.Smooth(rhs, u, 1)
	want := []float64{1, 1, 1, 1}
	if !floats.EqualApprox(u, want, 1e-14) {
		t.Errorf("got %v, want %v", u, want)
	}
}
