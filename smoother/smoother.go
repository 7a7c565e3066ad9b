// Package smoother implements the per-level relaxation methods used inside
// multigrid cycles: Jacobi, weighted Jacobi, symmetric Gauss-Seidel and
// Chebyshev. A smoother is bound to one level's operator at construction and
// never mutates it.
package smoother

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/gmgsolve/gmg/operator"
)

// Kind selects the relaxation method.
type Kind uint8

const (
	Jacobi Kind = iota
	WeightedJacobi
	SymmetricGaussSeidel
	Chebyshev
)

func (k Kind) String() string {
	switch k {
	case Jacobi:
		return "jacobi"
	case WeightedJacobi:
		return "weighted-jacobi"
	case SymmetricGaussSeidel:
		return "sgs"
	case Chebyshev:
		return "chebyshev"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Config parameterizes a smoother. Omega is the relaxation weight for the
// Jacobi variants (ignored by SGS); ChebyshevOrder is the polynomial order
// per application of the Chebyshev smoother.
type Config struct {
	Kind           Kind
	Omega          float64
	ChebyshevOrder int
}

// Smoother applies a fixed number of relaxation sweeps to A u = b, updating
// u in place.
type Smoother interface {
	Smooth(b, u []float64, sweeps int)
}

// New constructs a smoother bound to a. Diagonal entries and, for Chebyshev,
// spectral bounds are cached here so repeated sweeps are allocation free.
func New(cfg Config, a *operator.Matrix) (Smoother, error) {
	n, c := a.Dims()
	if n != c {
		return nil, fmt.Errorf("smoother: operator is %dx%d, need square", n, c)
	}
	d := a.Diagonal()
	for i, v := range d {
		if v == 0 {
			return nil, fmt.Errorf("smoother: zero diagonal at dof %d", i)
		}
	}
	switch cfg.Kind {
	case Jacobi:
		return &jacobi{a: a, diag: d, omega: 1, r: make([]float64, n)}, nil
	case WeightedJacobi:
		omega := cfg.Omega
		if omega <= 0 || omega > 1 {
			omega = 2.0 / 3.0
		}
		return &jacobi{a: a, diag: d, omega: omega, r: make([]float64, n)}, nil
	case SymmetricGaussSeidel:
		return &sgs{a: a, diag: d}, nil
	case Chebyshev:
		order := cfg.ChebyshevOrder
		if order < 1 {
			order = 3
		}
		return newChebyshev(a, d, order), nil
	}
	return nil, fmt.Errorf("smoother: unknown kind %v", cfg.Kind)
}

// jacobi is (weighted) Jacobi relaxation u += omega D^-1 (b - A u).
type jacobi struct {
	a     *operator.Matrix
	diag  []float64
	omega float64
	r     []float64
}

func (s *jacobi) Smooth(b, u []float64, sweeps int) {
	for it := 0; it < sweeps; it++ {
		operator.Residual(s.r, s.a, b, u)
		for i, ri := range s.r {
			u[i] += s.omega * ri / s.diag[i]
		}
	}
}

// sgs is symmetric Gauss-Seidel: one forward then one backward lexicographic
// sweep per iteration, using the most recent values in place.
type sgs struct {
	a    *operator.Matrix
	diag []float64
}

func (s *sgs) Smooth(b, u []float64, sweeps int) {
	n := len(u)
	for it := 0; it < sweeps; it++ {
		for i := 0; i < n; i++ {
			s.relaxRow(i, b, u)
		}
		for i := n - 1; i >= 0; i-- {
			s.relaxRow(i, b, u)
		}
	}
}

func (s *sgs) relaxRow(i int, b, u []float64) {
	sum := b[i]
	s.a.CSR.DoRowNonZero(i, func(_, j int, v float64) {
		if j != i {
			sum -= v * u[j]
		}
	})
	u[i] = sum / s.diag[i]
}

// chebyshev runs a Chebyshev polynomial in D^-1 A over the upper part of its
// spectrum. The upper eigenvalue bound must never fall below the true
// spectral radius, or the excluded top modes get amplified instead of damped;
// the lower bound follows the usual lmax/30 convention for smoothing (only
// high-frequency error needs damping).
type chebyshev struct {
	a          *operator.Matrix
	diag       []float64
	order      int
	lmin, lmax float64
	r, p, z    []float64
}

func newChebyshev(a *operator.Matrix, diag []float64, order int) *chebyshev {
	n, _ := a.Dims()
	c := &chebyshev{
		a:     a,
		diag:  diag,
		order: order,
		r:     make([]float64, n),
		p:     make([]float64, n),
		z:     make([]float64, n),
	}
	c.lmax = c.spectralBound()
	c.lmin = c.lmax / 30.0
	return c
}

// spectralBound returns the largest scaled Gershgorin row sum
// max_i sum_j |a_ij| / |d_i|, a guaranteed upper bound on the spectrum of
// D^-1 A. An estimate such as a truncated power iteration can land under the
// true spectral radius, which the Chebyshev window must not.
func (c *chebyshev) spectralBound() float64 {
	n := len(c.diag)
	bound := 0.0
	for i := 0; i < n; i++ {
		sum := 0.0
		c.a.CSR.DoRowNonZero(i, func(_, _ int, v float64) {
			sum += math.Abs(v)
		})
		if s := sum / math.Abs(c.diag[i]); s > bound {
			bound = s
		}
	}
	if bound == 0 {
		return 1
	}
	return bound
}

func (c *chebyshev) Smooth(b, u []float64, sweeps int) {
	theta := (c.lmax + c.lmin) / 2
	delta := (c.lmax - c.lmin) / 2
	for it := 0; it < sweeps; it++ {
		sigma := theta / delta
		rho := 1 / sigma
		operator.Residual(c.r, c.a, b, u)
		for i := range c.z {
			c.z[i] = c.r[i] / c.diag[i]
		}
		floats.ScaleTo(c.p, 1/theta, c.z)
		floats.Add(u, c.p)
		for k := 1; k < c.order; k++ {
			operator.Residual(c.r, c.a, b, u)
			for i := range c.z {
				c.z[i] = c.r[i] / c.diag[i]
			}
			rhoNew := 1 / (2*sigma - rho)
			for i := range c.p {
				c.p[i] = rhoNew*rho*c.p[i] + 2*rhoNew/delta*c.z[i]
			}
			rho = rhoNew
			floats.Add(u, c.p)
		}
	}
}
