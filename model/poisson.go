// Package model assembles the model problems the solvers are exercised on:
// constant- and variable-coefficient Poisson in one and two dimensions, a
// pure-Neumann variant with a nontrivial null space, and a 1-D mixed
// saddle-point system. It plays the role of the external assembly oracle:
// repeated calls re-assemble operators for the same level without touching
// the hierarchy's topology.
package model

import (
	"fmt"
	"math"

	"github.com/gmgsolve/gmg/hierarchy"
	"github.com/gmgsolve/gmg/mesh"
	"github.com/gmgsolve/gmg/operator"
)

// Poisson1D assembles the P1 stiffness operator for -Δu = f on the interval
// with
// homogeneous Dirichlet conditions onto the level. Constrained rows and
// columns are replaced by identity, keeping the operator symmetric.
func Poisson1D(lvl *hierarchy.Level) error {
	return VariablePoisson1D(lvl, nil)
}

// VariablePoisson1D assembles -(k u')' = f with homogeneous Dirichlet
// conditions, taking the diffusion coefficient at cell midpoints. A nil k
// means k = 1.
func VariablePoisson1D(lvl *hierarchy.Level, k func(x float64) float64) error {
	m := lvl.Mesh
	if m.Topo != mesh.Interval {
		return fmt.Errorf("model: poisson1d needs an interval mesh, got %s", m.Topo)
	}
	n := lvl.NumDofs
	h, _ := m.H()
	constrained := constraintMask(n, lvl.Dirichlet)

	b := operator.NewBuilder(n, n)
	for e := 0; e < m.Nx; e++ {
		ke := 1.0
		if k != nil {
			ke = k((m.X[e] + m.X[e+1]) / 2)
		}
		w := ke / h
		addConstrained(b, constrained, e, e, w)
		addConstrained(b, constrained, e, e+1, -w)
		addConstrained(b, constrained, e+1, e, -w)
		addConstrained(b, constrained, e+1, e+1, w)
	}
	for _, d := range lvl.Dirichlet {
		b.Set(d, d, 1)
	}
	return lvl.SetOperator(b.Finalize(true))
}

// NeumannPoisson1D assembles the P1 stiffness for -Δu = f with pure
// Neumann conditions. The operator is symmetric positive semi-definite with
// the constant vector in its null space; solvers need a null-space hint.
func NeumannPoisson1D(lvl *hierarchy.Level) error {
	m := lvl.Mesh
	if m.Topo != mesh.Interval {
		return fmt.Errorf("model: poisson1d needs an interval mesh, got %s", m.Topo)
	}
	n := lvl.NumDofs
	h, _ := m.H()
	b := operator.NewBuilder(n, n)
	w := 1 / h
	for e := 0; e < m.Nx; e++ {
		b.Add(e, e, w)
		b.Add(e, e+1, -w)
		b.Add(e+1, e, -w)
		b.Add(e+1, e+1, w)
	}
	lvl.Dirichlet = nil
	return lvl.SetOperator(b.Finalize(true))
}

// Poisson2D assembles the Q1 stiffness operator for -Δu = f with
// homogeneous Dirichlet conditions on a quad mesh with square cells.
func Poisson2D(lvl *hierarchy.Level) error {
	m := lvl.Mesh
	if m.Topo != mesh.Quad {
		return fmt.Errorf("model: poisson2d needs a quad mesh, got %s", m.Topo)
	}
	if m.Nx != m.Ny {
		return fmt.Errorf("model: poisson2d needs square cells, got %dx%d", m.Nx, m.Ny)
	}
	n := lvl.NumDofs
	constrained := constraintMask(n, lvl.Dirichlet)

	// Q1 element stiffness for the Laplacian on a square cell; in two
	// dimensions the entries are independent of the cell size.
	ke := [4][4]float64{
		{4, -1, -2, -1},
		{-1, 4, -1, -2},
		{-2, -1, 4, -1},
		{-1, -2, -1, 4},
	}
	w := m.Nx + 1
	b := operator.NewBuilder(n, n)
	for cj := 0; cj < m.Ny; cj++ {
		for ci := 0; ci < m.Nx; ci++ {
			nodes := [4]int{
				cj*w + ci,
				cj*w + ci + 1,
				(cj+1)*w + ci + 1,
				(cj+1)*w + ci,
			}
			for a := 0; a < 4; a++ {
				for bb := 0; bb < 4; bb++ {
					addConstrained(b, constrained, nodes[a], nodes[bb], ke[a][bb]/6)
				}
			}
		}
	}
	for _, d := range lvl.Dirichlet {
		b.Set(d, d, 1)
	}
	return lvl.SetOperator(b.Finalize(true))
}

// AssemblePoisson1D assembles the 1-D Dirichlet operator on every level of
// the hierarchy.
func AssemblePoisson1D(h *hierarchy.Hierarchy) error {
	for l := 0; l < h.Depth(); l++ {
		if err := Poisson1D(h.Level(l)); err != nil {
			return err
		}
	}
	return nil
}

// AssemblePoisson2D assembles the 2-D Dirichlet operator on every level.
func AssemblePoisson2D(h *hierarchy.Hierarchy) error {
	for l := 0; l < h.Depth(); l++ {
		if err := Poisson2D(h.Level(l)); err != nil {
			return err
		}
	}
	return nil
}

// LoadVector builds the lumped load vector b_i = |cell volume| * f(x_i),
// zeroed on constrained dofs, and installs it on the level.
func LoadVector(lvl *hierarchy.Level, f func(x, y float64) float64) []float64 {
	m := lvl.Mesh
	hx, hy := m.H()
	vol := hx
	if m.Topo == mesh.Quad {
		vol = hx * hy
	}
	b := make([]float64, lvl.NumDofs)
	for i := range b {
		y := 0.0
		if m.Y != nil {
			y = m.Y[i]
		}
		b[i] = vol * f(m.X[i], y)
	}
	for _, d := range lvl.Dirichlet {
		b[d] = 0
	}
	// Length is correct by construction.
	_ = lvl.SetRHS(b)
	return b
}

// L2Error computes the discrete L2 norm of u minus the exact solution
// sampled at the level's nodes.
func L2Error(lvl *hierarchy.Level, u []float64, exact func(x, y float64) float64) float64 {
	m := lvl.Mesh
	hx, hy := m.H()
	vol := hx
	if m.Topo == mesh.Quad {
		vol = hx * hy
	}
	sum := 0.0
	for i, ui := range u {
		y := 0.0
		if m.Y != nil {
			y = m.Y[i]
		}
		d := ui - exact(m.X[i], y)
		sum += vol * d * d
	}
	return math.Sqrt(sum)
}

func constraintMask(n int, dirichlet []int) []bool {
	mask := make([]bool, n)
	for _, d := range dirichlet {
		mask[d] = true
	}
	return mask
}

// addConstrained accumulates an entry unless it couples to a constrained
// dof; constrained diagonals are set separately to identity.
func addConstrained(b *operator.Builder, constrained []bool, i, j int, v float64) {
	if constrained[i] || constrained[j] {
		return
	}
	b.Add(i, j, v)
}
