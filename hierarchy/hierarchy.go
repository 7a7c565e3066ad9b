// Package hierarchy builds nested discretization levels by repeated uniform
// refinement and derives the inter-level transfer operators from the
// refinement maps.
package hierarchy

import (
	"errors"
	"fmt"

	"github.com/james-bowman/sparse"

	"github.com/gmgsolve/gmg/mesh"
	"github.com/gmgsolve/gmg/operator"
)

var (
	// ErrNoCoarserLevel reports a restriction or injection requested at the
	// coarsest level.
	ErrNoCoarserLevel = errors.New("hierarchy: no coarser level")
	// ErrNoFinerLevel reports a prolongation requested at the finest level.
	ErrNoFinerLevel = errors.New("hierarchy: no finer level")
)

// Level is one discretization instance in the hierarchy. The operator and
// right-hand side are filled in by an assembly oracle after construction; the
// topology fields are owned by the Hierarchy and immutable.
type Level struct {
	Index   int
	Mesh    *mesh.Mesh
	NumDofs int

	// Dirichlet lists the constrained dof indices, sorted ascending.
	Dirichlet []int

	// A is the assembled operator for this level, nil until assembly.
	A *operator.Matrix

	// RHS is the assembled right-hand side. Only the finest level needs one
	// for a solve; coarser slots are used transiently during cycling.
	RHS []float64
}

// SetOperator installs a freshly assembled operator. The operator must match
// the level's dof count.
func (l *Level) SetOperator(a *operator.Matrix) error {
	r, c := a.Dims()
	if r != l.NumDofs || c != l.NumDofs {
		return fmt.Errorf("hierarchy: operator is %dx%d, level %d has %d dofs", r, c, l.Index, l.NumDofs)
	}
	l.A = a
	return nil
}

// SetRHS replaces the level's right-hand side wholesale.
func (l *Level) SetRHS(b []float64) error {
	if len(b) != l.NumDofs {
		return fmt.Errorf("hierarchy: rhs length %d, level %d has %d dofs", len(b), l.Index, l.NumDofs)
	}
	l.RHS = b
	return nil
}

// Hierarchy is an ordered sequence of nested levels, coarsest first. It
// exclusively owns its levels and the transfer matrices between them.
type Hierarchy struct {
	levels []*Level

	// prolong[l] is P for the pair (l, l+1): rows are fine dofs of level
	// l+1, columns are coarse dofs of level l. Restriction is the transpose
	// action of the same matrix, never an independent operator.
	prolong []*sparse.CSR

	// injectFrom[l] maps level-l dofs to the coincident dofs of level l+1.
	injectFrom [][]int
}

// Build refines coarse `refinements` times and returns the resulting
// hierarchy of refinements+1 levels. Meshes whose topology has no uniform
// refinement rule are rejected with mesh.ErrUnsupportedTopology.
func Build(coarse *mesh.Mesh, refinements int) (*Hierarchy, error) {
	if coarse == nil {
		return nil, errors.New("hierarchy: nil coarse mesh")
	}
	if refinements < 0 {
		return nil, fmt.Errorf("hierarchy: refinements must be >= 0, got %d", refinements)
	}
	// A mesh that cannot refine is rejected even for refinements == 0 so a
	// zero-depth hierarchy cannot hide an unusable topology.
	switch coarse.Topo {
	case mesh.Interval, mesh.Quad:
	default:
		return nil, fmt.Errorf("%w: %s", mesh.ErrUnsupportedTopology, coarse.Topo)
	}

	h := &Hierarchy{}
	h.levels = append(h.levels, &Level{Index: 0, Mesh: coarse, NumDofs: coarse.NumNodes(), Dirichlet: coarse.BoundaryNodes()})
	cur := coarse
	for l := 0; l < refinements; l++ {
		fine, rm, err := cur.Refine()
		if err != nil {
			return nil, err
		}
		h.levels = append(h.levels, &Level{
			Index:     l + 1,
			Mesh:      fine,
			NumDofs:   fine.NumNodes(),
			Dirichlet: fine.BoundaryNodes(),
		})
		h.prolong = append(h.prolong, prolongationMatrix(rm, fine.NumNodes(), cur.NumNodes()))
		h.injectFrom = append(h.injectFrom, rm.InjectFrom)
		cur = fine
	}
	return h, nil
}

// prolongationMatrix assembles P from the refinement map's coarse-basis
// coefficients.
func prolongationMatrix(rm *mesh.RefinementMap, nFine, nCoarse int) *sparse.CSR {
	dok := sparse.NewDOK(nFine, nCoarse)
	for i, terms := range rm.Coeffs {
		for _, t := range terms {
			dok.Set(i, t.Col, t.Weight)
		}
	}
	return dok.ToCSR()
}

// Depth reports the number of levels.
func (h *Hierarchy) Depth() int { return len(h.levels) }

// Level returns the level at index l, coarsest first.
func (h *Hierarchy) Level(l int) *Level { return h.levels[l] }

// Finest returns the last (finest) level.
func (h *Hierarchy) Finest() *Level { return h.levels[len(h.levels)-1] }

// Coarsest returns level 0.
func (h *Hierarchy) Coarsest() *Level { return h.levels[0] }

// Prolongation exposes the stored P for the pair (l, l+1). Callers needing
// Galerkin coarse operators use this with GalerkinCoarsen.
func (h *Hierarchy) Prolongation(l int) (*sparse.CSR, error) {
	if l < 0 || l >= len(h.prolong) {
		return nil, fmt.Errorf("%w: level %d", ErrNoFinerLevel, l)
	}
	return h.prolong[l], nil
}
