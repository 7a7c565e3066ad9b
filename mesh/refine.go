package mesh

import "fmt"

// Coef is one term of a fine dof's expansion in the coarse nodal basis.
type Coef struct {
	Col    int     // coarse dof index
	Weight float64 // coarse basis value at the fine dof location
}

// RefinementMap relates a coarse mesh to its uniform refinement. It is
// computed once and never mutated afterwards.
type RefinementMap struct {
	// ParentCell maps every fine cell to the coarse cell it subdivides.
	ParentCell []int

	// Coeffs maps every fine dof to its coarse nodal-basis expansion. Fine
	// dofs coincident with a coarse node carry a single unit coefficient.
	Coeffs [][]Coef

	// InjectFrom maps every coarse dof to the fine dof at the same
	// geometric location. This backs pointwise injection, which samples a
	// primal field and is deliberately distinct from residual restriction.
	InjectFrom []int
}

// Refine subdivides every cell of m by the uniform rule for its topology
// (bisection for intervals, quadrisection for quads) and returns the fine
// mesh together with the refinement map. Topologies without a uniform rule
// fail with ErrUnsupportedTopology.
func (m *Mesh) Refine() (*Mesh, *RefinementMap, error) {
	switch m.Topo {
	case Interval:
		return m.refineInterval()
	case Quad:
		return m.refineQuad()
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedTopology, m.Topo)
}

func (m *Mesh) refineInterval() (*Mesh, *RefinementMap, error) {
	fine, err := NewIntervalMesh(2 * m.Nx)
	if err != nil {
		return nil, nil, err
	}
	rm := &RefinementMap{
		ParentCell: make([]int, fine.Nx),
		Coeffs:     make([][]Coef, fine.NumNodes()),
		InjectFrom: make([]int, m.NumNodes()),
	}
	for c := 0; c < fine.Nx; c++ {
		rm.ParentCell[c] = c / 2
	}
	for i := 0; i <= fine.Nx; i++ {
		if i%2 == 0 {
			rm.Coeffs[i] = []Coef{{Col: i / 2, Weight: 1}}
		} else {
			rm.Coeffs[i] = []Coef{
				{Col: (i - 1) / 2, Weight: 0.5},
				{Col: (i + 1) / 2, Weight: 0.5},
			}
		}
	}
	for j := 0; j <= m.Nx; j++ {
		rm.InjectFrom[j] = 2 * j
	}
	return fine, rm, nil
}

func (m *Mesh) refineQuad() (*Mesh, *RefinementMap, error) {
	fine, err := NewQuadMesh(2*m.Nx, 2*m.Ny)
	if err != nil {
		return nil, nil, err
	}
	rm := &RefinementMap{
		ParentCell: make([]int, fine.NumCells()),
		Coeffs:     make([][]Coef, fine.NumNodes()),
		InjectFrom: make([]int, m.NumNodes()),
	}
	for cj := 0; cj < fine.Ny; cj++ {
		for ci := 0; ci < fine.Nx; ci++ {
			rm.ParentCell[cj*fine.Nx+ci] = (cj/2)*m.Nx + ci/2
		}
	}
	for j := 0; j <= fine.Ny; j++ {
		for i := 0; i <= fine.Nx; i++ {
			f := fine.node(i, j)
			ci, cj := i/2, j/2
			switch {
			case i%2 == 0 && j%2 == 0:
				rm.Coeffs[f] = []Coef{{Col: m.node(ci, cj), Weight: 1}}
			case i%2 == 1 && j%2 == 0:
				rm.Coeffs[f] = []Coef{
					{Col: m.node(ci, cj), Weight: 0.5},
					{Col: m.node(ci+1, cj), Weight: 0.5},
				}
			case i%2 == 0 && j%2 == 1:
				rm.Coeffs[f] = []Coef{
					{Col: m.node(ci, cj), Weight: 0.5},
					{Col: m.node(ci, cj+1), Weight: 0.5},
				}
			default:
				rm.Coeffs[f] = []Coef{
					{Col: m.node(ci, cj), Weight: 0.25},
					{Col: m.node(ci+1, cj), Weight: 0.25},
					{Col: m.node(ci, cj+1), Weight: 0.25},
					{Col: m.node(ci+1, cj+1), Weight: 0.25},
				}
			}
		}
	}
	for cj := 0; cj <= m.Ny; cj++ {
		for ci := 0; ci <= m.Nx; ci++ {
			rm.InjectFrom[m.node(ci, cj)] = fine.node(2*ci, 2*cj)
		}
	}
	return fine, rm, nil
}
