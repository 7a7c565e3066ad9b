// Package mesh provides structured meshes with a uniform refinement rule and
// the refinement maps that relate a mesh to its refinement. Refinement maps
// are purely geometric: they record, for every fine degree of freedom, the
// coarse basis coefficients that reproduce it, independent of any PDE.
package mesh

import (
	"errors"
	"fmt"
)

// Topology identifies the cell shape of a structured mesh.
type Topology uint8

const (
	// Interval is a 1-D mesh of line segments on [0,1].
	Interval Topology = iota
	// Quad is a 2-D tensor-product mesh of rectangles on [0,1]^2.
	Quad
)

func (t Topology) String() string {
	switch t {
	case Interval:
		return "interval"
	case Quad:
		return "quad"
	}
	return fmt.Sprintf("topology(%d)", uint8(t))
}

// ErrUnsupportedTopology reports a mesh whose topology has no uniform
// refinement rule.
var ErrUnsupportedTopology = errors.New("mesh: unsupported topology for uniform refinement")

// Mesh is a structured mesh with nodal (vertex) degrees of freedom. Node
// numbering is lexicographic: x fastest, then y. Cell numbering follows the
// same order.
type Mesh struct {
	Topo Topology

	// Cells per direction. Ny is zero for Interval meshes.
	Nx, Ny int

	// Node coordinates. Y is nil for Interval meshes.
	X, Y []float64
}

// NewIntervalMesh builds a uniform 1-D mesh of cells segments on [0,1].
func NewIntervalMesh(cells int) (*Mesh, error) {
	if cells < 1 {
		return nil, fmt.Errorf("mesh: interval mesh needs at least 1 cell, got %d", cells)
	}
	m := &Mesh{Topo: Interval, Nx: cells}
	h := 1.0 / float64(cells)
	m.X = make([]float64, cells+1)
	for i := range m.X {
		m.X[i] = float64(i) * h
	}
	return m, nil
}

// NewQuadMesh builds a uniform nx-by-ny quad mesh on [0,1]^2.
func NewQuadMesh(nx, ny int) (*Mesh, error) {
	if nx < 1 || ny < 1 {
		return nil, fmt.Errorf("mesh: quad mesh needs at least 1 cell per direction, got %dx%d", nx, ny)
	}
	m := &Mesh{Topo: Quad, Nx: nx, Ny: ny}
	hx, hy := 1.0/float64(nx), 1.0/float64(ny)
	n := (nx + 1) * (ny + 1)
	m.X = make([]float64, n)
	m.Y = make([]float64, n)
	for j := 0; j <= ny; j++ {
		for i := 0; i <= nx; i++ {
			m.X[j*(nx+1)+i] = float64(i) * hx
			m.Y[j*(nx+1)+i] = float64(j) * hy
		}
	}
	return m, nil
}

// NumCells reports the total cell count.
func (m *Mesh) NumCells() int {
	switch m.Topo {
	case Interval:
		return m.Nx
	case Quad:
		return m.Nx * m.Ny
	}
	return 0
}

// NumNodes reports the total nodal dof count.
func (m *Mesh) NumNodes() int {
	switch m.Topo {
	case Interval:
		return m.Nx + 1
	case Quad:
		return (m.Nx + 1) * (m.Ny + 1)
	}
	return 0
}

// H reports the cell size per direction (hy is zero for Interval meshes).
func (m *Mesh) H() (hx, hy float64) {
	hx = 1.0 / float64(m.Nx)
	if m.Topo == Quad {
		hy = 1.0 / float64(m.Ny)
	}
	return hx, hy
}

// BoundaryNodes returns the sorted indices of nodes on the domain boundary.
func (m *Mesh) BoundaryNodes() []int {
	switch m.Topo {
	case Interval:
		return []int{0, m.Nx}
	case Quad:
		var b []int
		w := m.Nx + 1
		for j := 0; j <= m.Ny; j++ {
			for i := 0; i <= m.Nx; i++ {
				if i == 0 || i == m.Nx || j == 0 || j == m.Ny {
					b = append(b, j*w+i)
				}
			}
		}
		return b
	}
	return nil
}

// node reports the lexicographic node index for a Quad mesh.
func (m *Mesh) node(i, j int) int { return j*(m.Nx+1) + i }
