package operator

import (
	"errors"

	"gonum.org/v1/gonum/floats"
)

// ErrSingularMatrix reports that a direct factorization hit an unhandled null
// space.
var ErrSingularMatrix = errors.New("operator: singular matrix")

// NullSpace holds an orthonormal basis for the (near-)null space of an
// operator. Callers may hand in any spanning set; the constructor
// orthonormalizes it.
type NullSpace struct {
	basis [][]float64
}

// NewNullSpace orthonormalizes the given vectors with modified Gram-Schmidt
// and returns the resulting basis. Vectors that are (numerically) linearly
// dependent on earlier ones are dropped. An error is returned if no vector
// survives or if the vectors disagree in length.
func NewNullSpace(vecs ...[]float64) (*NullSpace, error) {
	if len(vecs) == 0 {
		return nil, errors.New("operator: empty null space basis")
	}
	n := len(vecs[0])
	ns := &NullSpace{}
	for _, v := range vecs {
		if len(v) != n {
			return nil, errors.New("operator: null space vectors differ in length")
		}
		w := make([]float64, n)
		copy(w, v)
		for _, q := range ns.basis {
			floats.AddScaled(w, -floats.Dot(q, w), q)
		}
		norm := floats.Norm(w, 2)
		if norm <= 1e-13*float64(n) {
			continue
		}
		floats.Scale(1/norm, w)
		ns.basis = append(ns.basis, w)
	}
	if len(ns.basis) == 0 {
		return nil, errors.New("operator: null space basis is rank deficient")
	}
	return ns, nil
}

// Dim reports the number of basis vectors.
func (ns *NullSpace) Dim() int { return len(ns.basis) }

// Len reports the length of the basis vectors.
func (ns *NullSpace) Len() int {
	if len(ns.basis) == 0 {
		return 0
	}
	return len(ns.basis[0])
}

// Basis returns the i-th orthonormal basis vector. The caller must not
// modify it.
func (ns *NullSpace) Basis(i int) []float64 { return ns.basis[i] }

// Project removes the null-space component from v in place.
func (ns *NullSpace) Project(v []float64) {
	for _, q := range ns.basis {
		floats.AddScaled(v, -floats.Dot(q, v), q)
	}
}
