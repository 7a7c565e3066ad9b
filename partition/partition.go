// Package partition models the data-parallel execution of level operations:
// a level's dofs are split into contiguous worker ranges, sparse
// matrix-vector products and relaxation sweeps run per worker, and ghost
// values cross partition boundaries through precomputed pick/place index
// buffers. Execution phases are separated by barrier-like waits, mirroring
// collective communication. Telescope re-lays a small (coarsest-level)
// problem onto fewer workers so its per-iteration exchange volume drops.
package partition

import (
	"fmt"
)

// Layout is the decomposition of n dofs into contiguous worker ranges.
type Layout struct {
	// NumWorkers is the number of participating workers.
	NumWorkers int

	// Offsets has NumWorkers+1 entries; worker w owns the half-open dof
	// range [Offsets[w], Offsets[w+1]).
	Offsets []int
}

// NewLayout splits n dofs over the given number of workers as evenly as
// possible, earlier workers taking the remainder. The split is deterministic
// so repeated builds number identically.
func NewLayout(n, workers int) (*Layout, error) {
	if n <= 0 {
		return nil, fmt.Errorf("partition: need at least 1 dof, got %d", n)
	}
	if workers <= 0 {
		return nil, fmt.Errorf("partition: need at least 1 worker, got %d", workers)
	}
	if workers > n {
		workers = n
	}
	l := &Layout{NumWorkers: workers, Offsets: make([]int, workers+1)}
	base, rem := n/workers, n%workers
	for w := 0; w < workers; w++ {
		size := base
		if w < rem {
			size++
		}
		l.Offsets[w+1] = l.Offsets[w] + size
	}
	return l, nil
}

// NumDofs reports the total dof count covered by the layout.
func (l *Layout) NumDofs() int { return l.Offsets[l.NumWorkers] }

// Range reports the dof range owned by worker w.
func (l *Layout) Range(w int) (lo, hi int) { return l.Offsets[w], l.Offsets[w+1] }

// Owner reports the worker owning a dof.
func (l *Layout) Owner(dof int) int {
	for w := 0; w < l.NumWorkers; w++ {
		if dof < l.Offsets[w+1] {
			return w
		}
	}
	return l.NumWorkers - 1
}

// Telescope redistributes the layout onto at most maxWorkers workers. On the
// coarsest level the problem stays small while the worker count does not, so
// every solve there is dominated by exchange traffic; shrinking the active
// worker set trades a one-time redistribution for cheaper per-iteration
// collectives.
func Telescope(l *Layout, maxWorkers int) (*Layout, error) {
	if maxWorkers <= 0 {
		return nil, fmt.Errorf("partition: telescope needs at least 1 worker, got %d", maxWorkers)
	}
	if maxWorkers >= l.NumWorkers {
		return l, nil
	}
	return NewLayout(l.NumDofs(), maxWorkers)
}
