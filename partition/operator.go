package partition

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/gmgsolve/gmg/operator"
)

// haloBuffer carries one neighbor's ghost traffic for a worker: the global
// dofs to pick from the source's range and the local slots to place them in.
type haloBuffer struct {
	Source int
	Pick   []int // global dof indices owned by Source
	Place  []int // destination slots in the worker's local vector
}

// workerBlock is one worker's share of a partitioned operator: its row range
// in a column-localized CSR layout plus the halo buffers feeding its ghost
// slots.
type workerBlock struct {
	lo, hi int

	// Localized CSR over the rows [lo, hi). Column indices address xloc:
	// slots [0, hi-lo) hold the owned range, the tail holds ghosts.
	rowPtr []int
	cols   []int
	vals   []float64
	diag   []float64

	halo []haloBuffer
	xloc []float64
}

// Operator is a level operator in partitioned form. It computes the same
// matrix-vector product as the serial operator, with per-worker compute and
// explicit ghost exchange between phases.
type Operator struct {
	layout  *Layout
	workers []*workerBlock
	n       int
}

// NewOperator partitions a over the given layout. The operator must be
// square and match the layout's dof count.
func NewOperator(a *operator.Matrix, l *Layout) (*Operator, error) {
	n, c := a.Dims()
	if n != c {
		return nil, fmt.Errorf("partition: operator is %dx%d, need square", n, c)
	}
	if l.NumDofs() != n {
		return nil, fmt.Errorf("partition: layout covers %d dofs, operator has %d", l.NumDofs(), n)
	}
	po := &Operator{layout: l, n: n, workers: make([]*workerBlock, l.NumWorkers)}
	for w := 0; w < l.NumWorkers; w++ {
		lo, hi := l.Range(w)
		wb := &workerBlock{lo: lo, hi: hi, rowPtr: make([]int, 1, hi-lo+1), diag: make([]float64, hi-lo)}
		// Ghost columns referenced by this worker's rows, discovered in
		// ascending global order and mapped to tail slots of xloc.
		ghostSlot := make(map[int]int)
		var ghosts []int
		for i := lo; i < hi; i++ {
			a.CSR.DoRowNonZero(i, func(_, j int, v float64) {
				var slot int
				if j >= lo && j < hi {
					slot = j - lo
				} else {
					s, ok := ghostSlot[j]
					if !ok {
						s = len(ghosts)
						ghostSlot[j] = s
						ghosts = append(ghosts, j)
					}
					slot = (hi - lo) + s
				}
				wb.cols = append(wb.cols, slot)
				wb.vals = append(wb.vals, v)
				if j == i {
					wb.diag[i-lo] = v
				}
			})
			wb.rowPtr = append(wb.rowPtr, len(wb.cols))
		}
		wb.xloc = make([]float64, (hi-lo)+len(ghosts))
		wb.halo = buildHalo(l, ghosts, hi-lo)
		po.workers[w] = wb
	}
	return po, nil
}

// buildHalo groups the ghost dofs by owning worker into pick/place buffers.
func buildHalo(l *Layout, ghosts []int, ghostBase int) []haloBuffer {
	bySource := make(map[int]*haloBuffer)
	var order []int
	for slot, g := range ghosts {
		src := l.Owner(g)
		hb, ok := bySource[src]
		if !ok {
			hb = &haloBuffer{Source: src}
			bySource[src] = hb
			order = append(order, src)
		}
		hb.Pick = append(hb.Pick, g)
		hb.Place = append(hb.Place, ghostBase+slot)
	}
	out := make([]haloBuffer, 0, len(order))
	for _, src := range order {
		out = append(out, *bySource[src])
	}
	return out
}

// Layout exposes the layout the operator is partitioned over.
func (po *Operator) Layout() *Layout { return po.layout }

// Dims implements operator.Operator.
func (po *Operator) Dims() (r, c int) { return po.n, po.n }

// ApplyContext computes dst = A*src in two collective phases: every worker
// first gathers its owned range and ghost values, then computes its row
// range. Each phase is a barrier; no worker writes outside its own range.
func (po *Operator) ApplyContext(ctx context.Context, dst, src []float64) error {
	if len(dst) != po.n || len(src) != po.n {
		return fmt.Errorf("partition: apply size mismatch, have %d and %d, want %d", len(dst), len(src), po.n)
	}
	if err := po.exchange(ctx, src); err != nil {
		return err
	}
	g, _ := errgroup.WithContext(ctx)
	for _, wb := range po.workers {
		wb := wb
		g.Go(func() error {
			wb.spmv(dst)
			return nil
		})
	}
	return g.Wait()
}

// Apply implements operator.Operator with a background context.
func (po *Operator) Apply(dst, src []float64) {
	// The errgroup only propagates context cancellation, which a background
	// context never delivers.
	_ = po.ApplyContext(context.Background(), dst, src)
}

// exchange is the halo collective: each worker fills its local vector from
// its owned slice of src and from the pick/place buffers of its neighbors.
func (po *Operator) exchange(ctx context.Context, src []float64) error {
	g, _ := errgroup.WithContext(ctx)
	for _, wb := range po.workers {
		wb := wb
		g.Go(func() error {
			copy(wb.xloc[:wb.hi-wb.lo], src[wb.lo:wb.hi])
			for _, hb := range wb.halo {
				for k, gdof := range hb.Pick {
					wb.xloc[hb.Place[k]] = src[gdof]
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func (wb *workerBlock) spmv(dst []float64) {
	for i := wb.lo; i < wb.hi; i++ {
		r := i - wb.lo
		sum := 0.0
		for k := wb.rowPtr[r]; k < wb.rowPtr[r+1]; k++ {
			sum += wb.vals[k] * wb.xloc[wb.cols[k]]
		}
		dst[i] = sum
	}
}

// JacobiSweep runs weighted Jacobi relaxation on A u = b in partitioned
// form, exchanging ghost values before every sweep. u is updated in place.
func (po *Operator) JacobiSweep(ctx context.Context, b, u []float64, omega float64, sweeps int) error {
	if len(b) != po.n || len(u) != po.n {
		return fmt.Errorf("partition: sweep size mismatch, have %d and %d, want %d", len(b), len(u), po.n)
	}
	for s := 0; s < sweeps; s++ {
		if err := po.exchange(ctx, u); err != nil {
			return err
		}
		g, _ := errgroup.WithContext(ctx)
		for _, wb := range po.workers {
			wb := wb
			g.Go(func() error {
				for i := wb.lo; i < wb.hi; i++ {
					r := i - wb.lo
					sum := 0.0
					for k := wb.rowPtr[r]; k < wb.rowPtr[r+1]; k++ {
						sum += wb.vals[k] * wb.xloc[wb.cols[k]]
					}
					if wb.diag[r] != 0 {
						u[i] += omega * (b[i] - sum) / wb.diag[r]
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}
