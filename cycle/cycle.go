// Package cycle implements geometric multigrid cycling (V, W and full
// multigrid) over a hierarchy. A Multigrid is usable standalone through
// Solve-style repeated cycling or as a preconditioner through Apply.
package cycle

import (
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"gonum.org/v1/gonum/floats"

	"github.com/gmgsolve/gmg/hierarchy"
	"github.com/gmgsolve/gmg/operator"
	"github.com/gmgsolve/gmg/smoother"
)

// Shape selects the traversal pattern of one cycle application.
type Shape uint8

const (
	V Shape = iota
	W
	F
)

func (s Shape) String() string {
	switch s {
	case V:
		return "V"
	case W:
		return "W"
	case F:
		return "F"
	}
	return fmt.Sprintf("shape(%d)", uint8(s))
}

// CoarseKind selects how the coarsest level is solved.
type CoarseKind uint8

const (
	// CoarseDirect factorizes the level-0 operator once with dense LU.
	CoarseDirect CoarseKind = iota
	// CoarseIterative relaxes on level 0 to a configured tolerance instead
	// of factorizing. Cheaper to set up, weaker per cycle.
	CoarseIterative
)

// Spec is the cycle configuration. All fields are validated at New; a Spec
// never changes after the Multigrid is built.
type Spec struct {
	Shape      Shape
	PreSmooth  int
	PostSmooth int
	Smoother   smoother.Config

	Coarse CoarseKind
	// CoarseTol and CoarseMaxSweeps bound the iterative coarse solve.
	// Ignored for CoarseDirect.
	CoarseTol       float64
	CoarseMaxSweeps int
}

// DefaultSpec is a V-cycle with two symmetric Gauss-Seidel sweeps on each
// side and a direct coarse solve.
func DefaultSpec() Spec {
	return Spec{
		Shape:      V,
		PreSmooth:  2,
		PostSmooth: 2,
		Smoother:   smoother.Config{Kind: smoother.SymmetricGaussSeidel},
		Coarse:     CoarseDirect,
	}
}

// Option configures a Multigrid at construction.
type Option func(*Multigrid)

// WithLogger attaches a logger; V(1) logs per-apply summaries, V(2) logs
// per-level traffic.
func WithLogger(log logr.Logger) Option {
	return func(mg *Multigrid) { mg.log = log }
}

// WithNullSpace declares the operator's null space on the finest level. The
// basis is injected down the hierarchy to deflate the coarse solve; without
// it a singular coarse operator fails with operator.ErrSingularMatrix.
func WithNullSpace(ns *operator.NullSpace) Option {
	return func(mg *Multigrid) { mg.ns = ns }
}

// Multigrid executes multigrid cycles over a fully assembled hierarchy.
type Multigrid struct {
	h    *hierarchy.Hierarchy
	spec Spec
	log  logr.Logger
	ns   *operator.NullSpace

	smoothers []smoother.Smoother
	coarseLU  *operator.DenseLU
	coarseSm  smoother.Smoother
	coarseNS  *operator.NullSpace

	// Per-level work vectors. b and u of intermediate levels hold the
	// restricted right-hand sides and corrections during a cycle; r holds
	// residuals.
	u, b, r [][]float64
	// fu and fb are the per-level iterates and right-hand sides of the full
	// multigrid descent, kept separate from the in-cycle buffers.
	fu, fb [][]float64
}

// New validates spec against h and prepares smoothers, coarse solver and
// work storage. Every level of h must have an assembled operator.
func New(h *hierarchy.Hierarchy, spec Spec, opts ...Option) (*Multigrid, error) {
	if h == nil {
		return nil, errors.New("cycle: nil hierarchy")
	}
	if spec.PreSmooth < 0 || spec.PostSmooth < 0 {
		return nil, fmt.Errorf("cycle: negative smooth counts %d/%d", spec.PreSmooth, spec.PostSmooth)
	}
	if spec.PreSmooth == 0 && spec.PostSmooth == 0 {
		return nil, errors.New("cycle: at least one of pre/post smoothing is required")
	}
	for l := 0; l < h.Depth(); l++ {
		if h.Level(l).A == nil {
			return nil, fmt.Errorf("cycle: level %d has no assembled operator", l)
		}
	}

	mg := &Multigrid{h: h, spec: spec, log: logr.Discard()}
	for _, opt := range opts {
		opt(mg)
	}

	depth := h.Depth()
	mg.smoothers = make([]smoother.Smoother, depth)
	for l := 1; l < depth; l++ {
		s, err := smoother.New(spec.Smoother, h.Level(l).A)
		if err != nil {
			return nil, fmt.Errorf("cycle: level %d: %w", l, err)
		}
		mg.smoothers[l] = s
	}

	if mg.ns != nil {
		if mg.ns.Len() != h.Finest().NumDofs {
			return nil, fmt.Errorf("cycle: null space length %d does not match finest level (%d dofs)", mg.ns.Len(), h.Finest().NumDofs)
		}
		cns, err := mg.coarsenNullSpace()
		if err != nil {
			return nil, err
		}
		mg.coarseNS = cns
	}

	switch spec.Coarse {
	case CoarseDirect:
		lu, err := operator.NewDenseLU(h.Coarsest().A, mg.coarseNS)
		if err != nil {
			return nil, fmt.Errorf("cycle: coarse factorization: %w", err)
		}
		mg.coarseLU = lu
	case CoarseIterative:
		s, err := smoother.New(spec.Smoother, h.Coarsest().A)
		if err != nil {
			return nil, fmt.Errorf("cycle: coarse smoother: %w", err)
		}
		mg.coarseSm = s
		if mg.spec.CoarseTol <= 0 {
			mg.spec.CoarseTol = 1e-10
		}
		if mg.spec.CoarseMaxSweeps <= 0 {
			mg.spec.CoarseMaxSweeps = 200
		}
	default:
		return nil, fmt.Errorf("cycle: unknown coarse solve kind %d", spec.Coarse)
	}

	mg.u = make([][]float64, depth)
	mg.b = make([][]float64, depth)
	mg.r = make([][]float64, depth)
	mg.fu = make([][]float64, depth)
	mg.fb = make([][]float64, depth)
	for l := 0; l < depth; l++ {
		n := h.Level(l).NumDofs
		mg.u[l] = make([]float64, n)
		mg.b[l] = make([]float64, n)
		mg.r[l] = make([]float64, n)
		mg.fu[l] = make([]float64, n)
		mg.fb[l] = make([]float64, n)
	}
	return mg, nil
}

// coarsenNullSpace carries the finest-level null basis down to level 0 by
// repeated injection (a primal transfer) and re-orthonormalizes there.
func (mg *Multigrid) coarsenNullSpace() (*operator.NullSpace, error) {
	depth := mg.h.Depth()
	if depth == 1 {
		return mg.ns, nil
	}
	var coarse [][]float64
	for k := 0; k < mg.ns.Dim(); k++ {
		v := mg.ns.Basis(k)
		for l := depth - 1; l > 0; l-- {
			dst := make([]float64, mg.h.Level(l-1).NumDofs)
			if err := mg.h.Inject(l, v, dst); err != nil {
				return nil, err
			}
			v = dst
		}
		coarse = append(coarse, v)
	}
	ns, err := operator.NewNullSpace(coarse...)
	if err != nil {
		return nil, fmt.Errorf("cycle: coarse null space: %w", err)
	}
	return ns, nil
}

// Hierarchy exposes the hierarchy the cycle runs on.
func (mg *Multigrid) Hierarchy() *hierarchy.Hierarchy { return mg.h }

// Apply runs one cycle of the configured shape against the residual r,
// starting from a zero guess, and writes the correction to dst. This is the
// preconditioner contract consumed by the outer Krylov iteration; a single
// application has no convergence test of its own.
func (mg *Multigrid) Apply(dst, r []float64) error {
	n := mg.h.Finest().NumDofs
	if len(dst) != n || len(r) != n {
		return fmt.Errorf("cycle: apply size mismatch, have %d and %d, want %d", len(dst), len(r), n)
	}
	for i := range dst {
		dst[i] = 0
	}
	var err error
	if mg.spec.Shape == F {
		err = mg.fullCycle(r, dst)
	} else {
		err = mg.cycle(mg.h.Depth()-1, r, dst)
	}
	if err != nil {
		return err
	}
	if mg.ns != nil {
		mg.ns.Project(dst)
	}
	return nil
}

// Cycle runs one cycle of the configured shape on the finest level, refining
// the approximation u of A u = b in place.
func (mg *Multigrid) Cycle(b, u []float64) error {
	if mg.spec.Shape == F {
		return errors.New("cycle: full multigrid does not refine an existing iterate, use Apply")
	}
	return mg.cycle(mg.h.Depth()-1, b, u)
}

// cycle is the recursive kernel: pre-smooth, restrict the residual, recurse
// (or solve) on the coarser level, prolong and correct, post-smooth.
func (mg *Multigrid) cycle(level int, b, u []float64) error {
	if level == 0 {
		return mg.coarseSolve(b, u)
	}
	sm := mg.smoothers[level]
	a := mg.h.Level(level).A

	if mg.spec.PreSmooth > 0 {
		sm.Smooth(b, u, mg.spec.PreSmooth)
	}

	r := mg.r[level]
	operator.Residual(r, a, b, u)
	if mg.log.V(2).Enabled() {
		mg.log.V(2).Info("restricting residual", "level", level, "norm", floats.Norm(r, 2))
	}

	bc := mg.b[level-1]
	uc := mg.u[level-1]
	if err := mg.h.Restrict(level, r, bc); err != nil {
		return err
	}
	// Constrained dofs carry no residual equation; their restricted
	// entries are boundary spill-over from interior neighbors.
	for _, d := range mg.h.Level(level - 1).Dirichlet {
		bc[d] = 0
	}
	for i := range uc {
		uc[i] = 0
	}

	recursions := 1
	if mg.spec.Shape == W && level-1 > 0 {
		recursions = 2
	}
	for k := 0; k < recursions; k++ {
		if err := mg.cycle(level-1, bc, uc); err != nil {
			return err
		}
	}

	// Prolong the coarse correction and add it. The residual buffer is free
	// again at this point and doubles as prolongation target.
	if err := mg.h.Prolong(level-1, uc, r); err != nil {
		return err
	}
	floats.Add(u, r)

	if mg.spec.PostSmooth > 0 {
		sm.Smooth(b, u, mg.spec.PostSmooth)
	}
	return nil
}

// fullCycle is the nested-iteration bootstrap: carry the right-hand side to
// the coarsest level, solve there, and work back up, using each level's
// prolonged solution as the initial guess for one cycle on that level. The
// final step is a full-depth cycle on the finest level.
func (mg *Multigrid) fullCycle(b, u []float64) error {
	depth := mg.h.Depth()
	copy(mg.fb[depth-1], b)
	// The right-hand side is a dual quantity, so the descent uses
	// restriction; injection is reserved for primal data.
	for l := depth - 1; l > 0; l-- {
		if err := mg.h.Restrict(l, mg.fb[l], mg.fb[l-1]); err != nil {
			return err
		}
		for _, d := range mg.h.Level(l - 1).Dirichlet {
			mg.fb[l-1][d] = 0
		}
	}
	for i := range mg.fu[0] {
		mg.fu[0][i] = 0
	}
	if err := mg.coarseSolve(mg.fb[0], mg.fu[0]); err != nil {
		return err
	}
	for l := 1; l < depth; l++ {
		if err := mg.h.Prolong(l-1, mg.fu[l-1], mg.fu[l]); err != nil {
			return err
		}
		if err := mg.cycle(l, mg.fb[l], mg.fu[l]); err != nil {
			return err
		}
	}
	copy(u, mg.fu[depth-1])
	return nil
}

// coarseSolve solves the level-0 system either by the cached factorization
// or by relaxation to tolerance.
func (mg *Multigrid) coarseSolve(b, u []float64) error {
	if mg.coarseLU != nil {
		return mg.coarseLU.Solve(u, b)
	}
	a := mg.h.Coarsest().A
	r := mg.r[0]
	bnorm := floats.Norm(b, 2)
	if bnorm == 0 {
		for i := range u {
			u[i] = 0
		}
		return nil
	}
	for sweep := 0; sweep < mg.spec.CoarseMaxSweeps; sweep++ {
		mg.coarseSm.Smooth(b, u, 1)
		operator.Residual(r, a, b, u)
		if mg.coarseNS != nil {
			mg.coarseNS.Project(r)
		}
		if floats.Norm(r, 2) <= mg.spec.CoarseTol*bnorm {
			break
		}
	}
	if mg.coarseNS != nil {
		mg.coarseNS.Project(u)
	}
	return nil
}
