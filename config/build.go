package config

import (
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/gmgsolve/gmg/cycle"
	"github.com/gmgsolve/gmg/fieldsplit"
	"github.com/gmgsolve/gmg/hierarchy"
	"github.com/gmgsolve/gmg/krylov"
	"github.com/gmgsolve/gmg/operator"
	"github.com/gmgsolve/gmg/smoother"
)

// Resources supplies the assembled objects a Spec tree is built against.
// Which fields are required depends on the node kinds in the tree: GMG nodes
// need Hierarchy (or SchurHierarchy when they sit on the Schur side of a
// field split), FieldSplit nodes need Block.
type Resources struct {
	// Hierarchy backs GMG nodes and direct/jacobi leaves outside a field
	// split (the finest-level operator is used).
	Hierarchy *hierarchy.Hierarchy
	// Block backs FieldSplit nodes.
	Block *fieldsplit.BlockSystem
	// SchurHierarchy backs GMG nodes on the Schur side of a field split.
	SchurHierarchy *hierarchy.Hierarchy
	// NullSpace deflates direct leaves and multigrid coarse solves.
	NullSpace *operator.NullSpace
	// Aux overrides the built-in Schur approximation.
	Aux fieldsplit.AuxOperator
	// AuxContext is handed to Aux.
	AuxContext *fieldsplit.Context
	// Logger is threaded into every built component.
	Logger logr.Logger
}

// Build turns a validated Spec tree into a runnable preconditioner. KindNone
// yields a nil preconditioner, which the Krylov solvers accept.
func Build(s *Spec, res Resources) (krylov.Preconditioner, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if res.Logger.GetSink() == nil {
		res.Logger = logr.Discard()
	}
	return build(s, res)
}

func build(s *Spec, res Resources) (krylov.Preconditioner, error) {
	switch s.Kind {
	case KindNone:
		return nil, nil

	case KindDirect, KindJacobi:
		if res.Hierarchy == nil {
			return nil, errors.New("config: direct/jacobi leaf needs a hierarchy")
		}
		return buildLeaf(s, res.Hierarchy.Finest().A, res.NullSpace)

	case KindGMG:
		if res.Hierarchy == nil {
			return nil, errors.New("config: gmg node needs a hierarchy")
		}
		return buildGMG(s.GMG, res.Hierarchy, res.NullSpace, res.Logger)

	case KindFieldSplit:
		return buildFieldSplit(s.FieldSplit, res)
	}
	return nil, fmt.Errorf("config: unknown kind %q", s.Kind)
}

func buildLeaf(s *Spec, a *operator.Matrix, ns *operator.NullSpace) (krylov.Preconditioner, error) {
	switch s.Kind {
	case KindDirect:
		return krylov.NewDirectPreconditioner(a, ns)
	case KindJacobi:
		omega := 1.0
		if s.Jacobi != nil && s.Jacobi.Omega > 0 {
			omega = s.Jacobi.Omega
		}
		return krylov.NewWeightedJacobiPreconditioner(a, omega), nil
	}
	return nil, fmt.Errorf("config: %q is not a leaf kind", s.Kind)
}

func buildGMG(g *GMGSpec, h *hierarchy.Hierarchy, ns *operator.NullSpace, log logr.Logger) (*cycle.Multigrid, error) {
	spec := cycle.Spec{
		PreSmooth:       g.PreSmooth,
		PostSmooth:      g.PostSmooth,
		CoarseTol:       g.CoarseTol,
		CoarseMaxSweeps: g.CoarseMaxSweeps,
	}
	switch g.Shape {
	case "", "v":
		spec.Shape = cycle.V
	case "w":
		spec.Shape = cycle.W
	case "f":
		spec.Shape = cycle.F
	}
	switch g.Smoother {
	case "jacobi":
		spec.Smoother = smoother.Config{Kind: smoother.Jacobi}
	case "", "sgs":
		spec.Smoother = smoother.Config{Kind: smoother.SymmetricGaussSeidel}
	case "weighted-jacobi":
		spec.Smoother = smoother.Config{Kind: smoother.WeightedJacobi, Omega: g.Omega}
	case "chebyshev":
		spec.Smoother = smoother.Config{Kind: smoother.Chebyshev}
	}
	switch g.Coarse {
	case "", "direct":
		spec.Coarse = cycle.CoarseDirect
	case "iterative":
		spec.Coarse = cycle.CoarseIterative
	}
	opts := []cycle.Option{cycle.WithLogger(log)}
	if ns != nil {
		opts = append(opts, cycle.WithNullSpace(ns))
	}
	return cycle.New(h, spec, opts...)
}

func buildFieldSplit(f *FieldSplitSpec, res Resources) (krylov.Preconditioner, error) {
	bs := res.Block
	if bs == nil {
		return nil, errors.New("config: fieldsplit node needs a block system")
	}

	var fact fieldsplit.Factorization
	switch f.Factorization {
	case "", "diag":
		fact = fieldsplit.Diag
	case "lower":
		fact = fieldsplit.Lower
	case "upper":
		fact = fieldsplit.Upper
	case "full":
		fact = fieldsplit.Full
	}

	schur, err := schurOperator(bs, res)
	if err != nil {
		return nil, err
	}

	innerA, err := buildInner(f.InnerA, bs.A, res.Hierarchy, bs.NearNullSpace, res.Logger)
	if err != nil {
		return nil, fmt.Errorf("config: inner_a: %w", err)
	}
	innerS, err := buildInner(f.InnerS, schur, res.SchurHierarchy, nil, res.Logger)
	if err != nil {
		return nil, fmt.Errorf("config: inner_s: %w", err)
	}

	if f.InnerTol > 0 {
		settings := krylov.Settings{Tolerance: f.InnerTol, MaxIterations: f.InnerMaxIterations, Logger: res.Logger}
		innerA = &fieldsplit.KrylovInner{A: bs.A, M: innerA, Settings: settings, UseCG: bs.A.Symmetric}
		// The Schur block of a saddle-point system is negative (semi-)
		// definite even when symmetric, so its inner solve uses FGMRES.
		innerS = &fieldsplit.KrylovInner{A: schur, M: innerS, Settings: settings}
	}
	return fieldsplit.NewPreconditioner(bs, fact, innerA, innerS)
}

// schurOperator resolves the Schur approximation: a user aux operator when
// supplied, the diagonal approximation otherwise.
func schurOperator(bs *fieldsplit.BlockSystem, res Resources) (*operator.Matrix, error) {
	if res.Aux != nil {
		return res.Aux.SchurOperator(bs, res.AuxContext)
	}
	return bs.ApproximateSchur()
}

// buildInner builds one side of a field split against its block operator.
func buildInner(s *Spec, a *operator.Matrix, h *hierarchy.Hierarchy, ns *operator.NullSpace, log logr.Logger) (krylov.Preconditioner, error) {
	switch s.Kind {
	case KindNone:
		return krylov.IdentityPreconditioner{}, nil
	case KindDirect, KindJacobi:
		return buildLeaf(s, a, ns)
	case KindGMG:
		if h == nil {
			return nil, errors.New("gmg inner needs a hierarchy for its field")
		}
		return buildGMG(s.GMG, h, ns, log)
	case KindFieldSplit:
		return nil, errors.New("nested field splits are not supported")
	}
	return nil, fmt.Errorf("unknown kind %q", s.Kind)
}
