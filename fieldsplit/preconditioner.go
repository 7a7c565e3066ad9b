package fieldsplit

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/gmgsolve/gmg/krylov"
	"github.com/gmgsolve/gmg/operator"
)

// Factorization selects the block factorization the preconditioner applies.
type Factorization uint8

const (
	// Diag applies the block-diagonal inverse: the two fields are solved
	// independently. Cheapest per application, most outer iterations.
	Diag Factorization = iota
	// Lower applies the block lower-triangular factor, coupling the second
	// field to the first.
	Lower
	// Upper applies the block upper-triangular factor, coupling the first
	// field to the second.
	Upper
	// Full applies the complete LDU factorization; with exact inner solves
	// and an exact Schur operator this is the exact inverse.
	Full
)

func (f Factorization) String() string {
	switch f {
	case Diag:
		return "diag"
	case Lower:
		return "lower"
	case Upper:
		return "upper"
	case Full:
		return "full"
	}
	return fmt.Sprintf("factorization(%d)", uint8(f))
}

// Preconditioner approximates the inverse of a BlockSystem through a block
// factorization, delegating the block inverses to the configured inner
// solvers. It satisfies krylov.Preconditioner.
type Preconditioner struct {
	bs   *BlockSystem
	fact Factorization

	// innerA and innerS approximate A^-1 and S^-1. Their accuracy (a fixed
	// sweep vs. a Krylov solve to tolerance) is configured independently
	// through the values the caller passes in.
	innerA, innerS krylov.Preconditioner

	t1, t2, t3 []float64
}

// NewPreconditioner assembles a field-split preconditioner. innerA and
// innerS must match the two field sizes; the caller typically builds innerA
// from a multigrid cycle on the (1,1) block and innerS from the output of
// ApproximateSchur or an AuxOperator.
func NewPreconditioner(bs *BlockSystem, fact Factorization, innerA, innerS krylov.Preconditioner) (*Preconditioner, error) {
	if bs == nil {
		return nil, errors.New("fieldsplit: nil block system")
	}
	if innerA == nil || innerS == nil {
		return nil, errors.New("fieldsplit: both inner solvers are required")
	}
	switch fact {
	case Diag, Lower, Upper, Full:
	default:
		return nil, fmt.Errorf("fieldsplit: unknown factorization %d", fact)
	}
	return &Preconditioner{
		bs:     bs,
		fact:   fact,
		innerA: innerA,
		innerS: innerS,
		t1:     make([]float64, bs.nA),
		t2:     make([]float64, bs.nS),
		t3:     make([]float64, bs.nA),
	}, nil
}

// Apply computes dst ~= K^-1 r per the configured factorization, with r and
// dst split as (f, g) over the two fields.
func (p *Preconditioner) Apply(dst, r []float64) error {
	n := p.bs.nA + p.bs.nS
	if len(dst) != n || len(r) != n {
		return fmt.Errorf("fieldsplit: apply size mismatch, have %d and %d, want %d", len(dst), len(r), n)
	}
	f, g := r[:p.bs.nA], r[p.bs.nA:]
	x1, x2 := dst[:p.bs.nA], dst[p.bs.nA:]

	switch p.fact {
	case Diag:
		if err := p.innerA.Apply(x1, f); err != nil {
			return fmt.Errorf("fieldsplit: (1,1) solve: %w", err)
		}
		if err := p.innerS.Apply(x2, g); err != nil {
			return fmt.Errorf("fieldsplit: schur solve: %w", err)
		}

	case Lower:
		if err := p.innerA.Apply(x1, f); err != nil {
			return fmt.Errorf("fieldsplit: (1,1) solve: %w", err)
		}
		// g - C x1
		p.bs.C.Apply(p.t2, x1)
		floats.AddScaledTo(p.t2, g, -1, p.t2)
		if err := p.innerS.Apply(x2, p.t2); err != nil {
			return fmt.Errorf("fieldsplit: schur solve: %w", err)
		}

	case Upper:
		if err := p.innerS.Apply(x2, g); err != nil {
			return fmt.Errorf("fieldsplit: schur solve: %w", err)
		}
		// f - B x2
		p.bs.B.Apply(p.t1, x2)
		floats.AddScaledTo(p.t1, f, -1, p.t1)
		if err := p.innerA.Apply(x1, p.t1); err != nil {
			return fmt.Errorf("fieldsplit: (1,1) solve: %w", err)
		}

	case Full:
		// Forward elimination, Schur solve, back substitution.
		if err := p.innerA.Apply(p.t3, f); err != nil {
			return fmt.Errorf("fieldsplit: (1,1) solve: %w", err)
		}
		p.bs.C.Apply(p.t2, p.t3)
		floats.AddScaledTo(p.t2, g, -1, p.t2)
		if err := p.innerS.Apply(x2, p.t2); err != nil {
			return fmt.Errorf("fieldsplit: schur solve: %w", err)
		}
		p.bs.B.Apply(p.t1, x2)
		if err := p.innerA.Apply(x1, p.t1); err != nil {
			return fmt.Errorf("fieldsplit: (1,1) solve: %w", err)
		}
		floats.AddScaledTo(x1, p.t3, -1, x1)
	}
	return nil
}

// KrylovInner runs an inner Krylov solve to its own tolerance each time it
// is applied, giving a tight (but expensive) approximation of a block
// inverse. Hitting the inner iteration cap is not an error here: the partial
// iterate is simply a weaker preconditioner application, which a flexible
// outer method absorbs.
type KrylovInner struct {
	A operator.Operator
	// M optionally preconditions the inner solve.
	M krylov.Preconditioner
	// Settings bounds the inner solve; Tolerance and MaxIterations are the
	// per-block accuracy knobs.
	Settings krylov.Settings
	// UseCG selects CG for SPD blocks; otherwise FGMRES is used.
	UseCG bool
	// Restart is the FGMRES restart length (ignored by CG).
	Restart int
}

func (ki *KrylovInner) Apply(dst, rhs []float64) error {
	var (
		res krylov.Result
		err error
	)
	if ki.UseCG {
		res, err = krylov.CG(ki.A, rhs, ki.M, ki.Settings)
	} else {
		res, err = krylov.FGMRES(ki.A, rhs, ki.M, ki.Restart, ki.Settings)
	}
	if err != nil && !errors.Is(err, krylov.ErrDiverged) && !errors.Is(err, krylov.ErrStagnated) {
		return err
	}
	copy(dst, res.X)
	return nil
}
