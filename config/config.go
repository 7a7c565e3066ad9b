// Package config defines the typed solver-configuration tree. A solver
// composition is a tagged variant — Direct, Jacobi, GMG cycle or FieldSplit —
// validated as a whole at construction time, not at solve time, and loadable
// from YAML for command-line use.
package config

import (
	"fmt"
	"os"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Spec is one node of the preconditioner tree. Exactly one of the variant
// fields must be set, matching Kind.
type Spec struct {
	Kind Kind `yaml:"kind"`

	Jacobi     *JacobiSpec     `yaml:"jacobi,omitempty"`
	GMG        *GMGSpec        `yaml:"gmg,omitempty"`
	FieldSplit *FieldSplitSpec `yaml:"fieldsplit,omitempty"`
}

// Kind tags the variant of a Spec node.
type Kind string

const (
	// KindNone disables preconditioning.
	KindNone Kind = "none"
	// KindDirect applies an exact factorization.
	KindDirect Kind = "direct"
	// KindJacobi applies the inverse operator diagonal.
	KindJacobi Kind = "jacobi"
	// KindGMG applies one geometric multigrid cycle.
	KindGMG Kind = "gmg"
	// KindFieldSplit applies a Schur-complement block factorization.
	KindFieldSplit Kind = "fieldsplit"
)

// JacobiSpec parameterizes the Jacobi preconditioner.
type JacobiSpec struct {
	Omega float64 `yaml:"omega"`
}

// GMGSpec parameterizes a multigrid cycle.
type GMGSpec struct {
	// Shape is "v", "w" or "f".
	Shape      string `yaml:"shape"`
	PreSmooth  int    `yaml:"pre_smooth"`
	PostSmooth int    `yaml:"post_smooth"`
	// Smoother is "jacobi", "weighted-jacobi", "sgs" or "chebyshev".
	Smoother string  `yaml:"smoother"`
	Omega    float64 `yaml:"omega,omitempty"`
	// Coarse is "direct" or "iterative".
	Coarse          string  `yaml:"coarse"`
	CoarseTol       float64 `yaml:"coarse_tol,omitempty"`
	CoarseMaxSweeps int     `yaml:"coarse_max_sweeps,omitempty"`
}

// FieldSplitSpec parameterizes the Schur-complement preconditioner. The two
// inner trees carry their own accuracy settings.
type FieldSplitSpec struct {
	// Factorization is "diag", "lower", "upper" or "full".
	Factorization string `yaml:"factorization"`
	InnerA        *Spec  `yaml:"inner_a"`
	InnerS        *Spec  `yaml:"inner_s"`
	// InnerTol and InnerMaxIterations bound inner Krylov solves; zero
	// means a single preconditioner sweep per application.
	InnerTol           float64 `yaml:"inner_tol,omitempty"`
	InnerMaxIterations int     `yaml:"inner_max_iterations,omitempty"`
}

// Load reads and validates a Spec from a YAML file.
func Load(path string) (*Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates a Spec from YAML bytes.
func Parse(raw []byte) (*Spec, error) {
	var s Spec
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate walks the whole tree and aggregates every problem found, so a
// malformed configuration is reported in one pass rather than one error per
// solve attempt.
func (s *Spec) Validate() error {
	return s.validate("root")
}

func (s *Spec) validate(path string) error {
	var errs error
	addf := func(format string, args ...any) {
		errs = multierr.Append(errs, fmt.Errorf("config: %s: "+format, append([]any{path}, args...)...))
	}

	switch s.Kind {
	case KindNone, KindDirect:
	case KindJacobi:
		if s.Jacobi != nil && (s.Jacobi.Omega < 0 || s.Jacobi.Omega > 2) {
			addf("jacobi omega %g outside (0, 2]", s.Jacobi.Omega)
		}
	case KindGMG:
		if s.GMG == nil {
			addf("kind gmg requires a gmg section")
			break
		}
		g := s.GMG
		switch g.Shape {
		case "", "v", "w", "f":
		default:
			addf("unknown cycle shape %q", g.Shape)
		}
		if g.PreSmooth < 0 || g.PostSmooth < 0 {
			addf("negative smooth counts %d/%d", g.PreSmooth, g.PostSmooth)
		}
		if g.PreSmooth == 0 && g.PostSmooth == 0 {
			addf("at least one of pre_smooth/post_smooth must be positive")
		}
		switch g.Smoother {
		case "", "jacobi", "weighted-jacobi", "sgs", "chebyshev":
		default:
			addf("unknown smoother %q", g.Smoother)
		}
		switch g.Coarse {
		case "", "direct", "iterative":
		default:
			addf("unknown coarse solve kind %q", g.Coarse)
		}
	case KindFieldSplit:
		if s.FieldSplit == nil {
			addf("kind fieldsplit requires a fieldsplit section")
			break
		}
		f := s.FieldSplit
		switch f.Factorization {
		case "", "diag", "lower", "upper", "full":
		default:
			addf("unknown factorization %q", f.Factorization)
		}
		if f.InnerA == nil {
			addf("inner_a is required")
		} else if err := f.InnerA.validate(path + ".inner_a"); err != nil {
			errs = multierr.Append(errs, err)
		}
		if f.InnerS == nil {
			addf("inner_s is required")
		} else if err := f.InnerS.validate(path + ".inner_s"); err != nil {
			errs = multierr.Append(errs, err)
		}
		if f.InnerTol < 0 {
			addf("inner_tol must be >= 0, got %g", f.InnerTol)
		}
	default:
		addf("unknown kind %q", s.Kind)
	}
	return errs
}
