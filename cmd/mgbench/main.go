// mgbench runs the model-problem benchmarks: Poisson hierarchies of varying
// depth under different preconditioner configurations, reporting iteration
// counts and residuals.
package main

import (
	"fmt"
	"math"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/spf13/cobra"

	"github.com/gmgsolve/gmg/config"
	"github.com/gmgsolve/gmg/hierarchy"
	"github.com/gmgsolve/gmg/krylov"
	"github.com/gmgsolve/gmg/mesh"
	"github.com/gmgsolve/gmg/model"
)

var (
	flagVerbosity int
	flagDepth     int
	flagConfig    string
	flagDim       int
	flagTol       float64
)

func main() {
	root := &cobra.Command{
		Use:   "mgbench",
		Short: "Geometric multigrid and field-split solver benchmarks",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	root.PersistentFlags().IntVarP(&flagVerbosity, "verbosity", "v", 0, "log verbosity (0-2)")

	poisson := &cobra.Command{
		Use:   "poisson",
		Short: "Sweep hierarchy depths on the model Poisson problem",
		RunE:  runPoisson,
	}
	poisson.Flags().IntVar(&flagDepth, "max-depth", 5, "maximum number of refinements")
	poisson.Flags().IntVar(&flagDim, "dim", 1, "problem dimension (1 or 2)")
	poisson.Flags().Float64Var(&flagTol, "rtol", 1e-8, "relative residual tolerance")
	poisson.Flags().StringVar(&flagConfig, "config", "", "YAML solver spec (default: GMG V-cycle)")
	root.AddCommand(poisson)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func logger() logr.Logger {
	log := funcr.New(func(prefix, args string) {
		fmt.Fprintln(os.Stderr, prefix, args)
	}, funcr.Options{Verbosity: flagVerbosity})
	return log
}

func solverSpec() (*config.Spec, error) {
	if flagConfig != "" {
		return config.Load(flagConfig)
	}
	return &config.Spec{
		Kind: config.KindGMG,
		GMG: &config.GMGSpec{
			Shape:      "v",
			PreSmooth:  2,
			PostSmooth: 2,
			Smoother:   "sgs",
			Coarse:     "direct",
		},
	}, nil
}

func runPoisson(cmd *cobra.Command, args []string) error {
	log := logger()
	spec, err := solverSpec()
	if err != nil {
		return err
	}

	fmt.Printf("%-8s %-10s %-12s %-14s\n", "depth", "dofs", "iterations", "residual")
	for depth := 1; depth <= flagDepth; depth++ {
		var coarse *mesh.Mesh
		var asmErr error
		switch flagDim {
		case 1:
			coarse, asmErr = mesh.NewIntervalMesh(4)
		case 2:
			coarse, asmErr = mesh.NewQuadMesh(4, 4)
		default:
			return fmt.Errorf("unsupported dimension %d", flagDim)
		}
		if asmErr != nil {
			return asmErr
		}
		h, err := hierarchy.Build(coarse, depth)
		if err != nil {
			return err
		}
		if flagDim == 1 {
			err = model.AssemblePoisson1D(h)
		} else {
			err = model.AssemblePoisson2D(h)
		}
		if err != nil {
			return err
		}

		fin := h.Finest()
		b := model.LoadVector(fin, func(x, y float64) float64 {
			if flagDim == 1 {
				return math.Pi * math.Pi * math.Sin(math.Pi*x)
			}
			return 2 * math.Pi * math.Pi * math.Sin(math.Pi*x) * math.Sin(math.Pi*y)
		})

		pre, err := config.Build(spec, config.Resources{Hierarchy: h, Logger: log})
		if err != nil {
			return err
		}
		res, err := krylov.CG(fin.A, b, pre, krylov.Settings{
			Tolerance: flagTol,
			Logger:    log,
		})
		status := ""
		if err != nil {
			status = "  " + err.Error()
		}
		fmt.Printf("%-8d %-10d %-12d %-14.3e%s\n", depth, fin.NumDofs, res.Iterations, res.ResidualNorm, status)
	}
	return nil
}
