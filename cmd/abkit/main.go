package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"abkit/app"
	"abkit/domain/experiment"
	"abkit/internal"
	"abkit/internal/config"
	"abkit/internal/testkit"
	"abkit/internal/variance"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type globalFlags struct {
	configPath string
	seed       uint64
	units      int
	effect     float64
}

func main() {
	flags := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:   "abkit",
		Short: "A/B experiment design and evaluation over synthetic data",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := godotenv.Load(); err != nil {
				log.Println("No .env file found, using system environment variables")
			}
			// package loggers are built before .env is read
			internal.DefaultLogger.SetLevel(internal.EnvLogLevel(internal.DefaultLogger.GetLevel()))
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().Uint64Var(&flags.seed, "seed", 0, "base seed (overrides configuration)")
	rootCmd.PersistentFlags().IntVar(&flags.units, "units", 2000, "synthetic units to generate")
	rootCmd.PersistentFlags().Float64Var(&flags.effect, "true-effect", 0, "treatment effect baked into the synthetic revenue")

	rootCmd.AddCommand(
		newSizeCmd(flags),
		newMDECmd(flags),
		newSimulateCmd(flags),
		newErrorsCmd(flags),
		newBootstrapCmd(flags),
		newReduceCmd(flags),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newService(cmd *cobra.Command, flags *globalFlags) (*app.ExperimentService, error) {
	cfg, err := config.LoadFile(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cmd.Flags().Changed("seed") {
		seed := flags.seed
		cfg.Runtime.Seed = &seed
	}
	return app.NewExperimentService(cfg)
}

func newDataset(flags *globalFlags) (*experiment.Dataset, *testkit.ExperimentGenerator, error) {
	cfg := testkit.DefaultExperimentConfig()
	cfg.Units = flags.units
	cfg.Effect = flags.effect
	if flags.seed != 0 {
		cfg.Seed = int64(flags.seed)
	}
	gen := testkit.NewExperimentGenerator(cfg)
	ds, err := gen.Generate()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate synthetic data: %w", err)
	}
	return ds, gen, nil
}

// unitDataset generates synthetic units. With aggregate set, the units are first
// expanded to a per-session log and collapsed back with that aggregation.
func unitDataset(svc *app.ExperimentService, flags *globalFlags, aggregate string) (*experiment.Dataset, error) {
	ds, _, err := newDataset(flags)
	if err != nil || aggregate == "" {
		return ds, err
	}
	agg, err := experiment.ParseAggregation(aggregate)
	if err != nil {
		return nil, err
	}
	obs, err := testkit.SessionLog(ds)
	if err != nil {
		return nil, err
	}
	return svc.UnitLevel(obs, agg)
}

func printJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func newSizeCmd(flags *globalFlags) *cobra.Command {
	var (
		req      app.DesignRequest
		fromData bool
	)
	cmd := &cobra.Command{
		Use:   "size",
		Short: "Compute the per-arm sample size for a minimum detectable effect",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService(cmd, flags)
			if err != nil {
				return err
			}
			var ds *experiment.Dataset
			if fromData {
				if ds, _, err = newDataset(flags); err != nil {
					return err
				}
			} else {
				req.Metric = ""
			}
			res, err := svc.Design(ds, req)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().Float64Var(&req.BaselineMean, "mean", 10, "baseline mean")
	cmd.Flags().Float64Var(&req.BaselineVariance, "variance", 25, "baseline variance")
	cmd.Flags().Float64Var(&req.BaselineRate, "rate", 0, "baseline conversion rate (selects proportion sizing)")
	cmd.Flags().Float64Var(&req.MDE, "mde", 1, "minimum detectable effect")
	cmd.Flags().BoolVar(&req.RelativeMDE, "relative", false, "treat --mde as a fraction of the baseline")
	cmd.Flags().BoolVar(&fromData, "from-data", false, "estimate the baseline from a synthetic metric")
	cmd.Flags().StringVar(&req.Metric, "metric", testkit.MetricRevenue, "metric used with --from-data")
	return cmd
}

func newMDECmd(flags *globalFlags) *cobra.Command {
	var req app.DesignRequest
	cmd := &cobra.Command{
		Use:   "mde",
		Short: "Compute the minimum detectable effect for a per-arm sample size",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService(cmd, flags)
			if err != nil {
				return err
			}
			if req.SampleSize <= 0 {
				return fmt.Errorf("--n must be positive")
			}
			res, err := svc.Design(nil, req)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().Float64Var(&req.BaselineMean, "mean", 10, "baseline mean")
	cmd.Flags().Float64Var(&req.BaselineVariance, "variance", 25, "baseline variance")
	cmd.Flags().Float64Var(&req.BaselineRate, "rate", 0, "baseline conversion rate (selects proportion sizing)")
	cmd.Flags().IntVar(&req.SampleSize, "n", 1000, "control arm size")
	return cmd
}

func validationFlags(cmd *cobra.Command, req *app.ValidationRequest, effectKind *string, test *string) {
	cmd.Flags().StringVar(&req.Metric, "metric", testkit.MetricRevenue, "metric column to simulate")
	cmd.Flags().IntVar(&req.SampleSize, "sample-size", 0, "units per arm (0 splits the whole column)")
	cmd.Flags().IntVar(&req.Iterations, "iterations", 0, "simulation iterations (0 uses configuration)")
	cmd.Flags().Float64Var(&req.Effect.Size, "effect", 0, "synthetic effect injected into treatment")
	cmd.Flags().StringVar(effectKind, "effect-kind", "", "additive or multiplicative")
	cmd.Flags().StringVar(test, "test", "", "hypothesis test (welch, proportion, mannwhitney, bootstrap)")
}

func parseValidation(req *app.ValidationRequest, effectKind, test string) error {
	if effectKind != "" {
		kind, err := experiment.ParseEffectKind(effectKind)
		if err != nil {
			return err
		}
		req.Effect.Kind = kind
	}
	if test != "" {
		kind, err := experiment.ParseTestKind(test)
		if err != nil {
			return err
		}
		req.Test = kind
	}
	return nil
}

func newSimulateCmd(flags *globalFlags) *cobra.Command {
	var (
		req                    app.ValidationRequest
		mode, effectKind, test string
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run A/A or synthetic A/B simulations of a metric",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := experiment.ParseSimulationMode(mode)
			if err != nil {
				return err
			}
			req.Mode = m
			if err := parseValidation(&req, effectKind, test); err != nil {
				return err
			}
			svc, err := newService(cmd, flags)
			if err != nil {
				return err
			}
			ds, _, err := newDataset(flags)
			if err != nil {
				return err
			}
			report, err := svc.Validate(cmd.Context(), ds, req)
			if err != nil {
				return err
			}
			// p-values are noise on the terminal
			report.PValues = nil
			return printJSON(cmd, report)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(experiment.ModeAA), "aa or ab")
	validationFlags(cmd, &req, &effectKind, &test)
	return cmd
}

func newErrorsCmd(flags *globalFlags) *cobra.Command {
	var (
		req                         app.ValidationRequest
		effectKind, test, aggregate string
	)
	cmd := &cobra.Command{
		Use:   "errors",
		Short: "Estimate type I and type II error rates of a design",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := parseValidation(&req, effectKind, test); err != nil {
				return err
			}
			svc, err := newService(cmd, flags)
			if err != nil {
				return err
			}
			ds, err := unitDataset(svc, flags, aggregate)
			if err != nil {
				return err
			}
			est, err := svc.EstimateErrors(cmd.Context(), ds, req)
			if err != nil {
				return err
			}
			est.AA.PValues, est.AB.PValues = nil, nil
			return printJSON(cmd, est)
		},
	}
	validationFlags(cmd, &req, &effectKind, &test)
	cmd.Flags().StringVar(&aggregate, "aggregate", "", "simulate per-session observations collapsed by unit (mean or sum)")
	return cmd
}

func newBootstrapCmd(flags *globalFlags) *cobra.Command {
	var metric, aggregate string
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Bootstrap test and interval for the difference of means",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService(cmd, flags)
			if err != nil {
				return err
			}
			ds, err := unitDataset(svc, flags, aggregate)
			if err != nil {
				return err
			}
			res, err := svc.Evaluate(cmd.Context(), ds, app.EvaluationRequest{
				Metric: metric,
				Test:   experiment.TestBootstrap,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&metric, "metric", testkit.MetricRevenue, "metric column")
	cmd.Flags().StringVar(&aggregate, "aggregate", "", "bootstrap per-session observations collapsed by unit (mean or sum)")
	return cmd
}

func newReduceCmd(flags *globalFlags) *cobra.Command {
	var (
		kind, scope, test, outliers string
		lower, upper                float64
		meanCentred                 bool
	)
	cmd := &cobra.Command{
		Use:   "reduce",
		Short: "Evaluate the synthetic experiment after variance reduction",
		RunE: func(cmd *cobra.Command, args []string) error {
			reduction, err := experiment.ParseReductionKind(kind)
			if err != nil {
				return err
			}
			svc, err := newService(cmd, flags)
			if err != nil {
				return err
			}
			ds, gen, err := newDataset(flags)
			if err != nil {
				return err
			}

			req := app.EvaluationRequest{Metric: testkit.MetricRevenue, Reduction: reduction, MeanCentred: meanCentred}
			switch reduction {
			case experiment.ReductionCUPED:
				req.Covariate = testkit.MetricPreRevenue
			case experiment.ReductionLinearization:
				req.Metric = testkit.MetricClicks
				req.Denominator = testkit.MetricSessions
			case experiment.ReductionPostStratification:
				req.Strata = testkit.LabelsSegment
				req.Weights = gen.Weights()
			}
			if scope != "" {
				if req.Scope, err = experiment.ParseThetaScope(scope); err != nil {
					return err
				}
			}
			if test != "" {
				if req.Test, err = experiment.ParseTestKind(test); err != nil {
					return err
				}
			}
			if outliers != "" {
				mode, err := variance.ParseOutlierMode(outliers)
				if err != nil {
					return err
				}
				req.Outliers = &app.OutlierFilter{Mode: mode, Lower: lower, Upper: upper}
			}

			res, err := svc.Evaluate(cmd.Context(), ds, req)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(experiment.ReductionCUPED), "none, cuped, linearization or poststratification")
	cmd.Flags().StringVar(&scope, "scope", "", "theta estimation scope (full or control)")
	cmd.Flags().StringVar(&test, "test", "", "hypothesis test")
	cmd.Flags().BoolVar(&meanCentred, "mean-centred", false, "mean-centred linearization")
	cmd.Flags().StringVar(&outliers, "outliers", "", "drop or clip values outside [--lower, --upper]")
	cmd.Flags().Float64Var(&lower, "lower", 0, "outlier lower bound")
	cmd.Flags().Float64Var(&upper, "upper", 50, "outlier upper bound")
	return cmd
}
