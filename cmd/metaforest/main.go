package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/metaforest/dataset"
	"github.com/YuminosukeSato/metaforest/effectsize"
	"github.com/YuminosukeSato/metaforest/meta"
	"github.com/YuminosukeSato/metaforest/pkg/log"
	"github.com/YuminosukeSato/metaforest/render"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		input     string
		rho       float64
		moderator string
		outDir    string
		noPlots   bool
		logLevel  string
	)

	cmd := &cobra.Command{
		Use:   "metaforest",
		Short: "Three-level meta-analysis of correlation coefficients",
		Long: `Pool correlation coefficients across studies with a three-level
random-effects model, correlated-effects covariance imputation and
cluster-robust standard errors, then render forest and funnel plots.

The input table needs study_id and cor columns plus either n (sample size)
or p_value; diet_element, outcome_label and health_status are optional
moderator columns.

Example: metaforest --input effects.csv --rho 0.6 --moderator diet_element --out plots/`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.SetupLogger(logLevel)
			return run(input, rho, moderator, outDir, noPlots)
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "Path to the effect size table (.csv or .xlsx)")
	cmd.Flags().Float64Var(&rho, "rho", 0, "Assumed within-study correlation between effect sizes, in [0, 1)")
	cmd.Flags().StringVar(&moderator, "moderator", "", "Optional moderator column to test by likelihood ratio")
	cmd.Flags().StringVar(&outDir, "out", ".", "Directory for forest.png and funnel.png")
	cmd.Flags().BoolVar(&noPlots, "no-plots", false, "Skip plot rendering")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "Log level: debug|info|warn|error")

	cobra.CheckErr(cmd.MarkFlagRequired("input"))
	cobra.CheckErr(cmd.MarkFlagRequired("rho"))

	return cmd
}

func run(input string, rho float64, moderator, outDir string, noPlots bool) error {
	ds, err := dataset.Load(input)
	if err != nil {
		return err
	}

	summary, err := ds.Summarize()
	if err != nil {
		return err
	}
	fmt.Printf("=== DATASET ===\n")
	fmt.Printf("Source: %s\n", ds.Source)
	fmt.Printf("Studies: %d | Effects: %d\n", summary.Studies, summary.Effects)
	fmt.Printf("Correlations: mean %.3f, median %.3f, range [%.3f, %.3f]\n",
		summary.MeanCor, summary.MedianCor, summary.MinCor, summary.MaxCor)

	tds, err := effectsize.NewTransformer().Transform(ds)
	if err != nil {
		return err
	}
	fmt.Printf("Variance input: %s\n", tds.VariancePath)

	model := meta.NewMultilevelModel(meta.Options{Rho: rho})
	if err := model.Fit(tds); err != nil {
		return err
	}
	result, err := model.Result()
	if err != nil {
		return err
	}

	printFit(result)

	if moderator != "" {
		cmp, err := meta.CompareModerator(tds, meta.Options{Rho: rho, Moderator: moderator})
		if err != nil {
			return err
		}
		printComparison(moderator, cmp)
	}

	if noPlots {
		return nil
	}
	return renderPlots(result, outDir)
}

func printFit(result *meta.FittedModel) {
	fmt.Printf("\n=== POOLED EFFECT ===\n")
	fmt.Printf("r = %.4f, 95%% CI [%.4f, %.4f] (rho = %.2f)\n",
		result.PooledR, result.PooledRLower, result.PooledRUpper, result.Rho)
	fmt.Printf("Log-likelihood: %.4f (%d iterations)\n", result.LogLik, result.Iterations)

	fmt.Printf("\n=== HETEROGENEITY ===\n")
	fmt.Printf("tau2 between-study: %.6f | within-study: %.6f\n",
		result.Het.Tau2Level3, result.Het.Tau2Level2)
	fmt.Printf("I2 between-study: %.1f%% | within-study: %.1f%% | total: %.1f%%\n",
		result.Het.I2Level3, result.Het.I2Level2, result.Het.I2Total)

	fmt.Printf("\n=== COEFFICIENTS (Fisher z scale, CR2 robust) ===\n")
	for _, c := range result.Coefficients {
		fmt.Printf("%-28s %9.4f  se %.4f  robust se %.4f  t %7.3f  df %.0f  p %.4f\n",
			c.Name, c.Estimate, c.SE, c.RobustSE, c.T, c.DF, c.PValue)
	}
}

func printComparison(moderator string, cmp *meta.Comparison) {
	fmt.Printf("\n=== MODERATOR TEST: %s ===\n", moderator)
	fmt.Printf("Null log-likelihood:      %.4f\n", cmp.Null.LogLik)
	fmt.Printf("Moderator log-likelihood: %.4f\n", cmp.Moderator.LogLik)
	fmt.Printf("LRT = %.4f, df = %d, p = %.4f\n", cmp.LRT, cmp.DF, cmp.PValue)
	for _, c := range cmp.Moderator.Coefficients {
		fmt.Printf("%-28s %9.4f  robust se %.4f  p %.4f\n", c.Name, c.Estimate, c.RobustSE, c.PValue)
	}
}

func renderPlots(result *meta.FittedModel, outDir string) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	style := render.DefaultStyle()

	forest, err := render.ForestPlot(result, style)
	if err != nil {
		return err
	}
	forestPath := filepath.Join(outDir, "forest.png")
	if err := render.SavePNG(forest, style, forestPath); err != nil {
		return err
	}

	funnel, err := render.FunnelPlot(result, style)
	if err != nil {
		return err
	}
	funnelPath := filepath.Join(outDir, "funnel.png")
	if err := render.SavePNG(funnel, style, funnelPath); err != nil {
		return err
	}

	fmt.Printf("\nPlots written: %s, %s\n", forestPath, funnelPath)
	return nil
}
