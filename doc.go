// Package metaforest pools correlation coefficients across studies with a
// three-level random-effects meta-analysis, built for datasets where one
// study contributes several dependent effect sizes.
//
// The pipeline: load a tabular dataset, transform correlations to Fisher z,
// impute the within-study sampling covariance under an assumed correlation
// rho, estimate between-study and within-study variance components by
// maximum likelihood, and report the pooled effect with CR2 cluster-robust
// standard errors. Moderators are tested by likelihood ratio between nested
// fits. Forest and funnel plots round out the report.
//
// # Quick Start
//
//	package main
//
//	import (
//	    "fmt"
//
//	    "github.com/YuminosukeSato/metaforest/dataset"
//	    "github.com/YuminosukeSato/metaforest/effectsize"
//	    "github.com/YuminosukeSato/metaforest/meta"
//	)
//
//	func main() {
//	    ds, _ := dataset.Load("effects.csv")
//	    tds, _ := effectsize.NewTransformer().Transform(ds)
//
//	    model := meta.NewMultilevelModel(meta.Options{Rho: 0.6})
//	    if err := model.Fit(tds); err != nil {
//	        panic(err)
//	    }
//	    result, _ := model.Result()
//	    fmt.Printf("pooled r = %.3f [%.3f, %.3f]\n",
//	        result.PooledR, result.PooledRLower, result.PooledRUpper)
//	}
//
// # Packages
//
//   - dataset: CSV/XLSX loading, validation and descriptive summaries
//   - effectsize: Fisher z transformation from sample sizes or p-values
//   - meta: covariance imputation, model fitting, robust inference, comparison
//   - render: forest and funnel plots
//   - pkg/errors, pkg/log: structured errors and logging used throughout
package metaforest
