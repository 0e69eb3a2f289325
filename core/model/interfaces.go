// Package model provides the shared estimator plumbing for meta-analysis models.
package model

import (
	"gonum.org/v1/gonum/mat"
)

// VarianceComponents holds the converged random-effects variance estimates of a
// multilevel fit: tau2 at the between-cluster level and at the within-cluster
// (effect-size) level.
type VarianceComponents struct {
	Tau2Between float64
	Tau2Within  float64
}

// SolverResult is the output of a MixedModelSolver run.
type SolverResult struct {
	// Coefficients are the fixed-effect estimates from generalized least
	// squares at the converged variance components.
	Coefficients *mat.VecDense

	// CoefCovariance is the model-based covariance of the coefficients,
	// (X' Sigma^-1 X)^-1.
	CoefCovariance *mat.SymDense

	// Components are the converged variance-component estimates.
	Components VarianceComponents

	// LogLik is the maximized log-likelihood.
	LogLik float64

	// Iterations is the number of optimizer iterations used.
	Iterations int
}

// MixedModelSolver estimates a linear mixed model with known sampling
// covariance and two nested random intercepts. Implementations receive the
// design matrix X, the response y, the imputed sampling covariance V, and the
// cluster sizes (observations per study, in dataset order), and return
// converged variance components plus GLS fixed effects, or a ConvergenceError
// carrying the last iterate.
//
// The solver is a capability-typed collaborator: the aggregator does not care
// whether the optimizer underneath is Nelder-Mead, EM, or anything else.
type MixedModelSolver interface {
	Solve(x mat.Matrix, y *mat.VecDense, v *mat.SymDense, clusterSizes []int) (*SolverResult, error)
}
