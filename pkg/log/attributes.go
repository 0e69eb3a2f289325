// Package log defines standard attribute keys for meta-analysis operations.
//
// Using these standard keys keeps log output consistent across the pipeline
// stages (loading, effect-size transformation, model fitting, rendering) and
// enables structured filtering. The keys follow a hierarchical naming
// convention (e.g., "model.name", "data.studies").

package log

// Model and Operation Context
const (
	// ModelNameKey identifies the statistical model or component.
	// Examples: "MultilevelModel", "FisherZTransformer"
	ModelNameKey = "model.name"

	// OperationKey specifies the pipeline operation being performed.
	// Standard values: "load", "transform", "fit", "compare", "render"
	OperationKey = "meta.operation"

	// ComponentKey identifies which package is performing the operation.
	// Examples: "dataset", "effectsize", "meta", "render"
	ComponentKey = "meta.component"
)

// Data Shape and Characteristics
const (
	// StudiesKey indicates the number of distinct studies (clusters) in the dataset.
	StudiesKey = "data.studies"

	// EffectsKey indicates the total number of effect sizes (observations).
	EffectsKey = "data.effects"

	// VariancePathKey records which variance-estimation branch was used.
	// Values: "sample_size", "p_value"
	VariancePathKey = "data.variance_path"

	// SourceKey records the input file the dataset was loaded from.
	SourceKey = "data.source"
)

// Model Parameters and Results
const (
	// RhoKey records the assumed within-study correlation used for
	// covariance imputation.
	RhoKey = "model.rho"

	// ModeratorKey records the moderator column for a comparison fit.
	ModeratorKey = "model.moderator"

	// PooledEstimateKey records the back-transformed pooled correlation.
	PooledEstimateKey = "model.pooled_r"

	// Tau2Level2Key and Tau2Level3Key record the within- and between-study
	// variance components.
	Tau2Level2Key = "model.tau2_level2"
	Tau2Level3Key = "model.tau2_level3"

	// LogLikKey records the maximized log-likelihood of a fit.
	LogLikKey = "model.loglik"

	// IterationsKey records solver iteration counts.
	IterationsKey = "model.iterations"
)

// Performance Metrics
const (
	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"
)
