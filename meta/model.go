package meta

import (
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/YuminosukeSato/metaforest/core/model"
	"github.com/YuminosukeSato/metaforest/dataset"
	"github.com/YuminosukeSato/metaforest/effectsize"
	"github.com/YuminosukeSato/metaforest/pkg/errors"
	"github.com/YuminosukeSato/metaforest/pkg/log"
)

// Options configures one aggregation run.
type Options struct {
	// Rho is the assumed correlation between effect sizes of the same study,
	// used for covariance imputation. Required; must be in [0, 1). It is a
	// modeling assumption, not estimated from data, so it is deliberately a
	// required parameter rather than a default.
	Rho float64

	// Moderator optionally names a categorical descriptor column
	// ("diet_element", "outcome_label", "health_status") to add to the fixed
	// effects. Empty fits the intercept-only model.
	Moderator string

	// Solver overrides the variance-component optimizer. Nil uses
	// NelderMeadSolver with the default iteration budget.
	Solver model.MixedModelSolver
}

// Coefficient is one fixed-effect estimate with model-based and
// cluster-robust inference.
type Coefficient struct {
	Name     string
	Estimate float64
	SE       float64 // model-based
	RobustSE float64 // CR2 cluster-robust
	T        float64 // Estimate / RobustSE
	DF       float64
	PValue   float64
	Lower    float64 // robust CI on the Z scale
	Upper    float64
}

// Heterogeneity holds the variance decomposition of a fit.
type Heterogeneity struct {
	Tau2Level3 float64 // between-study
	Tau2Level2 float64 // within-study
	I2Level3   float64 // percentages in [0, 100]
	I2Level2   float64
	I2Total    float64
	MeanVarZ   float64
}

// FittedModel is the immutable result of one aggregation run. It is created
// once per model specification and never mutated; nested specifications are
// compared by likelihood-ratio test.
type FittedModel struct {
	Coefficients []Coefficient
	Het          Heterogeneity

	// Pooled effect on the correlation scale, back-transformed from the
	// intercept with its robust CI.
	PooledR      float64
	PooledRLower float64
	PooledRUpper float64

	LogLik     float64
	Iterations int
	NObs       int
	NStudies   int
	Rho        float64

	// Moderator is empty for the intercept-only model; Levels records the
	// observed moderator levels in first-appearance order (first is the
	// reference level).
	Moderator string
	Levels    []string

	// Effects are the transformed observations the model was fitted to,
	// carried along for forest and funnel rendering.
	Effects []effectsize.Effect
}

// MultilevelModel is the estimator wrapper around one model specification.
// Each Fit is a one-shot stateless computation over the whole dataset.
type MultilevelModel struct {
	model.BaseEstimator

	opts   Options
	logger log.Logger
	result *FittedModel
}

// NewMultilevelModel creates an estimator for the given options.
func NewMultilevelModel(opts Options) *MultilevelModel {
	return &MultilevelModel{
		opts:   opts,
		logger: log.GetLoggerWithName("meta"),
	}
}

// NewMultilevelModelWithLogger creates an estimator with an explicit logger,
// mainly for tests.
func NewMultilevelModelWithLogger(opts Options, logger log.Logger) *MultilevelModel {
	return &MultilevelModel{opts: opts, logger: logger}
}

// Fit runs covariance imputation, maximum-likelihood estimation of the
// variance components, CR2 robust inference and heterogeneity computation.
func (m *MultilevelModel) Fit(tds *effectsize.TransformedDataset) error {
	start := time.Now()

	fitted, err := fit(tds, m.opts)
	if err != nil {
		return err
	}
	m.result = fitted
	m.SetFitted()

	m.logger.Info("model fitted",
		log.OperationKey, "fit",
		log.StudiesKey, fitted.NStudies,
		log.EffectsKey, fitted.NObs,
		log.RhoKey, m.opts.Rho,
		log.PooledEstimateKey, fitted.PooledR,
		log.Tau2Level3Key, fitted.Het.Tau2Level3,
		log.Tau2Level2Key, fitted.Het.Tau2Level2,
		log.LogLikKey, fitted.LogLik,
		log.IterationsKey, fitted.Iterations,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

// Result returns the fitted model.
func (m *MultilevelModel) Result() (*FittedModel, error) {
	if !m.IsFitted() {
		return nil, errors.NewNotFittedError("MultilevelModel", "Result")
	}
	return m.result, nil
}

// fit is the stateless core shared by Fit and CompareModerator.
func fit(tds *effectsize.TransformedDataset, opts Options) (*FittedModel, error) {
	const op = "MultilevelModel.Fit"

	if tds == nil || tds.Len() == 0 {
		return nil, errors.NewModelError(op, "empty dataset", errors.ErrEmptyData)
	}

	v, err := BuildCovariance(tds, opts.Rho)
	if err != nil {
		return nil, err
	}

	x, names, levels, err := designMatrix(tds, opts.Moderator)
	if err != nil {
		return nil, err
	}
	n := tds.Len()
	y := mat.NewVecDense(n, nil)
	for i, e := range tds.Effects {
		y.SetVec(i, e.Z)
	}

	solver := opts.Solver
	if solver == nil {
		solver = &NelderMeadSolver{}
	}
	clusterSizes := tds.ClusterSizes()
	solved, err := solver.Solve(x, y, v, clusterSizes)
	if err != nil {
		return nil, err
	}

	robustCov, df, err := cr2Covariance(x, y, v, clusterSizes, solved)
	if err != nil {
		return nil, err
	}

	het, err := computeHeterogeneity(tds, solved.Components)
	if err != nil {
		return nil, err
	}

	_, p := x.Dims()
	tDist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	tCrit := tDist.Quantile(0.975)

	coefs := make([]Coefficient, p)
	for j := 0; j < p; j++ {
		est := solved.Coefficients.AtVec(j)
		robustSE := math.Sqrt(robustCov.At(j, j))
		tStat := est / robustSE
		coefs[j] = Coefficient{
			Name:     names[j],
			Estimate: est,
			SE:       math.Sqrt(solved.CoefCovariance.At(j, j)),
			RobustSE: robustSE,
			T:        tStat,
			DF:       df,
			PValue:   2 * tDist.Survival(math.Abs(tStat)),
			Lower:    est - tCrit*robustSE,
			Upper:    est + tCrit*robustSE,
		}
	}

	intercept := coefs[0]
	fitted := &FittedModel{
		Coefficients: coefs,
		Het:          het,
		PooledR:      math.Tanh(intercept.Estimate),
		PooledRLower: math.Tanh(intercept.Lower),
		PooledRUpper: math.Tanh(intercept.Upper),
		LogLik:       solved.LogLik,
		Iterations:   solved.Iterations,
		NObs:         n,
		NStudies:     len(clusterSizes),
		Rho:          opts.Rho,
		Moderator:    opts.Moderator,
		Levels:       levels,
		Effects:      append([]effectsize.Effect(nil), tds.Effects...),
	}
	return fitted, nil
}

// designMatrix builds the fixed-effects design: an intercept column, plus
// dummy columns for all but the first observed level when a moderator is
// named. A moderator observed at fewer than 2 levels cannot be estimated and
// is rejected.
func designMatrix(tds *effectsize.TransformedDataset, moderator string) (*mat.Dense, []string, []string, error) {
	const op = "MultilevelModel.Fit"

	n := tds.Len()
	if moderator == "" {
		x := mat.NewDense(n, 1, nil)
		for i := 0; i < n; i++ {
			x.Set(i, 0, 1)
		}
		return x, []string{"intercept"}, nil, nil
	}

	values, err := moderatorValues(tds, moderator)
	if err != nil {
		return nil, nil, nil, err
	}

	var levels []string
	index := make(map[string]int)
	for _, v := range values {
		if _, ok := index[v]; !ok {
			index[v] = len(levels)
			levels = append(levels, v)
		}
	}
	if len(levels) < 2 {
		return nil, nil, nil, errors.NewModelError(op,
			"moderator '"+moderator+"' has fewer than 2 observed levels", nil)
	}

	p := len(levels) // intercept + (levels-1) dummies
	x := mat.NewDense(n, p, nil)
	names := make([]string, p)
	names[0] = "intercept"
	for j, level := range levels[1:] {
		names[j+1] = moderator + "=" + level
	}
	for i, v := range values {
		x.Set(i, 0, 1)
		if idx := index[v]; idx > 0 {
			x.Set(i, idx, 1)
		}
	}
	return x, names, levels, nil
}

func moderatorValues(tds *effectsize.TransformedDataset, column string) ([]string, error) {
	values := make([]string, len(tds.Effects))
	for i, e := range tds.Effects {
		switch column {
		case dataset.ColDietElement:
			values[i] = e.DietElement
		case dataset.ColOutcomeLabel:
			values[i] = e.OutcomeLabel
		case dataset.ColHealthStatus:
			values[i] = e.HealthStatus
		default:
			return nil, errors.NewModelError("MultilevelModel.Fit",
				"unknown moderator column: "+column, nil)
		}
	}
	return values, nil
}
