// Package effectsize converts raw per-study correlations into variance-
// stabilized effect sizes. Each observation's correlation is mapped to
// Fisher's Z with an estimated sampling variance, using either the reported
// sample size or, when only a p-value is available, the inverse normal CDF.
package effectsize

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/YuminosukeSato/metaforest/dataset"
	"github.com/YuminosukeSato/metaforest/pkg/errors"
	"github.com/YuminosukeSato/metaforest/pkg/log"
)

// VariancePath identifies which variance-estimation branch produced a
// transformed dataset. Exactly one path is used per dataset.
type VariancePath string

const (
	// PathSampleSize derives the sampling variance from n: var(z) = 1/(n-3).
	PathSampleSize VariancePath = "sample_size"

	// PathPValue derives the standard error from the reported two-sided
	// p-value via the inverse normal CDF.
	PathPValue VariancePath = "p_value"
)

// critical value of the standard normal for a two-sided 95% interval
const z95 = 1.96

// Effect is an observation augmented with its effect-size statistics.
type Effect struct {
	dataset.Observation

	// Z is Fisher's Z-transform of the correlation, atanh(cor).
	Z float64

	// VarZ is the sampling variance of Z.
	VarZ float64

	// SEZ is sqrt(VarZ).
	SEZ float64

	// SECor is the standard error on the correlation scale.
	SECor float64

	// Lower and Upper bound the 95% confidence interval on the
	// correlation scale, for display in forest plots.
	Lower float64
	Upper float64
}

// TransformedDataset is the output of a Transform run: the original
// observations with statistical columns added, plus a record of which
// variance-estimation path applied.
type TransformedDataset struct {
	Source       string
	VariancePath VariancePath
	Effects      []Effect
}

// Len returns the number of effects.
func (t *TransformedDataset) Len() int {
	return len(t.Effects)
}

// ClusterSizes returns observations per study in first-appearance order.
func (t *TransformedDataset) ClusterSizes() []int {
	counts := make(map[string]int, len(t.Effects))
	var order []string
	for _, e := range t.Effects {
		if counts[e.StudyID] == 0 {
			order = append(order, e.StudyID)
		}
		counts[e.StudyID]++
	}
	sizes := make([]int, len(order))
	for i, id := range order {
		sizes[i] = counts[id]
	}
	return sizes
}

// StudyIDs returns the distinct study identifiers in first-appearance order.
func (t *TransformedDataset) StudyIDs() []string {
	seen := make(map[string]bool, len(t.Effects))
	var ids []string
	for _, e := range t.Effects {
		if !seen[e.StudyID] {
			seen[e.StudyID] = true
			ids = append(ids, e.StudyID)
		}
	}
	return ids
}

// Transformer converts a validated dataset into effect-size statistics.
// It is stateless apart from its logger; Transform is pure and deterministic.
type Transformer struct {
	logger log.Logger
}

// NewTransformer creates a Transformer logging to the default logger.
func NewTransformer() *Transformer {
	return &Transformer{logger: log.GetLoggerWithName("effectsize")}
}

// NewTransformerWithLogger creates a Transformer with an explicit logger,
// mainly for tests.
func NewTransformerWithLogger(logger log.Logger) *Transformer {
	return &Transformer{logger: logger}
}

// Transform computes Fisher's Z and its sampling variance for every
// observation. The variance-estimation branch is chosen once for the whole
// dataset from the columns present; rows that cannot support the chosen
// branch (n <= 3, degenerate p-values) produce a DataError identifying the
// row, never silent NaN propagation.
func (t *Transformer) Transform(ds *dataset.Dataset) (*TransformedDataset, error) {
	const op = "Transformer.Transform"

	if err := ds.Validate(); err != nil {
		return nil, err
	}

	path := PathPValue
	if ds.Observations[0].HasN() {
		path = PathSampleSize
	}

	out := &TransformedDataset{
		Source:       ds.Source,
		VariancePath: path,
		Effects:      make([]Effect, len(ds.Observations)),
	}

	for i, o := range ds.Observations {
		row := i + 1
		var e Effect
		var err error
		switch path {
		case PathSampleSize:
			e, err = fromSampleSize(op, row, o)
		case PathPValue:
			e, err = fromPValue(op, row, o)
		}
		if err != nil {
			return nil, err
		}
		out.Effects[i] = e
	}

	// Every statistical column must be finite before anything downstream
	// consumes it.
	zs := make([]float64, len(out.Effects))
	vars := make([]float64, len(out.Effects))
	for i, e := range out.Effects {
		zs[i] = e.Z
		vars[i] = e.VarZ
	}
	if err := errors.CheckNumericalStability("fisher_z", zs, 0); err != nil {
		return nil, err
	}
	if err := errors.CheckNumericalStability("variance_z", vars, 0); err != nil {
		return nil, err
	}

	t.logger.Info("effect sizes transformed",
		log.OperationKey, "transform",
		log.EffectsKey, out.Len(),
		log.VariancePathKey, string(path),
	)
	return out, nil
}

// fromSampleSize computes z, var(z) = 1/(n-3) and a correlation-scale CI by
// back-transforming the z-scale bounds.
func fromSampleSize(op string, row int, o dataset.Observation) (Effect, error) {
	if o.N <= 3 {
		return Effect{}, errors.NewDataError(op, row, dataset.ColN,
			"sample size must exceed 3 for variance estimation", o.N)
	}

	z := math.Atanh(o.Cor)
	varZ := 1.0 / float64(o.N-3)
	seZ := math.Sqrt(varZ)

	return Effect{
		Observation: o,
		Z:           z,
		VarZ:        varZ,
		SEZ:         seZ,
		// Delta method: d tanh(z)/dz = 1 - r^2.
		SECor: (1 - o.Cor*o.Cor) * seZ,
		Lower: math.Tanh(z - z95*seZ),
		Upper: math.Tanh(z + z95*seZ),
	}, nil
}

// fromPValue recovers the standard error on the correlation scale from the
// two-sided p-value, se = |cor| / |Phi^-1(p/2)|, then carries it onto the
// z scale with the delta method.
func fromPValue(op string, row int, o dataset.Observation) (Effect, error) {
	p := o.PValue
	if p <= 0 || p > 1 {
		return Effect{}, errors.NewDataError(op, row, dataset.ColPValue,
			"p-value must be in (0, 1)", p)
	}

	zScore := math.Abs(distuv.UnitNormal.Quantile(p / 2))
	// p -> 1 drives the z-score to 0 and the standard error to infinity.
	if zScore < 1e-8 {
		return Effect{}, errors.NewDataError(op, row, dataset.ColPValue,
			"degenerate p-value: z-score is zero", p)
	}
	if o.Cor == 0 {
		return Effect{}, errors.NewDataError(op, row, dataset.ColCor,
			"p-value-based variance requires a nonzero correlation", o.Cor)
	}

	seCor := math.Abs(o.Cor) / zScore
	z := math.Atanh(o.Cor)
	// Delta method in the other direction: d atanh(r)/dr = 1/(1 - r^2).
	seZ := seCor / (1 - o.Cor*o.Cor)

	return Effect{
		Observation: o,
		Z:           z,
		VarZ:        seZ * seZ,
		SEZ:         seZ,
		SECor:       seCor,
		Lower:       o.Cor - z95*seCor,
		Upper:       o.Cor + z95*seCor,
	}, nil
}
