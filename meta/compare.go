package meta

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/YuminosukeSato/metaforest/effectsize"
	"github.com/YuminosukeSato/metaforest/pkg/errors"
)

// Comparison is the result of a likelihood-ratio test between the
// intercept-only model and the same model with a categorical moderator added.
type Comparison struct {
	Null      *FittedModel
	Moderator *FittedModel

	// LRT is 2 * (loglik_moderator - loglik_null), floored at zero.
	LRT    float64
	DF     int
	PValue float64
}

// CompareModerator fits the null and moderator specifications on the same
// dataset and covariance assumption, and tests the moderator by likelihood
// ratio. Both fits use maximum likelihood, which keeps the two likelihoods
// comparable.
func CompareModerator(tds *effectsize.TransformedDataset, opts Options) (*Comparison, error) {
	const op = "meta.CompareModerator"

	if opts.Moderator == "" {
		return nil, errors.NewModelError(op, "no moderator named", nil)
	}

	nullOpts := opts
	nullOpts.Moderator = ""
	null, err := fit(tds, nullOpts)
	if err != nil {
		return nil, err
	}

	moderated, err := fit(tds, opts)
	if err != nil {
		return nil, err
	}

	df := len(moderated.Coefficients) - len(null.Coefficients)
	if df < 1 {
		return nil, errors.NewModelError(op, "moderator adds no parameters", nil)
	}

	lrt := 2 * (moderated.LogLik - null.LogLik)
	// ML can land a hair below the null optimum on flat objectives.
	if lrt < 0 {
		lrt = 0
	}

	chi := distuv.ChiSquared{K: float64(df)}
	return &Comparison{
		Null:      null,
		Moderator: moderated,
		LRT:       lrt,
		DF:        df,
		PValue:    math.Min(1, chi.Survival(lrt)),
	}, nil
}
