// Package meta fits the correlated-and-hierarchical-effects meta-analytic
// model: a three-level random-effects model over Fisher-Z effect sizes with an
// imputed within-study covariance structure, cluster-robust (CR2) standard
// errors, and per-level heterogeneity statistics.
package meta

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/metaforest/effectsize"
	"github.com/YuminosukeSato/metaforest/pkg/errors"
)

// ValidateRho checks the assumed within-study correlation. The covariance
// blocks are positive semi-definite for any rho in [0, 1); anything else is
// rejected at the interface.
func ValidateRho(op string, rho float64) error {
	if math.IsNaN(rho) || rho < 0 || rho >= 1 {
		return errors.NewModelError(op, "rho must be in [0, 1)",
			errors.Newf("got %v", rho))
	}
	return nil
}

// BuildCovariance imputes the sampling covariance matrix of the effect sizes:
// block-structured by study, with each observation's sampling variance on the
// diagonal and rho*se_i*se_j between effect sizes of the same study. Entries
// across studies are zero, so the matrix is block-diagonal in dataset order.
//
// Every study block is verified positive semi-definite; with a valid rho this
// can only fail on degenerate inputs, and is reported as a ModelError.
func BuildCovariance(tds *effectsize.TransformedDataset, rho float64) (*mat.SymDense, error) {
	const op = "meta.BuildCovariance"

	if err := ValidateRho(op, rho); err != nil {
		return nil, err
	}
	n := tds.Len()
	if n == 0 {
		return nil, errors.NewModelError(op, "empty dataset", errors.ErrEmptyData)
	}

	v := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		v.SetSym(i, i, tds.Effects[i].VarZ)
		for j := i + 1; j < n; j++ {
			if tds.Effects[i].StudyID != tds.Effects[j].StudyID {
				continue
			}
			v.SetSym(i, j, rho*tds.Effects[i].SEZ*tds.Effects[j].SEZ)
		}
	}

	if err := checkBlocksPSD(op, v, tds.ClusterSizes()); err != nil {
		return nil, err
	}
	return v, nil
}

// checkBlocksPSD factorizes each study block. Cholesky succeeds exactly for
// positive definite blocks; a single observation per study reduces to the
// positivity of its variance.
func checkBlocksPSD(op string, v *mat.SymDense, clusterSizes []int) error {
	offset := 0
	for _, size := range clusterSizes {
		block := v.SliceSym(offset, offset+size)
		var chol mat.Cholesky
		if ok := chol.Factorize(block); !ok {
			return errors.NewModelError(op, "study covariance block is not positive definite",
				errors.ErrNotPositiveDefinite)
		}
		offset += size
	}
	return nil
}
