package meta

import (
	"github.com/montanaflynn/stats"

	"github.com/YuminosukeSato/metaforest/core/model"
	"github.com/YuminosukeSato/metaforest/effectsize"
	"github.com/YuminosukeSato/metaforest/pkg/errors"
)

// tau2Floor treats variance components below this as exactly zero so the
// two-level I2 split is 0/0-safe.
const tau2Floor = 1e-12

// computeHeterogeneity decomposes the total variance into the two random
// levels and the average sampling variance:
//
//	I2_level3 = tau2_3 / (tau2_3 + tau2_2)            (between-study share)
//	I2_level2 = tau2_2 / (tau2_3 + tau2_2)            (within-study share)
//	I2_total  = (tau2_3 + tau2_2) / (tau2_3 + tau2_2 + mean(var_z))
//
// all reported as percentages. When both components are (numerically) zero,
// the two component shares are defined as 0 rather than 0/0.
func computeHeterogeneity(tds *effectsize.TransformedDataset, comps model.VarianceComponents) (Heterogeneity, error) {
	vars := make([]float64, tds.Len())
	for i, e := range tds.Effects {
		vars[i] = e.VarZ
	}
	meanVar, err := stats.Mean(vars)
	if err != nil {
		return Heterogeneity{}, errors.Wrap(err, "metaforest: meta.computeHeterogeneity: mean sampling variance")
	}

	tau3 := comps.Tau2Between
	tau2 := comps.Tau2Within
	het := Heterogeneity{
		Tau2Level3: tau3,
		Tau2Level2: tau2,
		MeanVarZ:   meanVar,
	}

	total := tau3 + tau2
	if total >= tau2Floor {
		het.I2Level3 = tau3 / total * 100
		het.I2Level2 = tau2 / total * 100
	}
	het.I2Total = errors.SafeDivide(total, total+meanVar) * 100
	return het, nil
}
