// Package dataset defines the tabular input model for correlation meta-analysis:
// one Observation per reported correlation, grouped by study and optionally by
// effect size within a study, plus the loaders that build a Dataset from CSV or
// Excel files.
package dataset

import (
	"math"
	"strconv"

	"github.com/YuminosukeSato/metaforest/pkg/errors"
)

// Observation is one reported correlation from one study, possibly one of
// several effect sizes nested within the same publication.
type Observation struct {
	// StudyID groups observations from the same publication (clustering key).
	StudyID string

	// EffectID distinguishes multiple effect sizes within the same study
	// (nesting key). Defaults to a sequential index when the input has no
	// effect_id column.
	EffectID string

	// Cor is the reported Pearson/Spearman correlation, in (-1, 1).
	Cor float64

	// N is the sample size behind Cor. Zero when the input table carries
	// p-values instead.
	N int

	// PValue is the two-sided significance value in (0, 1]. NaN when the
	// input table carries sample sizes instead.
	PValue float64

	// Grouping/display descriptors. They do not affect model fitting unless
	// one of them is named as a moderator.
	DietElement  string
	OutcomeLabel string
	HealthStatus string
}

// HasN reports whether the observation carries a usable sample size.
func (o Observation) HasN() bool {
	return o.N > 0
}

// HasPValue reports whether the observation carries a usable p-value.
func (o Observation) HasPValue() bool {
	return !math.IsNaN(o.PValue)
}

// Dataset is an ordered collection of observations loaded from one source.
type Dataset struct {
	// Source is the path the dataset was loaded from, or a caller-supplied
	// name for in-memory datasets.
	Source string

	Observations []Observation
}

// New builds an in-memory dataset, filling in sequential effect IDs for
// observations that lack one.
func New(source string, observations []Observation) *Dataset {
	ds := &Dataset{Source: source, Observations: observations}
	fillEffectIDs(ds.Observations)
	return ds
}

// Len returns the number of observations.
func (d *Dataset) Len() int {
	return len(d.Observations)
}

// StudyIDs returns the distinct study identifiers in first-appearance order.
func (d *Dataset) StudyIDs() []string {
	seen := make(map[string]bool, len(d.Observations))
	var ids []string
	for _, o := range d.Observations {
		if !seen[o.StudyID] {
			seen[o.StudyID] = true
			ids = append(ids, o.StudyID)
		}
	}
	return ids
}

// NumStudies returns the number of distinct studies.
func (d *Dataset) NumStudies() int {
	return len(d.StudyIDs())
}

// ClusterSizes returns the number of observations per study, ordered by
// first appearance of the study in the dataset. Observations belonging to the
// same study are assumed contiguous; Load and New guarantee that ordering is
// preserved from the source table.
func (d *Dataset) ClusterSizes() []int {
	counts := make(map[string]int, len(d.Observations))
	for _, o := range d.Observations {
		counts[o.StudyID]++
	}
	ids := d.StudyIDs()
	sizes := make([]int, len(ids))
	for i, id := range ids {
		sizes[i] = counts[id]
	}
	return sizes
}

// ModeratorValues returns the values of the named descriptor column for every
// observation, in dataset order. Valid names are "diet_element",
// "outcome_label" and "health_status".
func (d *Dataset) ModeratorValues(column string) ([]string, error) {
	values := make([]string, len(d.Observations))
	for i, o := range d.Observations {
		switch column {
		case ColDietElement:
			values[i] = o.DietElement
		case ColOutcomeLabel:
			values[i] = o.OutcomeLabel
		case ColHealthStatus:
			values[i] = o.HealthStatus
		default:
			return nil, errors.NewValueError("Dataset.ModeratorValues",
				"unknown moderator column: "+column)
		}
	}
	return values, nil
}

// Validate checks the structural invariants every downstream stage relies on:
// non-empty data, correlations strictly inside (-1, 1), and exactly one
// variance-estimation input (n or p-value) present consistently across rows.
func (d *Dataset) Validate() error {
	const op = "Dataset.Validate"

	if len(d.Observations) == 0 {
		return errors.NewDataError(op, 0, "", "dataset has no observations", nil)
	}

	useN := d.Observations[0].HasN()
	seenStudies := make(map[string]bool)
	prevStudy := ""
	for i, o := range d.Observations {
		row := i + 1
		if math.IsNaN(o.Cor) || o.Cor <= -1 || o.Cor >= 1 {
			return errors.NewDataError(op, row, ColCor, "correlation must be in (-1, 1)", o.Cor)
		}
		if !o.HasN() && !o.HasPValue() {
			return errors.NewDataError(op, row, ColN, "neither sample size nor p-value present", nil)
		}
		if o.HasN() != useN {
			return errors.NewDataError(op, row, ColN,
				"variance-estimation input must be consistent across the dataset", o.N)
		}
		// The covariance matrix downstream is block-diagonal in dataset
		// order, so rows of one study must be contiguous.
		if o.StudyID != prevStudy {
			if seenStudies[o.StudyID] {
				return errors.NewDataError(op, row, ColStudyID,
					"rows of the same study must be contiguous", o.StudyID)
			}
			seenStudies[o.StudyID] = true
			prevStudy = o.StudyID
		}
	}
	return nil
}

func fillEffectIDs(obs []Observation) {
	perStudy := make(map[string]int)
	for i := range obs {
		if obs[i].EffectID == "" {
			perStudy[obs[i].StudyID]++
			obs[i].EffectID = obs[i].StudyID + "." + strconv.Itoa(perStudy[obs[i].StudyID])
		}
	}
}
