package dataset

import (
	"github.com/montanaflynn/stats"

	"github.com/YuminosukeSato/metaforest/pkg/errors"
)

// Summary holds descriptive statistics of a loaded dataset, logged after
// loading so an analyst can sanity-check the table before fitting.
type Summary struct {
	Studies   int
	Effects   int
	MeanCor   float64
	MedianCor float64
	MinCor    float64
	MaxCor    float64
	MinN      int
	MaxN      int
}

// Summarize computes descriptive statistics over the observation table.
func (d *Dataset) Summarize() (Summary, error) {
	if len(d.Observations) == 0 {
		return Summary{}, errors.NewDataError("Dataset.Summarize", 0, "", "dataset has no observations", nil)
	}

	cors := make([]float64, len(d.Observations))
	for i, o := range d.Observations {
		cors[i] = o.Cor
	}

	mean, err := stats.Mean(cors)
	if err != nil {
		return Summary{}, errors.Wrap(err, "metaforest: Dataset.Summarize: mean")
	}
	median, err := stats.Median(cors)
	if err != nil {
		return Summary{}, errors.Wrap(err, "metaforest: Dataset.Summarize: median")
	}
	minCor, err := stats.Min(cors)
	if err != nil {
		return Summary{}, errors.Wrap(err, "metaforest: Dataset.Summarize: min")
	}
	maxCor, err := stats.Max(cors)
	if err != nil {
		return Summary{}, errors.Wrap(err, "metaforest: Dataset.Summarize: max")
	}

	s := Summary{
		Studies:   d.NumStudies(),
		Effects:   d.Len(),
		MeanCor:   mean,
		MedianCor: median,
		MinCor:    minCor,
		MaxCor:    maxCor,
	}
	for _, o := range d.Observations {
		if !o.HasN() {
			continue
		}
		if s.MinN == 0 || o.N < s.MinN {
			s.MinN = o.N
		}
		if o.N > s.MaxN {
			s.MaxN = o.N
		}
	}
	return s, nil
}
