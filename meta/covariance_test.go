package meta

import (
	"math"
	"testing"

	"github.com/YuminosukeSato/metaforest/core/model"
	"github.com/YuminosukeSato/metaforest/dataset"
	"github.com/YuminosukeSato/metaforest/effectsize"
	"github.com/YuminosukeSato/metaforest/pkg/errors"
	"github.com/YuminosukeSato/metaforest/pkg/log"
)

func transformed(t *testing.T, obs []dataset.Observation) *effectsize.TransformedDataset {
	t.Helper()
	logger, _ := log.NewTestLogger(log.LevelError)
	tds, err := effectsize.NewTransformerWithLogger(logger).Transform(dataset.New("mem", obs))
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	return tds
}

func nestedObservations() []dataset.Observation {
	return []dataset.Observation{
		{StudyID: "a", Cor: 0.40, N: 60},
		{StudyID: "a", Cor: 0.45, N: 60},
		{StudyID: "b", Cor: 0.30, N: 50},
		{StudyID: "c", Cor: 0.50, N: 80},
	}
}

func TestBuildCovarianceStructure(t *testing.T) {
	tds := transformed(t, nestedObservations())

	for _, rho := range []float64{0, 0.3, 0.6, 0.9, 0.999} {
		v, err := BuildCovariance(tds, rho)
		if err != nil {
			t.Fatalf("BuildCovariance(rho=%v) error = %v", rho, err)
		}

		n := v.SymmetricDim()
		if n != tds.Len() {
			t.Fatalf("dimension = %d, want %d", n, tds.Len())
		}

		for i := 0; i < n; i++ {
			// Diagonal carries each observation's sampling variance.
			if math.Abs(v.At(i, i)-tds.Effects[i].VarZ) > 1e-15 {
				t.Errorf("rho=%v: diag[%d] = %v, want %v", rho, i, v.At(i, i), tds.Effects[i].VarZ)
			}
			for j := 0; j < n; j++ {
				// Symmetry.
				if v.At(i, j) != v.At(j, i) {
					t.Errorf("rho=%v: asymmetry at (%d,%d)", rho, i, j)
				}
				if i == j {
					continue
				}
				if tds.Effects[i].StudyID == tds.Effects[j].StudyID {
					want := rho * tds.Effects[i].SEZ * tds.Effects[j].SEZ
					if math.Abs(v.At(i, j)-want) > 1e-15 {
						t.Errorf("rho=%v: within-study (%d,%d) = %v, want %v", rho, i, j, v.At(i, j), want)
					}
				} else if v.At(i, j) != 0 {
					t.Errorf("rho=%v: cross-study (%d,%d) = %v, want 0", rho, i, j, v.At(i, j))
				}
			}
		}
	}
}

func TestBuildCovarianceRejectsInvalidRho(t *testing.T) {
	tds := transformed(t, nestedObservations())

	for _, rho := range []float64{-0.1, 1.0, 1.5, math.NaN()} {
		_, err := BuildCovariance(tds, rho)
		if err == nil {
			t.Errorf("BuildCovariance(rho=%v): expected ModelError, got nil", rho)
			continue
		}
		var modelErr *errors.ModelError
		if !errors.As(err, &modelErr) {
			t.Errorf("BuildCovariance(rho=%v): error %v is not a ModelError", rho, err)
		}
	}
}

func TestMarginalCovarianceAddsComponents(t *testing.T) {
	tds := transformed(t, nestedObservations())
	v, err := BuildCovariance(tds, 0.6)
	if err != nil {
		t.Fatalf("BuildCovariance() error = %v", err)
	}

	sigma := marginalCovariance(v, tds.ClusterSizes(), 0.04, 0.01)

	// Same-study entries gain tau3^2; the diagonal additionally gains tau2^2.
	if got, want := sigma.At(0, 1)-v.At(0, 1), 0.04; math.Abs(got-want) > 1e-15 {
		t.Errorf("within-study off-diagonal shift = %v, want %v", got, want)
	}
	if got, want := sigma.At(0, 0)-v.At(0, 0), 0.05; math.Abs(got-want) > 1e-15 {
		t.Errorf("diagonal shift = %v, want %v", got, want)
	}
	// Cross-study entries stay zero.
	if sigma.At(1, 2) != 0 {
		t.Errorf("cross-study entry = %v, want 0", sigma.At(1, 2))
	}
}

func TestHeterogeneityTwoTermIdentity(t *testing.T) {
	tds := transformed(t, nestedObservations())

	tests := []struct {
		name string
		tau3 float64
		tau2 float64
	}{
		{name: "balanced", tau3: 0.04, tau2: 0.04},
		{name: "between dominates", tau3: 0.09, tau2: 0.001},
		{name: "within dominates", tau3: 0.002, tau2: 0.07},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			het, err := computeHeterogeneity(tds, model.VarianceComponents{
				Tau2Between: tt.tau3,
				Tau2Within:  tt.tau2,
			})
			if err != nil {
				t.Fatalf("computeHeterogeneity() error = %v", err)
			}

			if sum := het.I2Level3 + het.I2Level2; math.Abs(sum-100) > 1e-9 {
				t.Errorf("I2Level3 + I2Level2 = %v, want 100", sum)
			}
			if het.I2Total <= 0 || het.I2Total >= 100 {
				t.Errorf("I2Total = %v, want in (0, 100)", het.I2Total)
			}
			wantTotal := (tt.tau3 + tt.tau2) / (tt.tau3 + tt.tau2 + het.MeanVarZ) * 100
			if math.Abs(het.I2Total-wantTotal) > 1e-9 {
				t.Errorf("I2Total = %v, want %v", het.I2Total, wantTotal)
			}
		})
	}
}

func TestHeterogeneityZeroComponents(t *testing.T) {
	tds := transformed(t, nestedObservations())

	het, err := computeHeterogeneity(tds, model.VarianceComponents{})
	if err != nil {
		t.Fatalf("computeHeterogeneity() error = %v", err)
	}

	if het.I2Level3 != 0 || het.I2Level2 != 0 {
		t.Errorf("component I2 = (%v, %v), want (0, 0) when both tau2 are zero",
			het.I2Level3, het.I2Level2)
	}
	if het.I2Total != 0 {
		t.Errorf("I2Total = %v, want 0", het.I2Total)
	}
}
