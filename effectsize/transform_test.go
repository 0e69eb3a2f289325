package effectsize

import (
	"math"
	"testing"

	"github.com/YuminosukeSato/metaforest/dataset"
	"github.com/YuminosukeSato/metaforest/pkg/errors"
	"github.com/YuminosukeSato/metaforest/pkg/log"
)

func newTestTransformer() *Transformer {
	logger, _ := log.NewTestLogger(log.LevelError)
	return NewTransformerWithLogger(logger)
}

func TestTransformSampleSizePath(t *testing.T) {
	tests := []struct {
		name      string
		cor       float64
		n         int
		wantZ     float64
		wantVarZ  float64
		tolerance float64
	}{
		{
			name:      "moderate positive correlation",
			cor:       0.5,
			n:         103,
			wantZ:     math.Atanh(0.5),
			wantVarZ:  0.01, // 1/(103-3)
			tolerance: 1e-12,
		},
		{
			name:      "negative correlation",
			cor:       -0.3,
			n:         28,
			wantZ:     math.Atanh(-0.3),
			wantVarZ:  0.04, // 1/(28-3)
			tolerance: 1e-12,
		},
		{
			name:      "near-zero correlation",
			cor:       0.01,
			n:         53,
			wantZ:     math.Atanh(0.01),
			wantVarZ:  0.02, // 1/(53-3)
			tolerance: 1e-12,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := dataset.New("mem", []dataset.Observation{
				{StudyID: "s1", Cor: tt.cor, N: tt.n},
			})

			out, err := newTestTransformer().Transform(ds)
			if err != nil {
				t.Fatalf("Transform() error = %v", err)
			}
			if out.VariancePath != PathSampleSize {
				t.Errorf("VariancePath = %v, want %v", out.VariancePath, PathSampleSize)
			}

			e := out.Effects[0]
			if math.Abs(e.Z-tt.wantZ) > tt.tolerance {
				t.Errorf("Z = %v, want %v", e.Z, tt.wantZ)
			}
			if math.Abs(e.VarZ-tt.wantVarZ) > tt.tolerance {
				t.Errorf("VarZ = %v, want %v", e.VarZ, tt.wantVarZ)
			}
			// Back-transformation round trip.
			if math.Abs(math.Tanh(e.Z)-tt.cor) > 1e-12 {
				t.Errorf("tanh(atanh(cor)) = %v, want %v", math.Tanh(e.Z), tt.cor)
			}
			// CI brackets the point estimate.
			if !(e.Lower < tt.cor && tt.cor < e.Upper) {
				t.Errorf("CI [%v, %v] does not bracket cor %v", e.Lower, e.Upper, tt.cor)
			}
		})
	}
}

func TestTransformRejectsSmallN(t *testing.T) {
	for _, n := range []int{1, 2, 3} {
		ds := dataset.New("mem", []dataset.Observation{
			{StudyID: "s1", Cor: 0.4, N: n},
		})
		_, err := newTestTransformer().Transform(ds)
		if err == nil {
			t.Fatalf("Transform() with n=%d: expected DataError, got nil", n)
		}
		var dataErr *errors.DataError
		if !errors.As(err, &dataErr) {
			t.Errorf("Transform() with n=%d: error %v is not a DataError", n, err)
		}
	}
}

func TestTransformPValuePath(t *testing.T) {
	ds := dataset.New("mem", []dataset.Observation{
		{StudyID: "s1", Cor: 0.4, N: 0, PValue: 0.01},
		{StudyID: "s2", Cor: -0.25, N: 0, PValue: 0.04},
	})

	out, err := newTestTransformer().Transform(ds)
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	if out.VariancePath != PathPValue {
		t.Errorf("VariancePath = %v, want %v", out.VariancePath, PathPValue)
	}

	for i, e := range out.Effects {
		if !(e.SECor > 0) || math.IsInf(e.SECor, 0) {
			t.Errorf("effect %d: SECor = %v, want strictly positive and finite", i, e.SECor)
		}
		if !(e.VarZ > 0) || math.IsInf(e.VarZ, 0) {
			t.Errorf("effect %d: VarZ = %v, want strictly positive and finite", i, e.VarZ)
		}
		wantWidth := 2 * z95 * e.SECor
		if math.Abs((e.Upper-e.Lower)-wantWidth) > 1e-12 {
			t.Errorf("effect %d: CI width = %v, want %v", i, e.Upper-e.Lower, wantWidth)
		}
	}
}

func TestTransformPValueShrinksSE(t *testing.T) {
	// Smaller p at the same correlation means a larger z-score, so the
	// recovered standard error must shrink.
	se := func(p float64) float64 {
		ds := dataset.New("mem", []dataset.Observation{
			{StudyID: "s1", Cor: 0.4, PValue: p},
		})
		out, err := newTestTransformer().Transform(ds)
		if err != nil {
			t.Fatalf("Transform(p=%v) error = %v", p, err)
		}
		return out.Effects[0].SECor
	}

	prev := math.Inf(1)
	for _, p := range []float64{0.5, 0.1, 0.01, 0.001, 1e-8} {
		got := se(p)
		if got >= prev {
			t.Errorf("se(p=%v) = %v, want < se at larger p (%v)", p, got, prev)
		}
		prev = got
	}
}

func TestTransformRejectsDegeneratePValues(t *testing.T) {
	tests := []struct {
		name string
		p    float64
	}{
		{name: "exactly one", p: 1.0},
		{name: "nearly one", p: 1 - 1e-16},
		{name: "zero", p: 0},
		{name: "negative", p: -0.1},
		{name: "above one", p: 1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := dataset.New("mem", []dataset.Observation{
				{StudyID: "s1", Cor: 0.4, PValue: tt.p},
			})
			_, err := newTestTransformer().Transform(ds)
			if err == nil {
				t.Fatal("expected DataError, got nil")
			}
			var dataErr *errors.DataError
			if !errors.As(err, &dataErr) {
				t.Errorf("error %v is not a DataError", err)
			}
		})
	}
}

func TestTransformPreservesDescriptors(t *testing.T) {
	ds := dataset.New("mem", []dataset.Observation{
		{
			StudyID: "s1", Cor: 0.3, N: 40,
			DietElement: "fiber", OutcomeLabel: "alpha_diversity", HealthStatus: "healthy",
		},
	})

	out, err := newTestTransformer().Transform(ds)
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}

	e := out.Effects[0]
	if e.DietElement != "fiber" || e.OutcomeLabel != "alpha_diversity" || e.HealthStatus != "healthy" {
		t.Errorf("descriptor columns were not preserved: %+v", e.Observation)
	}
}

func TestTransformDeterministic(t *testing.T) {
	ds := dataset.New("mem", []dataset.Observation{
		{StudyID: "s1", Cor: 0.3, N: 50},
		{StudyID: "s2", Cor: 0.5, N: 80},
	})

	tr := newTestTransformer()
	first, err := tr.Transform(ds)
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	second, err := tr.Transform(ds)
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}

	for i := range first.Effects {
		if first.Effects[i] != second.Effects[i] {
			t.Errorf("effect %d differs between runs", i)
		}
	}
}
