package render

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/metaforest/dataset"
	"github.com/YuminosukeSato/metaforest/effectsize"
	"github.com/YuminosukeSato/metaforest/meta"
	"github.com/YuminosukeSato/metaforest/pkg/errors"
	"github.com/YuminosukeSato/metaforest/pkg/log"
)

func fittedResult(t *testing.T) *meta.FittedModel {
	t.Helper()
	obs := []dataset.Observation{
		{StudyID: "a", Cor: 0.40, N: 60},
		{StudyID: "a", Cor: 0.45, N: 60},
		{StudyID: "b", Cor: 0.30, N: 50},
		{StudyID: "c", Cor: 0.50, N: 80},
	}
	logger, _ := log.NewTestLogger(log.LevelError)
	tds, err := effectsize.NewTransformerWithLogger(logger).Transform(dataset.New("mem", obs))
	require.NoError(t, err)

	m := meta.NewMultilevelModelWithLogger(meta.Options{Rho: 0.6}, logger)
	require.NoError(t, m.Fit(tds))
	result, err := m.Result()
	require.NoError(t, err)
	return result
}

func TestForestPlotSavePNG(t *testing.T) {
	result := fittedResult(t)

	p, err := ForestPlot(result, DefaultStyle())
	require.NoError(t, err)
	require.NotNil(t, p)

	path := filepath.Join(t.TempDir(), "forest.png")
	require.NoError(t, SavePNG(p, DefaultStyle(), path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestFunnelPlotSavePNG(t *testing.T) {
	result := fittedResult(t)

	p, err := FunnelPlot(result, DefaultStyle())
	require.NoError(t, err)
	require.NotNil(t, p)

	path := filepath.Join(t.TempDir(), "funnel.png")
	require.NoError(t, SavePNG(p, DefaultStyle(), path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestPlotRejectsEmptyResult(t *testing.T) {
	var modelErr *errors.ModelError

	_, err := ForestPlot(nil, DefaultStyle())
	require.Error(t, err)
	assert.ErrorAs(t, err, &modelErr)

	_, err = FunnelPlot(&meta.FittedModel{}, DefaultStyle())
	require.Error(t, err)
	assert.ErrorAs(t, err, &modelErr)
}

func TestSavePNGBadPath(t *testing.T) {
	result := fittedResult(t)
	p, err := ForestPlot(result, DefaultStyle())
	require.NoError(t, err)

	err = SavePNG(p, DefaultStyle(), filepath.Join(t.TempDir(), "missing", "forest.png"))
	require.Error(t, err)
}
