package render

import (
	"fmt"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/YuminosukeSato/metaforest/meta"
	"github.com/YuminosukeSato/metaforest/pkg/errors"
)

// ForestPlot draws one row per effect size on the correlation scale, with its
// confidence interval as a horizontal whisker and a marker sized by inverse
// sampling variance, plus a visually distinct pooled row at the bottom.
// The vertical reference line sits at r = 0.
func ForestPlot(result *meta.FittedModel, style Style) (*plot.Plot, error) {
	const op = "render.ForestPlot"

	if result == nil || len(result.Effects) == 0 {
		return nil, errors.NewModelError(op, "no effects to draw", errors.ErrEmptyData)
	}

	var p *plot.Plot
	err := errors.SafeExecute(op, func() error {
		var buildErr error
		p, buildErr = buildForest(result, style)
		return buildErr
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func buildForest(result *meta.FittedModel, style Style) (*plot.Plot, error) {
	n := len(result.Effects)

	p := plot.New()
	p.Title.Text = "Forest plot"
	p.Title.TextStyle.Font.Size = style.FontSize
	p.X.Label.Text = "Correlation (r)"
	p.X.Label.TextStyle.Font.Size = style.FontSize

	// Rows run bottom-up: pooled at 0, last effect at 1, first at n.
	labels := make([]string, n+1)
	labels[0] = "Pooled"
	for i, e := range result.Effects {
		labels[n-i] = fmt.Sprintf("%s (%s)", e.StudyID, e.EffectID)
	}
	p.NominalY(labels...)
	p.Y.Tick.Label.Font.Size = style.FontSize

	if err := addReferenceLine(p, 0, -0.6, float64(n)+0.6, style); err != nil {
		return nil, err
	}

	minW, maxW := math.Inf(1), math.Inf(-1)
	for _, e := range result.Effects {
		w := 1 / e.VarZ
		minW = math.Min(minW, w)
		maxW = math.Max(maxW, w)
	}

	for i, e := range result.Effects {
		row := float64(n - i)

		ci, err := plotter.NewLine(plotter.XYs{{X: e.Lower, Y: row}, {X: e.Upper, Y: row}})
		if err != nil {
			return nil, errors.Wrap(err, "metaforest: render.ForestPlot")
		}
		ci.LineStyle = draw.LineStyle{Color: style.CIColor, Width: style.LineWidth}
		p.Add(ci)

		marker, err := plotter.NewScatter(plotter.XYs{{X: e.Cor, Y: row}})
		if err != nil {
			return nil, errors.Wrap(err, "metaforest: render.ForestPlot")
		}
		marker.GlyphStyle = draw.GlyphStyle{
			Color:  style.MarkerColor,
			Radius: markerRadius(1/e.VarZ, minW, maxW, style),
			Shape:  draw.BoxGlyph{},
		}
		p.Add(marker)
	}

	pooledCI, err := plotter.NewLine(plotter.XYs{
		{X: result.PooledRLower, Y: 0},
		{X: result.PooledRUpper, Y: 0},
	})
	if err != nil {
		return nil, errors.Wrap(err, "metaforest: render.ForestPlot")
	}
	pooledCI.LineStyle = draw.LineStyle{Color: style.PooledColor, Width: 2 * style.LineWidth}
	p.Add(pooledCI)

	pooled, err := plotter.NewScatter(plotter.XYs{{X: result.PooledR, Y: 0}})
	if err != nil {
		return nil, errors.Wrap(err, "metaforest: render.ForestPlot")
	}
	pooled.GlyphStyle = draw.GlyphStyle{
		Color:  style.PooledColor,
		Radius: style.MarkerMax,
		Shape:  draw.PyramidGlyph{},
	}
	p.Add(pooled)

	return p, nil
}

// markerRadius maps an inverse-variance weight into [MarkerMin, MarkerMax].
func markerRadius(w, minW, maxW float64, style Style) vg.Length {
	if maxW-minW < 1e-12 {
		return (style.MarkerMin + style.MarkerMax) / 2
	}
	frac := (w - minW) / (maxW - minW)
	return style.MarkerMin + vg.Length(frac)*(style.MarkerMax-style.MarkerMin)
}

func addReferenceLine(p *plot.Plot, x, yMin, yMax float64, style Style) error {
	ref, err := plotter.NewLine(plotter.XYs{{X: x, Y: yMin}, {X: x, Y: yMax}})
	if err != nil {
		return errors.Wrap(err, "metaforest: render reference line")
	}
	ref.LineStyle = draw.LineStyle{
		Color:  style.ReferenceColor,
		Width:  style.LineWidth,
		Dashes: []vg.Length{vg.Points(3), vg.Points(3)},
	}
	p.Add(ref)
	return nil
}
