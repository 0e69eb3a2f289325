package render

import (
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/YuminosukeSato/metaforest/meta"
	"github.com/YuminosukeSato/metaforest/pkg/errors"
)

// FunnelPlot scatters each effect's Fisher z estimate against its standard
// error, with the axis inverted so precise studies sit at the top. A vertical
// line marks the pooled estimate and dashed lines bound the pseudo 95%
// confidence region, which is triangular on this scale.
func FunnelPlot(result *meta.FittedModel, style Style) (*plot.Plot, error) {
	const op = "render.FunnelPlot"

	if result == nil || len(result.Effects) == 0 {
		return nil, errors.NewModelError(op, "no effects to draw", errors.ErrEmptyData)
	}

	var p *plot.Plot
	err := errors.SafeExecute(op, func() error {
		var buildErr error
		p, buildErr = buildFunnel(result, style)
		return buildErr
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func buildFunnel(result *meta.FittedModel, style Style) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Funnel plot"
	p.Title.TextStyle.Font.Size = style.FontSize
	p.X.Label.Text = "Fisher z"
	p.X.Label.TextStyle.Font.Size = style.FontSize
	p.Y.Label.Text = "Standard error"
	p.Y.Label.TextStyle.Font.Size = style.FontSize
	p.Y.Scale = plot.InvertedScale{Normalizer: plot.LinearScale{}}

	points := make(plotter.XYs, len(result.Effects))
	maxSE := 0.0
	for i, e := range result.Effects {
		points[i] = plotter.XY{X: e.Z, Y: e.SEZ}
		maxSE = math.Max(maxSE, e.SEZ)
	}
	maxSE *= 1.05

	scatter, err := plotter.NewScatter(points)
	if err != nil {
		return nil, errors.Wrap(err, "metaforest: render.FunnelPlot")
	}
	scatter.GlyphStyle = draw.GlyphStyle{
		Color:  style.MarkerColor,
		Radius: (style.MarkerMin + style.MarkerMax) / 2,
		Shape:  draw.CircleGlyph{},
	}
	p.Add(scatter)

	pooledZ := result.Coefficients[0].Estimate

	center, err := plotter.NewLine(plotter.XYs{{X: pooledZ, Y: 0}, {X: pooledZ, Y: maxSE}})
	if err != nil {
		return nil, errors.Wrap(err, "metaforest: render.FunnelPlot")
	}
	center.LineStyle = draw.LineStyle{Color: style.PooledColor, Width: style.LineWidth}
	p.Add(center)

	const z95 = 1.959963984540054
	for _, side := range []float64{-1, 1} {
		bound, err := plotter.NewLine(plotter.XYs{
			{X: pooledZ, Y: 0},
			{X: pooledZ + side*z95*maxSE, Y: maxSE},
		})
		if err != nil {
			return nil, errors.Wrap(err, "metaforest: render.FunnelPlot")
		}
		bound.LineStyle = draw.LineStyle{
			Color:  style.ReferenceColor,
			Width:  style.LineWidth,
			Dashes: []vg.Length{vg.Points(4), vg.Points(2)},
		}
		p.Add(bound)
	}

	p.Y.Min, p.Y.Max = 0, maxSE
	return p, nil
}
