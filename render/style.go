// Package render draws forest and funnel plots for fitted aggregation
// results using gonum/plot.
package render

import (
	"image/color"

	"gonum.org/v1/plot/vg"
)

// Style collects the visual parameters of a plot. All sizes are explicit so
// two renders of the same result are identical; nothing is read from global
// state.
type Style struct {
	Width  vg.Length
	Height vg.Length

	FontSize  vg.Length
	LineWidth vg.Length

	// Effect markers are scaled between MarkerMin and MarkerMax by inverse
	// sampling variance.
	MarkerMin vg.Length
	MarkerMax vg.Length

	MarkerColor    color.Color
	CIColor        color.Color
	PooledColor    color.Color
	ReferenceColor color.Color
}

// DefaultStyle returns the style used when the caller does not override one.
func DefaultStyle() Style {
	return Style{
		Width:          6 * vg.Inch,
		Height:         4 * vg.Inch,
		FontSize:       vg.Points(11),
		LineWidth:      vg.Points(1),
		MarkerMin:      vg.Points(2),
		MarkerMax:      vg.Points(5),
		MarkerColor:    color.RGBA{R: 0x2b, G: 0x5c, B: 0x8a, A: 0xff},
		CIColor:        color.RGBA{R: 0x44, G: 0x44, B: 0x44, A: 0xff},
		PooledColor:    color.RGBA{R: 0xb2, G: 0x22, B: 0x22, A: 0xff},
		ReferenceColor: color.RGBA{R: 0x99, G: 0x99, B: 0x99, A: 0xff},
	}
}
