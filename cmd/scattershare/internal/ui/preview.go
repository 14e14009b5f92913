package ui

import (
	"math"

	"github.com/NimbleMarkets/ntcharts/canvas"
	"github.com/NimbleMarkets/ntcharts/linechart"

	"github.com/recera/scattershare/pkg/point"
	"github.com/recera/scattershare/pkg/render"
)

// Preview draws the dataset as the chart camera sees it, flattened onto a
// character grid of the given size. Nearer points are drawn last.
func Preview(d point.Dataset, v render.ViewConfig, width, height int) string {
	v = v.WithDefaults()
	width = max(width, 10)
	height = max(height, 5)

	// The frame bounds the plot so the picture does not jump between
	// datasets.
	corners := render.Corners(v)
	minX, maxX := math.Inf(1), math.Inf(-1)
	minY, maxY := math.Inf(1), math.Inf(-1)
	for _, c := range corners {
		minX, maxX = math.Min(minX, c[0]), math.Max(maxX, c[0])
		minY, maxY = math.Min(minY, c[1]), math.Max(maxY, c[1])
	}

	lc := linechart.New(width, height, minX, maxX, minY, maxY,
		linechart.WithXYSteps(0, 0),
		linechart.WithStyles(MutedStyle, MutedStyle, pointStyle),
	)
	for _, c := range corners {
		lc.DrawRune(canvas.Float64Point{X: c[0], Y: c[1]}, '+')
	}
	for _, p := range render.NewLayout(d, v).Project(v) {
		lc.DrawRune(canvas.Float64Point{X: p.X, Y: p.Y}, depthRune(p.Depth))
	}
	return lc.View()
}

// depthRune picks a heavier dot for nearer points. Depth runs from about
// -sqrt(3) (near) to sqrt(3) (far).
func depthRune(depth float64) rune {
	switch {
	case depth < -0.6:
		return '●'
	case depth < 0.6:
		return '•'
	default:
		return '·'
	}
}
