package render

import (
	"bytes"
	"context"
	"fmt"
	"math"

	svg "github.com/ajstarks/svgo"

	"github.com/recera/scattershare/pkg/point"
)

// SVG renders a static perspective projection of the chart. It needs no
// JavaScript, which makes it suitable for previews and the CLI.
type SVG struct {
	Background string // default "white"
	FrameColor string // default "#39424e"
	TextColor  string // default "#222"
}

func (r SVG) withDefaults() SVG {
	if r.Background == "" {
		r.Background = "white"
	}
	if r.FrameColor == "" {
		r.FrameColor = "#39424e"
	}
	if r.TextColor == "" {
		r.TextColor = "#222"
	}
	return r
}

const (
	svgMargin = 40
	titleGap  = 30
)

// Render implements Renderer.
func (r SVG) Render(ctx context.Context, d point.Dataset, v ViewConfig) (*Chart, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r = r.withDefaults()
	v = v.WithDefaults()
	if err := v.Validate(); err != nil {
		return nil, err
	}
	l := NewLayout(d, v)
	corners := Corners(v)
	frame := newFit(corners, v.Width, v.Height)

	var buf bytes.Buffer
	canvas := svg.New(&buf)
	canvas.Start(v.Width, v.Height)
	canvas.Title(v.Title)
	canvas.Rect(0, 0, v.Width, v.Height, "fill:"+r.Background)

	canvas.Text(v.Width/2, svgMargin/2+8, v.Title,
		fmt.Sprintf("text-anchor:middle;font-size:16px;font-family:sans-serif;fill:%s", r.TextColor))

	canvas.Gstyle(fmt.Sprintf("stroke:%s;stroke-width:1;stroke-opacity:0.5", r.FrameColor))
	for _, e := range CubeEdges {
		x1, y1 := frame.apply(corners[e[0]])
		x2, y2 := frame.apply(corners[e[1]])
		canvas.Line(x1, y1, x2, y2)
	}
	canvas.Gend()

	r.axisLabels(canvas, frame, corners, v)

	radius := int(math.Max(1, math.Round(v.PointSize)))
	canvas.Gstyle("stroke:#000;stroke-opacity:0.3")
	for _, p := range l.Project(v) {
		x, y := frame.apply([2]float64{p.X, p.Y})
		canvas.Circle(x, y, radius, "fill:"+p.Color)
	}
	canvas.Gend()

	canvas.End()
	return &Chart{
		ContentType: "image/svg+xml",
		Body:        buf.Bytes(),
		View:        v,
		Data:        d.Clone(),
		Plotted:     len(l.Points),
		Excluded:    l.Excluded,
	}, nil
}

// Update implements Renderer.
func (r SVG) Update(c *Chart, p ViewPatch) error {
	return update(r, c, p)
}

// axisLabels names each axis at the midpoint of the cube edge that runs
// along it from the origin corner.
func (r SVG) axisLabels(canvas *svg.SVG, f fit, corners [8][2]float64, v ViewConfig) {
	style := fmt.Sprintf("text-anchor:middle;font-size:12px;font-family:sans-serif;fill:%s", r.TextColor)
	for _, a := range []struct {
		to    int
		label string
	}{
		{1, v.X.Label()},
		{2, v.Y.Label()},
		{4, v.Z.Label()},
	} {
		mid := [2]float64{
			(corners[0][0] + corners[a.to][0]) / 2,
			(corners[0][1] + corners[a.to][1]) / 2,
		}
		x, y := f.apply(mid)
		canvas.Text(x, y+14, a.label, style)
	}
}

// fit maps view-plane coordinates onto the canvas so the whole cube is
// visible.
type fit struct {
	minX, maxY float64
	scale      float64
	offX, offY float64
}

func newFit(corners [8][2]float64, width, height int) fit {
	minX, maxX := math.Inf(1), math.Inf(-1)
	minY, maxY := math.Inf(1), math.Inf(-1)
	for _, c := range corners {
		minX, maxX = math.Min(minX, c[0]), math.Max(maxX, c[0])
		minY, maxY = math.Min(minY, c[1]), math.Max(maxY, c[1])
	}
	availW := math.Max(float64(width-2*svgMargin), 1)
	availH := math.Max(float64(height-2*svgMargin-titleGap), 1)
	scale := math.Min(availW/(maxX-minX), availH/(maxY-minY))

	return fit{
		minX:  minX,
		maxY:  maxY,
		scale: scale,
		offX:  svgMargin + (availW-(maxX-minX)*scale)/2,
		offY:  svgMargin + titleGap + (availH-(maxY-minY)*scale)/2,
	}
}

// apply flips Y, since SVG grows downward.
func (f fit) apply(p [2]float64) (int, int) {
	x := f.offX + (p[0]-f.minX)*f.scale
	y := f.offY + (f.maxY-p[1])*f.scale
	return int(math.Round(x)), int(math.Round(y))
}
