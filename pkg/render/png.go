package render

import (
	"bytes"
	"context"
	"fmt"
	"image/color"
	"math"
	"strconv"
	"strings"

	"github.com/fogleman/gg"
	"golang.org/x/image/colornames"

	"github.com/recera/scattershare/pkg/point"
)

// maxPixels bounds the raster a PNG render may allocate.
const maxPixels = 16_000_000

// PNG rasterizes the same projection as SVG. Colors that are not hex or a
// CSS color name are drawn in DefaultPointColor.
type PNG struct {
	Background string // default "white"
	FrameColor string // default "#39424e"
	TextColor  string // default "#222"
}

// Render implements Renderer.
func (r PNG) Render(ctx context.Context, d point.Dataset, v ViewConfig) (*Chart, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := SVG(r).withDefaults()
	v = v.WithDefaults()
	if err := v.Validate(); err != nil {
		return nil, err
	}
	if v.Width*v.Height > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d is too large for PNG", ErrBadSize, v.Width, v.Height)
	}
	l := NewLayout(d, v)
	corners := Corners(v)
	frame := newFit(corners, v.Width, v.Height)
	text := cssColor(s.TextColor)

	dc := gg.NewContext(v.Width, v.Height)
	dc.SetColor(cssColor(s.Background))
	dc.Clear()

	dc.SetColor(text)
	dc.DrawStringAnchored(v.Title, float64(v.Width)/2, svgMargin/2+8, 0.5, 0.5)

	edge := cssColor(s.FrameColor)
	edge.A = 128
	dc.SetColor(edge)
	dc.SetLineWidth(1)
	for _, e := range CubeEdges {
		x1, y1 := frame.apply(corners[e[0]])
		x2, y2 := frame.apply(corners[e[1]])
		dc.DrawLine(float64(x1), float64(y1), float64(x2), float64(y2))
	}
	dc.Stroke()

	dc.SetColor(text)
	for _, a := range []struct {
		to    int
		label string
	}{
		{1, v.X.Label()},
		{2, v.Y.Label()},
		{4, v.Z.Label()},
	} {
		x, y := frame.apply([2]float64{
			(corners[0][0] + corners[a.to][0]) / 2,
			(corners[0][1] + corners[a.to][1]) / 2,
		})
		dc.DrawStringAnchored(a.label, float64(x), float64(y)+14, 0.5, 0.5)
	}

	radius := math.Max(1, v.PointSize)
	outline := color.NRGBA{A: 77}
	for _, p := range l.Project(v) {
		x, y := frame.apply([2]float64{p.X, p.Y})
		dc.DrawCircle(float64(x), float64(y), radius)
		dc.SetColor(cssColor(p.Color))
		dc.FillPreserve()
		dc.SetColor(outline)
		dc.Stroke()
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("render: encode png: %w", err)
	}
	return &Chart{
		ContentType: "image/png",
		Body:        buf.Bytes(),
		View:        v,
		Data:        d.Clone(),
		Plotted:     len(l.Points),
		Excluded:    l.Excluded,
	}, nil
}

// Update implements Renderer.
func (r PNG) Update(c *Chart, p ViewPatch) error {
	return update(r, c, p)
}

// cssColor resolves hex colors and CSS names. Anything else, including
// rgb() and hsl() forms, falls back to DefaultPointColor.
func cssColor(s string) color.NRGBA {
	s = strings.ToLower(strings.TrimSpace(s))
	if c, ok := parseHexColor(s); ok {
		return c
	}
	if c, ok := colornames.Map[s]; ok {
		return color.NRGBA{R: c.R, G: c.G, B: c.B, A: c.A}
	}
	c, _ := parseHexColor(DefaultPointColor)
	return c
}

func parseHexColor(s string) (color.NRGBA, bool) {
	if !strings.HasPrefix(s, "#") {
		return color.NRGBA{}, false
	}
	s = s[1:]
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 {
		return color.NRGBA{}, false
	}
	n, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.NRGBA{}, false
	}
	return color.NRGBA{R: uint8(n >> 16), G: uint8(n >> 8), B: uint8(n), A: 255}, true
}
