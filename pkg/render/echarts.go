package render

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/recera/scattershare/pkg/point"
)

// ECharts renders an interactive WebGL scatter page with ECharts GL.
type ECharts struct {
	// AssetsHost overrides where echarts.min.js and echarts-gl are loaded
	// from. Empty uses the go-echarts default CDN.
	AssetsHost string
	// Theme is an ECharts theme name such as "dark".
	Theme string
}

const echartsID = "scattershare"

// distanceScale converts ViewDistance to ECharts GL camera distance, so the
// default of 25 lands on ECharts' own default of 200.
const distanceScale = 8

// Render implements Renderer.
func (r ECharts) Render(ctx context.Context, d point.Dataset, v ViewConfig) (*Chart, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v = v.WithDefaults()
	if err := v.Validate(); err != nil {
		return nil, err
	}
	l := NewLayout(d, v)

	sc := charts.NewScatter3D()
	sc.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle:  v.Title,
			Width:      px(v.Width),
			Height:     px(v.Height),
			ChartID:    echartsID,
			AssetsHost: r.AssetsHost,
			Theme:      r.Theme,
		}),
		charts.WithTitleOpts(opts.Title{Title: v.Title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxis3DOpts(opts.XAxis3D{Name: v.X.Label(), Type: "value", Min: l.X.Min, Max: l.X.Max}),
		charts.WithYAxis3DOpts(opts.YAxis3D{Name: v.Y.Label(), Type: "value", Min: l.Y.Min, Max: l.Y.Max}),
		charts.WithZAxis3DOpts(opts.ZAxis3D{Name: v.Z.Label(), Type: "value", Min: l.Z.Min, Max: l.Z.Max}),
		charts.WithGrid3DOpts(opts.Grid3D{BoxWidth: 100, BoxHeight: 100, BoxDepth: 100}),
	)

	data := make([]opts.Chart3DData, 0, len(l.Points))
	for _, p := range l.Points {
		name := p.Point.Label
		if name == "" {
			name = "#" + strconv.Itoa(p.Index)
		}
		data = append(data, opts.Chart3DData{
			Name:      name,
			Value:     []interface{}{p.Point.X, p.Point.Y, p.Point.Z},
			ItemStyle: &opts.ItemStyle{Color: p.Color},
		})
	}
	sc.AddSeries("points", data)

	// ECharts GL takes the camera from grid3D.viewControl. Our alpha tilts
	// like its alpha; beta turns the other way round.
	sc.AddJSFuncs(fmt.Sprintf(
		"goecharts_%s.setOption({grid3D: {viewControl: {alpha: %g, beta: %g, distance: %g}}, series: [{symbolSize: %g}]});",
		echartsID, v.Alpha, -v.Beta, v.ViewDistance*distanceScale, v.PointSize*2,
	))

	var buf bytes.Buffer
	if err := sc.Render(&buf); err != nil {
		return nil, fmt.Errorf("render: echarts: %w", err)
	}
	return &Chart{
		ContentType: "text/html; charset=utf-8",
		Body:        buf.Bytes(),
		View:        v,
		Data:        d.Clone(),
		Plotted:     len(l.Points),
		Excluded:    l.Excluded,
	}, nil
}

// Update implements Renderer.
func (r ECharts) Update(c *Chart, p ViewPatch) error {
	return update(r, c, p)
}

func px(n int) string { return strconv.Itoa(n) + "px" }
