package render

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"image/png"
	"math"
	"strings"
	"testing"

	"github.com/recera/scattershare/pkg/point"
)

func f64(f float64) *float64 { return &f }

func sample() point.Dataset {
	return point.Dataset{
		{X: 1, Y: 2, Z: 3, Label: "a"},
		{X: 4, Y: 5, Z: 6, Label: "b"},
		{X: math.NaN(), Y: 0, Z: 0, Label: "broken"},
		{X: 7, Y: 8, Z: 9, Label: "a", Color: point.NamedColor("red")},
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		w, h    int
		wantErr bool
	}{
		{"900x600", 900, 600, false},
		{" 640 X 480 ", 640, 480, false},
		{"900", 0, 0, true},
		{"0x600", 0, 0, true},
		{"axb", 0, 0, true},
		{"1x2x3", 0, 0, true},
		{"20000x10", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			w, h, err := ParseSize(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrBadSize) {
					t.Errorf("expected ErrBadSize, got %v", err)
				}
				return
			}
			if err != nil || w != tt.w || h != tt.h {
				t.Errorf("ParseSize(%q) = %d, %d, %v", tt.in, w, h, err)
			}
		})
	}
}

func TestViewConfig_Apply(t *testing.T) {
	base := DefaultViewConfig()
	size := "640x480"
	unit := "m"
	mode := ColorByIndex

	v, err := base.Apply(ViewPatch{
		Size:         &size,
		X:            &AxisPatch{Unit: &unit, Min: f64(0), Max: f64(10)},
		ViewDistance: f64(50),
		ColorBy:      &mode,
	})
	if err != nil {
		t.Fatal(err)
	}
	if v.Width != 640 || v.Height != 480 || v.ViewDistance != 50 || v.ColorBy != ColorByIndex {
		t.Errorf("view = %+v", v)
	}
	if v.X.Label() != "X (m)" || *v.X.Min != 0 || *v.X.Max != 10 {
		t.Errorf("x axis = %+v", v.X)
	}
	if base.X.Min != nil {
		t.Error("Apply modified the receiver")
	}

	cleared, err := v.Apply(ViewPatch{X: &AxisPatch{ClearMin: true}})
	if err != nil || cleared.X.Min != nil || cleared.X.Max == nil {
		t.Errorf("clear min: %+v, %v", cleared.X, err)
	}
}

func TestViewConfig_ApplyInvalid(t *testing.T) {
	bad := ColorBy("rainbow")
	tests := []struct {
		name  string
		patch ViewPatch
	}{
		{"inverted axis", ViewPatch{Y: &AxisPatch{Min: f64(5), Max: f64(1)}}},
		{"zero distance", ViewPatch{ViewDistance: f64(0)}},
		{"unknown color mode", ViewPatch{ColorBy: &bad}},
		{"negative point size", ViewPatch{PointSize: f64(-1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := DefaultViewConfig()
			got, err := base.Apply(tt.patch)
			if err == nil {
				t.Fatal("expected an error")
			}
			if got.Y.Min != nil || got.ViewDistance != base.ViewDistance || got.ColorBy != base.ColorBy {
				t.Errorf("failed Apply returned a modified view: %+v", got)
			}
		})
	}
}

func TestWithDefaults(t *testing.T) {
	v := ViewConfig{Title: "Mine", Alpha: 0}.WithDefaults()
	if v.Title != "Mine" || v.Width != 900 || v.ViewDistance != 25 || v.ColorBy != ColorByLabel {
		t.Errorf("WithDefaults = %+v", v)
	}
	if err := v.Validate(); err != nil {
		t.Error(err)
	}
}

func TestPalette(t *testing.T) {
	cols := Palette(6)
	seen := make(map[string]bool)
	for _, c := range cols {
		if len(c) != 7 || c[0] != '#' {
			t.Errorf("bad color %q", c)
		}
		if seen[c] {
			t.Errorf("duplicate color %q", c)
		}
		seen[c] = true
	}
	if len(Palette(0)) != 0 {
		t.Error("Palette(0) should be empty")
	}
}

func TestNewLayout(t *testing.T) {
	v := DefaultViewConfig()
	v.Z.Max = f64(7)

	l := NewLayout(sample(), v)
	if len(l.Points) != 2 || l.Excluded != 2 {
		t.Fatalf("plotted %d, excluded %d; want 2, 2", len(l.Points), l.Excluded)
	}
	if l.Points[0].Index != 0 || l.Points[1].Index != 1 {
		t.Errorf("indexes = %d, %d", l.Points[0].Index, l.Points[1].Index)
	}
	// Automatic bounds come from every finite point.
	if l.Z.Max != 7 || l.X.Min != 1 || l.X.Max != 7 {
		t.Errorf("bounds = %+v %+v", l.X, l.Z)
	}
}

func TestNewLayout_Colors(t *testing.T) {
	d := point.Dataset{
		{X: 0, Label: "a", Color: point.NamedColor("red")},
		{X: 1, Label: "b", Color: point.CategoryColor(2)},
		{X: 2, Label: "a", Color: point.NamedColor(`red" onload="x`)},
		{X: 3, Label: "c"},
	}

	tests := []struct {
		mode  ColorBy
		check func(t *testing.T, l Layout)
	}{
		{ColorByLabel, func(t *testing.T, l Layout) {
			if l.Points[0].Color != l.Points[2].Color || l.Points[0].Color == l.Points[1].Color {
				t.Errorf("label colors = %v", l.Points)
			}
			if len(l.Legend) != 3 {
				t.Errorf("legend = %v", l.Legend)
			}
		}},
		{ColorByColor, func(t *testing.T, l Layout) {
			if l.Points[0].Color != "red" {
				t.Errorf("named color = %q", l.Points[0].Color)
			}
			if l.Points[2].Color != DefaultPointColor || l.Points[3].Color != DefaultPointColor {
				t.Errorf("unsafe or missing colors = %q, %q", l.Points[2].Color, l.Points[3].Color)
			}
			if len(l.Legend) != 1 || l.Legend[0].Key != "2" {
				t.Errorf("legend = %v", l.Legend)
			}
		}},
		{ColorByIndex, func(t *testing.T, l Layout) {
			if l.Points[0].Color == l.Points[3].Color {
				t.Error("first and last point share a color")
			}
		}},
		{ColorByNone, func(t *testing.T, l Layout) {
			for _, p := range l.Points {
				if p.Color != DefaultPointColor {
					t.Errorf("color = %q", p.Color)
				}
			}
		}},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			v := DefaultViewConfig()
			v.ColorBy = tt.mode
			tt.check(t, NewLayout(d, v))
		})
	}
}

func TestProject(t *testing.T) {
	d := point.Dataset{
		{X: -1, Y: -1, Z: -1},
		{X: 0, Y: 0, Z: 0},
		{X: 1, Y: 1, Z: 1},
	}
	v := DefaultViewConfig()
	v.Alpha, v.Beta = 0, 0

	ps := NewLayout(d, v).Project(v)
	if len(ps) != 3 {
		t.Fatalf("got %d projected points", len(ps))
	}
	// Far to near: z = 1 first.
	if ps[0].Index != 2 || ps[2].Index != 0 {
		t.Errorf("order = %d, %d, %d", ps[0].Index, ps[1].Index, ps[2].Index)
	}
	if math.Abs(ps[1].X) > 1e-9 || math.Abs(ps[1].Y) > 1e-9 {
		t.Errorf("center projects to %g, %g", ps[1].X, ps[1].Y)
	}
	// Perspective: the near corner sits further from the center.
	if !(math.Abs(ps[2].X) > math.Abs(ps[0].X)) {
		t.Errorf("near %g, far %g", ps[2].X, ps[0].X)
	}
}

func TestSVG_Render(t *testing.T) {
	v := DefaultViewConfig()
	v.Title = "Depth <survey>"

	c, err := SVG{}.Render(context.Background(), sample(), v)
	if err != nil {
		t.Fatal(err)
	}
	if c.ContentType != "image/svg+xml" || c.Plotted != 3 || c.Excluded != 1 {
		t.Errorf("chart = %s, plotted %d, excluded %d", c.ContentType, c.Plotted, c.Excluded)
	}
	body := string(c.Body)
	if !strings.HasPrefix(strings.TrimSpace(body), "<?xml") || !strings.Contains(body, "<svg") {
		t.Errorf("not an SVG document: %.80s", body)
	}
	if n := strings.Count(body, "<circle"); n != 3 {
		t.Errorf("found %d circles, want 3", n)
	}
	if strings.Contains(body, "<survey>") || !strings.Contains(body, "&lt;survey&gt;") {
		t.Error("title was not escaped")
	}
}

func TestECharts_Render(t *testing.T) {
	c, err := ECharts{}.Render(context.Background(), sample(), DefaultViewConfig())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(c.ContentType, "text/html") || c.Plotted != 3 || c.Excluded != 1 {
		t.Errorf("chart = %s, plotted %d, excluded %d", c.ContentType, c.Plotted, c.Excluded)
	}
	for _, want := range []string{"scatter3D", "viewControl", "alpha: 10", "distance: 200", "900px"} {
		if !bytes.Contains(c.Body, []byte(want)) {
			t.Errorf("page does not contain %q", want)
		}
	}
}

func TestPNG_Render(t *testing.T) {
	v := DefaultViewConfig()
	v.Width, v.Height = 320, 240
	v.ColorBy = ColorByColor
	v.PointSize = 6

	c, err := PNG{}.Render(context.Background(), sample(), v)
	if err != nil {
		t.Fatal(err)
	}
	if c.ContentType != "image/png" || c.Plotted != 3 || c.Excluded != 1 {
		t.Errorf("chart = %s, plotted %d, excluded %d", c.ContentType, c.Plotted, c.Excluded)
	}
	img, err := png.Decode(bytes.NewReader(c.Body))
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 320 || b.Dy() != 240 {
		t.Errorf("image is %v", b)
	}

	v.Width, v.Height = 10000, 10000
	if _, err := (PNG{}).Render(context.Background(), sample(), v); !errors.Is(err, ErrBadSize) {
		t.Errorf("expected ErrBadSize, got %v", err)
	}
}

func TestCSSColor(t *testing.T) {
	tests := []struct {
		in   string
		want color.NRGBA
	}{
		{"#ff8000", color.NRGBA{255, 128, 0, 255}},
		{"#F80", color.NRGBA{255, 136, 0, 255}},
		{"Red", color.NRGBA{255, 0, 0, 255}},
		{"rgb(1,2,3)", color.NRGBA{0x6e, 0xa8, 0xfe, 255}},
		{"#12345", color.NRGBA{0x6e, 0xa8, 0xfe, 255}},
	}
	for _, tt := range tests {
		if got := cssColor(tt.in); got != tt.want {
			t.Errorf("cssColor(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRenderer_Update(t *testing.T) {
	for _, r := range []Renderer{ECharts{}, SVG{}, PNG{}} {
		c, err := r.Render(context.Background(), sample(), DefaultViewConfig())
		if err != nil {
			t.Fatal(err)
		}
		before := append([]byte(nil), c.Body...)

		w := 400
		if err := r.Update(c, ViewPatch{Width: &w}); err != nil {
			t.Fatal(err)
		}
		if c.View.Width != 400 || bytes.Equal(before, c.Body) || c.Plotted != 3 {
			t.Errorf("%T: update did not redraw", r)
		}

		bad := f64(-3)
		if err := r.Update(c, ViewPatch{ViewDistance: bad}); err == nil {
			t.Errorf("%T: expected an error", r)
		}
		if c.View.Width != 400 {
			t.Errorf("%T: failed update changed the chart", r)
		}
	}
}

func TestRender_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (SVG{}).Render(ctx, sample(), DefaultViewConfig()); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestNew(t *testing.T) {
	if r, err := New("svg"); err != nil || r == nil {
		t.Errorf("New(svg) = %v, %v", r, err)
	}
	if r, err := New("PNG"); err != nil || r == nil {
		t.Errorf("New(PNG) = %v, %v", r, err)
	}
	if _, err := New("gif"); err == nil {
		t.Error("expected an error for gif")
	}
}
