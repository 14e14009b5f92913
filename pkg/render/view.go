// Package render turns a dataset and a view configuration into a chart
// document. The ECharts renderer emits an interactive HTML page; the SVG and
// PNG renderers draw a static projection of the same camera.
package render

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/recera/scattershare/pkg/point"
)

// ColorBy selects what decides a point's color.
type ColorBy string

const (
	ColorByLabel ColorBy = "label"
	ColorByColor ColorBy = "color"
	ColorByIndex ColorBy = "index"
	ColorByNone  ColorBy = "none"
)

func (c ColorBy) valid() bool {
	switch c {
	case ColorByLabel, ColorByColor, ColorByIndex, ColorByNone:
		return true
	}
	return false
}

// Axis configures one axis. Nil bounds are taken from the data.
type Axis struct {
	Title string   `json:"title" yaml:"title"`
	Unit  string   `json:"unit,omitempty" yaml:"unit,omitempty"`
	Min   *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max   *float64 `json:"max,omitempty" yaml:"max,omitempty"`
}

// Label is the axis title with its unit, e.g. "Depth (m)".
func (a Axis) Label() string {
	if a.Unit == "" {
		return a.Title
	}
	return fmt.Sprintf("%s (%s)", a.Title, a.Unit)
}

// ViewConfig is everything about a chart that is not data.
type ViewConfig struct {
	Width  int    `json:"width" yaml:"width"`
	Height int    `json:"height" yaml:"height"`
	Title  string `json:"title" yaml:"title"`

	X Axis `json:"x" yaml:"x"`
	Y Axis `json:"y" yaml:"y"`
	Z Axis `json:"z" yaml:"z"`

	// Camera. Alpha tilts, Beta turns, both in degrees.
	ViewDistance float64 `json:"view_distance" yaml:"view_distance"`
	Alpha        float64 `json:"alpha" yaml:"alpha"`
	Beta         float64 `json:"beta" yaml:"beta"`

	ColorBy   ColorBy `json:"color_by" yaml:"color_by"`
	PointSize float64 `json:"point_size" yaml:"point_size"`
}

// DefaultViewConfig returns the view a fresh chart starts with.
func DefaultViewConfig() ViewConfig {
	return ViewConfig{
		Width:        900,
		Height:       600,
		Title:        "3D Scatter Plot",
		X:            Axis{Title: "X"},
		Y:            Axis{Title: "Y"},
		Z:            Axis{Title: "Z"},
		ViewDistance: 25,
		Alpha:        10,
		Beta:         30,
		ColorBy:      ColorByLabel,
		PointSize:    5,
	}
}

// WithDefaults fills zero fields from DefaultViewConfig.
func (v ViewConfig) WithDefaults() ViewConfig {
	d := DefaultViewConfig()
	if v.Width == 0 {
		v.Width = d.Width
	}
	if v.Height == 0 {
		v.Height = d.Height
	}
	if v.Title == "" {
		v.Title = d.Title
	}
	if v.X.Title == "" {
		v.X.Title = d.X.Title
	}
	if v.Y.Title == "" {
		v.Y.Title = d.Y.Title
	}
	if v.Z.Title == "" {
		v.Z.Title = d.Z.Title
	}
	if v.ViewDistance == 0 {
		v.ViewDistance = d.ViewDistance
	}
	if v.ColorBy == "" {
		v.ColorBy = d.ColorBy
	}
	if v.PointSize == 0 {
		v.PointSize = d.PointSize
	}
	return v
}

// Validate checks the view for values no renderer can honor.
func (v ViewConfig) Validate() error {
	if v.Width < 1 || v.Width > maxDimension || v.Height < 1 || v.Height > maxDimension {
		return fmt.Errorf("render: size %dx%d outside 1..%d", v.Width, v.Height, maxDimension)
	}
	if v.ViewDistance <= 0 {
		return fmt.Errorf("render: view distance must be positive, got %g", v.ViewDistance)
	}
	if v.PointSize <= 0 {
		return fmt.Errorf("render: point size must be positive, got %g", v.PointSize)
	}
	if !v.ColorBy.valid() {
		return fmt.Errorf("render: unknown color mode %q", v.ColorBy)
	}
	for name, a := range map[string]Axis{"x": v.X, "y": v.Y, "z": v.Z} {
		if a.Min != nil && a.Max != nil && !(*a.Min < *a.Max) {
			return fmt.Errorf("render: %s axis min %g is not below max %g", name, *a.Min, *a.Max)
		}
	}
	return nil
}

const maxDimension = 10000

// AxisPatch changes some fields of an Axis. ClearMin and ClearMax return a
// bound to automatic.
type AxisPatch struct {
	Title    *string  `json:"title,omitempty"`
	Unit     *string  `json:"unit,omitempty"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	ClearMin bool     `json:"clear_min,omitempty"`
	ClearMax bool     `json:"clear_max,omitempty"`
}

// ViewPatch changes some fields of a ViewConfig. Nil fields are kept.
type ViewPatch struct {
	Width        *int       `json:"width,omitempty"`
	Height       *int       `json:"height,omitempty"`
	Size         *string    `json:"size,omitempty"` // "WxH", applied before Width and Height
	Title        *string    `json:"title,omitempty"`
	X            *AxisPatch `json:"x,omitempty"`
	Y            *AxisPatch `json:"y,omitempty"`
	Z            *AxisPatch `json:"z,omitempty"`
	ViewDistance *float64   `json:"view_distance,omitempty"`
	Alpha        *float64   `json:"alpha,omitempty"`
	Beta         *float64   `json:"beta,omitempty"`
	ColorBy      *ColorBy   `json:"color_by,omitempty"`
	PointSize    *float64   `json:"point_size,omitempty"`
}

// Apply returns v with p applied. The result is validated; on error v is
// returned as it was.
func (v ViewConfig) Apply(p ViewPatch) (ViewConfig, error) {
	orig := v
	if p.Size != nil {
		w, h, err := ParseSize(*p.Size)
		if err != nil {
			return v, err
		}
		v.Width, v.Height = w, h
	}
	setInt(&v.Width, p.Width)
	setInt(&v.Height, p.Height)
	if p.Title != nil {
		v.Title = *p.Title
	}
	v.X = v.X.apply(p.X)
	v.Y = v.Y.apply(p.Y)
	v.Z = v.Z.apply(p.Z)
	setFloat(&v.ViewDistance, p.ViewDistance)
	setFloat(&v.Alpha, p.Alpha)
	setFloat(&v.Beta, p.Beta)
	setFloat(&v.PointSize, p.PointSize)
	if p.ColorBy != nil {
		v.ColorBy = *p.ColorBy
	}
	if err := v.Validate(); err != nil {
		return orig, err
	}
	return v, nil
}

func (a Axis) apply(p *AxisPatch) Axis {
	if p == nil {
		return a
	}
	if p.Title != nil {
		a.Title = *p.Title
	}
	if p.Unit != nil {
		a.Unit = *p.Unit
	}
	if p.ClearMin {
		a.Min = nil
	}
	if p.ClearMax {
		a.Max = nil
	}
	if p.Min != nil {
		m := *p.Min
		a.Min = &m
	}
	if p.Max != nil {
		m := *p.Max
		a.Max = &m
	}
	return a
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

// ErrBadSize is returned by ParseSize.
var ErrBadSize = errors.New("render: size must look like WIDTHxHEIGHT")

// ParseSize parses "900x600".
func ParseSize(s string) (width, height int, err error) {
	wh := strings.Split(strings.ToLower(strings.TrimSpace(s)), "x")
	if len(wh) != 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadSize, s)
	}
	width, errW := strconv.Atoi(strings.TrimSpace(wh[0]))
	height, errH := strconv.Atoi(strings.TrimSpace(wh[1]))
	if errW != nil || errH != nil || width < 1 || height < 1 || width > maxDimension || height > maxDimension {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadSize, s)
	}
	return width, height, nil
}

// Chart is a rendered chart document.
type Chart struct {
	ContentType string
	Body        []byte
	View        ViewConfig
	Data        point.Dataset
	Plotted     int // points drawn
	Excluded    int // non-finite or outside explicit axis bounds
}

// Renderer draws datasets.
type Renderer interface {
	Render(ctx context.Context, d point.Dataset, v ViewConfig) (*Chart, error)
	// Update redraws c with p applied to its view.
	Update(c *Chart, p ViewPatch) error
}

// update is the Update shared by the renderers in this package.
func update(r Renderer, c *Chart, p ViewPatch) error {
	v, err := c.View.Apply(p)
	if err != nil {
		return err
	}
	next, err := r.Render(context.Background(), c.Data, v)
	if err != nil {
		return err
	}
	*c = *next
	return nil
}

// New returns the renderer for a format name: "html", "svg" or "png".
func New(format string) (Renderer, error) {
	switch strings.ToLower(format) {
	case "", "html":
		return ECharts{}, nil
	case "svg":
		return SVG{}, nil
	case "png":
		return PNG{}, nil
	}
	return nil, fmt.Errorf("render: unknown format %q", format)
}
