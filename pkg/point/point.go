// Package point defines the in-memory representation of one plotted record
// and the conversion from raw spreadsheet rows.
package point

import (
	"math"
	"strconv"
)

// ColorKind tells which variant a Color holds.
type ColorKind uint8

const (
	// ColorNone means the point carries no color information.
	ColorNone ColorKind = iota
	// ColorNamed is a CSS color or free-form group name.
	ColorNamed
	// ColorCategory is a numeric category mapped to a palette entry.
	ColorCategory
)

// Color is an optional color or category attached to a point.
type Color struct {
	Kind     ColorKind
	Name     string
	Category float64
}

// NamedColor returns a named color.
func NamedColor(name string) Color {
	return Color{Kind: ColorNamed, Name: name}
}

// CategoryColor returns a numeric category color.
func CategoryColor(c float64) Color {
	return Color{Kind: ColorCategory, Category: c}
}

// IsSet reports whether the color carries a value.
func (c Color) IsSet() bool {
	return c.Kind != ColorNone
}

// Key returns a stable string for grouping points by color.
func (c Color) Key() string {
	switch c.Kind {
	case ColorNamed:
		return c.Name
	case ColorCategory:
		return strconv.FormatFloat(c.Category, 'g', -1, 64)
	default:
		return ""
	}
}

// Equal compares two colors structurally.
func (c Color) Equal(o Color) bool {
	if c.Kind != o.Kind {
		return false
	}
	switch c.Kind {
	case ColorNamed:
		return c.Name == o.Name
	case ColorCategory:
		return sameFloat(c.Category, o.Category)
	default:
		return true
	}
}

// Point is one record of the dataset. Coordinates that failed to parse hold
// NaN and are kept as-is so that encoding round-trips them.
type Point struct {
	X, Y, Z float64
	Label   string
	Color   Color
}

// Finite reports whether all three coordinates are finite numbers.
func (p Point) Finite() bool {
	return isFinite(p.X) && isFinite(p.Y) && isFinite(p.Z)
}

// Equal compares two points structurally; NaN equals NaN.
func (p Point) Equal(o Point) bool {
	return sameFloat(p.X, o.X) &&
		sameFloat(p.Y, o.Y) &&
		sameFloat(p.Z, o.Z) &&
		p.Label == o.Label &&
		p.Color.Equal(o.Color)
}

// Dataset is an ordered sequence of points in source-row order.
type Dataset []Point

// Equal reports structural equality of two datasets.
func (d Dataset) Equal(o Dataset) bool {
	if len(d) != len(o) {
		return false
	}
	for i := range d {
		if !d[i].Equal(o[i]) {
			return false
		}
	}
	return true
}

// Clone returns a copy that shares nothing with d.
func (d Dataset) Clone() Dataset {
	if d == nil {
		return nil
	}
	out := make(Dataset, len(d))
	copy(out, d)
	return out
}

// Finite returns the points whose coordinates are all finite.
func (d Dataset) Finite() Dataset {
	out := make(Dataset, 0, len(d))
	for _, p := range d {
		if p.Finite() {
			out = append(out, p)
		}
	}
	return out
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func sameFloat(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	return a == b
}
