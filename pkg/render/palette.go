package render

import (
	"fmt"
	"math"
	"strings"

	"github.com/recera/scattershare/pkg/point"
)

// DefaultPointColor is used when coloring is off or a point has no color.
const DefaultPointColor = "#6ea8fe"

// Palette returns n distinct colors spread around the HSV hue circle.
func Palette(n int) []string {
	cols := make([]string, 0, n)
	for i := 0; i < n; i++ {
		h := float64(i) / float64(n)
		r, g, b := hsv2rgb(h, 0.7, 0.9)
		cols = append(cols, hexColor(r, g, b))
	}
	return cols
}

func hexColor(r, g, b float64) string {
	return fmt.Sprintf("#%02x%02x%02x", uint8(r*255), uint8(g*255), uint8(b*255))
}

func hsv2rgb(h, s, v float64) (float64, float64, float64) {
	var r, g, b float64
	i := math.Floor(h * 6)
	f := h*6 - i
	p := v * (1 - s)
	q := v * (1 - f*s)
	t := v * (1 - (1-f)*s)
	switch int(i) % 6 {
	case 0:
		r, g, b = v, t, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, t
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = t, p, v
	case 5:
		r, g, b = v, p, q
	}
	return r, g, b
}

// colorizer assigns colors to points according to a ColorBy mode.
type colorizer struct {
	mode   ColorBy
	n      int
	byKey  map[string]string
	legend []LegendEntry
}

// LegendEntry maps a label or category to its color.
type LegendEntry struct {
	Key   string
	Color string
}

func newColorizer(mode ColorBy, pts []point.Point) *colorizer {
	c := &colorizer{mode: mode, n: len(pts), byKey: make(map[string]string)}

	var keys []string
	seen := make(map[string]bool)
	for _, p := range pts {
		k, ok := c.key(p)
		if !ok || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	for i, col := range Palette(len(keys)) {
		c.byKey[keys[i]] = col
		c.legend = append(c.legend, LegendEntry{Key: keys[i], Color: col})
	}
	return c
}

// key is the palette key of p; named colors are used as given and have none.
func (c *colorizer) key(p point.Point) (string, bool) {
	switch c.mode {
	case ColorByLabel:
		return p.Label, true
	case ColorByColor:
		if p.Color.Kind == point.ColorCategory {
			return p.Color.Key(), true
		}
	}
	return "", false
}

func (c *colorizer) color(p point.Point, index int) string {
	switch c.mode {
	case ColorByIndex:
		if c.n <= 1 {
			return DefaultPointColor
		}
		// Stop at violet so both ends do not share a hue.
		r, g, b := hsv2rgb(0.8*float64(index)/float64(c.n-1), 0.7, 0.9)
		return hexColor(r, g, b)
	case ColorByColor:
		if p.Color.Kind == point.ColorNamed && safeColor(p.Color.Name) {
			return p.Color.Name
		}
	}
	if k, ok := c.key(p); ok {
		return c.byKey[k]
	}
	return DefaultPointColor
}

// safeColor accepts CSS color names, hex and rgb()/hsl() forms, and nothing
// that could break out of a style attribute.
func safeColor(s string) bool {
	if s == "" || len(s) > 64 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case strings.ContainsRune("#(),.% ", c):
		default:
			return false
		}
	}
	return true
}
