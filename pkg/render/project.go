package render

import (
	"math"
	"sort"

	"github.com/recera/scattershare/pkg/point"
)

// Bounds is the plotted range of one axis.
type Bounds struct {
	Min, Max float64
}

func (b Bounds) contains(f float64) bool { return f >= b.Min && f <= b.Max }

// norm maps f into [-1, 1].
func (b Bounds) norm(f float64) float64 {
	return 2*(f-b.Min)/(b.Max-b.Min) - 1
}

// Placed is a point that survived filtering, with its color.
type Placed struct {
	Point point.Point
	Index int // position in the source dataset
	Color string
}

// Layout is a filtered, colored dataset with resolved axis bounds.
type Layout struct {
	Points   []Placed
	X, Y, Z  Bounds
	Legend   []LegendEntry
	Excluded int
}

// NewLayout drops non-finite points and points outside explicit bounds,
// resolves automatic bounds from the rest and assigns colors.
func NewLayout(d point.Dataset, v ViewConfig) Layout {
	finite := make([]point.Point, 0, len(d))
	index := make([]int, 0, len(d))
	for i, p := range d {
		if p.Finite() {
			finite = append(finite, p)
			index = append(index, i)
		}
	}

	l := Layout{
		X: resolveBounds(v.X, finite, func(p point.Point) float64 { return p.X }),
		Y: resolveBounds(v.Y, finite, func(p point.Point) float64 { return p.Y }),
		Z: resolveBounds(v.Z, finite, func(p point.Point) float64 { return p.Z }),
	}

	kept := finite[:0:0]
	keptIndex := index[:0:0]
	for i, p := range finite {
		if l.X.contains(p.X) && l.Y.contains(p.Y) && l.Z.contains(p.Z) {
			kept = append(kept, p)
			keptIndex = append(keptIndex, index[i])
		}
	}
	l.Excluded = len(d) - len(kept)

	c := newColorizer(v.ColorBy, kept)
	l.Legend = c.legend
	l.Points = make([]Placed, len(kept))
	for i, p := range kept {
		l.Points[i] = Placed{Point: p, Index: keptIndex[i], Color: c.color(p, i)}
	}
	return l
}

func resolveBounds(a Axis, pts []point.Point, get func(point.Point) float64) Bounds {
	b := Bounds{Min: math.Inf(1), Max: math.Inf(-1)}
	for _, p := range pts {
		f := get(p)
		b.Min = math.Min(b.Min, f)
		b.Max = math.Max(b.Max, f)
	}
	if len(pts) == 0 {
		b = Bounds{Min: -1, Max: 1}
	}
	if a.Min != nil {
		b.Min = *a.Min
	}
	if a.Max != nil {
		b.Max = *a.Max
	}
	if b.Min >= b.Max {
		// Flat or inverted range; widen around the lower value.
		b.Max = b.Min + 1
		b.Min--
	}
	return b
}

// Projected is a point on the view plane. X grows right and Y grows up;
// both lie roughly within [-2, 2]. Depth grows away from the camera.
type Projected struct {
	X, Y, Depth float64
	Placed
}

// Project places every point of l on the view plane of v's camera. Beta
// turns the data cube around its vertical axis and Alpha tilts it toward
// the viewer; a smaller ViewDistance gives stronger perspective. The result
// is sorted far to near.
func (l Layout) Project(v ViewConfig) []Projected {
	cam := newCamera(v)
	out := make([]Projected, 0, len(l.Points))
	for _, p := range l.Points {
		x, y, depth := cam.project(l.X.norm(p.Point.X), l.Y.norm(p.Point.Y), l.Z.norm(p.Point.Z))
		out = append(out, Projected{X: x, Y: y, Depth: depth, Placed: p})
	}
	sortFarToNear(out)
	return out
}

// Corners projects the eight corners of the data cube, for drawing its frame.
func Corners(v ViewConfig) [8][2]float64 {
	cam := newCamera(v)
	var out [8][2]float64
	for i := 0; i < 8; i++ {
		x, y, _ := cam.project(corner(i&1), corner(i&2), corner(i&4))
		out[i] = [2]float64{x, y}
	}
	return out
}

func corner(bit int) float64 {
	if bit != 0 {
		return 1
	}
	return -1
}

// CubeEdges lists the corner index pairs that form the edges of the cube.
var CubeEdges = [12][2]int{
	{0, 1}, {2, 3}, {4, 5}, {6, 7},
	{0, 2}, {1, 3}, {4, 6}, {5, 7},
	{0, 4}, {1, 5}, {2, 6}, {3, 7},
}

type camera struct {
	sinA, cosA float64
	sinB, cosB float64
	dist       float64
}

func newCamera(v ViewConfig) camera {
	a := v.Alpha * math.Pi / 180
	b := v.Beta * math.Pi / 180
	return camera{
		sinA: math.Sin(a), cosA: math.Cos(a),
		sinB: math.Sin(b), cosB: math.Cos(b),
		// The cube spans 2 units; keep the eye outside it.
		dist: math.Max(v.ViewDistance/5, 2),
	}
}

// project maps normalized data coordinates (x right, y up, z depth) to the
// view plane.
func (c camera) project(x, y, z float64) (px, py, depth float64) {
	// Turn around the vertical axis.
	x1 := x*c.cosB - z*c.sinB
	z1 := x*c.sinB + z*c.cosB
	// Tilt around the horizontal axis.
	y2 := y*c.cosA - z1*c.sinA
	z2 := y*c.sinA + z1*c.cosA

	// The nearest possible point is at depth -sqrt(3); it gets scale 1.
	scale := (c.dist - math.Sqrt(3)) / (c.dist + z2)
	return x1 * scale, y2 * scale, z2
}

func sortFarToNear(ps []Projected) {
	sort.SliceStable(ps, func(i, j int) bool { return ps[i].Depth > ps[j].Depth })
}
