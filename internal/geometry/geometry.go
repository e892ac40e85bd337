// Package geometry defines the plotter's shared spatial primitives:
// Point, Path, and ViewBox.
package geometry

import "math"

// Point is a location in millimetres on the machine canvas, or in SVG-local
// units before scaling. Origin is front-left; +Y is away from the operator.
type Point struct {
	X, Y float64
}

// Path is an ordered sequence of points meant to be drawn contiguously with
// the pen down. A Path with fewer than two points is degenerate and is
// dropped by the compiler.
type Path []Point

// Valid reports whether the path has enough points to be drawable.
func (p Path) Valid() bool {
	return len(p) >= 2
}

// Bounds returns the axis-aligned bounding box of points across all paths.
// ok is false when paths is empty or every path is degenerate.
func Bounds(paths []Path) (min, max Point, ok bool) {
	min = Point{X: math.Inf(1), Y: math.Inf(1)}
	max = Point{X: math.Inf(-1), Y: math.Inf(-1)}
	for _, path := range paths {
		for _, pt := range path {
			if pt.X < min.X {
				min.X = pt.X
			}
			if pt.Y < min.Y {
				min.Y = pt.Y
			}
			if pt.X > max.X {
				max.X = pt.X
			}
			if pt.Y > max.Y {
				max.Y = pt.Y
			}
			ok = true
		}
	}
	return min, max, ok
}

// ViewBox is the SVG-local (minX, minY, width, height) rectangle used while
// parsing, before points are translated onto the machine canvas.
type ViewBox struct {
	MinX, MinY, Width, Height float64
}
