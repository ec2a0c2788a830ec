// Package point defines the coordinate and bounds primitives shared by the
// rest of the chunked spatial index: a point's (x, y, z) position and the
// axis-aligned cube that bounds a region of the octree.
package point

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/floats"
)

// emptyCoord is the sentinel X/Y value used to mark an unoccupied cell slot.
// It mirrors the teacher's use of a dictionary miss to mean "no point": here
// cells are preallocated, so absence has to be encoded in-band instead.
const emptyCoord = math.MaxFloat64

// Point is a 3D coordinate. The zero value is not "the origin"; use Empty()
// for the sentinel that means "no point here."
type Point struct {
	X, Y, Z float64
}

// Empty returns the sentinel point used by Contiguous chunk slots that have
// never been written.
func Empty() Point {
	return Point{X: emptyCoord, Y: emptyCoord, Z: emptyCoord}
}

// Exists reports whether p differs from the empty sentinel in X or Y. Z is
// deliberately excluded: a tube's secondary cells share X/Y with the primary
// and are only distinguished by Z, so Z alone can never signal absence.
func (p Point) Exists() bool {
	return p.X != emptyCoord || p.Y != emptyCoord
}

// Vector returns p as an r3.Vector for geometric math.
func (p Point) Vector() r3.Vector {
	return r3.Vector{X: p.X, Y: p.Y, Z: p.Z}
}

// FromVector builds a Point from an r3.Vector.
func FromVector(v r3.Vector) Point {
	return Point{X: v.X, Y: v.Y, Z: v.Z}
}

// Bounds is an axis-aligned box. Invariant: Min <= Max componentwise.
type Bounds struct {
	Min, Max Point
}

// Mid returns the midpoint of the bounds.
func (b Bounds) Mid() Point {
	return Point{
		X: (b.Min.X + b.Max.X) / 2,
		Y: (b.Min.Y + b.Max.Y) / 2,
		Z: (b.Min.Z + b.Max.Z) / 2,
	}
}

// Contains reports whether p lies within the bounds, inclusive of the
// min/max faces.
func (b Bounds) Contains(p Point) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Width returns Max - Min componentwise.
func (b Bounds) Width() Point {
	return Point{X: b.Max.X - b.Min.X, Y: b.Max.Y - b.Min.Y, Z: b.Max.Z - b.Min.Z}
}

// Intersects reports whether b and other overlap on all three axes.
func (b Bounds) Intersects(other Bounds) bool {
	return b.Min.X <= other.Max.X && b.Max.X >= other.Min.X &&
		b.Min.Y <= other.Max.Y && b.Max.Y >= other.Min.Y &&
		b.Min.Z <= other.Max.Z && b.Max.Z >= other.Min.Z
}

// Cube expands [min, max] to the smallest cube, centered on the original
// box's midpoint, whose side length is a power of two at least as large as
// the box's largest dimension. Octree math throughout this repo assumes
// bounds are cubic; this is the one constructor that establishes that
// invariant from arbitrary input extents.
func Cube(min, max Point) Bounds {
	mid := Bounds{Min: min, Max: max}.Mid()
	extents := []float64{max.X - min.X, max.Y - min.Y, max.Z - min.Z}
	largest := floats.Max(extents)

	side := 1.0
	for side < largest {
		side *= 2
	}
	for largest > 0 && side/2 >= largest {
		side /= 2
	}
	half := side / 2
	return Bounds{
		Min: Point{X: mid.X - half, Y: mid.Y - half, Z: mid.Z - half},
		Max: Point{X: mid.X + half, Y: mid.Y + half, Z: mid.Z + half},
	}
}
