package octree

import "github.com/qiangqiangyao/entwine/point"

// Roller is the build-side octree cursor mentioned in the core spec's data
// flow: each incoming point carries one, and Registry.AddPoint repeatedly
// calls Descend until the roller reaches the target depth it was given.
//
// Child octants are numbered (xBit<<2)|(yBit<<1)|zBit, scanned in that
// order wherever ties must be broken — the same +x,+y,+z priority
// SplitClimber uses between siblings.
type Roller struct {
	index  int64
	depth  int
	bounds point.Bounds
}

// NewRoller starts a Roller at the root of structure's index space.
func NewRoller(full point.Bounds) Roller {
	return Roller{index: 0, depth: 0, bounds: full}
}

// Index is the raw cell index the roller currently occupies.
func (r Roller) Index() int64 { return r.index }

// Depth is the roller's current depth.
func (r Roller) Depth() int { return r.depth }

// Bounds is the cubic bounds of the roller's current cell.
func (r Roller) Bounds() point.Bounds { return r.bounds }

// Octant returns which of the 8 children of r's bounds contains p.
func Octant(bounds point.Bounds, p point.Point) int {
	mid := bounds.Mid()
	octant := 0
	if p.X >= mid.X {
		octant |= 1 << 2
	}
	if p.Y >= mid.Y {
		octant |= 1 << 1
	}
	if p.Z >= mid.Z {
		octant |= 1 << 0
	}
	return octant
}

// ChildBounds returns the bounds of the given octant of bounds.
func ChildBounds(bounds point.Bounds, octant int) point.Bounds {
	mid := bounds.Mid()
	lo := func(axisMin, axisMid, axisMax float64, bit int) (float64, float64) {
		if bit == 1 {
			return axisMid, axisMax
		}
		return axisMin, axisMid
	}
	xMin, xMax := lo(bounds.Min.X, mid.X, bounds.Max.X, (octant>>2)&1)
	yMin, yMax := lo(bounds.Min.Y, mid.Y, bounds.Max.Y, (octant>>1)&1)
	zMin, zMax := lo(bounds.Min.Z, mid.Z, bounds.Max.Z, octant&1)
	return point.Bounds{
		Min: point.Point{X: xMin, Y: yMin, Z: zMin},
		Max: point.Point{X: xMax, Y: yMax, Z: zMax},
	}
}

// ChildIndex returns the raw index of the given octant of a node at index
// parentIndex / depth parentDepth, given the first raw index of
// parentDepth+1 (structure.IndexBegin(parentDepth+1)) and the first raw
// index of parentDepth (structure.IndexBegin(parentDepth)).
func ChildIndex(parentIndex, parentDepthIndexBegin, childDepthIndexBegin int64, octant int) int64 {
	local := parentIndex - parentDepthIndexBegin
	return childDepthIndexBegin + local*8 + int64(octant)
}

// Descend moves the roller one level deeper, into the child octant that
// contains p, using structure for the index arithmetic.
func (r Roller) Descend(s *Structure, p point.Point) (Roller, error) {
	parentBegin, err := s.IndexBegin(r.depth)
	if err != nil {
		return Roller{}, err
	}
	childBegin, err := s.IndexBegin(r.depth + 1)
	if err != nil {
		return Roller{}, err
	}
	octant := Octant(r.bounds, p)
	return Roller{
		index:  ChildIndex(r.index, parentBegin, childBegin, octant),
		depth:  r.depth + 1,
		bounds: ChildBounds(r.bounds, octant),
	}, nil
}
