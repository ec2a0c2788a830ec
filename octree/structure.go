// Package octree holds the pure configuration of the chunked octree — base
// and cold depth ranges, chunk point capacity by depth, and the depth-first
// SplitClimber traversal used by both the build and query paths — plus the
// Roller cursor that drives point insertion during a build.
//
// This package shares its name with the teacher's own pointer-based octree
// package (go.viam.com/rdk/octree), but the structure here is a flat linear
// indexing scheme rather than a tree of node pointers: chunking and disk
// persistence require O(1) index<->depth arithmetic that a recursive
// pointer tree does not give you for free.
package octree

import (
	"github.com/pkg/errors"

	"github.com/qiangqiangyao/entwine/point"
)

// depthInfo is the precomputed, O(1)-lookup row for one depth: the first
// raw index at that depth and how many points a chunk owning that depth may
// hold.
type depthInfo struct {
	indexBegin  int64
	chunkPoints int64
}

// ChunkInfo is what Structure.Info returns for a chunk id: its owning depth
// and the capacity (in points) that chunk was allocated with.
type ChunkInfo struct {
	Depth       int
	ChunkPoints int64
}

// Structure is the immutable configuration of one octree: the depth range
// held in memory (the "base" subtree) and the depth range persisted to cold
// chunks on disk.
//
// Invariant: baseDepthBegin <= baseDepthEnd <= coldDepthBegin <= coldDepthEnd.
// Passing New a coldDepthEnd below coldDepthBegin leaves the cold depth end
// unset, meaning "as deep as the data goes."
type Structure struct {
	baseDepthBegin, baseDepthEnd int
	coldDepthBegin, coldDepthEnd int
	coldDepthUnbounded          bool

	baseIndexBegin int64
	baseIndexSpan  int64

	// depths indexes depthInfo by depth for every depth from 0 through
	// coldDepthEnd (or through a fixed lookahead window when the cold
	// depth end is unbounded).
	depths []depthInfo
}

// unboundedLookahead caps how many depths beyond coldDepthBegin get a
// precomputed table row when coldDepthEnd is left unbounded. The table ends
// one depth past that window and is never extended: IndexBegin and
// CellsAtDepth return an error for any deeper depth, and DepthOf for any
// index beyond the table.
const unboundedLookahead = 32

// New validates and constructs a Structure.
func New(baseDepthBegin, baseDepthEnd, coldDepthBegin, coldDepthEnd int) (*Structure, error) {
	if baseDepthBegin < 0 {
		return nil, errors.Errorf("invalid base depth begin %d", baseDepthBegin)
	}
	if baseDepthEnd < baseDepthBegin {
		return nil, errors.Errorf("base depth end %d precedes base depth begin %d", baseDepthEnd, baseDepthBegin)
	}
	if coldDepthBegin < baseDepthEnd {
		return nil, errors.Errorf("cold depth begin %d precedes base depth end %d", coldDepthBegin, baseDepthEnd)
	}

	s := &Structure{
		baseDepthBegin: baseDepthBegin,
		baseDepthEnd:   baseDepthEnd,
		coldDepthBegin: coldDepthBegin,
	}

	maxDepth := coldDepthEnd
	if coldDepthEnd < coldDepthBegin {
		s.coldDepthUnbounded = true
		maxDepth = coldDepthBegin + unboundedLookahead
	} else {
		s.coldDepthEnd = coldDepthEnd
	}

	s.depths = make([]depthInfo, maxDepth+2)
	var begin int64 = 0
	var cells int64 = 1
	for d := 0; d <= maxDepth+1; d++ {
		s.depths[d] = depthInfo{indexBegin: begin, chunkPoints: cells}
		begin += cells
		cells *= 8
	}

	s.baseIndexBegin = s.depths[baseDepthBegin].indexBegin
	s.baseIndexSpan = s.depths[baseDepthEnd+1].indexBegin - s.baseIndexBegin

	return s, nil
}

// BaseDepthBegin is the shallowest depth held in the in-memory base subtree.
func (s *Structure) BaseDepthBegin() int { return s.baseDepthBegin }

// BaseDepthEnd is the deepest depth held in the in-memory base subtree.
func (s *Structure) BaseDepthEnd() int { return s.baseDepthEnd }

// ColdDepthBegin is the shallowest depth persisted to cold chunks on disk.
func (s *Structure) ColdDepthBegin() int { return s.coldDepthBegin }

// ColdDepthEnd is the deepest depth persisted to cold chunks, or false if
// the structure has no configured maximum depth.
func (s *Structure) ColdDepthEnd() (int, bool) {
	if s.coldDepthUnbounded {
		return 0, false
	}
	return s.coldDepthEnd, true
}

// BaseIndexBegin is the first raw index included in the base subtree.
func (s *Structure) BaseIndexBegin() int64 { return s.baseIndexBegin }

// BaseIndexSpan is the total number of cells across all base depths.
func (s *Structure) BaseIndexSpan() int64 { return s.baseIndexSpan }

// BaseIndexEnd is the first raw index past the base subtree — the first
// index a cold chunk may own.
func (s *Structure) BaseIndexEnd() int64 { return s.baseIndexBegin + s.baseIndexSpan }

// IndexBegin returns the first raw index at depth.
func (s *Structure) IndexBegin(depth int) (int64, error) {
	if err := s.ensureDepth(depth); err != nil {
		return 0, err
	}
	return s.depths[depth].indexBegin, nil
}

// CellsAtDepth returns the number of cells (8^depth) at depth.
func (s *Structure) CellsAtDepth(depth int) (int64, error) {
	if err := s.ensureDepth(depth); err != nil {
		return 0, err
	}
	return s.depths[depth].chunkPoints, nil
}

func (s *Structure) ensureDepth(depth int) error {
	if depth < 0 || depth >= len(s.depths) {
		return errors.Errorf("depth %d out of range for this structure", depth)
	}
	return nil
}

// DepthOf returns the depth owning raw index. It scans depth boundaries
// linearly from depth 0, so it takes O(depth) steps; boundaries grow
// geometrically (8x per level), so that is logarithmic in index.
func (s *Structure) DepthOf(index int64) (int, error) {
	if index < 0 {
		return 0, errors.Errorf("invalid negative index %d", index)
	}
	for d := 0; d < len(s.depths)-1; d++ {
		if index < s.depths[d+1].indexBegin {
			return d, nil
		}
	}
	return 0, errors.Errorf("index %d exceeds this structure's configured depth", index)
}

// ChunkID resolves the cold chunk that owns index. This repo groups one
// chunk per depth, so a cold chunk's id is always the first raw index at its
// owning depth.
func (s *Structure) ChunkID(index int64) (int64, error) {
	depth, err := s.DepthOf(index)
	if err != nil {
		return 0, err
	}
	if depth < s.coldDepthBegin {
		return 0, errors.Errorf("index %d at depth %d is in the base subtree, not a cold chunk", index, depth)
	}
	return s.depths[depth].indexBegin, nil
}

// Info returns the owning depth and point capacity for the chunk beginning
// at chunkID.
func (s *Structure) Info(chunkID int64) (ChunkInfo, error) {
	depth, err := s.DepthOf(chunkID)
	if err != nil {
		return ChunkInfo{}, err
	}
	if s.depths[depth].indexBegin != chunkID {
		return ChunkInfo{}, errors.Errorf("chunk id %d is not a chunk-aligned index (depth %d begins at %d)",
			chunkID, depth, s.depths[depth].indexBegin)
	}
	return ChunkInfo{Depth: depth, ChunkPoints: s.depths[depth].chunkPoints}, nil
}

// FullBounds returns the cubic bounds assigned to the root (depth 0) node.
func FullBounds(min, max point.Point) point.Bounds {
	return point.Cube(min, max)
}
