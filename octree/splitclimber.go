package octree

import (
	"github.com/pkg/errors"

	"github.com/qiangqiangyao/entwine/point"
)

// frame is one level of SplitClimber's explicit backtracking stack: a
// visited node plus the next child octant still worth trying. Keeping this
// as a slice-backed stack (rather than recursion) bounds SplitClimber's
// memory to its depth and lets Next implement "terminate this branch"
// without exception-style unwinding, per the core spec's design notes.
type frame struct {
	index      int64
	depth      int
	bounds     point.Bounds
	nextOctant int
}

// SplitClimber is a restartable, depth-first pre-order walk of the octree
// that prunes subtrees not intersecting a query's bounds. In chunkMode it
// walks cold depths at chunk granularity (this repo groups one chunk per
// depth, so each cold "node" is a whole depth level) instead of per cell,
// and yields every depth in the band without testing the query bounds.
type SplitClimber struct {
	structure  *Structure
	fullBounds point.Bounds
	queryBounds point.Bounds
	depthBegin, depthEnd int
	chunkMode  bool

	started bool
	done    bool

	// cell-mode state
	current frame
	stack   []frame

	// chunk-mode state
	chunkDepth int
}

// NewSplitClimber constructs a SplitClimber. depthBegin/depthEnd form a
// half-open [depthBegin, depthEnd) depth band. When chunkMode is true,
// depthBegin and depthEnd are interpreted against the structure's cold
// depth range.
func NewSplitClimber(
	structure *Structure,
	fullBounds, queryBounds point.Bounds,
	depthBegin, depthEnd int,
	chunkMode bool,
) (*SplitClimber, error) {
	if depthEnd <= depthBegin {
		return nil, errors.Errorf("invalid depth band [%d, %d)", depthBegin, depthEnd)
	}
	c := &SplitClimber{
		structure:   structure,
		fullBounds:  fullBounds,
		queryBounds: queryBounds,
		depthBegin:  depthBegin,
		depthEnd:    depthEnd,
		chunkMode:   chunkMode,
	}
	if chunkMode {
		c.chunkDepth = depthBegin
	}
	return c, nil
}

// Index returns the current node's raw index (for chunkMode, the chunk id —
// the first raw index at the current depth).
func (c *SplitClimber) Index() int64 {
	if c.chunkMode {
		begin, err := c.structure.IndexBegin(c.chunkDepth)
		if err != nil {
			return 0
		}
		return begin
	}
	return c.current.index
}

// Depth returns the current node's depth.
func (c *SplitClimber) Depth() int {
	if c.chunkMode {
		return c.chunkDepth
	}
	return c.current.depth
}

// Next advances the walk in depth-first pre-order and reports whether a
// node is now current. terminateCurrent forces the walk to treat the
// current node as a leaf (no descent) regardless of bounds.
func (c *SplitClimber) Next(terminateCurrent bool) (bool, error) {
	if c.done {
		return false, errors.New("SplitClimber.Next called after the walk completed")
	}
	if c.chunkMode {
		return c.nextChunk(terminateCurrent)
	}
	return c.nextCell(terminateCurrent)
}

func (c *SplitClimber) nextChunk(terminateCurrent bool) (bool, error) {
	if !c.started {
		c.started = true
		if c.chunkDepth >= c.depthEnd {
			c.done = true
			return false, nil
		}
		return true, nil
	}
	if terminateCurrent || c.chunkDepth+1 >= c.depthEnd {
		c.done = true
		return false, nil
	}
	c.chunkDepth++
	return true, nil
}

// nextCell advances the walk one visited node at a time, always descending
// from the root regardless of depthBegin (the tree has no shortcut into a
// depth band), then filters out nodes shallower than depthBegin before
// yielding: terminateCurrent only governs the caller's current node, so it
// is honored on the first step and dropped for every step taken purely to
// skip past the below-band prefix.
func (c *SplitClimber) nextCell(terminateCurrent bool) (bool, error) {
	for {
		ok, err := c.stepCell(terminateCurrent)
		if err != nil || !ok {
			return ok, err
		}
		if c.current.depth >= c.depthBegin {
			return true, nil
		}
		terminateCurrent = false
	}
}

func (c *SplitClimber) stepCell(terminateCurrent bool) (bool, error) {
	if !c.started {
		c.started = true
		c.current = frame{index: 0, depth: 0, bounds: c.fullBounds}
		if c.current.depth >= c.depthEnd {
			c.done = true
			return false, nil
		}
		return true, nil
	}

	descend := !terminateCurrent &&
		c.current.bounds.Intersects(c.queryBounds) &&
		c.current.depth < c.depthEnd-1

	if descend {
		if child, ok, err := c.firstIntersectingChild(&c.current); err != nil {
			return false, err
		} else if ok {
			c.stack = append(c.stack, c.current)
			c.current = child
			return true, nil
		}
	}

	for len(c.stack) > 0 {
		parent := &c.stack[len(c.stack)-1]
		child, ok, err := c.firstIntersectingChild(parent)
		if err != nil {
			return false, err
		}
		if ok {
			c.current = child
			return true, nil
		}
		c.stack = c.stack[:len(c.stack)-1]
	}

	c.done = true
	return false, nil
}

// firstIntersectingChild scans parent's remaining children in +x,+y,+z
// order, mutating parent.nextOctant so a later resumption continues where
// this call left off.
func (c *SplitClimber) firstIntersectingChild(parent *frame) (frame, bool, error) {
	parentBegin, err := c.structure.IndexBegin(parent.depth)
	if err != nil {
		return frame{}, false, err
	}
	childBegin, err := c.structure.IndexBegin(parent.depth + 1)
	if err != nil {
		return frame{}, false, err
	}

	for parent.nextOctant < 8 {
		octant := parent.nextOctant
		parent.nextOctant++

		bounds := ChildBounds(parent.bounds, octant)
		if !bounds.Intersects(c.queryBounds) {
			continue
		}
		return frame{
			index:  ChildIndex(parent.index, parentBegin, childBegin, octant),
			depth:  parent.depth + 1,
			bounds: bounds,
		}, true, nil
	}
	return frame{}, false, nil
}
