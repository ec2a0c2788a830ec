package octree

import (
	"testing"

	"go.viam.com/test"

	"github.com/qiangqiangyao/entwine/point"
)

func fullSpace() point.Bounds {
	return point.Bounds{
		Min: point.Point{X: -1, Y: -1, Z: -1},
		Max: point.Point{X: 1, Y: 1, Z: 1},
	}
}

func TestSplitClimberVisitsEveryCellWhenQueryIsFull(t *testing.T) {
	s, err := New(0, 2, 3, 3)
	test.That(t, err, test.ShouldBeNil)

	full := fullSpace()
	c, err := NewSplitClimber(s, full, full, 0, 3, false)
	test.That(t, err, test.ShouldBeNil)

	seen := map[int64]bool{}
	for {
		ok, err := c.Next(false)
		test.That(t, err, test.ShouldBeNil)
		if !ok {
			break
		}
		seen[c.Index()] = true
	}

	// depth 0: 1, depth 1: 8, depth 2: 64 -> 73 total cells.
	test.That(t, len(seen), test.ShouldEqual, 73)
}

func TestSplitClimberPrunesNonIntersectingOctant(t *testing.T) {
	s, err := New(0, 2, 3, 3)
	test.That(t, err, test.ShouldBeNil)

	full := fullSpace()
	// query only the +x,+y,+z octant (upper corner).
	query := point.Bounds{
		Min: point.Point{X: 0.01, Y: 0.01, Z: 0.01},
		Max: point.Point{X: 1, Y: 1, Z: 1},
	}
	c, err := NewSplitClimber(s, full, query, 0, 3, false)
	test.That(t, err, test.ShouldBeNil)

	var depth1Count int
	for {
		ok, err := c.Next(false)
		test.That(t, err, test.ShouldBeNil)
		if !ok {
			break
		}
		if c.Depth() == 1 {
			depth1Count++
		}
	}
	test.That(t, depth1Count, test.ShouldEqual, 1)
}

func TestSplitClimberTerminateCurrentStopsDescent(t *testing.T) {
	s, err := New(0, 2, 3, 3)
	test.That(t, err, test.ShouldBeNil)

	full := fullSpace()
	c, err := NewSplitClimber(s, full, full, 0, 3, false)
	test.That(t, err, test.ShouldBeNil)

	ok, err := c.Next(false) // root
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, c.Depth(), test.ShouldEqual, 0)

	ok, err = c.Next(true) // terminate root: should not descend to depth 1
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeFalse)
}

// TestSplitClimberHonorsDepthBeginInCellMode covers the cell-mode lower
// bound: a climber with depthBegin > 0 must descend through the shallower
// levels without yielding them, only starting to emit at depthBegin.
func TestSplitClimberHonorsDepthBeginInCellMode(t *testing.T) {
	s, err := New(0, 2, 3, 3)
	test.That(t, err, test.ShouldBeNil)

	full := fullSpace()
	c, err := NewSplitClimber(s, full, full, 1, 3, false)
	test.That(t, err, test.ShouldBeNil)

	var minDepth = 99
	var count int
	for {
		ok, err := c.Next(false)
		test.That(t, err, test.ShouldBeNil)
		if !ok {
			break
		}
		count++
		if c.Depth() < minDepth {
			minDepth = c.Depth()
		}
	}

	// depth 1: 8, depth 2: 64 -> 72 total cells, none at depth 0.
	test.That(t, minDepth, test.ShouldEqual, 1)
	test.That(t, count, test.ShouldEqual, 72)
}

func TestSplitClimberChunkModeWalksColdDepths(t *testing.T) {
	s, err := New(0, 1, 2, 4)
	test.That(t, err, test.ShouldBeNil)

	full := fullSpace()
	c, err := NewSplitClimber(s, full, full, 2, 5, true)
	test.That(t, err, test.ShouldBeNil)

	var depths []int
	for {
		ok, err := c.Next(false)
		test.That(t, err, test.ShouldBeNil)
		if !ok {
			break
		}
		depths = append(depths, c.Depth())
	}
	test.That(t, depths, test.ShouldResemble, []int{2, 3, 4})
}

func TestSplitClimberNextAfterCompletionErrors(t *testing.T) {
	s, err := New(0, 1, 2, 2)
	test.That(t, err, test.ShouldBeNil)

	full := fullSpace()
	c, err := NewSplitClimber(s, full, full, 2, 3, true)
	test.That(t, err, test.ShouldBeNil)

	for {
		ok, err := c.Next(false)
		test.That(t, err, test.ShouldBeNil)
		if !ok {
			break
		}
	}
	_, err = c.Next(false)
	test.That(t, err, test.ShouldNotBeNil)
}
