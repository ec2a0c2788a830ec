package octree

import (
	"testing"

	"go.viam.com/test"
)

func TestNewValidatesDepthOrdering(t *testing.T) {
	_, err := New(2, 1, 5, 10)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = New(0, 2, 1, 10)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = New(0, 2, 2, 10)
	test.That(t, err, test.ShouldBeNil)
}

func TestBaseIndexSpan(t *testing.T) {
	s, err := New(0, 1, 2, 5)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, s.BaseIndexBegin(), test.ShouldEqual, int64(0))
	// depth 0 has 1 cell, depth 1 has 8 cells.
	test.That(t, s.BaseIndexSpan(), test.ShouldEqual, int64(9))
	test.That(t, s.BaseIndexEnd(), test.ShouldEqual, int64(9))
}

func TestChunkIDIsDepthAligned(t *testing.T) {
	s, err := New(0, 1, 2, 5)
	test.That(t, err, test.ShouldBeNil)

	begin, err := s.IndexBegin(2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, begin, test.ShouldEqual, int64(9))

	id, err := s.ChunkID(begin)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, id, test.ShouldEqual, begin)

	// Any index within depth 2's span resolves to the same chunk id.
	id, err = s.ChunkID(begin + 5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, id, test.ShouldEqual, begin)
}

func TestChunkIDRejectsBaseIndex(t *testing.T) {
	s, err := New(0, 1, 2, 5)
	test.That(t, err, test.ShouldBeNil)

	_, err = s.ChunkID(0)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestInfoRejectsUnalignedChunkID(t *testing.T) {
	s, err := New(0, 1, 2, 5)
	test.That(t, err, test.ShouldBeNil)

	begin, err := s.IndexBegin(2)
	test.That(t, err, test.ShouldBeNil)

	_, err = s.Info(begin + 1)
	test.That(t, err, test.ShouldNotBeNil)

	info, err := s.Info(begin)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.Depth, test.ShouldEqual, 2)
	test.That(t, info.ChunkPoints, test.ShouldEqual, int64(64))
}

func TestDepthOf(t *testing.T) {
	s, err := New(0, 2, 3, 6)
	test.That(t, err, test.ShouldBeNil)

	d, err := s.DepthOf(0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d, test.ShouldEqual, 0)

	begin2, err := s.IndexBegin(2)
	test.That(t, err, test.ShouldBeNil)
	d, err = s.DepthOf(begin2 + 3)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d, test.ShouldEqual, 2)
}
