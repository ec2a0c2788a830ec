// Package chunk implements the per-cell storage primitives (Entry, Tube)
// and the two on-disk chunk layouts (Sparse, Contiguous) that back the
// octree's cold depths and base subtree.
package chunk

import (
	"sync"

	"go.uber.org/atomic"

	"github.com/qiangqiangyao/entwine/point"
)

// Entry is one storage cell: an atomic, publish-once Point slot plus a
// mutex-guarded window into raw point bytes. The atomic slot lets readers
// check occupancy and read the coordinate without ever taking the mutex;
// only writers touching the raw bytes need it.
type Entry struct {
	p   atomic.Pointer[point.Point]
	mu  sync.Mutex
	raw []byte
}

// NewEntry returns an Entry whose raw byte window is raw. raw is not
// copied: for a Contiguous chunk it aliases a slice of the chunk's single
// backing buffer; for a Sparse chunk it is the SparseEntry's own buffer.
func NewEntry(raw []byte) *Entry {
	return &Entry{raw: raw}
}

// Point returns the entry's point, or nil if the slot has never been
// published. Safe to call without locking.
func (e *Entry) Point() *point.Point {
	return e.p.Load()
}

// SetPointIfNull publishes p into the slot if it is currently empty,
// reporting whether this call won the race. A losing call does not store p:
// another point (possibly a different one) already occupies the slot.
func (e *Entry) SetPointIfNull(p point.Point) bool {
	return e.p.CompareAndSwap(nil, &p)
}

// WriteRaw copies b into the entry's raw byte window under the entry's
// mutex. Safe to call concurrently; callers needing a larger atomic
// critical section (check-then-write) should use Lock/Unlock directly.
func (e *Entry) WriteRaw(b []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	copy(e.raw, b)
}

// Raw returns the entry's raw byte window. Callers must hold the entry's
// lock (via Lock/Unlock) if they intend to mutate it outside WriteRaw.
func (e *Entry) Raw() []byte {
	return e.raw
}

// Lock acquires the entry's mutex, guarding concurrent writes to Raw.
func (e *Entry) Lock() { e.mu.Lock() }

// Unlock releases the entry's mutex.
func (e *Entry) Unlock() { e.mu.Unlock() }

// TryLock attempts to acquire the entry's mutex without blocking.
func (e *Entry) TryLock() bool { return e.mu.TryLock() }
