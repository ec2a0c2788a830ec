package chunk

import (
	"sync"

	"github.com/qiangqiangyao/entwine/octree"
	"github.com/qiangqiangyao/entwine/point"
)

// Tube is a vertical column of storage: one primary Entry plus a map from
// vertical "tick" to secondary Entries, letting multiple points that share
// an (x, y) cell at a given depth coexist by differing in Z.
//
// The primary cell is canonical for whichever tick first lands in it; every
// other tick for the same (x, y) cell spills into secondaryCells.
type Tube struct {
	bounds    point.Bounds
	pointSize int

	primary   *Entry
	secondary sync.Map // int64 tick -> *Entry

	createMu sync.Mutex
}

// NewTube constructs a Tube over the given cell bounds. primaryRaw is the
// byte window the primary Entry will write into — for a base-subtree cell
// this aliases the base buffer; pointSize sizes secondary Entries created
// on demand.
func NewTube(bounds point.Bounds, pointSize int, primaryRaw []byte) *Tube {
	return &Tube{
		bounds:    bounds,
		pointSize: pointSize,
		primary:   NewEntry(primaryRaw),
	}
}

// Primary returns the tube's primary entry.
func (t *Tube) Primary() *Entry {
	return t.primary
}

// RangeSecondary calls fn for every secondary entry currently published,
// in no particular order. fn returning false stops iteration early.
func (t *Tube) RangeSecondary(fn func(tick int64, e *Entry) bool) {
	t.secondary.Range(func(k, v any) bool {
		return fn(k.(int64), v.(*Entry))
	})
}

// Insert applies the Tube insert protocol from SPEC_FULL.md §4.2 for point
// p with attribute bytes raw: place it in the primary cell if empty or
// coincident with the primary's current tick, otherwise route it to the
// secondary cell for its tick, creating that cell if necessary. The bool
// result reports whether this call populated a previously-empty slot
// (true) versus overwrote an already-occupied one (false) — callers use
// this to maintain point counts.
func (t *Tube) Insert(p point.Point, raw []byte) bool {
	if t.primary.SetPointIfNull(p) {
		t.primary.WriteRaw(raw)
		return true
	}

	tick := octree.CalcTick(p, t.bounds)
	if existing := t.primary.Point(); existing != nil && octree.CalcTick(*existing, t.bounds) == tick {
		t.primary.WriteRaw(raw)
		return false
	}

	entry := t.secondaryEntry(tick)
	if entry.SetPointIfNull(p) {
		entry.WriteRaw(raw)
		return true
	}
	entry.WriteRaw(raw)
	return false
}

// secondaryEntry finds or idempotently creates the secondary Entry for
// tick. Two concurrent callers creating the same new tick must observe
// exactly one Entry; the createMu mutex makes that check-then-create
// atomic, matching SPEC_FULL.md §5's Tube-level synchronization rule.
func (t *Tube) secondaryEntry(tick int64) *Entry {
	if v, ok := t.secondary.Load(tick); ok {
		return v.(*Entry)
	}

	t.createMu.Lock()
	defer t.createMu.Unlock()
	if v, ok := t.secondary.Load(tick); ok {
		return v.(*Entry)
	}
	e := NewEntry(make([]byte, t.pointSize))
	t.secondary.Store(tick, e)
	return e
}
