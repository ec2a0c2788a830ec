// Package registry implements the build-side orchestrator: it routes each
// incoming point to the base subtree or to a lazily-created cold chunk,
// and drives the save/finalize walk that serializes cold chunks to blobs.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/qiangqiangyao/entwine/blob"
	"github.com/qiangqiangyao/entwine/chunk"
	"github.com/qiangqiangyao/entwine/compress"
	"github.com/qiangqiangyao/entwine/octree"
	"github.com/qiangqiangyao/entwine/point"
	"github.com/qiangqiangyao/entwine/schema"
)

// PointInfo is one incoming point: its coordinate (used for octree descent
// and tube tick placement) and the full native record bytes, already
// encoded under the registry's Schema, to store in whichever Entry it
// lands on.
type PointInfo struct {
	Point point.Point
	Raw   []byte
}

// Clipper decides, once a chunk's use count reaches zero, whether that
// chunk's in-memory data should be serialized and dropped now. The core
// spec leaves Clipper's exact contract unspecified (see DESIGN.md); this
// is the narrowest contract consistent with Registry.Clip's description.
type Clipper interface {
	Clip(chunkID int64) bool
}

// AlwaysClip is the default Clipper: drop immediately, every time.
type AlwaysClip struct{}

// Clip implements Clipper.
func (AlwaysClip) Clip(int64) bool { return true }

// Registry is the build-side orchestrator: one in-memory base subtree of
// Tubes, plus a lazily-populated table of cold Chunks, each created once
// under registry-level mutual exclusion.
type Registry struct {
	structure  *octree.Structure
	schema     schema.Schema
	source     blob.Source
	codec      compress.Codec
	fullBounds point.Bounds
	readerPath string
	logger     golog.Logger

	baseTubes []*chunk.Tube

	coldMu     sync.Mutex
	coldChunks map[int64]chunk.ChunkData
	useCounts  map[int64]int
}

// New allocates a Registry's in-memory base subtree and empty cold-chunk
// table. fullBounds is the dataset's overall bounds, used uniformly for
// every tube's tick computation (see DESIGN.md for why a single shared
// bounds, rather than each tube's own cell bounds, is used here). readerPath
// scopes this dataset's chunk blob names, matching the key a cache.Cache
// will look the same chunk up under on the read side.
func New(structure *octree.Structure, s schema.Schema, source blob.Source, codec compress.Codec, fullBounds point.Bounds, readerPath string, logger golog.Logger) *Registry {
	ps := s.PointSize()
	span := int(structure.BaseIndexSpan())

	baseData := make([]byte, span*ps)
	tubes := make([]*chunk.Tube, span)
	empty := point.Empty()
	for i := range tubes {
		raw := baseData[i*ps : (i+1)*ps]
		chunk.WritePoint(schema.NewBinaryPoint(s, raw), empty)
		tubes[i] = chunk.NewTube(fullBounds, ps, raw)
	}

	return &Registry{
		structure:  structure,
		schema:     s,
		source:     source,
		codec:      codec,
		fullBounds: fullBounds,
		readerPath: readerPath,
		logger:     logger,
		baseTubes:  tubes,
		coldChunks: make(map[int64]chunk.ChunkData),
		useCounts:  make(map[int64]int),
	}
}

// blobName returns the scoped blob key a chunk with this chunkID is
// persisted under, matching cache's own key format.
func (r *Registry) blobName(chunkID int64) string {
	return fmt.Sprintf("%s/%d", r.readerPath, chunkID)
}

// AddPoint descends roller to depth along info.Point, then inserts info
// into whichever Entry that final index owns: a base Tube if the index
// falls under BaseIndexEnd, otherwise the cold chunk owning it, creating
// that chunk on first use. clipper is consulted (via Clip) only by a later
// Clip call, not by AddPoint itself.
func (r *Registry) AddPoint(info PointInfo, roller octree.Roller, depth int) error {
	for roller.Depth() < depth {
		next, err := roller.Descend(r.structure, info.Point)
		if err != nil {
			return errors.Wrap(err, "descending roller")
		}
		roller = next
	}

	index := roller.Index()
	if index < r.structure.BaseIndexEnd() {
		tube, err := r.baseTube(index)
		if err != nil {
			return err
		}
		tube.Insert(info.Point, info.Raw)
		return nil
	}

	entry, err := r.coldEntry(index)
	if err != nil {
		return err
	}
	// Cold entries have no Tube to spill a tick collision into: a second
	// point landing on this index silently overwrites the first one's raw
	// bytes, same as a coincident-tick Tube overwrite but with no secondary
	// cell to fall back to.
	entry.SetPointIfNull(info.Point)
	entry.WriteRaw(info.Raw)
	return nil
}

func (r *Registry) baseTube(index int64) (*chunk.Tube, error) {
	i := index - r.structure.BaseIndexBegin()
	if i < 0 || int(i) >= len(r.baseTubes) {
		return nil, errors.Errorf("base index %d out of range", index)
	}
	return r.baseTubes[i], nil
}

// coldEntry finds or creates the cold chunk owning index, then returns the
// Entry for index within it. Per the core spec §4.7, a newly created
// chunk is Sparse unless its chunk id is exactly 0, in which case it is
// Contiguous (the degenerate case of a structure with no base subtree at
// all, where the root chunk behaves like the base's chunk 0 would).
func (r *Registry) coldEntry(index int64) (*chunk.Entry, error) {
	chunkID, err := r.structure.ChunkID(index)
	if err != nil {
		return nil, err
	}

	r.coldMu.Lock()
	cd, ok := r.coldChunks[chunkID]
	if !ok {
		info, err := r.structure.Info(chunkID)
		if err != nil {
			r.coldMu.Unlock()
			return nil, err
		}
		if chunkID == 0 {
			cd = chunk.NewContiguousChunkData(r.schema, chunkID, info.ChunkPoints)
		} else {
			cd = chunk.NewSparseChunkData(r.schema, chunkID, info.ChunkPoints)
		}
		r.coldChunks[chunkID] = cd
		r.logger.Debugw("created cold chunk", "chunkId", chunkID)
	}
	r.useCounts[chunkID]++
	r.coldMu.Unlock()

	return cd.GetEntry(index)
}

// Clip signals that the caller no longer needs the chunk owning index. If
// the chunk's use count reaches zero and clipper.Clip approves, the
// Registry serializes that chunk immediately and drops it from the live
// table; a later AddPoint into the same chunk id re-creates it empty.
func (r *Registry) Clip(ctx context.Context, index int64, clipper Clipper) error {
	chunkID, err := r.structure.ChunkID(index)
	if err != nil {
		return err
	}

	r.coldMu.Lock()
	r.useCounts[chunkID]--
	count := r.useCounts[chunkID]
	cd, ok := r.coldChunks[chunkID]
	r.coldMu.Unlock()

	if !ok || count > 0 || !clipper.Clip(chunkID) {
		return nil
	}

	info, err := r.structure.Info(chunkID)
	if err != nil {
		return err
	}
	if err := cd.Write(ctx, r.source, r.codec, r.blobName(chunkID), chunkID, chunkID+info.ChunkPoints); err != nil {
		return errors.Wrapf(err, "clipping chunk %d", chunkID)
	}

	r.coldMu.Lock()
	delete(r.coldChunks, chunkID)
	delete(r.useCounts, chunkID)
	r.coldMu.Unlock()
	return nil
}

// Save walks every live cold chunk, finalizes it to source, and returns
// the set of chunk ids persisted, for the caller to fold into its
// metadata envelope.
func (r *Registry) Save(ctx context.Context) ([]int64, error) {
	r.coldMu.Lock()
	ids := make([]int64, 0, len(r.coldChunks))
	chunks := make(map[int64]chunk.ChunkData, len(r.coldChunks))
	for id, cd := range r.coldChunks {
		ids = append(ids, id)
		chunks[id] = cd
	}
	r.coldMu.Unlock()

	var combined error
	for _, id := range ids {
		info, err := r.structure.Info(id)
		if err != nil {
			combined = multierr.Append(combined, err)
			continue
		}
		cd := chunks[id]
		if err := cd.Write(ctx, r.source, r.codec, r.blobName(id), id, id+info.ChunkPoints); err != nil {
			combined = multierr.Append(combined, errors.Wrapf(err, "saving chunk %d", id))
		}
	}

	if combined != nil {
		return nil, combined
	}
	return ids, nil
}

// BaseTubes exposes the registry's in-memory base subtree for direct query
// access (Query drains it index-by-index without going through the
// cache, since it never leaves memory during a build/query session).
func (r *Registry) BaseTubes() []*chunk.Tube {
	return r.baseTubes
}
