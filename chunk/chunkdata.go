package chunk

import (
	"context"
	"encoding/binary"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/qiangqiangyao/entwine/blob"
	"github.com/qiangqiangyao/entwine/compress"
	"github.com/qiangqiangyao/entwine/point"
	"github.com/qiangqiangyao/entwine/schema"
)

// Marker values are the trailing byte of every chunk blob, stable across
// format versions: Sparse = 0x00, Contiguous = 0x01.
const (
	MarkerSparse      byte = 0x00
	MarkerContiguous  byte = 0x01
	tubeIDFieldLength      = 8
)

// ChunkData is a chunk's point storage: either a ContiguousChunkData (dense
// array, one Entry per rawIndex) or a SparseChunkData (map keyed by
// rawIndex). The chunk's variant is fixed for its lifetime once constructed.
type ChunkData interface {
	// ID is the chunk's begin id: the lowest rawIndex it owns.
	ID() int64

	// MaxPoints is the number of rawIndex slots the chunk owns.
	MaxPoints() int64

	// GetEntry returns the Entry for rawIndex, which must satisfy
	// ID() <= rawIndex < ID()+MaxPoints().
	GetEntry(rawIndex int64) (*Entry, error)

	// Write compresses the slice of this chunk's data in [begin, end) and
	// persists it to source under name. The caller picks name (typically
	// scoping it to a reader path, matching how the cache package keys its
	// own lookups) rather than this package inventing one from begin,
	// since chunk has no notion of which dataset/reader it belongs to.
	Write(ctx context.Context, source blob.Source, codec compress.Codec, name string, begin, end int64) error
}

// ReadPoint extracts the X/Y/Z dimensions of bp as a point.Point. Shared by
// the chunkreader, registry, and query packages so every reader of a raw
// point record agrees on field names.
func ReadPoint(bp schema.BinaryPoint) point.Point {
	return point.Point{
		X: bp.GetFloat64(schema.XDimension),
		Y: bp.GetFloat64(schema.YDimension),
		Z: bp.GetFloat64(schema.ZDimension),
	}
}

// WritePoint writes p's X/Y/Z into bp's corresponding dimensions.
func WritePoint(bp schema.BinaryPoint, p point.Point) {
	bp.SetFloat64(schema.XDimension, p.X)
	bp.SetFloat64(schema.YDimension, p.Y)
	bp.SetFloat64(schema.ZDimension, p.Z)
}

// DensityThreshold returns the populated-fraction of maxPoints above which
// a SparseChunkData becomes a better candidate for promotion to Contiguous
// than it is for staying Sparse: the point at which a sparse record's
// per-entry 8-byte index overhead outweighs the dense array's wasted empty
// slots. This repository does not act on the threshold; see DESIGN.md for
// why promotion itself is unimplemented.
func DensityThreshold(pointSize int) float64 {
	return float64(pointSize) / float64(pointSize+tubeIDFieldLength)
}

// ContiguousChunkData is a dense array of maxPoints Entries, backed by one
// maxPoints*pointSize byte buffer. Every slot exists whether or not it has
// been written; an unwritten slot's X and Y hold point.Empty's sentinel.
type ContiguousChunkData struct {
	schema    schema.Schema
	id        int64
	maxPoints int64

	data    []byte
	entries []*Entry
}

// NewContiguousChunkData allocates an empty ContiguousChunkData: every slot
// present, none populated.
func NewContiguousChunkData(s schema.Schema, id, maxPoints int64) *ContiguousChunkData {
	ps := s.PointSize()
	data := make([]byte, int(maxPoints)*ps)
	entries := make([]*Entry, maxPoints)

	empty := point.Empty()
	for i := range entries {
		raw := data[i*ps : (i+1)*ps]
		WritePoint(schema.NewBinaryPoint(s, raw), empty)
		entries[i] = NewEntry(raw)
	}

	return &ContiguousChunkData{schema: s, id: id, maxPoints: maxPoints, data: data, entries: entries}
}

// NewContiguousChunkDataFromCompressed reconstructs a ContiguousChunkData
// from a compressed byte buffer produced by a prior Write: it decompresses
// to the expected maxPoints*pointSize length, then publishes each slot's
// point.Point into its Entry's atomic slot wherever the slot's X or Y shows
// it is populated.
func NewContiguousChunkDataFromCompressed(
	s schema.Schema, id, maxPoints int64, codec compress.Codec, compressed []byte,
) (*ContiguousChunkData, error) {
	ps := s.PointSize()
	expected := int(maxPoints) * ps
	data, err := codec.Decompress(s, compressed, expected)
	if err != nil {
		return nil, errors.Wrap(err, "decompressing contiguous chunk data")
	}

	entries := make([]*Entry, maxPoints)
	for i := range entries {
		raw := data[i*ps : (i+1)*ps]
		entries[i] = NewEntry(raw)
		p := ReadPoint(schema.NewBinaryPoint(s, raw))
		if p.Exists() {
			entries[i].SetPointIfNull(p)
		}
	}

	return &ContiguousChunkData{schema: s, id: id, maxPoints: maxPoints, data: data, entries: entries}, nil
}

// ID implements ChunkData.
func (c *ContiguousChunkData) ID() int64 { return c.id }

// MaxPoints implements ChunkData.
func (c *ContiguousChunkData) MaxPoints() int64 { return c.maxPoints }

// GetEntry implements ChunkData.
func (c *ContiguousChunkData) GetEntry(rawIndex int64) (*Entry, error) {
	if rawIndex < c.id || rawIndex >= c.id+c.maxPoints {
		return nil, errors.Errorf("raw index %d out of range [%d, %d)", rawIndex, c.id, c.id+c.maxPoints)
	}
	return c.entries[rawIndex-c.id], nil
}

// Write implements ChunkData: compresses data[(begin-id)*ps : (end-id)*ps]
// and appends the Contiguous marker.
func (c *ContiguousChunkData) Write(ctx context.Context, source blob.Source, codec compress.Codec, name string, begin, end int64) error {
	ps := c.schema.PointSize()
	lo := int(begin-c.id) * ps
	hi := int(end-c.id) * ps
	if lo < 0 || hi > len(c.data) || lo > hi {
		return errors.Errorf("write range [%d, %d) outside chunk %d", begin, end, c.id)
	}

	compressed, err := codec.Compress(c.schema, c.data[lo:hi])
	if err != nil {
		return errors.Wrap(err, "compressing contiguous chunk data")
	}
	compressed = append(compressed, MarkerContiguous)

	return source.Put(ctx, name, compressed)
}

// sparseEntry pairs a SparseChunkData slot's owned byte buffer with the
// Entry that points into it.
type sparseEntry struct {
	raw   []byte
	entry *Entry
}

// SparseChunkData backs a map from rawIndex to sparseEntry. It is used for
// every cold chunk except the base's chunk zero, where most slots are
// expected to remain empty for the chunk's lifetime.
type SparseChunkData struct {
	schema       schema.Schema
	celledSchema schema.Schema
	id           int64
	maxPoints    int64
	pointSize    int

	mu      sync.Mutex
	entries map[int64]*sparseEntry
}

// NewSparseChunkData allocates an empty SparseChunkData.
func NewSparseChunkData(s schema.Schema, id, maxPoints int64) *SparseChunkData {
	return &SparseChunkData{
		schema:       s,
		celledSchema: s.Celled(),
		id:           id,
		maxPoints:    maxPoints,
		pointSize:    s.PointSize(),
		entries:      make(map[int64]*sparseEntry),
	}
}

// NewSparseChunkDataFromCompressed reconstructs a SparseChunkData from a
// compressed celled-point byte buffer produced by a prior Write: each
// decompressed record is an 8-byte rawIndex key followed by one native
// point record under the celled schema.
func NewSparseChunkDataFromCompressed(
	s schema.Schema, id, maxPoints int64, codec compress.Codec, compressed []byte, numPoints uint64,
) (*SparseChunkData, error) {
	celled := s.Celled()
	celledSize := celled.PointSize()
	expected := int(numPoints) * celledSize

	data, err := codec.Decompress(celled, compressed, expected)
	if err != nil {
		return nil, errors.Wrap(err, "decompressing sparse chunk data")
	}

	sc := &SparseChunkData{
		schema:       s,
		celledSchema: celled,
		id:           id,
		maxPoints:    maxPoints,
		pointSize:    s.PointSize(),
		entries:      make(map[int64]*sparseEntry, numPoints),
	}

	for i := uint64(0); i < numPoints; i++ {
		record := data[int(i)*celledSize : int(i+1)*celledSize]
		celledBP := schema.NewBinaryPoint(celled, record)
		rawIndex := int64(celledBP.GetUint64(schema.TubeIDDimension))

		buf := make([]byte, sc.pointSize)
		copy(buf, record[tubeIDFieldLength:])

		entry := NewEntry(buf)
		p := ReadPoint(schema.NewBinaryPoint(s, buf))
		if p.Exists() {
			entry.SetPointIfNull(p)
		}
		sc.entries[rawIndex] = &sparseEntry{raw: buf, entry: entry}
	}

	return sc, nil
}

// ID implements ChunkData.
func (c *SparseChunkData) ID() int64 { return c.id }

// MaxPoints implements ChunkData.
func (c *SparseChunkData) MaxPoints() int64 { return c.maxPoints }

// GetEntry implements ChunkData: finds or creates the Entry for rawIndex
// under the chunk's mutex.
func (c *SparseChunkData) GetEntry(rawIndex int64) (*Entry, error) {
	if rawIndex < c.id || rawIndex >= c.id+c.maxPoints {
		return nil, errors.Errorf("raw index %d out of range [%d, %d)", rawIndex, c.id, c.id+c.maxPoints)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if se, ok := c.entries[rawIndex]; ok {
		return se.entry, nil
	}

	buf := make([]byte, c.pointSize)
	WritePoint(schema.NewBinaryPoint(c.schema, buf), point.Empty())
	se := &sparseEntry{raw: buf, entry: NewEntry(buf)}
	c.entries[rawIndex] = se
	return se.entry, nil
}

// Write implements ChunkData: serializes every populated entry in
// [begin, end), in rawIndex order, as an 8-byte key followed by its native
// point bytes, compresses the result under the celled schema, and appends
// the 8-byte point count and the Sparse marker.
func (c *SparseChunkData) Write(ctx context.Context, source blob.Source, codec compress.Codec, name string, begin, end int64) error {
	c.mu.Lock()
	keys := make([]int64, 0, len(c.entries))
	for k := range c.entries {
		if k >= begin && k < end {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	celledSize := c.celledSchema.PointSize()
	buf := make([]byte, 0, len(keys)*celledSize)
	for _, k := range keys {
		se := c.entries[k]
		record := make([]byte, celledSize)
		schema.NewBinaryPoint(c.celledSchema, record).SetUint64(schema.TubeIDDimension, uint64(k))
		copy(record[tubeIDFieldLength:], se.raw)
		buf = append(buf, record...)
	}
	numPoints := uint64(len(keys))
	c.mu.Unlock()

	compressed, err := codec.Compress(c.celledSchema, buf)
	if err != nil {
		return errors.Wrap(err, "compressing sparse chunk data")
	}

	countBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(countBytes, numPoints)
	compressed = append(compressed, countBytes...)
	compressed = append(compressed, MarkerSparse)

	return source.Put(ctx, name, compressed)
}

// NewChunkData inspects raw's trailing marker byte and dispatches to the
// Sparse or Contiguous constructor.
func NewChunkData(s schema.Schema, id, maxPoints int64, codec compress.Codec, raw []byte) (ChunkData, error) {
	if len(raw) == 0 {
		return nil, errors.New("invalid chunk data")
	}

	marker := raw[len(raw)-1]
	body := raw[:len(raw)-1]

	switch marker {
	case MarkerContiguous:
		return NewContiguousChunkDataFromCompressed(s, id, maxPoints, codec, body)
	case MarkerSparse:
		if len(body) < 8 {
			return nil, errors.New("invalid chunk data")
		}
		numPoints := binary.LittleEndian.Uint64(body[len(body)-8:])
		compressed := body[:len(body)-8]
		return NewSparseChunkDataFromCompressed(s, id, maxPoints, codec, compressed, numPoints)
	default:
		return nil, errors.Errorf("invalid chunk type")
	}
}
