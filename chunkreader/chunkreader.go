// Package chunkreader implements the read-path decoding of a cold chunk's
// blob into a tick-sorted record array, distinct from the build-path
// chunk.ChunkData: a ChunkReader is immutable once constructed and is never
// mutated by concurrent inserts, so it skips Entry's atomic/mutex machinery
// entirely and decodes straight into a flat slice.
package chunkreader

import (
	"encoding/binary"
	"sort"

	"github.com/pkg/errors"

	"github.com/qiangqiangyao/entwine/chunk"
	"github.com/qiangqiangyao/entwine/compress"
	"github.com/qiangqiangyao/entwine/octree"
	"github.com/qiangqiangyao/entwine/point"
	"github.com/qiangqiangyao/entwine/schema"
)

// Record is one decoded point: its coordinate, a view onto its native
// attribute bytes under the reader's schema, and its tick relative to the
// reader's bounds.
type Record struct {
	Point point.Point
	Raw   []byte
	Tick  int64
}

// ChunkReader decodes one cold chunk blob into its populated records,
// sorted ascending by tick so Candidates can binary-search a tick range.
type ChunkReader struct {
	chunkID int64
	bounds  point.Bounds
	records []Record
}

// NewChunkReader decodes raw (a chunk blob as produced by
// chunk.ChunkData.Write) against bounds, the bounds ticks are computed
// relative to (the cache passes the dataset's full bounds).
func NewChunkReader(s schema.Schema, codec compress.Codec, chunkID, maxPoints int64, bounds point.Bounds, raw []byte) (*ChunkReader, error) {
	if len(raw) == 0 {
		return nil, errors.New("invalid chunk data")
	}
	marker := raw[len(raw)-1]
	body := raw[:len(raw)-1]

	var records []Record
	switch marker {
	case chunk.MarkerContiguous:
		decoded, err := decodeContiguous(s, codec, maxPoints, bounds, body)
		if err != nil {
			return nil, err
		}
		records = decoded
	case chunk.MarkerSparse:
		decoded, err := decodeSparse(s, codec, bounds, body)
		if err != nil {
			return nil, err
		}
		records = decoded
	default:
		return nil, errors.New("invalid chunk type")
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Tick < records[j].Tick })
	return &ChunkReader{chunkID: chunkID, bounds: bounds, records: records}, nil
}

func decodeContiguous(s schema.Schema, codec compress.Codec, maxPoints int64, bounds point.Bounds, body []byte) ([]Record, error) {
	ps := s.PointSize()
	data, err := codec.Decompress(s, body, int(maxPoints)*ps)
	if err != nil {
		return nil, errors.Wrap(err, "decompressing contiguous chunk")
	}

	records := make([]Record, 0, maxPoints)
	for i := 0; i < int(maxPoints); i++ {
		rec := data[i*ps : (i+1)*ps]
		p := decodePoint(s, rec)
		if !p.Exists() {
			continue
		}
		records = append(records, Record{Point: p, Raw: rec, Tick: octree.CalcTick(p, bounds)})
	}
	return records, nil
}

func decodeSparse(s schema.Schema, codec compress.Codec, bounds point.Bounds, body []byte) ([]Record, error) {
	if len(body) < 8 {
		return nil, errors.New("invalid chunk data")
	}
	numPoints := binary.LittleEndian.Uint64(body[len(body)-8:])
	compressed := body[:len(body)-8]

	celled := s.Celled()
	celledSize := celled.PointSize()
	data, err := codec.Decompress(celled, compressed, int(numPoints)*celledSize)
	if err != nil {
		return nil, errors.Wrap(err, "decompressing sparse chunk")
	}

	records := make([]Record, 0, numPoints)
	for i := uint64(0); i < numPoints; i++ {
		rec := data[int(i)*celledSize : int(i+1)*celledSize]
		native := rec[8:]
		p := decodePoint(s, native)
		records = append(records, Record{Point: p, Raw: native, Tick: octree.CalcTick(p, bounds)})
	}
	return records, nil
}

func decodePoint(s schema.Schema, raw []byte) point.Point {
	return chunk.ReadPoint(schema.NewBinaryPoint(s, raw))
}

// ChunkID returns the reader's chunk begin id.
func (r *ChunkReader) ChunkID() int64 { return r.chunkID }

// Records returns every decoded record, in tick order.
func (r *ChunkReader) Records() []Record { return r.records }

// Candidates returns the half-open index range into Records() whose ticks
// fall within [calcTick(queryBounds.Min), calcTick(queryBounds.Max)].
func (r *ChunkReader) Candidates(queryBounds point.Bounds) (begin, end int) {
	loTick := octree.CalcTick(queryBounds.Min, r.bounds)
	hiTick := octree.CalcTick(queryBounds.Max, r.bounds)
	begin = sort.Search(len(r.records), func(i int) bool { return r.records[i].Tick >= loTick })
	end = sort.Search(len(r.records), func(i int) bool { return r.records[i].Tick > hiTick })
	return begin, end
}

// BaseChunkReader iterates the base subtree's tubes in raw-index order. No
// tick sort is performed: base queries are driven index-by-index by
// SplitClimber in non-chunk mode, not by a tick range.
type BaseChunkReader struct {
	baseIndexBegin int64
	tubes          []*chunk.Tube
}

// NewBaseChunkReader wraps tubes, indexed by rawIndex-baseIndexBegin.
func NewBaseChunkReader(baseIndexBegin int64, tubes []*chunk.Tube) *BaseChunkReader {
	return &BaseChunkReader{baseIndexBegin: baseIndexBegin, tubes: tubes}
}

// Tube returns the Tube owning rawIndex.
func (r *BaseChunkReader) Tube(rawIndex int64) (*chunk.Tube, error) {
	i := rawIndex - r.baseIndexBegin
	if i < 0 || int(i) >= len(r.tubes) {
		return nil, errors.Errorf("base raw index %d out of range", rawIndex)
	}
	return r.tubes[i], nil
}
