package cache

import (
	"context"
	"sync"
	"testing"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/qiangqiangyao/entwine/blob"
	"github.com/qiangqiangyao/entwine/chunk"
	"github.com/qiangqiangyao/entwine/compress"
	"github.com/qiangqiangyao/entwine/point"
	"github.com/qiangqiangyao/entwine/schema"
)

func cacheTestSchema() schema.Schema {
	return schema.New(
		schema.Dimension{Name: schema.XDimension, Type: schema.Float64},
		schema.Dimension{Name: schema.YDimension, Type: schema.Float64},
		schema.Dimension{Name: schema.ZDimension, Type: schema.Float64},
	)
}

func seedChunk(t *testing.T, source blob.Source, readerPath string, chunkID, maxPoints int64, s schema.Schema, codec compress.Codec) {
	t.Helper()
	cd := chunk.NewContiguousChunkData(s, chunkID, maxPoints)
	for i := int64(0); i < maxPoints; i++ {
		e, err := cd.GetEntry(chunkID + i)
		test.That(t, err, test.ShouldBeNil)
		p := point.Point{X: float64(i), Y: float64(i), Z: float64(i)}
		e.SetPointIfNull(p)
		bp := schema.NewBinaryPoint(s, e.Raw())
		bp.SetFloat64(schema.XDimension, p.X)
		bp.SetFloat64(schema.YDimension, p.Y)
		bp.SetFloat64(schema.ZDimension, p.Z)
	}

	ctx := context.Background()
	test.That(t, cd.Write(ctx, source, codec, readerPath+"/"+itoa(chunkID), chunkID, chunkID+maxPoints), test.ShouldBeNil)
	raw, err := source.Get(ctx, readerPath+"/"+itoa(chunkID))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(raw) > 0, test.ShouldBeTrue)
}

func itoa(v int64) string {
	// local helper to avoid importing strconv twice for one call site.
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func newTestCache(t *testing.T, source blob.Source, maxPoints int64, maxChunks int) *Cache {
	t.Helper()
	s := cacheTestSchema()
	codec := compress.NewZstdCodec()
	bounds := point.Bounds{Min: point.Point{X: 0, Y: 0, Z: 0}, Max: point.Point{X: 1024, Y: 1024, Z: 1024}}
	chunkInfo := func(chunkID int64) (int64, error) { return maxPoints, nil }
	return New(source, s, codec, bounds, chunkInfo, maxChunks, golog.NewTestLogger(t))
}

func TestCacheAcquireAndRelease(t *testing.T) {
	source := blob.NewMemorySource()
	s := cacheTestSchema()
	codec := compress.NewZstdCodec()
	seedChunk(t, source, "tree", 0, 8, s, codec)

	c := newTestCache(t, source, 8, 4)
	ctx := context.Background()

	block, err := c.Acquire(ctx, "tree", []int64{0})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(block.Readers()), test.ShouldEqual, 1)
	test.That(t, block.Readers()[0].ChunkID(), test.ShouldEqual, int64(0))

	block.Release()
}

// TestCacheMissingChunkIsSkippedNotFatal covers the missing-chunk rule: a
// cold chunk id that was never written is a normal outcome of a build that
// never populated that depth, not an error. Acquire must omit it from the
// block rather than failing the whole batch.
func TestCacheMissingChunkIsSkippedNotFatal(t *testing.T) {
	source := blob.NewMemorySource()
	c := newTestCache(t, source, 8, 4)

	block, err := c.Acquire(context.Background(), "tree", []int64{99})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, block, test.ShouldNotBeNil)
	test.That(t, len(block.Readers()), test.ShouldEqual, 0)
	block.Release()
}

// TestCacheAcquirePartialBatchSkipsOnlyMissing confirms a batch mixing a
// present and a missing chunk id returns just the present one, rather than
// letting the missing id fail the whole Acquire call.
func TestCacheAcquirePartialBatchSkipsOnlyMissing(t *testing.T) {
	source := blob.NewMemorySource()
	s := cacheTestSchema()
	codec := compress.NewZstdCodec()
	seedChunk(t, source, "tree", 0, 8, s, codec)

	c := newTestCache(t, source, 8, 4)
	block, err := c.Acquire(context.Background(), "tree", []int64{0, 99})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(block.Readers()), test.ShouldEqual, 1)
	test.That(t, block.Readers()[0].ChunkID(), test.ShouldEqual, int64(0))
	block.Release()
}

// TestCacheAcquireFailsOnNonNotFoundError confirms a genuine failure (here,
// a chunkInfo lookup error, not a missing blob) still fails Acquire.
func TestCacheAcquireFailsOnNonNotFoundError(t *testing.T) {
	source := blob.NewMemorySource()
	s := cacheTestSchema()
	codec := compress.NewZstdCodec()
	bounds := point.Bounds{Min: point.Point{X: 0, Y: 0, Z: 0}, Max: point.Point{X: 1024, Y: 1024, Z: 1024}}
	chunkInfo := func(chunkID int64) (int64, error) { return 0, errors.New("structure lookup failed") }
	c := New(source, s, codec, bounds, chunkInfo, 4, golog.NewTestLogger(t))

	block, err := c.Acquire(context.Background(), "tree", []int64{0})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, block, test.ShouldBeNil)
}

// TestCacheConcurrentAcquireCoalesces exercises property 6: concurrent
// Acquire calls for the same chunk id must not issue more than one fetch.
func TestCacheConcurrentAcquireCoalesces(t *testing.T) {
	source := blob.NewMemorySource()
	s := cacheTestSchema()
	codec := compress.NewZstdCodec()
	seedChunk(t, source, "tree", 0, 8, s, codec)

	counting := &countingSource{Source: source}
	c := newTestCache(t, counting, 8, 4)
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	blocks := make([]*ChunkBlock, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			blocks[i], errs[i] = c.Acquire(ctx, "tree", []int64{0})
		}(i)
	}
	wg.Wait()

	for i := range blocks {
		test.That(t, errs[i], test.ShouldBeNil)
		test.That(t, blocks[i], test.ShouldNotBeNil)
	}
	test.That(t, counting.getCount(), test.ShouldEqual, 1)
	for _, b := range blocks {
		b.Release()
	}
}

// countingSource wraps a blob.Source and counts its Get calls.
type countingSource struct {
	blob.Source
	mu   sync.Mutex
	gets int
}

func (s *countingSource) Get(ctx context.Context, name string) ([]byte, error) {
	s.mu.Lock()
	s.gets++
	s.mu.Unlock()
	return s.Source.Get(ctx, name)
}

func (s *countingSource) getCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

func TestCacheEvictsUnpinnedEntriesPastBudget(t *testing.T) {
	source := blob.NewMemorySource()
	s := cacheTestSchema()
	codec := compress.NewZstdCodec()
	for i := int64(0); i < 4; i++ {
		seedChunk(t, source, "tree", i*8, 8, s, codec)
	}

	c := newTestCache(t, source, 8, 2)
	ctx := context.Background()

	for i := int64(0); i < 4; i++ {
		block, err := c.Acquire(ctx, "tree", []int64{i * 8})
		test.That(t, err, test.ShouldBeNil)
		block.Release()
	}

	c.mu.Lock()
	count := len(c.entries)
	c.mu.Unlock()
	test.That(t, count <= 2, test.ShouldBeTrue)
}
