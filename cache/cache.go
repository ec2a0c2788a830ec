// Package cache mediates between the blob store and queries: it hydrates
// cold chunk blobs into chunkreader.ChunkReader instances, pins them for
// the lifetime of an active query batch, and evicts unpinned readers under
// an LRU policy once the cache grows past its soft budget.
package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/edaniels/golog"
	"github.com/golang/groupcache/lru"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/qiangqiangyao/entwine/blob"
	"github.com/qiangqiangyao/entwine/chunkreader"
	"github.com/qiangqiangyao/entwine/compress"
	"github.com/qiangqiangyao/entwine/point"
	"github.com/qiangqiangyao/entwine/schema"
)

// ChunkInfo resolves a chunkID to the parameters chunkreader.NewChunkReader
// needs. The cache calls this once per cold hydration; it is typically
// backed by octree.Structure.Info.
type ChunkInfo func(chunkID int64) (maxPoints int64, err error)

type key struct {
	readerPath string
	chunkID    int64
}

func (k key) String() string {
	return fmt.Sprintf("%s/%d", k.readerPath, k.chunkID)
}

type cacheEntry struct {
	reader *chunkreader.ChunkReader
	pins   int
}

// Cache is keyed by (readerPath, chunkID). It coalesces concurrent
// hydrations for the same key via singleflight, and evicts unpinned
// entries LRU-first once past maxChunks.
type Cache struct {
	mu      sync.Mutex
	entries map[key]*cacheEntry
	lru     *lru.Cache

	group singleflight.Group

	source    blob.Source
	schema    schema.Schema
	codec     compress.Codec
	bounds    point.Bounds
	chunkInfo ChunkInfo

	logger golog.Logger
}

// New returns a Cache that hydrates chunks from source, decoding them under
// schema/codec against bounds (the dataset's full bounds, used uniformly
// for every chunk's tick computation so Candidates ranges stay comparable
// across chunks at different depths). maxChunks is the soft eviction
// budget; chunkInfo resolves a chunkID to its maxPoints.
func New(source blob.Source, s schema.Schema, codec compress.Codec, bounds point.Bounds, chunkInfo ChunkInfo, maxChunks int, logger golog.Logger) *Cache {
	c := &Cache{
		entries:   make(map[key]*cacheEntry),
		source:    source,
		schema:    s,
		codec:     codec,
		bounds:    bounds,
		chunkInfo: chunkInfo,
		logger:    logger,
	}
	c.lru = lru.New(maxChunks)
	c.lru.OnEvicted = func(k lru.Key, _ interface{}) {
		c.evict(k.(key))
	}
	return c
}

// evict drops an unpinned entry from the table. Called only from inside the
// cache's own mutex via lru's OnEvicted, or defensively re-checks pins in
// case a pin raced ahead of the eviction decision.
func (c *Cache) evict(k key) {
	e, ok := c.entries[k]
	if !ok || e.pins > 0 {
		return
	}
	delete(c.entries, k)
}

// ChunkBlock pins a batch of chunk readers, acquired together by one
// Acquire call, for the duration of a query's use of them. Release must be
// called exactly once to return the pins to the cache's eviction pool.
type ChunkBlock struct {
	cache       *Cache
	reservation uuid.UUID
	keys        []key
	readers     []*chunkreader.ChunkReader
}

// Readers returns the block's readers, in the order requested.
func (b *ChunkBlock) Readers() []*chunkreader.ChunkReader {
	return b.readers
}

// Reservation identifies this block's Acquire call, for correlating log
// lines across a query's batches.
func (b *ChunkBlock) Reservation() uuid.UUID {
	return b.reservation
}

// Release unpins every chunk in the block, making unreferenced ones
// eligible for LRU eviction again.
func (b *ChunkBlock) Release() {
	b.cache.mu.Lock()
	defer b.cache.mu.Unlock()
	for _, k := range b.keys {
		e, ok := b.cache.entries[k]
		if !ok {
			continue
		}
		e.pins--
		if e.pins == 0 {
			b.cache.lru.Add(k, struct{}{})
		}
	}
}

// Acquire hydrates and pins every chunk named in chunkIDs under readerPath
// that actually exists, blocking until each is ready. A build persists a
// cold chunk only for depths that received points, so a chunk id this
// cache has never seen written is a normal outcome, not a failure: per the
// missing-chunk rule, Acquire silently omits it from the returned block
// rather than erroring the whole batch. It returns a nil block and an
// error only if some other failure (a bad blob, a chunkInfo lookup error)
// makes a requested chunk un-hydratable; no partial pin survives that case.
func (c *Cache) Acquire(ctx context.Context, readerPath string, chunkIDs []int64) (*ChunkBlock, error) {
	reservation := uuid.New()
	keys := make([]key, 0, len(chunkIDs))
	readers := make([]*chunkreader.ChunkReader, 0, len(chunkIDs))

	for _, id := range chunkIDs {
		k := key{readerPath: readerPath, chunkID: id}
		reader, err := c.hydrate(ctx, k)
		if err != nil {
			if blob.IsNotFound(err) {
				c.logger.Debugw("cold chunk not found, skipping", "chunkId", id)
				continue
			}
			c.unpin(keys)
			return nil, errors.Wrapf(err, "hydrating chunk %d", id)
		}
		keys = append(keys, k)
		readers = append(readers, reader)
	}

	c.logger.Debugw("reserved chunk block", "reservation", reservation, "chunks", len(readers))
	return &ChunkBlock{cache: c, reservation: reservation, keys: keys, readers: readers}, nil
}

func (c *Cache) unpin(keys []key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		if e, ok := c.entries[k]; ok {
			e.pins--
			if e.pins == 0 {
				c.lru.Add(k, struct{}{})
			}
		}
	}
}

// hydrate returns the pinned reader for k, fetching and decoding it first
// if necessary. Concurrent callers for the same k coalesce onto one fetch.
func (c *Cache) hydrate(ctx context.Context, k key) (*chunkreader.ChunkReader, error) {
	c.mu.Lock()
	if e, ok := c.entries[k]; ok {
		e.pins++
		c.lru.Remove(k)
		c.mu.Unlock()
		return e.reader, nil
	}
	c.mu.Unlock()

	result, err, shared := c.group.Do(k.String(), func() (interface{}, error) {
		// A flight that finished just before this one began has already
		// published its entry; reuse it rather than fetching again.
		c.mu.Lock()
		if e, ok := c.entries[k]; ok {
			c.mu.Unlock()
			return e.reader, nil
		}
		c.mu.Unlock()

		reader, err := c.fetch(ctx, k)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if _, ok := c.entries[k]; !ok {
			c.entries[k] = &cacheEntry{reader: reader}
		}
		c.mu.Unlock()
		return reader, nil
	})
	if err != nil {
		return nil, err
	}
	reader := result.(*chunkreader.ChunkReader)

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[k]
	if !ok {
		e = &cacheEntry{reader: reader}
		c.entries[k] = e
	}
	e.pins++
	c.lru.Remove(k)
	if shared {
		c.logger.Debugw("coalesced cache hydration", "key", k.String())
	}
	return e.reader, nil
}

func (c *Cache) fetch(ctx context.Context, k key) (*chunkreader.ChunkReader, error) {
	maxPoints, err := c.chunkInfo(k.chunkID)
	if err != nil {
		return nil, err
	}

	raw, err := c.source.Get(ctx, k.String())
	if err != nil {
		return nil, errors.Wrapf(err, "fetching chunk blob %q", k.String())
	}

	return chunkreader.NewChunkReader(c.schema, c.codec, k.chunkID, maxPoints, c.bounds, raw)
}
