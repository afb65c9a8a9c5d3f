package blobstore

import (
	"container/list"
	"sync"
	"time"

	"github.com/soundtime-fm/p2p/internal/telemetry"
	"github.com/soundtime-fm/p2p/internal/wire"
)

// entry is the cache's bookkeeping record, stored as a *list.Element
// value so it can be moved to the back of the LRU list in O(1) on every
// touch without a separate index rebuild.
type entry struct {
	blob    CachedBlob
	pinned  int // active readers; never evicted while > 0
	element *list.Element
}

// Cache is the on-demand blob cache's LRU supervisor. It tracks which
// content hashes are currently retained and their total size, evicting
// in ascending last-played order whenever an admission would push the
// total over maxSize. Per spec.md §5, one mutex guards the LRU
// bookkeeping; actual file reads/writes happen outside that lock, which
// is why Cache only ever deals in sizes and hashes, never blob bytes.
type Cache struct {
	mu       sync.Mutex
	order    *list.List // front = least recently played, back = most recent
	entries  map[wire.ContentHash]*entry
	total    int64
	maxSize  int64
	metrics  *telemetry.Registry
	onEvict  func(wire.ContentHash)
}

// NewCache creates a Cache bounded at maxSize bytes. maxSize == 0 means
// every fetch is expected to short-circuit retention entirely (spec.md
// §8 boundary behaviour) — Admit always returns ErrCacheFull in that
// case, whatever the blob's size.
func NewCache(maxSize int64, metrics *telemetry.Registry) *Cache {
	return &Cache{
		order:   list.New(),
		entries: make(map[wire.ContentHash]*entry),
		maxSize: maxSize,
		metrics: metrics,
	}
}

// OnEvict registers a callback invoked (outside the cache's lock) with
// the content hash of every blob evicted, so the caller can delete the
// backing file.
func (c *Cache) OnEvict(fn func(wire.ContentHash)) {
	c.mu.Lock()
	c.onEvict = fn
	c.mu.Unlock()
}

// Contains reports whether hash is currently cached.
func (c *Cache) Contains(hash wire.ContentHash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[hash]
	return ok
}

// TotalSize returns the cache's current total retained size in bytes.
func (c *Cache) TotalSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Pin marks hash as having an active reader, preventing its eviction
// until a matching Unpin. Pin is a no-op if hash isn't cached (the
// caller is about to admit it under the lock held by Admit).
func (c *Cache) Pin(hash wire.ContentHash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[hash]; ok {
		e.pinned++
	}
}

// Unpin releases a previously-acquired pin.
func (c *Cache) Unpin(hash wire.ContentHash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[hash]; ok && e.pinned > 0 {
		e.pinned--
	}
}

// Touch updates last_played_at for an already-cached blob and moves it
// to the most-recently-used end of the eviction order.
func (c *Cache) Touch(hash wire.ContentHash, when time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[hash]
	if !ok {
		return
	}
	e.blob.LastPlayedAt = when
	c.order.MoveToBack(e.element)
}

// Admit records a newly-fetched blob of size bytes, evicting
// least-recently-played unpinned entries until it fits. It returns
// ErrCacheFull if the blob alone exceeds maxSize — callers must not
// write the blob to disk in that case (spec.md §8 invariant 8 extends
// the same rule to integrity failures).
//
// maxSize == 0 means retention is disabled: Admit always fails with
// ErrCacheFull so the caller streams through without ever writing to
// the cache root.
func (c *Cache) Admit(hash wire.ContentHash, size int64, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxSize <= 0 || size > c.maxSize {
		return ErrCacheFull
	}
	if e, ok := c.entries[hash]; ok {
		e.blob.LastPlayedAt = now
		c.order.MoveToBack(e.element)
		return nil
	}

	var evicted []wire.ContentHash
	for c.total+size > c.maxSize {
		front := c.order.Front()
		if front == nil {
			break
		}
		victim := front.Value.(*entry)
		if victim.pinned > 0 {
			// Skip over pinned entries without evicting them; try the
			// next-oldest by temporarily moving this one to the back so
			// the scan makes progress instead of spinning.
			c.order.MoveToBack(front)
			if c.allPinned() {
				break
			}
			continue
		}
		c.order.Remove(front)
		delete(c.entries, victim.blob.ContentHash)
		c.total -= victim.blob.SizeBytes
		evicted = append(evicted, victim.blob.ContentHash)
	}

	if c.total+size > c.maxSize {
		return ErrCacheFull
	}

	el := c.order.PushBack(nil)
	e := &entry{blob: CachedBlob{ContentHash: hash, SizeBytes: size, FetchedAt: now, LastPlayedAt: now}, element: el}
	el.Value = e
	c.entries[hash] = e
	c.total += size

	if c.metrics != nil {
		c.metrics.CacheBytesInUse.Set(float64(c.total))
		for range evicted {
			c.metrics.CacheEvictedTotal.Inc()
		}
	}
	if c.onEvict != nil {
		for _, h := range evicted {
			c.onEvict(h)
		}
	}
	return nil
}

func (c *Cache) allPinned() bool {
	for e := c.order.Front(); e != nil; e = e.Next() {
		if e.Value.(*entry).pinned == 0 {
			return false
		}
	}
	return true
}
