package daemon

import (
	"container/list"
	"os"
	"sync"

	"github.com/velo-sh/rift/internal/hashid"
	"github.com/velo-sh/rift/internal/metrics"
)

// fdCache caches open *os.File handles to hot CAS blobs under an LRU
// eviction policy. isOpen is also consulted by GC before removing a blob:
// a blob with a resident cache entry is never collected out from under an
// open fd.
type fdCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[hashid.BlobRef]*list.Element
	order    *list.List // front = most recently used
}

type fdCacheEntry struct {
	ref  hashid.BlobRef
	file *os.File
}

func newFDCache(capacity int) *fdCache {
	return &fdCache{
		capacity: capacity,
		entries:  make(map[hashid.BlobRef]*list.Element),
		order:    list.New(),
	}
}

// get returns a cached file for ref, promoting it to most-recently-used,
// or (nil, false) on a miss. The cache itself closes files it evicts;
// callers never close what get returns.
func (c *fdCache) get(ref hashid.BlobRef) (*os.File, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[ref]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*fdCacheEntry).file, true
}

// put inserts f under ref, evicting the least-recently-used entry if the
// cache is at capacity.
func (c *fdCache) put(ref hashid.BlobRef, f *os.File) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[ref]; ok {
		c.order.MoveToFront(el)
		el.Value.(*fdCacheEntry).file.Close() //nolint:errcheck
		el.Value = &fdCacheEntry{ref: ref, file: f}
		return
	}

	el := c.order.PushFront(&fdCacheEntry{ref: ref, file: f})
	c.entries[ref] = el
	metrics.FDCacheSize.Set(float64(c.order.Len()))

	for c.order.Len() > c.capacity {
		c.evictOldest()
	}
}

func (c *fdCache) evictOldest() {
	el := c.order.Back()
	if el == nil {
		return
	}
	entry := el.Value.(*fdCacheEntry)
	c.order.Remove(el)
	delete(c.entries, entry.ref)
	entry.file.Close() //nolint:errcheck
	metrics.FDCacheSize.Set(float64(c.order.Len()))
	metrics.FDCacheEvictionsTotal.Inc()
}

// isOpen reports whether ref currently has a cached fd, consulted by
// Daemon.GC to veto collecting a blob out from under a live handle.
func (c *fdCache) isOpen(ref hashid.BlobRef) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[ref]
	return ok
}

// Close closes every cached file handle.
func (c *fdCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for el := c.order.Front(); el != nil; el = el.Next() {
		el.Value.(*fdCacheEntry).file.Close() //nolint:errcheck
	}
	c.entries = make(map[hashid.BlobRef]*list.Element)
	c.order.Init()
}
