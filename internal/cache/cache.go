// Package cache provides a bounded, pinned-aware store of loadable project
// artifacts. Eviction is strict least-recently-used among unpinned entries;
// pinned entries are a hard guarantee and are never evicted, even when the
// cache cannot shrink back under its ceiling.
package cache

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gatewright/gatewright/internal/token"
)

// ErrCapacityExceededAllPinned is surfaced as a warning when every remaining
// entry is pinned and the cache still exceeds its ceiling. The triggering
// operation completes; the cache is simply larger than configured.
var ErrCapacityExceededAllPinned = errors.New("cache over ceiling with all entries pinned")

// Loader fetches the content for a missing key.
type Loader func(key string) ([]byte, error)

// Entry is a cached artifact.
type Entry struct {
	Key          string
	Content      []byte
	SizeTokens   int
	LastAccessed time.Time
	Pinned       bool
}

// Cache is a least-recently-used artifact cache with a token ceiling and a
// pinning override. Reads may come from multiple stages concurrently;
// inserts, evictions and pin changes serialize on one mutex so an entry being
// inserted or pinned can never be evicted out from under the caller. Loads
// run outside the mutex: a slow load on one key never blocks hits or loads on
// other keys, and concurrent misses on the same key share a single load.
type Cache struct {
	mu           sync.Mutex
	entries      map[string]*Entry
	totalTokens  int
	ceiling      int
	loader       Loader
	pendingPins  map[string]bool    // pins requested before the key was loaded
	inflight     map[string]*flight // in-progress loads keyed by entry key
	now          func() time.Time
	accessSerial int64 // tie-breaker for entries loaded within one clock tick
	serials      map[string]int64
}

// flight is one in-progress load. Waiters block on done and then read
// content and err, both written exactly once before done is closed.
type flight struct {
	done    chan struct{}
	content []byte
	err     error
}

// New creates a Cache with the given token ceiling and loader.
// A ceiling <= 0 means unbounded.
func New(ceiling int, loader Loader) *Cache {
	return &Cache{
		entries:     make(map[string]*Entry),
		ceiling:     ceiling,
		loader:      loader,
		pendingPins: make(map[string]bool),
		inflight:    make(map[string]*flight),
		now:         time.Now,
		serials:     make(map[string]int64),
	}
}

// SetClock overrides the wall clock (for testing).
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get returns the content for key, loading and inserting it on a miss.
// After an insert the cache evicts least-recently-used unpinned entries until
// it is back under the ceiling. If eviction stalls because everything left is
// pinned, the content is still returned together with
// ErrCapacityExceededAllPinned.
func (c *Cache) Get(key string) ([]byte, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.touch(e)
		content := e.Content
		c.mu.Unlock()
		return content, nil
	}
	if c.loader == nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("cache miss for %q and no loader configured", key)
	}
	if f, ok := c.inflight[key]; ok {
		// Another caller is already loading this key; wait for its result
		// instead of loading twice.
		c.mu.Unlock()
		<-f.done
		return f.content, f.err
	}
	f := &flight{done: make(chan struct{})}
	c.inflight[key] = f
	c.mu.Unlock()

	// The load runs unlocked so hits and loads on other keys proceed.
	content, err := c.loader(key)

	c.mu.Lock()
	delete(c.inflight, key)
	if err != nil {
		c.mu.Unlock()
		f.err = fmt.Errorf("load %q: %w", key, err)
		close(f.done)
		return nil, f.err
	}

	e := &Entry{
		Key:        key,
		Content:    content,
		SizeTokens: token.EstimateBytes(content),
		Pinned:     c.pendingPins[key],
	}
	delete(c.pendingPins, key)
	c.touch(e)
	c.entries[key] = e
	c.totalTokens += e.SizeTokens
	evictErr := c.evict()
	c.mu.Unlock()

	// Waiters get the content unconditionally; the over-ceiling warning is
	// reported once, to the caller whose insert triggered it.
	f.content = content
	close(f.done)
	return content, evictErr
}

// Put inserts content directly, bypassing the loader. Used when the caller
// already has the artifact in hand. Eviction rules match Get.
func (c *Cache) Put(key string, content []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.totalTokens -= old.SizeTokens
	}
	e := &Entry{
		Key:        key,
		Content:    content,
		SizeTokens: token.EstimateBytes(content),
		Pinned:     c.pendingPins[key] || (c.entries[key] != nil && c.entries[key].Pinned),
	}
	delete(c.pendingPins, key)
	c.touch(e)
	c.entries[key] = e
	c.totalTokens += e.SizeTokens
	return c.evict()
}

// Pin exempts key from eviction. Pinning a key that is not present is
// remembered and applied when the key is later inserted.
func (c *Cache) Pin(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.Pinned = true
		return
	}
	c.pendingPins[key] = true
}

// Unpin makes key evictable again and immediately re-runs eviction, since
// unpinning may be what lets the cache shrink under its ceiling.
func (c *Cache) Unpin(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.Pinned = false
		_ = c.evict()
		return
	}
	delete(c.pendingPins, key)
}

// Contains reports whether key is currently cached.
func (c *Cache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// TotalTokens returns the estimated token size of all cached entries.
func (c *Cache) TotalTokens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalTokens
}

// touch updates the recency bookkeeping for e. Callers must hold c.mu.
func (c *Cache) touch(e *Entry) {
	e.LastAccessed = c.now()
	c.accessSerial++
	c.serials[e.Key] = c.accessSerial
}

// evict removes unpinned entries in LRU order until the total size is under
// the ceiling. Callers must hold c.mu.
func (c *Cache) evict() error {
	if c.ceiling <= 0 {
		return nil
	}
	for c.totalTokens > c.ceiling {
		victim := c.oldestUnpinned()
		if victim == nil {
			return ErrCapacityExceededAllPinned
		}
		c.totalTokens -= victim.SizeTokens
		delete(c.entries, victim.Key)
		delete(c.serials, victim.Key)
	}
	return nil
}

// oldestUnpinned finds the unpinned entry with the oldest access.
// Callers must hold c.mu.
func (c *Cache) oldestUnpinned() *Entry {
	var victim *Entry
	var victimSerial int64
	for _, e := range c.entries {
		if e.Pinned {
			continue
		}
		s := c.serials[e.Key]
		if victim == nil || s < victimSerial {
			victim = e
			victimSerial = s
		}
	}
	return victim
}
