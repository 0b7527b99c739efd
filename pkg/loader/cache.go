package loader

import (
	"container/list"
	"encoding/json"
	"sync"
	"time"
)

// CacheStats is cache statistics: hit/miss counts, eviction
// count, and estimated memory usage (from JSON byte size).
type CacheStats struct {
	Hits            int64
	Misses          int64
	Evictions       int64
	EstimatedMemory int64
}

// cacheEntry is one cached workflow plus its LRU/TTL bookkeeping.
type cacheEntry struct {
	key        string
	workflow   LoadedWorkflow
	expiresAt  time.Time
	sizeBytes  int64
	listElem   *list.Element
}

// Cache is the LRU+TTL workflow cache names: maxSize entries,
// maxAge expiry, a background sweeper, and a secondary name index.
// Grounded on the teacher's pkg/workflow/store.go MemoryStore pattern
// (map + mutex), generalized with LRU eviction order and TTL expiry.
type Cache struct {
	mu        sync.Mutex
	maxSize   int
	maxAge    time.Duration
	entries   map[string]*cacheEntry
	byName    map[string]string // definition.name -> cache key
	order     *list.List        // front = most recently used
	stats     CacheStats

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewCache builds a cache with the given maxSize (entry count) and
// maxAge (TTL). maxSize<=0 means unbounded; maxAge<=0 means entries
// never expire on their own.
func NewCache(maxSize int, maxAge time.Duration) *Cache {
	return &Cache{
		maxSize: maxSize,
		maxAge:  maxAge,
		entries: make(map[string]*cacheEntry),
		byName:  make(map[string]string),
		order:   list.New(),
	}
}

// StartSweeper runs a background goroutine that evicts expired entries
// every interval, until Stop is called.
func (c *Cache) StartSweeper(interval time.Duration) {
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	go func() {
		defer close(c.doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.sweepExpired()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop halts the background sweeper, if running.
func (c *Cache) Stop() {
	if c.stopCh == nil {
		return
	}
	close(c.stopCh)
	<-c.doneCh
}

func (c *Cache) sweepExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for key, e := range c.entries {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			c.removeLocked(key)
		}
	}
}

func estimateSize(lw LoadedWorkflow) int64 {
	data, err := json.Marshal(lw.Definition)
	if err != nil {
		return 0
	}
	return int64(len(data))
}

// Set inserts or replaces a cached workflow under key, evicting the
// least-recently-used entry if maxSize would be exceeded.
func (c *Cache) Set(key string, lw LoadedWorkflow) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok {
		c.order.Remove(existing.listElem)
		if existing.workflow.Definition != nil {
			delete(c.byName, existing.workflow.Definition.Name)
		}
		c.stats.EstimatedMemory -= existing.sizeBytes
	}

	var expires time.Time
	if c.maxAge > 0 {
		expires = time.Now().Add(c.maxAge)
	}
	e := &cacheEntry{key: key, workflow: lw, expiresAt: expires, sizeBytes: estimateSize(lw)}
	e.listElem = c.order.PushFront(key)
	c.entries[key] = e
	if lw.Definition != nil {
		c.byName[lw.Definition.Name] = key
	}
	c.stats.EstimatedMemory += e.sizeBytes

	if c.maxSize > 0 {
		for len(c.entries) > c.maxSize {
			oldest := c.order.Back()
			if oldest == nil {
				break
			}
			c.removeLocked(oldest.Value.(string))
			c.stats.Evictions++
		}
	}
}

// Get retrieves a cached workflow by key, promoting it to most-recently
// used. A miss (absent or expired) returns ok=false.
func (c *Cache) Get(key string) (LoadedWorkflow, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || (!e.expiresAt.IsZero() && time.Now().After(e.expiresAt)) {
		c.stats.Misses++
		if ok {
			c.removeLocked(key)
		}
		return LoadedWorkflow{}, false
	}
	c.order.MoveToFront(e.listElem)
	c.stats.Hits++
	return e.workflow, true
}

// Has reports whether key is present and unexpired, without affecting
// LRU order or statistics.
func (c *Cache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	return e.expiresAt.IsZero() || !time.Now().After(e.expiresAt)
}

// Delete removes key unconditionally.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(key)
}

func (c *Cache) removeLocked(key string) {
	e, ok := c.entries[key]
	if !ok {
		return
	}
	c.order.Remove(e.listElem)
	delete(c.entries, key)
	if e.workflow.Definition != nil {
		if c.byName[e.workflow.Definition.Name] == key {
			delete(c.byName, e.workflow.Definition.Name)
		}
	}
	c.stats.EstimatedMemory -= e.sizeBytes
}

// Clear empties the cache entirely.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
	c.byName = make(map[string]string)
	c.order = list.New()
	c.stats.EstimatedMemory = 0
}

// Refresh replaces key's cached entry in place, preserving hit/miss
// statistics ("Cache refresh preserves hit/miss statistics").
func (c *Cache) Refresh(key string, lw LoadedWorkflow) {
	c.mu.Lock()
	hits, misses, evictions := c.stats.Hits, c.stats.Misses, c.stats.Evictions
	c.mu.Unlock()
	c.Set(key, lw)
	c.mu.Lock()
	c.stats.Hits, c.stats.Misses, c.stats.Evictions = hits, misses, evictions
	c.mu.Unlock()
}

// GetByName looks up a cached workflow by its definition.name secondary
// index.
func (c *Cache) GetByName(name string) (LoadedWorkflow, bool) {
	c.mu.Lock()
	key, ok := c.byName[name]
	c.mu.Unlock()
	if !ok {
		return LoadedWorkflow{}, false
	}
	return c.Get(key)
}

// GetAllWorkflows returns every unexpired cached workflow.
func (c *Cache) GetAllWorkflows() []LoadedWorkflow {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	var out []LoadedWorkflow
	for _, e := range c.entries {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			continue
		}
		out = append(out, e.workflow)
	}
	return out
}

// Stats returns a snapshot of the cache's hit/miss/eviction/memory
// counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
