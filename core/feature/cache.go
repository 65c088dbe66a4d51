package feature

// Cache holds one revision's solved values. A Cache belongs to a single
// goroutine; Reset it (or make a new one) before each revision.
type Cache struct {
	values map[NodeID]any
	stats  CacheStats
}

// CacheStats counts cache activity since the cache was created or reset.
type CacheStats struct {
	Hits           int
	Computes       int
	VocabularyGaps int
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{values: make(map[NodeID]any)}
}

// Set pre-seeds a node's value. Solve treats it like any computed value and
// will not recompute the node.
func (c *Cache) Set(id NodeID, v any) {
	c.values[id] = v
}

// Get returns the cached value for id without touching the counters.
func (c *Cache) Get(id NodeID) (any, bool) {
	v, ok := c.values[id]
	return v, ok
}

// Len returns the number of cached values.
func (c *Cache) Len() int {
	return len(c.values)
}

// Stats returns the counters.
func (c *Cache) Stats() CacheStats {
	return c.stats
}

// Reset clears values and counters so the cache can serve the next revision.
func (c *Cache) Reset() {
	clear(c.values)
	c.stats = CacheStats{}
}

func (c *Cache) lookup(id NodeID) (any, bool) {
	v, ok := c.values[id]
	if ok {
		c.stats.Hits++
	}
	return v, ok
}

func (c *Cache) store(id NodeID, v any) {
	c.values[id] = v
	c.stats.Computes++
}

func (c *Cache) vocabularyGap(n int) {
	c.stats.VocabularyGaps += n
}
