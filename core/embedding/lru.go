package embedding

import (
	"errors"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultLRUSize is the per-pipeline token cache size.
const DefaultLRUSize = 50000

type lruEntry struct {
	vec   []float32
	found bool
}

// LRUStore is a bounded, single-owner cache in front of another store.
// Vocabulary misses are cached too, so repeated unknown tokens never reach
// the backing store twice.
type LRUStore struct {
	base   Store
	cache  *lru.Cache[string, lruEntry]
	hits   int64
	misses int64
}

// NewLRU wraps store with an LRU of the given size. size <= 0 uses
// DefaultLRUSize. Closing the LRUStore does not close the backing store.
func NewLRU(store Store, size int) (*LRUStore, error) {
	if size <= 0 {
		size = DefaultLRUSize
	}
	cache, err := lru.New[string, lruEntry](size)
	if err != nil {
		return nil, err
	}
	return &LRUStore{base: store, cache: cache}, nil
}

// Lookup implements Store.
func (l *LRUStore) Lookup(token string) ([]float32, error) {
	if e, ok := l.cache.Get(token); ok {
		l.hits++
		if !e.found {
			return nil, ErrNotFound
		}
		return e.vec, nil
	}
	l.misses++

	vec, err := l.base.Lookup(token)
	switch {
	case errors.Is(err, ErrNotFound):
		l.cache.Add(token, lruEntry{})
		return nil, ErrNotFound
	case err != nil:
		return nil, err
	}

	l.cache.Add(token, lruEntry{vec: vec, found: true})
	return vec, nil
}

// Dim implements Store.
func (l *LRUStore) Dim() int {
	return l.base.Dim()
}

// Stats returns the cache hit and miss counts.
func (l *LRUStore) Stats() (hits, misses int64) {
	return l.hits, l.misses
}

// Close drops the cached entries. The backing store stays open.
func (l *LRUStore) Close() error {
	l.cache.Purge()
	return nil
}
