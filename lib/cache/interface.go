package cache

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// Loader is the pluggable "load on miss" path of a cache. It returns the
// value for a key and whether a value exists at all.
type Loader[V any] func(key string) (value V, loaded bool)

// ICache is the generic interface for a bounded in-process key-value cache.
// Implementations must be safe for concurrent use. Every read and write
// updates the hit/miss/eviction counters exposed via Stats.
type ICache[V any] interface {
	// Get returns the cached value for a key.
	Get(key string) (value V, loaded bool)
	// GetOrLoad returns the cached value for a key, invoking the loader on a
	// miss and caching its result. Concurrent callers may invoke the loader
	// for the same key more than once; deduplication is not guaranteed.
	GetOrLoad(key string, loader Loader[V]) (value V, loaded bool)
	// Put inserts or updates a value.
	Put(key string, value V)
	// PutIfAbsent inserts a value only if the key is not cached yet.
	// It returns true if the value was inserted by this call.
	PutIfAbsent(key string, value V) (inserted bool)
	// Invalidate removes a key from the cache.
	Invalidate(key string)
	// InvalidateIf removes all keys matching the predicate and returns how
	// many entries were removed.
	InvalidateIf(predicate func(key string) bool) (removed int)
	// InvalidateAll removes all entries.
	InvalidateAll()
	// Contains reports whether a key is cached.
	Contains(key string) bool
	// Keys returns all currently cached keys.
	Keys() []string
	// Size returns the number of cached entries.
	Size() int
	// Stats returns a snapshot of the cache counters.
	Stats() Stats
	// CleanUp forces eviction of all expired entries.
	CleanUp()
}

// --------------------------------------------------------------------------
// Statistics
// --------------------------------------------------------------------------

// Stats is a point-in-time snapshot of the cache counters.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Loads     uint64 `json:"loads"`
	Size      int    `json:"size"`
}

// HitRate returns the fraction of reads served from the cache.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
