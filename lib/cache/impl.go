package cache

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dSync/lib/util"
	vm "github.com/VictoriaMetrics/metrics"
	"github.com/puzpuzpuz/xsync/v3"
)

const (
	// number of entries inspected when a full shard needs a victim
	evictionSampleSize = 32
)

// Options configures the sharded cache behavior during initialization
type Options struct {
	// Name labels the cache in the exported metrics (default: "default")
	Name string
	// MaxEntries bounds the total number of entries (0 = unbounded)
	MaxEntries int
	// TTL is the lifetime of every entry (0 = entries never expire)
	TTL time.Duration
	// NumShards is the number of shards (0 = auto, based on CPU count)
	NumShards int
}

// cacheEntry stores a value with bookkeeping for TTL and eviction
type cacheEntry[V any] struct {
	value     V
	storedAt  time.Time
	expiresAt time.Time // zero value means no expiration
}

func (e cacheEntry[V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// shardedCache implements ICache with data sharded across concurrent maps.
// Keys are assigned to shards with a seeded FNV-1a hash so that independent
// cache instances distribute differently.
type shardedCache[V any] struct {
	opts        Options
	seed        uint64
	shards      []*xsync.MapOf[string, cacheEntry[V]]
	maxPerShard int // 0 = unbounded

	// counters (atomic, mirrored to the exported metrics)
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
	loads     atomic.Uint64

	mHits      *vm.Counter
	mMisses    *vm.Counter
	mEvictions *vm.Counter
}

// New creates a new sharded cache instance with the specified options.
//
// Thread-safety: the returned cache is safe for concurrent use; this
// function itself should only be called during initialization.
func New[V any](opts Options) ICache[V] {
	if opts.Name == "" {
		opts.Name = "default"
	}
	if opts.NumShards <= 0 {
		opts.NumShards = runtime.NumCPU()
	}

	shards := make([]*xsync.MapOf[string, cacheEntry[V]], opts.NumShards)
	for i := range shards {
		shards[i] = xsync.NewMapOf[string, cacheEntry[V]]()
	}

	maxPerShard := 0
	if opts.MaxEntries > 0 {
		maxPerShard = (opts.MaxEntries + opts.NumShards - 1) / opts.NumShards
		if maxPerShard < 1 {
			maxPerShard = 1
		}
	}

	return &shardedCache[V]{
		opts:        opts,
		seed:        util.GenerateSeed(),
		shards:      shards,
		maxPerShard: maxPerShard,
		mHits:       vm.GetOrCreateCounter(fmt.Sprintf(`dsync_cache_hits_total{cache=%q}`, opts.Name)),
		mMisses:     vm.GetOrCreateCounter(fmt.Sprintf(`dsync_cache_misses_total{cache=%q}`, opts.Name)),
		mEvictions:  vm.GetOrCreateCounter(fmt.Sprintf(`dsync_cache_evictions_total{cache=%q}`, opts.Name)),
	}
}

// shard returns the shard responsible for a key
func (c *shardedCache[V]) shard(key string) *xsync.MapOf[string, cacheEntry[V]] {
	hash := util.HashString(key, c.seed)
	// shift right to use higher-quality bits for distribution
	return c.shards[(hash>>7)%uint64(len(c.shards))]
}

// newEntry stamps a value with the configured TTL
func (c *shardedCache[V]) newEntry(value V, now time.Time) cacheEntry[V] {
	e := cacheEntry[V]{value: value, storedAt: now}
	if c.opts.TTL > 0 {
		e.expiresAt = now.Add(c.opts.TTL)
	}
	return e
}

// hit / miss / evict update the counters and the exported metrics

func (c *shardedCache[V]) hit() {
	c.hits.Add(1)
	c.mHits.Inc()
}

func (c *shardedCache[V]) miss() {
	c.misses.Add(1)
	c.mMisses.Inc()
}

func (c *shardedCache[V]) evict(n uint64) {
	if n > 0 {
		c.evictions.Add(n)
		c.mEvictions.Add(int(n))
	}
}

// ensureCapacity makes room in a shard before an insert. Expired entries are
// removed first; if the shard is still full, a bounded sample is scanned and
// the oldest sampled entry is evicted.
func (c *shardedCache[V]) ensureCapacity(shard *xsync.MapOf[string, cacheEntry[V]], key string) {
	if c.maxPerShard <= 0 || shard.Size() < c.maxPerShard {
		return
	}
	if _, ok := shard.Load(key); ok {
		// overwrite, no growth
		return
	}

	now := time.Now()
	c.cleanUpShard(shard, now)

	for shard.Size() >= c.maxPerShard {
		var (
			victim  string
			oldest  time.Time
			sampled int
			haveOne bool
		)
		shard.Range(func(k string, e cacheEntry[V]) bool {
			if !haveOne || e.storedAt.Before(oldest) {
				victim, oldest, haveOne = k, e.storedAt, true
			}
			sampled++
			return sampled < evictionSampleSize
		})
		if !haveOne {
			return
		}
		shard.Delete(victim)
		c.evict(1)
	}
}

// cleanUpShard removes all expired entries of one shard
func (c *shardedCache[V]) cleanUpShard(shard *xsync.MapOf[string, cacheEntry[V]], now time.Time) {
	var removed uint64
	shard.Range(func(key string, e cacheEntry[V]) bool {
		if e.expired(now) {
			shard.Compute(key, func(old cacheEntry[V], loaded bool) (cacheEntry[V], bool) {
				if loaded && old.expired(now) {
					removed++
					return old, true
				}
				return old, !loaded
			})
		}
		return true
	})
	c.evict(removed)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see cache/interface.go)
// --------------------------------------------------------------------------

func (c *shardedCache[V]) Get(key string) (V, bool) {
	var zero V

	shard := c.shard(key)
	e, ok := shard.Load(key)
	if !ok {
		c.miss()
		return zero, false
	}
	if e.expired(time.Now()) {
		shard.Delete(key)
		c.evict(1)
		c.miss()
		return zero, false
	}

	c.hit()
	return e.value, true
}

func (c *shardedCache[V]) GetOrLoad(key string, loader Loader[V]) (V, bool) {
	if value, ok := c.Get(key); ok {
		return value, true
	}

	value, loaded := loader(key)
	if !loaded {
		var zero V
		return zero, false
	}

	c.loads.Add(1)
	c.Put(key, value)
	return value, true
}

func (c *shardedCache[V]) Put(key string, value V) {
	shard := c.shard(key)
	c.ensureCapacity(shard, key)
	shard.Store(key, c.newEntry(value, time.Now()))
}

func (c *shardedCache[V]) PutIfAbsent(key string, value V) bool {
	shard := c.shard(key)
	c.ensureCapacity(shard, key)

	now := time.Now()
	inserted := false
	shard.Compute(key, func(old cacheEntry[V], loaded bool) (cacheEntry[V], bool) {
		if loaded && !old.expired(now) {
			return old, false
		}
		inserted = true
		return c.newEntry(value, now), false
	})
	return inserted
}

func (c *shardedCache[V]) Invalidate(key string) {
	c.shard(key).Delete(key)
}

func (c *shardedCache[V]) InvalidateIf(predicate func(key string) bool) int {
	removed := 0
	for _, shard := range c.shards {
		shard.Range(func(key string, _ cacheEntry[V]) bool {
			if predicate(key) {
				if _, loaded := shard.LoadAndDelete(key); loaded {
					removed++
				}
			}
			return true
		})
	}
	return removed
}

func (c *shardedCache[V]) InvalidateAll() {
	for _, shard := range c.shards {
		shard.Clear()
	}
}

func (c *shardedCache[V]) Contains(key string) bool {
	e, ok := c.shard(key).Load(key)
	return ok && !e.expired(time.Now())
}

func (c *shardedCache[V]) Keys() []string {
	now := time.Now()
	keys := make([]string, 0)
	for _, shard := range c.shards {
		shard.Range(func(key string, e cacheEntry[V]) bool {
			if !e.expired(now) {
				keys = append(keys, key)
			}
			return true
		})
	}
	return keys
}

func (c *shardedCache[V]) Size() int {
	size := 0
	for _, shard := range c.shards {
		size += shard.Size()
	}
	return size
}

func (c *shardedCache[V]) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Loads:     c.loads.Load(),
		Size:      c.Size(),
	}
}

func (c *shardedCache[V]) CleanUp() {
	now := time.Now()
	for _, shard := range c.shards {
		c.cleanUpShard(shard, now)
	}
}
