// Package cache implements a generic, size- and TTL-bounded in-process
// key-value cache with statistics and a pluggable load-on-miss path.
//
// Implementation Approach:
//
//	Entries are sharded across multiple concurrent maps using a seeded
//	FNV-1a hash, so unrelated keys contend on different shards. Each entry
//	carries its own wall-clock expiration stamp; expired entries are evicted
//	lazily on read, during capacity checks, and by an explicit CleanUp pass.
//
//	When a shard reaches its capacity share, expired entries are purged
//	first. If the shard is still full, a bounded sample of entries is
//	scanned and the oldest sampled entry is evicted. This approximates LRU
//	without maintaining a global ordering structure.
//
// Statistics:
//
//	Every read updates hit/miss counters, every eviction the eviction
//	counter. The counters are exposed twice: as a Stats snapshot through
//	the interface, and as Prometheus-style counters labelled with the cache
//	name via the VictoriaMetrics metrics set.
//
// Variants:
//
//   - New: the sharded implementation described above.
//   - NewNoop: a no-op variant for disabling caching via configuration.
//     All reads miss and loaders run uncached, so callers never branch on
//     whether caching is enabled.
package cache
