// Package orchestrator implements the storage orchestrator, the façade
// applications use to read and write entity records. It composes three
// collaborators: the durable backing store adapter (entity.IEntityStore),
// the write-behind entity cache (entitycache.IEntityCache) and the sync
// coordinator (syncmgr.ISyncCoordinator).
//
// Write Modes:
//
//	- Immediate (default): Save persists to the backing store, updates the
//	  cache and broadcasts a DataUpdate after the write succeeded.
//
//	- Write-behind: Save only places the entity dirty into the cache; a
//	  background timer flushes all dirty entities as one batch, marks them
//	  clean and broadcasts one DataUpdate per flushed entity. A failed
//	  batch leaves the dirty set untouched so the next cycle retries.
//	  SyncWrites overrides this back to immediate persistence while
//	  keeping the cache warm.
//
// Versioning:
//
//	Every Save increments the entity's version counter exactly once. A
//	failed immediate write restores the previous version so a retry does
//	not skip numbers. Versions are broadcast with updates so peers can run
//	last-writer-wins; conflict resolution itself stays with the
//	application.
//
// Locking:
//
//	SaveWithLock wraps a save in the entity's distributed lock. Contention
//	handling is configurable: fail-closed (default) surfaces a contention
//	error, fail-open logs and saves anyway, trading strict exclusion for
//	availability.
//
// Cache Coherence:
//
//	The orchestrator registers for the coordinator's invalidation
//	callbacks. Remote DataUpdates and CacheInvalidates purge the local
//	cache by key, group or owner, so the next Load re-reads the backing
//	store.
package orchestrator
