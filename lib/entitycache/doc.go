// Package entitycache implements the write-behind cache for entities on top
// of the generic cache package.
//
// Entities are stored under their composite key (owner/subgroup/variant).
// A write that should be persisted later is stored with markDirty=true,
// which flags the entity and records it in a concurrent dirty index mapping
// the composite key to the owning entity. The storage orchestrator
// periodically snapshots this index (GetDirtyEntries), persists the batch
// and calls MarkClean for the flushed keys.
//
// Two invariants matter here:
//
//   - A dirty entity is never lost to cache eviction: the dirty index holds
//     the entity itself, and reads prefer the dirty index over the bounded
//     generic cache.
//
//   - Invalidation purges the dirty index as well. Without this, a record
//     deleted or externally invalidated between two flush cycles would be
//     written back to the store by the next flush.
//
// The package never talks to the backing store; it only manages in-process
// state.
package entitycache
