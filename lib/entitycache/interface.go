package entitycache

import (
	"github.com/ValentinKolb/dSync/lib/cache"
	"github.com/ValentinKolb/dSync/lib/entity"
)

// EntityLoader is the load-on-miss path for entities, typically backed by
// the durable backing store adapter.
type EntityLoader func(key entity.Key) (e entity.IEntity, loaded bool)

// IEntityCache is the write-behind cache for entities. It wraps a generic
// cache and adds dirty tracking: entities stored with markDirty=true are
// indexed in a separate concurrent dirty set so that deferred writes can be
// collected, flushed as a batch and marked clean afterwards.
//
// This component never talks to the backing store itself; collecting and
// persisting the dirty entries is the storage orchestrator's job.
type IEntityCache interface {
	// Put stores an entity under its composite key. With markDirty the
	// entity is flagged dirty and added to the dirty set.
	Put(e entity.IEntity, markDirty bool)
	// Get returns the cached entity for a key.
	Get(key entity.Key) (e entity.IEntity, loaded bool)
	// GetOrLoad returns the cached entity for a key, invoking the loader on
	// a miss and caching its result (not dirty).
	GetOrLoad(key entity.Key, loader EntityLoader) (e entity.IEntity, loaded bool)
	// GetDirtyEntries returns a point-in-time snapshot of the dirty
	// entities. It is not a transactional drain: entries stay dirty until
	// MarkClean is called.
	GetDirtyEntries() []entity.IEntity
	// MarkClean unconditionally removes the given keys from the dirty set
	// and clears the dirty flag of the (still cached) entities. A flush
	// must use MarkCleanIfUnchanged instead: between its snapshot and the
	// mark-clean a concurrent Put may have re-dirtied a key, and an
	// unconditional removal would silently drop that write.
	MarkClean(keys []entity.Key)
	// MarkCleanIfUnchanged removes the dirty entry for the entity's key
	// only if the dirty set still holds exactly this entity at the given
	// version. It returns false when the entry was replaced or re-dirtied
	// in the meantime, leaving it in place for the next flush cycle.
	MarkCleanIfUnchanged(e entity.IEntity, version uint64) (cleaned bool)
	// DirtyCount returns the current size of the dirty set.
	DirtyCount() int
	// InvalidateKey removes one entity from the cache and the dirty set.
	InvalidateKey(key entity.Key)
	// InvalidateGroup removes all cached variants of one subgroup of an
	// owner, including their dirty-set entries, and returns how many cache
	// entries were removed.
	InvalidateGroup(ownerID, subgroup string) (removed int)
	// InvalidateOwner removes all cached records of an owner, including
	// their dirty-set entries, and returns how many cache entries were
	// removed.
	InvalidateOwner(ownerID string) (removed int)
	// InvalidateAll removes all entries and clears the dirty set.
	InvalidateAll()
	// Stats returns the counters of the underlying generic cache.
	Stats() cache.Stats
}
