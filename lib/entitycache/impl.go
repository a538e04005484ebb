package entitycache

import (
	"strings"

	"github.com/ValentinKolb/dSync/lib/cache"
	"github.com/ValentinKolb/dSync/lib/entity"
	"github.com/puzpuzpuz/xsync/v3"
)

type entityCacheImpl struct {
	cache cache.ICache[entity.IEntity]

	// dirty is the secondary index "dirty composite key -> owning entity".
	// Holding the entity itself (not just the key) guarantees that a dirty
	// entity can always be flushed even if the bounded generic cache has
	// evicted it in the meantime.
	dirty *xsync.MapOf[string, entity.IEntity]
}

// New creates a write-behind entity cache on top of the given generic cache.
// Passing a cache created with cache.NewNoop disables caching of clean
// entities while keeping the dirty tracking fully functional.
func New(c cache.ICache[entity.IEntity]) IEntityCache {
	return &entityCacheImpl{
		cache: c,
		dirty: xsync.NewMapOf[string, entity.IEntity](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see entitycache/interface.go)
// --------------------------------------------------------------------------

func (ec *entityCacheImpl) Put(e entity.IEntity, markDirty bool) {
	key := e.Key().String()
	ec.cache.Put(key, e)

	if markDirty {
		e.SetDirty(true)
		ec.dirty.Store(key, e)
	}
}

func (ec *entityCacheImpl) Get(key entity.Key) (entity.IEntity, bool) {
	// a dirty entity is always served from the dirty index, the bounded
	// cache may already have evicted it
	if e, ok := ec.dirty.Load(key.String()); ok {
		return e, true
	}
	return ec.cache.Get(key.String())
}

func (ec *entityCacheImpl) GetOrLoad(key entity.Key, loader EntityLoader) (entity.IEntity, bool) {
	if e, ok := ec.dirty.Load(key.String()); ok {
		return e, true
	}
	return ec.cache.GetOrLoad(key.String(), func(s string) (entity.IEntity, bool) {
		return loader(key)
	})
}

func (ec *entityCacheImpl) GetDirtyEntries() []entity.IEntity {
	entries := make([]entity.IEntity, 0, ec.dirty.Size())
	ec.dirty.Range(func(_ string, e entity.IEntity) bool {
		entries = append(entries, e)
		return true
	})
	return entries
}

func (ec *entityCacheImpl) MarkClean(keys []entity.Key) {
	for _, key := range keys {
		if e, loaded := ec.dirty.LoadAndDelete(key.String()); loaded {
			e.SetDirty(false)
		}
	}
}

func (ec *entityCacheImpl) MarkCleanIfUnchanged(e entity.IEntity, version uint64) bool {
	cleaned := false
	ec.dirty.Compute(e.Key().String(), func(cur entity.IEntity, loaded bool) (entity.IEntity, bool) {
		if !loaded {
			// deleting a missing entry is a no-op
			return cur, true
		}
		// only the exact entity at the exact version may be cleaned; a
		// replaced entity or a bumped version is a newer write that must
		// survive until it is flushed itself
		if cur == e && cur.Version() == version {
			cleaned = true
			return cur, true
		}
		return cur, false
	})
	if cleaned {
		e.SetDirty(false)
	}
	return cleaned
}

func (ec *entityCacheImpl) DirtyCount() int {
	return ec.dirty.Size()
}

func (ec *entityCacheImpl) InvalidateKey(key entity.Key) {
	ec.cache.Invalidate(key.String())
	ec.dirty.Delete(key.String())
}

func (ec *entityCacheImpl) InvalidateGroup(ownerID, subgroup string) int {
	prefix := entity.Key{OwnerID: ownerID, Subgroup: subgroup}.GroupPrefix()
	return ec.invalidatePrefix(prefix)
}

func (ec *entityCacheImpl) InvalidateOwner(ownerID string) int {
	prefix := entity.Key{OwnerID: ownerID}.OwnerPrefix()
	return ec.invalidatePrefix(prefix)
}

// invalidatePrefix purges all cache and dirty-set entries whose composite
// key starts with the given prefix. Purging the dirty set too prevents a
// later flush from resurrecting records that were just invalidated.
func (ec *entityCacheImpl) invalidatePrefix(prefix string) int {
	removed := ec.cache.InvalidateIf(func(key string) bool {
		return strings.HasPrefix(key, prefix)
	})
	ec.dirty.Range(func(key string, _ entity.IEntity) bool {
		if strings.HasPrefix(key, prefix) {
			ec.dirty.Delete(key)
		}
		return true
	})
	return removed
}

func (ec *entityCacheImpl) InvalidateAll() {
	ec.cache.InvalidateAll()
	ec.dirty.Clear()
}

func (ec *entityCacheImpl) Stats() cache.Stats {
	return ec.cache.Stats()
}
