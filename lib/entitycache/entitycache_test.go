package entitycache

import (
	"fmt"
	"testing"

	"github.com/ValentinKolb/dSync/lib/cache"
	"github.com/ValentinKolb/dSync/lib/entity"
	entitytesting "github.com/ValentinKolb/dSync/lib/entity/testing"
)

func key(owner, subgroup, variant string) entity.Key {
	return entity.Key{OwnerID: owner, Subgroup: subgroup, Variant: variant}
}

func newCache() IEntityCache {
	return New(cache.New[entity.IEntity](cache.Options{Name: "entity-test"}))
}

func TestPutGet(t *testing.T) {
	ec := newCache()

	k := key("p1", "inventory", "main")
	ec.Put(entitytesting.NewRecord(k, []byte("data")), false)

	e, ok := ec.Get(k)
	if !ok {
		t.Fatal("entity should be cached")
	}
	if e.Key() != k {
		t.Errorf("cached entity has key %v, want %v", e.Key(), k)
	}
	if e.Dirty() {
		t.Error("entity stored without markDirty should be clean")
	}

	if _, ok := ec.Get(key("p1", "inventory", "other")); ok {
		t.Error("unknown variant should miss")
	}
}

func TestDirtyLifecycle(t *testing.T) {
	ec := newCache()

	keys := make([]entity.Key, 0, 3)
	for i := 0; i < 3; i++ {
		k := key("p1", "inventory", fmt.Sprintf("v%d", i))
		keys = append(keys, k)
		ec.Put(entitytesting.NewRecord(k, nil), true)
	}

	if got := ec.DirtyCount(); got != 3 {
		t.Fatalf("dirty count = %d, want 3", got)
	}

	dirty := ec.GetDirtyEntries()
	if len(dirty) != 3 {
		t.Fatalf("GetDirtyEntries returned %d entries, want 3", len(dirty))
	}
	for _, e := range dirty {
		if !e.Dirty() {
			t.Errorf("entity %v in dirty snapshot should be flagged dirty", e.Key())
		}
	}

	// the snapshot does not drain the set
	if got := ec.DirtyCount(); got != 3 {
		t.Errorf("dirty count after snapshot = %d, want 3", got)
	}

	ec.MarkClean(keys)
	if got := ec.DirtyCount(); got != 0 {
		t.Errorf("dirty count after MarkClean = %d, want 0", got)
	}
	if e, _ := ec.Get(keys[0]); e.Dirty() {
		t.Error("entity should be clean after MarkClean")
	}
}

func TestDirtySurvivesEviction(t *testing.T) {
	// a tiny bounded cache guarantees evictions
	ec := New(cache.New[entity.IEntity](cache.Options{Name: "entity-evict", MaxEntries: 2, NumShards: 1}))

	k := key("p1", "inventory", "main")
	ec.Put(entitytesting.NewRecord(k, []byte("precious")), true)

	// push enough clean entries to evict everything from the generic cache
	for i := 0; i < 16; i++ {
		ec.Put(entitytesting.NewRecord(key("p2", "inventory", fmt.Sprintf("v%d", i)), nil), false)
	}

	if _, ok := ec.Get(k); !ok {
		t.Fatal("dirty entity must survive cache eviction")
	}
	if len(ec.GetDirtyEntries()) != 1 {
		t.Error("dirty entity missing from flush snapshot")
	}
}

func TestInvalidatePurgesDirty(t *testing.T) {
	ec := newCache()

	ec.Put(entitytesting.NewRecord(key("p1", "inventory", "main"), nil), true)
	ec.Put(entitytesting.NewRecord(key("p1", "inventory", "alt"), nil), true)
	ec.Put(entitytesting.NewRecord(key("p1", "settings", "main"), nil), true)
	ec.Put(entitytesting.NewRecord(key("p2", "inventory", "main"), nil), true)

	// group invalidation purges the group's dirty entries only
	removed := ec.InvalidateGroup("p1", "inventory")
	if removed != 2 {
		t.Errorf("InvalidateGroup removed %d cache entries, want 2", removed)
	}
	if got := ec.DirtyCount(); got != 2 {
		t.Errorf("dirty count after group invalidation = %d, want 2", got)
	}

	// owner invalidation purges the rest of p1
	ec.InvalidateOwner("p1")
	if got := ec.DirtyCount(); got != 1 {
		t.Errorf("dirty count after owner invalidation = %d, want 1", got)
	}

	dirty := ec.GetDirtyEntries()
	if len(dirty) != 1 || dirty[0].Key().OwnerID != "p2" {
		t.Errorf("only p2's entry should remain dirty, got %v", dirty)
	}

	ec.InvalidateAll()
	if ec.DirtyCount() != 0 {
		t.Error("InvalidateAll should clear the dirty set")
	}
}

func TestInvalidateKey(t *testing.T) {
	ec := newCache()

	k := key("p1", "inventory", "main")
	ec.Put(entitytesting.NewRecord(k, nil), true)

	ec.InvalidateKey(k)
	if _, ok := ec.Get(k); ok {
		t.Error("invalidated entity should be gone")
	}
	if ec.DirtyCount() != 0 {
		t.Error("invalidation must purge the dirty entry")
	}
}

func TestGetOrLoad(t *testing.T) {
	ec := newCache()

	k := key("p1", "inventory", "main")
	loads := 0
	loader := func(key entity.Key) (entity.IEntity, bool) {
		loads++
		return entitytesting.NewRecord(key, []byte("from store")), true
	}

	if _, ok := ec.GetOrLoad(k, loader); !ok {
		t.Fatal("GetOrLoad should load the entity")
	}
	if _, ok := ec.GetOrLoad(k, loader); !ok {
		t.Fatal("GetOrLoad should hit")
	}
	if loads != 1 {
		t.Errorf("loader ran %d times, want 1", loads)
	}

	// dirty entities are served from the dirty index, not loaded
	dirtyKey := key("p1", "inventory", "alt")
	ec.Put(entitytesting.NewRecord(dirtyKey, []byte("unflushed")), true)
	e, ok := ec.GetOrLoad(dirtyKey, loader)
	if !ok || string(e.(*entitytesting.Record).Payload) != "unflushed" {
		t.Error("dirty entity must be served from the dirty index")
	}
	if loads != 1 {
		t.Error("loader must not run for dirty entities")
	}
}

func TestMarkCleanIfUnchanged(t *testing.T) {
	ec := newCache()
	k := key("p1", "inventory", "main")

	rec := entitytesting.NewRecord(k, []byte("data"))
	rec.SetVersion(1)
	ec.Put(rec, true)

	// unchanged entry is cleaned
	if !ec.MarkCleanIfUnchanged(rec, 1) {
		t.Fatal("unchanged dirty entry should be cleaned")
	}
	if ec.DirtyCount() != 0 {
		t.Fatalf("expected empty dirty set, got %d", ec.DirtyCount())
	}
	if rec.Dirty() {
		t.Error("cleaned entity should have its dirty flag cleared")
	}

	// a missing entry is a no-op
	if ec.MarkCleanIfUnchanged(rec, 1) {
		t.Error("cleaning a missing entry should report false")
	}
}

func TestMarkCleanIfUnchangedKeepsReplacedEntry(t *testing.T) {
	ec := newCache()
	k := key("p1", "inventory", "main")

	flushed := entitytesting.NewRecord(k, []byte("old"))
	flushed.SetVersion(1)
	ec.Put(flushed, true)

	// the key is re-dirtied with a fresh record while the old one is
	// being flushed
	newer := entitytesting.NewRecord(k, []byte("new"))
	newer.SetVersion(1)
	ec.Put(newer, true)

	if ec.MarkCleanIfUnchanged(flushed, 1) {
		t.Fatal("a replaced entry must not be cleaned")
	}
	if ec.DirtyCount() != 1 {
		t.Fatalf("the newer write must stay dirty, got %d entries", ec.DirtyCount())
	}
	e, ok := ec.Get(k)
	if !ok || e != entity.IEntity(newer) {
		t.Error("dirty set should hold the newer record")
	}
	if !newer.Dirty() {
		t.Error("the newer record must keep its dirty flag")
	}
}

func TestMarkCleanIfUnchangedKeepsBumpedVersion(t *testing.T) {
	ec := newCache()
	k := key("p1", "inventory", "main")

	rec := entitytesting.NewRecord(k, []byte("data"))
	rec.SetVersion(1)
	ec.Put(rec, true)

	// the same record is saved again while version 1 is being flushed
	rec.SetVersion(2)
	ec.Put(rec, true)

	if ec.MarkCleanIfUnchanged(rec, 1) {
		t.Fatal("an entry with a newer version must not be cleaned")
	}
	if ec.DirtyCount() != 1 {
		t.Fatalf("the newer version must stay dirty, got %d entries", ec.DirtyCount())
	}
}
