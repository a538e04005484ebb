package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dSync/lib/cache"
	"github.com/ValentinKolb/dSync/lib/entity"
	entitytesting "github.com/ValentinKolb/dSync/lib/entity/testing"
	"github.com/ValentinKolb/dSync/lib/entitycache"
	"github.com/ValentinKolb/dSync/lib/heartbeat"
	"github.com/ValentinKolb/dSync/lib/lockmgr"
	"github.com/ValentinKolb/dSync/lib/shared"
	"github.com/ValentinKolb/dSync/lib/shared/lstore"
	"github.com/ValentinKolb/dSync/lib/syncmgr"
)

// node bundles one process's full stack for multi-node tests.
type node struct {
	store entity.IEntityStore
	coord syncmgr.ISyncCoordinator
	orch  IStorageOrchestrator
}

// newNode wires a complete node (lockmgr, heartbeat, coordinator,
// orchestrator) onto shared in-process infrastructure. Each node gets its
// own entity cache; backingStore may be shared between nodes to model a
// common database.
func newNode(t *testing.T, id string, kv shared.ISharedStore, bus shared.IMessageBroker, backingStore entity.IEntityStore, opts Options) *node {
	t.Helper()
	locks := lockmgr.NewLockManager(kv, lockmgr.Options{
		Namespace:    "test",
		OwnerID:      id,
		PollInterval: 10 * time.Millisecond,
	})
	monitor := heartbeat.NewMonitor(heartbeat.Options{SelfID: id, Interval: time.Hour, Timeout: time.Hour})
	coord := syncmgr.NewCoordinator(syncmgr.Options{NodeID: id, Channel: "test:sync"}, bus, locks, monitor)
	ec := entitycache.New(cache.New[entity.IEntity](cache.Options{Name: "orch-" + id}))
	return &node{
		store: backingStore,
		coord: coord,
		orch:  NewOrchestrator(opts, backingStore, ec, coord),
	}
}

func (n *node) start(t *testing.T, ctx context.Context) {
	t.Helper()
	if err := n.coord.Start(ctx); err != nil {
		t.Fatalf("coordinator Start failed: %v", err)
	}
	if err := n.orch.Start(ctx); err != nil {
		t.Fatalf("orchestrator Start failed: %v", err)
	}
	t.Cleanup(func() {
		_ = n.orch.Stop()
		_ = n.coord.Stop()
	})
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

func testKey(variant string) entity.Key {
	return entity.Key{OwnerID: "u1", Subgroup: "profile", Variant: variant}
}

// --------------------------------------------------------------------------
// Versioning Tests
// --------------------------------------------------------------------------

func TestSaveIncrementsVersionOncePerSave(t *testing.T) {
	kv := lstore.NewLocalStore()
	defer kv.Close()
	bus := lstore.NewLocalBroker()
	defer bus.Close()

	backing := entitytesting.NewMemoryEntityStore()
	n := newNode(t, "node-a", kv, bus, backing, Options{CachingEnabled: true})

	// count the update broadcasts looping back through the channel
	var mu sync.Mutex
	var updates []uint64
	n.coord.OnMessage(func(msg *syncmgr.SyncMessage) {
		if msg.MsgType == syncmgr.MsgTDataUpdate {
			mu.Lock()
			defer mu.Unlock()
			updates = append(updates, msg.Version)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n.start(t, ctx)

	rec := entitytesting.NewRecord(testKey("base"), []byte("v"))
	for want := uint64(1); want <= 3; want++ {
		if err := n.orch.Save(rec); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if rec.Version() != want {
			t.Fatalf("expected version %d, got %d", want, rec.Version())
		}
	}
	if backing.SaveCalls() != 3 {
		t.Errorf("expected 3 backing saves, got %d", backing.SaveCalls())
	}

	// one broadcast per save, carrying the saved version
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(updates) == 3
	}, "each save should be broadcast exactly once")
	mu.Lock()
	defer mu.Unlock()
	for i, want := range []uint64{1, 2, 3} {
		if updates[i] != want {
			t.Errorf("broadcast %d carried version %d, expected %d", i, updates[i], want)
		}
	}
}

func TestFailedSaveRestoresVersion(t *testing.T) {
	kv := lstore.NewLocalStore()
	defer kv.Close()
	bus := lstore.NewLocalBroker()
	defer bus.Close()

	backing := entitytesting.NewMemoryEntityStore()
	n := newNode(t, "node-a", kv, bus, backing, Options{})

	rec := entitytesting.NewRecord(testKey("base"), []byte("v"))
	if err := n.orch.Save(rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	backing.FailSaves.Store(true)
	if err := n.orch.Save(rec); err == nil {
		t.Fatal("expected error from failing backing store")
	}
	if rec.Version() != 1 {
		t.Errorf("failed save must not advance version, got %d", rec.Version())
	}

	backing.FailSaves.Store(false)
	if err := n.orch.Save(rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if rec.Version() != 2 {
		t.Errorf("expected version 2 after retry, got %d", rec.Version())
	}
}

// --------------------------------------------------------------------------
// Load Tests
// --------------------------------------------------------------------------

func TestLoadCachesEntity(t *testing.T) {
	kv := lstore.NewLocalStore()
	defer kv.Close()
	bus := lstore.NewLocalBroker()
	defer bus.Close()

	backing := entitytesting.NewMemoryEntityStore()
	rec := entitytesting.NewRecord(testKey("base"), []byte("v"))
	if err := backing.SaveEntity(rec); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	n := newNode(t, "node-a", kv, bus, backing, Options{CachingEnabled: true})

	for i := 0; i < 5; i++ {
		e, loaded, err := n.orch.Load(testKey("base"))
		if err != nil || !loaded {
			t.Fatalf("Load failed: loaded=%t err=%v", loaded, err)
		}
		if e.Key() != rec.Key() {
			t.Fatalf("wrong entity loaded: %v", e.Key())
		}
	}
	if backing.LoadCalls() != 1 {
		t.Errorf("expected 1 backing load, got %d", backing.LoadCalls())
	}

	if _, loaded, err := n.orch.Load(testKey("missing")); err != nil || loaded {
		t.Errorf("missing key: loaded=%t err=%v", loaded, err)
	}
}

func TestLoadWithoutCachingHitsStore(t *testing.T) {
	kv := lstore.NewLocalStore()
	defer kv.Close()
	bus := lstore.NewLocalBroker()
	defer bus.Close()

	backing := entitytesting.NewMemoryEntityStore()
	if err := backing.SaveEntity(entitytesting.NewRecord(testKey("base"), []byte("v"))); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	n := newNode(t, "node-a", kv, bus, backing, Options{CachingEnabled: false})
	for i := 0; i < 3; i++ {
		if _, loaded, err := n.orch.Load(testKey("base")); err != nil || !loaded {
			t.Fatalf("Load failed: loaded=%t err=%v", loaded, err)
		}
	}
	if backing.LoadCalls() != 3 {
		t.Errorf("expected 3 backing loads, got %d", backing.LoadCalls())
	}
}

// --------------------------------------------------------------------------
// Write-Behind Tests
// --------------------------------------------------------------------------

func TestWriteBehindFlush(t *testing.T) {
	kv := lstore.NewLocalStore()
	defer kv.Close()
	bus := lstore.NewLocalBroker()
	defer bus.Close()

	backing := entitytesting.NewMemoryEntityStore()
	n := newNode(t, "node-a", kv, bus, backing, Options{
		CachingEnabled: true,
		WriteBehind:    true,
	})

	for i, v := range []string{"a", "b", "c"} {
		rec := entitytesting.NewRecord(testKey(v), []byte{byte(i)})
		if err := n.orch.Save(rec); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	// nothing durable yet, everything dirty
	if backing.SaveCalls() != 0 {
		t.Fatalf("write-behind save hit the store %d time(s)", backing.SaveCalls())
	}
	if n.orch.DirtyCount() != 3 {
		t.Fatalf("expected 3 dirty entries, got %d", n.orch.DirtyCount())
	}

	flushed, err := n.orch.FlushDirtyEntries()
	if err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if flushed != 3 {
		t.Errorf("expected 3 flushed, got %d", flushed)
	}
	if n.orch.DirtyCount() != 0 {
		t.Errorf("expected empty dirty set, got %d", n.orch.DirtyCount())
	}
	if backing.Len() != 3 {
		t.Errorf("expected 3 persisted records, got %d", backing.Len())
	}

	// second flush is a no-op
	if flushed, err := n.orch.FlushDirtyEntries(); err != nil || flushed != 0 {
		t.Errorf("expected empty flush, got flushed=%d err=%v", flushed, err)
	}
}

func TestFlushRetryAfterStoreFailure(t *testing.T) {
	kv := lstore.NewLocalStore()
	defer kv.Close()
	bus := lstore.NewLocalBroker()
	defer bus.Close()

	backing := entitytesting.NewMemoryEntityStore()
	n := newNode(t, "node-a", kv, bus, backing, Options{
		CachingEnabled: true,
		WriteBehind:    true,
	})

	if err := n.orch.Save(entitytesting.NewRecord(testKey("base"), []byte("v"))); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	backing.FailSaves.Store(true)
	if _, err := n.orch.FlushDirtyEntries(); err == nil {
		t.Fatal("expected flush error while store is failing")
	}
	if n.orch.DirtyCount() != 1 {
		t.Fatalf("failed flush must keep dirty set, got %d", n.orch.DirtyCount())
	}

	backing.FailSaves.Store(false)
	if flushed, err := n.orch.FlushDirtyEntries(); err != nil || flushed != 1 {
		t.Fatalf("retry flush: flushed=%d err=%v", flushed, err)
	}
	if n.orch.DirtyCount() != 0 {
		t.Errorf("expected empty dirty set after retry, got %d", n.orch.DirtyCount())
	}
}

func TestBackgroundFlushTimer(t *testing.T) {
	kv := lstore.NewLocalStore()
	defer kv.Close()
	bus := lstore.NewLocalBroker()
	defer bus.Close()

	backing := entitytesting.NewMemoryEntityStore()
	n := newNode(t, "node-a", kv, bus, backing, Options{
		CachingEnabled:   true,
		WriteBehind:      true,
		WriteBehindDelay: 20 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n.start(t, ctx)

	if err := n.orch.Save(entitytesting.NewRecord(testKey("base"), []byte("v"))); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		return backing.Len() == 1 && n.orch.DirtyCount() == 0
	}, "flush timer should persist the dirty entity")
}

// --------------------------------------------------------------------------
// Fleet Coherence Tests
// --------------------------------------------------------------------------

func TestRemoteUpdateInvalidatesPeerCache(t *testing.T) {
	kv := lstore.NewLocalStore()
	defer kv.Close()
	bus := lstore.NewLocalBroker()
	defer bus.Close()

	// both nodes share one backing store, as a shared database would be
	backing := entitytesting.NewMemoryEntityStore()
	nodeA := newNode(t, "node-a", kv, bus, backing, Options{CachingEnabled: true})
	nodeB := newNode(t, "node-b", kv, bus, backing, Options{CachingEnabled: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	nodeA.start(t, ctx)
	nodeB.start(t, ctx)

	rec := entitytesting.NewRecord(testKey("base"), []byte("v1"))
	if err := nodeA.orch.Save(rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// warm node-b's cache
	if _, loaded, err := nodeB.orch.Load(testKey("base")); err != nil || !loaded {
		t.Fatalf("warmup Load failed: loaded=%t err=%v", loaded, err)
	}
	loadsBefore := backing.LoadCalls()

	// node-a saves again; node-b's cached copy must go stale and be
	// reloaded from the backing store on the next read
	if err := nodeA.orch.Save(rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		e, loaded, err := nodeB.orch.Load(testKey("base"))
		return err == nil && loaded && e.Version() == 2 && backing.LoadCalls() > loadsBefore
	}, "node-b should reload the updated entity")
}

func TestDeletePurgesFleet(t *testing.T) {
	kv := lstore.NewLocalStore()
	defer kv.Close()
	bus := lstore.NewLocalBroker()
	defer bus.Close()

	backing := entitytesting.NewMemoryEntityStore()
	nodeA := newNode(t, "node-a", kv, bus, backing, Options{CachingEnabled: true})
	nodeB := newNode(t, "node-b", kv, bus, backing, Options{CachingEnabled: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	nodeA.start(t, ctx)
	nodeB.start(t, ctx)

	rec := entitytesting.NewRecord(testKey("base"), []byte("v"))
	if err := nodeA.orch.Save(rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, loaded, err := nodeB.orch.Load(testKey("base")); err != nil || !loaded {
		t.Fatalf("warmup Load failed: loaded=%t err=%v", loaded, err)
	}

	if err := nodeB.orch.Delete(testKey("base")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		_, loadedA, errA := nodeA.orch.Load(testKey("base"))
		_, loadedB, errB := nodeB.orch.Load(testKey("base"))
		return errA == nil && errB == nil && !loadedA && !loadedB
	}, "deleted entity should be gone on both nodes")
}

// --------------------------------------------------------------------------
// Locked Save Tests
// --------------------------------------------------------------------------

func TestSaveWithLockFailClosed(t *testing.T) {
	kv := lstore.NewLocalStore()
	defer kv.Close()
	bus := lstore.NewLocalBroker()
	defer bus.Close()

	backing := entitytesting.NewMemoryEntityStore()
	nodeA := newNode(t, "node-a", kv, bus, backing, Options{})
	nodeB := newNode(t, "node-b", kv, bus, backing, Options{})

	key := testKey("base")
	if acquired, err := nodeB.coord.AcquireLock(key.String()); err != nil || !acquired {
		t.Fatalf("node-b acquire failed: acquired=%t err=%v", acquired, err)
	}

	rec := entitytesting.NewRecord(key, []byte("v"))
	err := nodeA.orch.SaveWithLock(context.Background(), rec, 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected contention error (fail-closed)")
	}
	if rec.Version() != 0 {
		t.Errorf("blocked save must not advance version, got %d", rec.Version())
	}

	// after release the save goes through
	if _, err := nodeB.coord.ReleaseLock(key.String()); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if err := nodeA.orch.SaveWithLock(context.Background(), rec, time.Second); err != nil {
		t.Fatalf("SaveWithLock failed after release: %v", err)
	}
	if locked, err := nodeA.coord.IsLocked(key.String()); err != nil || locked {
		t.Errorf("lock should be released after save: locked=%t err=%v", locked, err)
	}
}

func TestSaveWithLockFailOpen(t *testing.T) {
	kv := lstore.NewLocalStore()
	defer kv.Close()
	bus := lstore.NewLocalBroker()
	defer bus.Close()

	backing := entitytesting.NewMemoryEntityStore()
	nodeA := newNode(t, "node-a", kv, bus, backing, Options{FailOpenLocks: true})
	nodeB := newNode(t, "node-b", kv, bus, backing, Options{})

	key := testKey("base")
	if acquired, err := nodeB.coord.AcquireLock(key.String()); err != nil || !acquired {
		t.Fatalf("node-b acquire failed: acquired=%t err=%v", acquired, err)
	}

	rec := entitytesting.NewRecord(key, []byte("v"))
	if err := nodeA.orch.SaveWithLock(context.Background(), rec, 50*time.Millisecond); err != nil {
		t.Fatalf("fail-open save should succeed: %v", err)
	}
	if rec.Version() != 1 {
		t.Errorf("expected version 1, got %d", rec.Version())
	}

	// the foreign lock must survive the fail-open save
	holder, locked, err := nodeA.coord.GetLockHolder(key.String())
	if err != nil || !locked || holder != "node-b" {
		t.Errorf("foreign lock disturbed: holder=%q locked=%t err=%v", holder, locked, err)
	}
}

// gatedStore wraps the in-memory store with a batch save that can be parked
// mid-flight, so tests can interleave a foreground save with a running flush.
type gatedStore struct {
	*entitytesting.MemoryEntityStore
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{
		MemoryEntityStore: entitytesting.NewMemoryEntityStore(),
		entered:           make(chan struct{}),
		release:           make(chan struct{}),
	}
}

func (g *gatedStore) SaveBatch(entities []entity.IEntity) (int, error) {
	if g.armed.CompareAndSwap(true, false) {
		close(g.entered)
		<-g.release
	}
	return g.MemoryEntityStore.SaveBatch(entities)
}

func TestSaveDuringFlushStaysDirty(t *testing.T) {
	kv := lstore.NewLocalStore()
	defer kv.Close()
	bus := lstore.NewLocalBroker()
	defer bus.Close()

	backing := newGatedStore()
	n := newNode(t, "node-a", kv, bus, backing, Options{
		CachingEnabled: true,
		WriteBehind:    true,
	})

	key := testKey("base")
	if err := n.orch.Save(entitytesting.NewRecord(key, []byte("old"))); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// park the flush inside the batch write
	backing.armed.Store(true)
	flushDone := make(chan error, 1)
	go func() {
		_, err := n.orch.FlushDirtyEntries()
		flushDone <- err
	}()
	<-backing.entered

	// a save racing the flush re-dirties the same key with a fresh record
	if err := n.orch.Save(entitytesting.NewRecord(key, []byte("new"))); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	close(backing.release)
	if err := <-flushDone; err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	// the concurrent write must have survived the mark-clean
	if n.orch.DirtyCount() != 1 {
		t.Fatalf("the racing save must stay dirty, got %d entries", n.orch.DirtyCount())
	}

	// the next cycle persists it
	if flushed, err := n.orch.FlushDirtyEntries(); err != nil || flushed != 1 {
		t.Fatalf("retry flush: flushed=%d err=%v", flushed, err)
	}
	if n.orch.DirtyCount() != 0 {
		t.Fatalf("expected empty dirty set, got %d", n.orch.DirtyCount())
	}
	e, loaded, err := backing.LoadEntity(key)
	if err != nil || !loaded {
		t.Fatalf("LoadEntity failed: loaded=%t err=%v", loaded, err)
	}
	if rec := e.(*entitytesting.Record); string(rec.Payload) != "new" {
		t.Errorf("backing store holds %q, the racing write was dropped", rec.Payload)
	}
}
