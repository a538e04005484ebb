package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dSync/lib/entity"
	"github.com/ValentinKolb/dSync/lib/entitycache"
	"github.com/ValentinKolb/dSync/lib/shared"
	"github.com/ValentinKolb/dSync/lib/syncmgr"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
)

var Logger = logger.GetLogger("orchestrator")

const defaultWriteBehindDelay = 1 * time.Second

// Options configures the storage orchestrator.
type Options struct {
	// CachingEnabled serves reads from the entity cache (false = every
	// Load hits the backing store)
	CachingEnabled bool
	// WriteBehind defers persistence to the flush timer instead of
	// writing on every Save
	WriteBehind bool
	// WriteBehindDelay is the flush timer interval (0 = 1s)
	WriteBehindDelay time.Duration
	// SyncWrites forces immediate persistence even with WriteBehind set,
	// keeping the cache warm but never deferring durability
	SyncWrites bool
	// FailOpenLocks lets SaveWithLock proceed without the lock after the
	// wait times out; default false returns a contention error instead
	FailOpenLocks bool
}

type orchestratorImpl struct {
	opts  Options
	store entity.IEntityStore
	cache entitycache.IEntityCache
	coord syncmgr.ISyncCoordinator

	// 1-minute rate over Save/Load calls, published as heartbeat load
	opsMeter gometrics.Meter

	active atomic.Bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates a storage orchestrator over a durable backing
// store, an entity cache and a sync coordinator. It registers itself for
// the coordinator's invalidation callbacks so remote saves and deletes
// purge the local cache.
func NewOrchestrator(
	opts Options,
	store entity.IEntityStore,
	cache entitycache.IEntityCache,
	coord syncmgr.ISyncCoordinator,
) IStorageOrchestrator {
	if opts.WriteBehindDelay <= 0 {
		opts.WriteBehindDelay = defaultWriteBehindDelay
	}
	o := &orchestratorImpl{
		opts:     opts,
		store:    store,
		cache:    cache,
		coord:    coord,
		opsMeter: gometrics.NewMeter(),
	}
	coord.OnCacheInvalidate(o.applyInvalidation)
	return o
}

// --------------------------------------------------------------------------
// Interface Methods (docu see orchestrator.IStorageOrchestrator)
// --------------------------------------------------------------------------

func (o *orchestratorImpl) Start(ctx context.Context) error {
	if !o.active.CompareAndSwap(false, true) {
		return fmt.Errorf("orchestrator already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	if o.opts.WriteBehind && !o.opts.SyncWrites {
		o.wg.Add(1)
		go o.flushLoop(runCtx)
	}
	return nil
}

func (o *orchestratorImpl) Stop() error {
	if !o.active.CompareAndSwap(true, false) {
		return nil
	}
	o.cancel()
	o.wg.Wait()

	// drain what the timer did not get to
	if flushed, err := o.FlushDirtyEntries(); err != nil {
		return fmt.Errorf("final flush failed: %w", err)
	} else if flushed > 0 {
		Logger.Infof("final flush persisted %d entit(y/ies)", flushed)
	}
	o.opsMeter.Stop()
	return nil
}

func (o *orchestratorImpl) Save(e entity.IEntity) error {
	o.opsMeter.Mark(1)
	e.SetVersion(e.Version() + 1)

	if o.opts.WriteBehind && !o.opts.SyncWrites {
		// deferred: dirty-cached now, persisted and broadcast at flush time
		o.cache.Put(e, true)
		return nil
	}

	if err := o.store.SaveEntity(e); err != nil {
		e.SetVersion(e.Version() - 1)
		return fmt.Errorf("failed to save %s: %w", e.Key(), err)
	}
	e.SetDirty(false)
	if o.opts.CachingEnabled {
		o.cache.Put(e, false)
	}
	if err := o.coord.BroadcastUpdate(e.Key().String(), e.Version()); err != nil {
		Logger.Warningf("update broadcast for %s failed: %v", e.Key(), err)
	}
	return nil
}

func (o *orchestratorImpl) SaveWithLock(ctx context.Context, e entity.IEntity, timeout time.Duration) error {
	key := e.Key().String()
	acquired, err := o.coord.AcquireLockWait(ctx, key, timeout)
	if err != nil {
		return fmt.Errorf("failed to acquire lock for %s: %w", key, err)
	}
	if !acquired {
		if !o.opts.FailOpenLocks {
			return shared.NewError(shared.RetCInvalidOperation, fmt.Sprintf("lock for %s is contended", key))
		}
		Logger.Warningf("lock wait for %s timed out, saving without lock (fail-open)", key)
	}
	if acquired {
		defer func() {
			if _, err := o.coord.ReleaseLock(key); err != nil {
				Logger.Errorf("failed to release lock for %s: %v", key, err)
			}
		}()
	}
	return o.Save(e)
}

func (o *orchestratorImpl) Load(key entity.Key) (entity.IEntity, bool, error) {
	o.opsMeter.Mark(1)

	if !o.opts.CachingEnabled {
		return o.store.LoadEntity(key)
	}

	// the loader cannot return an error through the cache, capture it
	var loadErr error
	e, loaded := o.cache.GetOrLoad(key, func(k entity.Key) (entity.IEntity, bool) {
		le, found, err := o.store.LoadEntity(k)
		if err != nil {
			loadErr = err
			return nil, false
		}
		return le, found
	})
	if loadErr != nil {
		return nil, false, fmt.Errorf("failed to load %s: %w", key, loadErr)
	}
	return e, loaded, nil
}

func (o *orchestratorImpl) Delete(key entity.Key) error {
	if err := o.store.DeleteEntity(key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	o.cache.InvalidateKey(key)
	if err := o.coord.BroadcastInvalidation(key.String(), syncmgr.ScopeKey); err != nil {
		Logger.Warningf("invalidation broadcast for %s failed: %v", key, err)
	}
	return nil
}

func (o *orchestratorImpl) FlushDirtyEntries() (int, error) {
	dirty := o.cache.GetDirtyEntries()
	if len(dirty) == 0 {
		return 0, nil
	}

	// capture the versions going into the batch: a concurrent Save may bump
	// an entity while it is being persisted, and such a write must stay
	// dirty for the next cycle instead of being marked clean unseen
	versions := make([]uint64, len(dirty))
	for i, e := range dirty {
		versions[i] = e.Version()
	}

	if _, err := o.store.SaveBatch(dirty); err != nil {
		// dirty set untouched, the next cycle retries the whole batch
		return 0, fmt.Errorf("failed to flush %d dirty entit(y/ies): %w", len(dirty), err)
	}

	for i, e := range dirty {
		if !o.cache.MarkCleanIfUnchanged(e, versions[i]) {
			Logger.Debugf("%s was re-dirtied during the flush, keeping it for the next cycle", e.Key())
		}
		if err := o.coord.BroadcastUpdate(e.Key().String(), versions[i]); err != nil {
			Logger.Warningf("update broadcast for %s failed: %v", e.Key(), err)
		}
	}
	return len(dirty), nil
}

func (o *orchestratorImpl) DirtyCount() int {
	return o.cache.DirtyCount()
}

func (o *orchestratorImpl) LoadRate() int {
	return int(o.opsMeter.Rate1())
}

// --------------------------------------------------------------------------
// Internal
// --------------------------------------------------------------------------

func (o *orchestratorImpl) flushLoop(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.opts.WriteBehindDelay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if flushed, err := o.FlushDirtyEntries(); err != nil {
				Logger.Errorf("flush cycle failed: %v", err)
			} else if flushed > 0 {
				Logger.Debugf("flushed %d dirty entit(y/ies)", flushed)
			}
		}
	}
}

// applyInvalidation purges the local cache for an invalidation received
// from the sync coordinator (remote or self-originated).
func (o *orchestratorImpl) applyInvalidation(entityKey string, scope syncmgr.InvalidationScope) {
	key, err := entity.ParseKey(entityKey)
	if err != nil {
		Logger.Warningf("ignoring invalidation with bad key: %v", err)
		return
	}
	switch scope {
	case syncmgr.ScopeGroup:
		o.cache.InvalidateGroup(key.OwnerID, key.Subgroup)
	case syncmgr.ScopeOwner:
		o.cache.InvalidateOwner(key.OwnerID)
	default:
		o.cache.InvalidateKey(key)
	}
}
