package lockmgr

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ValentinKolb/dSync/lib/shared"
	vm "github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("lockmgr")

const (
	// default TTL of a lock record if none is configured
	defaultLockTimeout = 30 * time.Second
	// default interval between acquisition attempts in AcquireLockWait
	defaultPollInterval = 100 * time.Millisecond
)

var (
	acquisitions = vm.GetOrCreateCounter("dsync_lock_acquisitions_total")
	contentions  = vm.GetOrCreateCounter("dsync_lock_contentions_total")
	cleanups     = vm.GetOrCreateCounter("dsync_lock_cleanups_total")
)

// Options configures the lock manager.
type Options struct {
	// Namespace prefixes all lock keys: "<namespace>:lock:<entityKey>"
	Namespace string
	// OwnerID identifies this process in lock records
	OwnerID string
	// LockTimeout is the TTL of every lock record (0 = 30s)
	LockTimeout time.Duration
	// PollInterval is the retry cadence of AcquireLockWait (0 = 100ms)
	PollInterval time.Duration
}

type lockMgrImpl struct {
	store shared.ISharedStore
	opts  Options

	// held tracks the entity keys this process currently owns. It is pure
	// bookkeeping for HeldLocks/ReleaseAll; ownership truth lives in the
	// shared store.
	held *xsync.MapOf[string, struct{}]
}

// NewLockManager creates a lock manager on top of the given shared store.
// The manager keeps no authoritative state of its own, so it is safe to
// create several managers on the same store as long as they use distinct
// owner ids.
func NewLockManager(store shared.ISharedStore, opts Options) ILockManager {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = defaultLockTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}

	return &lockMgrImpl{
		store: store,
		opts:  opts,
		held:  xsync.NewMapOf[string, struct{}](),
	}
}

// lockKey derives the namespaced store key for an entity key
func (lm *lockMgrImpl) lockKey(key string) string {
	return lm.opts.Namespace + ":lock:" + key
}

// readRecord loads and decodes the lock record for an entity key
func (lm *lockMgrImpl) readRecord(key string) (LockRecord, bool, error) {
	value, loaded, err := lm.store.Get(lm.lockKey(key))
	if err != nil || !loaded {
		return LockRecord{}, false, err
	}

	var record LockRecord
	if err := json.Unmarshal(value, &record); err != nil {
		// a corrupt record is treated as held by an unknown owner rather
		// than silently stealing the lock
		Logger.Errorf("corrupt lock record for %q: %v", key, err)
		return LockRecord{}, true, nil
	}
	return record, true, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see lockmgr/interface.go)
// --------------------------------------------------------------------------

func (lm *lockMgrImpl) AcquireLock(key string) (bool, error) {
	record := LockRecord{
		OwnerID:          lm.opts.OwnerID,
		AcquiredAtMillis: time.Now().UnixMilli(),
		EntityKey:        key,
	}
	value, err := json.Marshal(record)
	if err != nil {
		return false, err
	}

	// Try to acquire the lock (atomic "create if absent" in the shared store)
	inserted, err := lm.store.SetIfAbsent(lm.lockKey(key), value, lm.opts.LockTimeout)
	if err != nil {
		return false, err
	}
	if inserted {
		lm.held.Store(key, struct{}{})
		acquisitions.Inc()
		return true, nil
	}

	// The key exists: check whether we are the owner already (reconnect /
	// idempotent re-acquire) and refresh the TTL in that case.
	existing, loaded, err := lm.readRecord(key)
	if err != nil {
		return false, err
	}
	if loaded && existing.OwnerID == lm.opts.OwnerID {
		if err := lm.store.Expire(lm.lockKey(key), lm.opts.LockTimeout); err != nil {
			return false, err
		}
		lm.held.Store(key, struct{}{})
		return true, nil
	}

	// Held by someone else; the caller decides whether to retry or give up.
	contentions.Inc()
	return false, nil
}

func (lm *lockMgrImpl) AcquireLockWait(ctx context.Context, key string, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)

	for {
		acquired, err := lm.AcquireLock(key)
		if err != nil || acquired {
			return acquired, err
		}

		if time.Now().After(deadline) {
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(lm.opts.PollInterval):
		}
	}
}

func (lm *lockMgrImpl) ReleaseLock(key string) (bool, error) {
	record, loaded, err := lm.readRecord(key)
	if err != nil {
		return false, err
	}
	if !loaded {
		// the lock already expired or never existed, drop local bookkeeping
		lm.held.Delete(key)
		return true, nil
	}

	// never blind-delete: another process may have acquired the lock after
	// our local state went stale
	if record.OwnerID != lm.opts.OwnerID {
		lm.held.Delete(key)
		return false, nil
	}

	if err := lm.store.Delete(lm.lockKey(key)); err != nil {
		return false, err
	}
	lm.held.Delete(key)
	return true, nil
}

func (lm *lockMgrImpl) RefreshLock(key string) error {
	return lm.store.Expire(lm.lockKey(key), lm.opts.LockTimeout)
}

func (lm *lockMgrImpl) IsLocked(key string) (bool, error) {
	_, loaded, err := lm.readRecord(key)
	return loaded, err
}

func (lm *lockMgrImpl) GetLockHolder(key string) (string, bool, error) {
	record, loaded, err := lm.readRecord(key)
	if err != nil || !loaded {
		return "", false, err
	}
	return record.OwnerID, true, nil
}

func (lm *lockMgrImpl) CleanupLocksForServer(deadID string) (int, error) {
	prefix := lm.opts.Namespace + ":lock:"
	keys, err := lm.store.Keys(prefix)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, storeKey := range keys {
		value, loaded, err := lm.store.Get(storeKey)
		if err != nil || !loaded {
			continue
		}

		var record LockRecord
		if err := json.Unmarshal(value, &record); err != nil {
			Logger.Warningf("skipping corrupt lock record %q during cleanup: %v", storeKey, err)
			continue
		}
		if record.OwnerID != deadID {
			continue
		}

		if err := lm.store.Delete(storeKey); err != nil {
			Logger.Errorf("failed to delete lock %q of dead server %s: %v", storeKey, deadID, err)
			continue
		}
		removed++
		cleanups.Inc()
	}

	if removed > 0 {
		Logger.Infof("removed %d locks of dead server %s", removed, deadID)
	}
	return removed, nil
}

func (lm *lockMgrImpl) HeldLocks() []string {
	keys := make([]string, 0, lm.held.Size())
	lm.held.Range(func(key string, _ struct{}) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}

func (lm *lockMgrImpl) ReleaseAll() (int, error) {
	released := 0
	var firstErr error
	for _, key := range lm.HeldLocks() {
		ok, err := lm.ReleaseLock(key)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if ok {
			released++
		}
	}
	return released, firstErr
}

func (lm *lockMgrImpl) OwnerID() string {
	return lm.opts.OwnerID
}
