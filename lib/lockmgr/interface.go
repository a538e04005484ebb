package lockmgr

import (
	"context"
	"time"
)

// --------------------------------------------------------------------------
// Lock Record
// --------------------------------------------------------------------------

// LockRecord is the value stored in the shared store for a held lock. It is
// serialized as JSON under the namespaced key "<namespace>:lock:<entityKey>"
// and protected by the store's TTL so a crashed owner cannot hold a lock
// forever.
type LockRecord struct {
	OwnerID          string `json:"owner_id"`
	AcquiredAtMillis int64  `json:"acquired_at_millis"`
	EntityKey        string `json:"entity_key"`
}

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// ILockManager defines the interface for the distributed lock manager. A
// lock is an exclusive, TTL-bound ownership token for an entity key, stored
// in the shared store visible to all processes. The shared store (not any
// in-process state) is the mutual-exclusion authority; the manager only
// additionally tracks which locks are held locally.
type ILockManager interface {
	// AcquireLock tries to acquire the lock for a key once. Re-acquiring a
	// lock this process already owns succeeds and refreshes the TTL.
	// Contention is a normal outcome, not an error: the method returns
	// (false, nil) when another process holds the lock.
	AcquireLock(key string) (acquired bool, err error)

	// AcquireLockWait polls AcquireLock at a fixed interval until it
	// succeeds, the timeout elapses, or the context is canceled. It returns
	// (false, nil) on timeout and the context error on cancellation.
	AcquireLockWait(ctx context.Context, key string, timeout time.Duration) (acquired bool, err error)

	// ReleaseLock deletes the lock record only if this process is the
	// current owner. A release by a non-owner is a no-op returning false.
	ReleaseLock(key string) (released bool, err error)

	// RefreshLock re-applies the TTL of a held lock without changing
	// ownership.
	RefreshLock(key string) (err error)

	// IsLocked reports whether any process currently holds the lock.
	IsLocked(key string) (locked bool, err error)

	// GetLockHolder returns the owner id of the current lock holder.
	GetLockHolder(key string) (holder string, locked bool, err error)

	// CleanupLocksForServer deletes all locks owned by the given process and
	// returns how many were removed. This is the only path that may delete
	// another process's locks; it must only be called after the heartbeat
	// monitor has confirmed that process dead, never speculatively.
	CleanupLocksForServer(deadID string) (removed int, err error)

	// HeldLocks returns the entity keys of all locks this process holds.
	HeldLocks() []string

	// ReleaseAll releases every locally held lock, typically during
	// graceful shutdown, and returns how many were released.
	ReleaseAll() (released int, err error)

	// OwnerID returns the id this manager acquires locks under.
	OwnerID() string
}
