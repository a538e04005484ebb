package syncmgr

import (
	"context"
	"time"
)

// --------------------------------------------------------------------------
// Callback Types
// --------------------------------------------------------------------------

// MessageCallback is invoked for every valid inbound message after the
// coordinator's own dispatch ran.
type MessageCallback func(msg *SyncMessage)

// InvalidateCallback is invoked whenever an invalidation must be applied to
// the local cache, either from a remote peer or from this process's own
// broadcast looping back.
type InvalidateCallback func(entityKey string, scope InvalidationScope)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// ISyncCoordinator defines the interface for the pub/sub synchronization
// layer. It owns the single broadcast channel shared by all processes of a
// namespace: it publishes this process's lock traffic, data updates and
// lifecycle messages, and dispatches inbound messages to the lock manager,
// the heartbeat monitor and registered callbacks.
//
// For all lock operations the shared store (via the lock manager) remains
// the authority; the published lock messages are advisory notifications
// only. The local action always happens first, the publish is best-effort:
// a failed publish is logged but never rolls back the local action.
type ISyncCoordinator interface {
	// Start subscribes to the broadcast channel and starts the receive loop.
	// It also wires the heartbeat monitor's publisher to this coordinator
	// and starts the monitor.
	Start(ctx context.Context) error

	// Stop stops the receive loop and the heartbeat monitor. It does not
	// announce shutdown; call AnnounceShutdown before Stop for a graceful
	// exit.
	Stop() error

	// AcquireLock acquires the lock via the lock manager and, on success,
	// broadcasts an advisory AcquireLock message.
	AcquireLock(key string) (acquired bool, err error)

	// AcquireLockWait is the polling variant of AcquireLock (docu see
	// lockmgr.ILockManager).
	AcquireLockWait(ctx context.Context, key string, timeout time.Duration) (acquired bool, err error)

	// ReleaseLock releases the lock via the lock manager and, on success,
	// broadcasts an advisory ReleaseLock message.
	ReleaseLock(key string) (released bool, err error)

	// IsLocked reports whether any process holds the lock (docu see
	// lockmgr.ILockManager).
	IsLocked(key string) (locked bool, err error)

	// GetLockHolder returns the current lock holder (docu see
	// lockmgr.ILockManager).
	GetLockHolder(key string) (holder string, locked bool, err error)

	// TransferLock hands a held lock to another process: it publishes a
	// TransferLock message addressed to toID and then releases the local
	// lock so the receiver can acquire it. Races with third parties are
	// resolved by the store's set-if-absent semantics.
	TransferLock(key string, toID string) error

	// BroadcastUpdate announces that an entity was durably saved with the
	// given version. Peers treat this as an invalidation for the key.
	BroadcastUpdate(key string, version uint64) error

	// BroadcastInvalidation publishes a cache invalidation. The message is
	// applied on receipt by every subscriber including this process itself,
	// so the local invalidation path is uniform with the remote one.
	BroadcastInvalidation(key string, scope InvalidationScope) error

	// AnnounceShutdown broadcasts a ServerShutdown message so peers remove
	// this process immediately instead of waiting for the liveness timeout.
	AnnounceShutdown() error

	// OnMessage registers an observer for all valid inbound messages.
	OnMessage(fn MessageCallback)

	// OnCacheInvalidate registers the callback that applies invalidations
	// to the local cache.
	OnCacheInvalidate(fn InvalidateCallback)

	// NodeID returns the id this coordinator identifies as on the channel.
	NodeID() string
}
