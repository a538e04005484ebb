package orchestrator

import (
	"context"
	"time"

	"github.com/ValentinKolb/dSync/lib/entity"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IStorageOrchestrator is the single entry point applications use to read
// and write entity records. It composes the write-behind entity cache, the
// durable backing store adapter and the sync coordinator into one façade:
// callers see plain Save/Load/Delete, the orchestrator decides whether a
// write is persisted immediately or deferred, keeps the version counter,
// and broadcasts update and invalidation messages to the fleet.
type IStorageOrchestrator interface {
	// Start launches the background flush timer (write-behind mode only).
	Start(ctx context.Context) error

	// Stop stops the flush timer after a final flush of pending entries.
	Stop() error

	// Save stores an entity. The version counter is incremented exactly
	// once per save. In write-behind mode the entity is cached dirty and
	// persisted by a later flush; otherwise it is persisted immediately
	// and a DataUpdate is broadcast after the write succeeded. A failed
	// immediate write leaves the version counter unchanged.
	Save(e entity.IEntity) error

	// SaveWithLock acquires the entity's distributed lock (waiting up to
	// timeout), saves, and releases. On contention the behavior depends on
	// Options.FailOpenLocks: fail-closed returns a contention error,
	// fail-open logs a warning and saves without the lock.
	SaveWithLock(ctx context.Context, e entity.IEntity, timeout time.Duration) error

	// Load returns the entity for a key, served from cache when possible
	// and loaded from the backing store on a miss.
	Load(key entity.Key) (e entity.IEntity, loaded bool, err error)

	// Delete removes the entity from the backing store and every cache in
	// the fleet (local purge + broadcast invalidation).
	Delete(key entity.Key) error

	// FlushDirtyEntries persists all currently dirty entities as a batch
	// and returns how many were flushed. On failure the dirty set is left
	// untouched so the next cycle retries.
	FlushDirtyEntries() (flushed int, err error)

	// DirtyCount returns the number of entities awaiting a flush.
	DirtyCount() int

	// LoadRate returns the 1-minute save/load operation rate, used as this
	// process's load figure in heartbeats.
	LoadRate() int
}
