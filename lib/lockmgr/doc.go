// Package lockmgr implements the distributed lock manager on top of the
// shared key-value store (shared.ISharedStore). It provides cooperative,
// best-effort mutual exclusion for entity records across a fleet of trusted
// peer processes.
//
// The manager stores all authoritative state in the shared store; the only
// in-process state is a bookkeeping table of locally held keys. It is
// therefore safe to create multiple managers on the same store, as long as
// each process uses its own owner ID.
//
// Core Functionality:
//   - Lock acquisition with ownership verification and idempotent
//     re-acquire by the current owner
//   - Automatic lock expiration through store-enforced TTLs
//   - Safe release operations that verify ownership before deleting
//   - Bounded polling acquisition (AcquireLockWait) with cancellation
//   - Cleanup of all locks owned by a confirmed-dead peer
//
// Implementation Approach:
//
//	Locks are implemented by leveraging the atomic conditional operations
//	of the underlying store. Specifically:
//
//	- Lock Acquisition: Attempts to create the namespaced key
//	  "<namespace>:lock:<entityKey>" using SetIfAbsent, which guarantees
//	  that only one requester can successfully create the key. The value
//	  is a JSON LockRecord naming the owner.
//
//	- Reconnect: If the key already exists and its record names this
//	  process as owner, the acquisition is treated as an idempotent
//	  re-acquire: the TTL is refreshed and success is returned.
//
//	- Timeouts: Every lock record carries the configured TTL so that a
//	  crashed owner releases its locks automatically, preventing
//	  deadlocks.
//
//	- Safe Release: ReleaseLock first verifies that this process is the
//	  legitimate owner by comparing owner IDs before deleting; releases by
//	  non-owners are no-ops.
//
//	- Dead-Peer Cleanup: CleanupLocksForServer scans the lock namespace
//	  and deletes only records owned by the dead peer. This is the single
//	  path that may delete another process's locks and must only run after
//	  the heartbeat monitor confirmed the peer dead.
//
// Thread Safety:
//
//	All methods are safe for concurrent use. The mutual-exclusion
//	authority is the shared store, not any in-process lock.
//
// Performance Impact:
//
//	Lock operations require 1-3 store round trips each; AcquireLockWait
//	adds one round trip per poll interval while contended.
package lockmgr
