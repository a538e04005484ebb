// Package shared defines the interfaces for the external key-value store and
// broadcast channel that every process of a dSync cluster connects to. It
// serves as the abstraction layer that keeps the lock manager, the sync
// coordinator and the storage orchestrator independent of the concrete
// broker technology.
//
// The package focuses on:
//   - A unified interface (ISharedStore) for key-value operations with TTL
//     support and an atomic SetIfAbsent primitive
//   - A broadcast interface (IMessageBroker) with publish/subscribe semantics
//   - A structured error system using typed error codes
//
// Key Components:
//
//   - ISharedStore Interface: The core abstraction for the store visible to
//     all cluster members. The atomic "set if absent with TTL" operation is
//     the mutual-exclusion authority of the whole system: lock records are
//     plain entries in this store, and no in-process state is ever treated
//     as authoritative.
//
//   - IMessageBroker Interface: The broadcast channel over which sync
//     messages (heartbeats, data updates, cache invalidations, lock events)
//     travel between peers. Delivery is best-effort, order is only
//     guaranteed per publisher.
//
//   - Error System: A structured error reporting mechanism using typed
//     error codes and descriptive messages, allowing callers to distinguish
//     connectivity problems (which trigger degraded single-process mode)
//     from genuine operation failures.
//
// Implementations:
//
//	The package includes two implementations of both interfaces:
//
//	- Redis Store (rstore): Backed by a Redis-compatible server via
//	  github.com/redis/go-redis/v9. SetIfAbsent maps to SET NX with TTL,
//	  Keys to SCAN, and the broker to native pub/sub. This is the
//	  implementation used by clusters of multiple processes.
//	  Available in the "github.com/ValentinKolb/dSync/lib/shared/rstore" package.
//
//	- Local Store (lstore): A purely in-process implementation with
//	  wall-clock TTL handling and a channel-fanout broker. It is used when
//	  the shared store is unreachable (degraded single-process mode) and by
//	  the test suites.
//	  Available in the "github.com/ValentinKolb/dSync/lib/shared/lstore" package.
package shared
