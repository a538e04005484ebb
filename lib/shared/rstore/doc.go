// Package rstore implements the shared store and message broker interfaces
// on top of a Redis-compatible server using github.com/redis/go-redis/v9.
//
// Mapping of operations:
//
//   - SetIfAbsent is implemented with SET NX plus a TTL. This is the atomic
//     "create lock record if absent" primitive of the distributed lock
//     manager: the server guarantees that exactly one of several concurrent
//     callers wins.
//
//   - Expire maps to the EXPIRE command and is used to refresh lock TTLs
//     without changing ownership.
//
//   - Keys uses SCAN with a match pattern instead of KEYS so that lock
//     cleanup sweeps do not block the server.
//
//   - The broker maps directly onto Redis pub/sub. Subscribe confirms the
//     subscription before returning so that messages published immediately
//     afterwards are not lost. Delivery remains best-effort: Redis pub/sub
//     does not buffer for absent subscribers.
//
// Both factories ping the server once during creation and return an error
// with code shared.RetCConnection when it is unreachable. Callers use this
// to fall back to the in-process lstore implementation instead of failing
// the host application.
package rstore
