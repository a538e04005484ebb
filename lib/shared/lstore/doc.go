// Package lstore provides in-process implementations of the shared store and
// message broker interfaces. The store keeps entries in a concurrent map
// with wall-clock TTL handling and a background janitor; the broker fans
// published payloads out to all in-process subscribers over buffered
// channels.
//
// This implementation is not distributed. It exists for two reasons:
//
//   - Degraded mode: when the shared Redis-compatible store is unreachable
//     at startup, the application falls back to lstore so that core
//     save/load functionality keeps working in a single process (locking
//     and cross-process sync degrade to process-local behavior).
//
//   - Testing: the conformance suites and all package tests run against
//     lstore so that no external infrastructure is required.
//
// SetIfAbsent is made atomic with a plain mutex around the check-and-insert
// sequence, which is sufficient because only a single process ever accesses
// a local store.
package lstore
