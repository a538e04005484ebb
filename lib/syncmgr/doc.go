// Package syncmgr implements the pub/sub synchronization layer that ties a
// fleet of peer processes together. All coordination traffic of a
// namespace, heartbeats, lifecycle announcements, data-update notifications,
// cache invalidations and advisory lock messages, travels over one shared
// broadcast channel (shared.IMessageBroker).
//
// The coordinator is purely a notification fabric: the shared key-value
// store remains the single authority for lock ownership, and durable entity
// state lives in the backing entity store. Lost or delayed messages
// therefore degrade freshness, never correctness. Every local operation
// happens first; the corresponding publish is best-effort and a publish
// failure is logged but never rolled back.
//
// Wire Format:
//
//	Messages are JSON objects tagged by a "type" field (SyncMessage).
//	Receivers ignore messages with unknown type tags, allowing the
//	protocol to grow without breaking older peers. Malformed payloads are
//	logged and dropped.
//
// Dispatch Rules:
//
//	- Heartbeat: recorded in the heartbeat monitor for all peers except
//	  this process itself. The local receive time is used rather than the
//	  sender's timestamp so liveness never depends on clock agreement.
//
//	- ServerShutdown: the peer is removed from the peer table immediately
//	  and its locks are cleaned up, since a graceful shutdown is a
//	  confirmed death.
//
//	- DataUpdate: from another process, treated as a cache invalidation
//	  for the named entity key; self-originated copies are ignored.
//
//	- CacheInvalidate: applied unconditionally, including self-originated
//	  messages, so a local save's invalidation takes the same path a
//	  remote one does.
//
//	- AcquireLock / ReleaseLock: advisory observability traffic only,
//	  never acted upon; the store's set-if-absent already decided the
//	  outcome.
//
//	- TransferLock: acted on only by the addressed process, which polls
//	  for the lock after the sender's release; everyone else ignores it.
//
// Thread Safety:
//
//	All methods are safe for concurrent use. Callback registration may
//	race with dispatch; registered callbacks must be safe to call from
//	the receive goroutine.
package syncmgr
