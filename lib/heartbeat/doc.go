// Package heartbeat implements the liveness monitor of the cluster. Every
// process periodically publishes a heartbeat carrying its id and current
// load over the shared broadcast channel; every process keeps a table of
// when it last heard from each peer.
//
// Two independent loops run per process:
//
//   - the send loop publishes this process's heartbeat every interval
//     (the publish function is injected by the sync coordinator, which owns
//     the broadcast channel),
//
//   - the sweep loop runs at a third of the timeout and evicts every peer
//     whose last heartbeat is older than the timeout, firing the peer-dead
//     callbacks before removal. The lock manager's dead-server cleanup is
//     driven by exactly this callback.
//
// A heartbeat from an unseen peer fires the peer-alive callbacks before the
// peer enters the table, which callers use to reconcile lock state with a
// newly appeared peer. Own heartbeats are filtered before reaching the
// table, so a process can never evict itself. RecordShutdown is the
// fast-path removal for peers that announce graceful shutdown.
package heartbeat
