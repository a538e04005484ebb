package heartbeat

import (
	"context"
	"time"
)

// --------------------------------------------------------------------------
// Peer Info
// --------------------------------------------------------------------------

// PeerInfo describes one known peer process of the cluster. Healthy is
// derived at read time: a peer is healthy while the time since its last
// heartbeat does not exceed the configured timeout.
type PeerInfo struct {
	PeerID        string    `json:"peer_id"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Load          int       `json:"load"`
	Healthy       bool      `json:"healthy"`
}

// --------------------------------------------------------------------------
// Callback / injection types
// --------------------------------------------------------------------------

// PublishFunc sends this process's own heartbeat to all peers. It is
// injected by the sync coordinator, which owns the broadcast channel.
type PublishFunc func(selfID string, load int) error

// LoadFunc supplies the current load figure published with each heartbeat,
// typically the storage orchestrator's operation rate.
type LoadFunc func() int

// PeerCallback is invoked with a peer id when a peer appears or dies.
type PeerCallback func(peerID string)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IHeartbeatMonitor tracks the liveness of all peer processes. It runs two
// independent periodic loops: one publishing this process's heartbeat, one
// sweeping the peer table for heartbeat timeouts.
type IHeartbeatMonitor interface {
	// Start launches the send and sweep loops. They run until the context
	// is canceled or Stop is called.
	Start(ctx context.Context) error
	// Stop terminates the background loops.
	Stop()

	// RecordHeartbeat updates the peer table from a received heartbeat.
	// Heartbeats carrying this process's own id are ignored. The first
	// heartbeat of an unseen peer fires the peer-alive callbacks before the
	// peer is inserted into the table.
	RecordHeartbeat(peerID string, ts time.Time, load int)

	// RecordShutdown removes a peer that announced graceful shutdown,
	// bypassing the timeout wait. No peer-dead callbacks fire: the caller
	// handles the shutdown message itself.
	RecordShutdown(peerID string)

	// GetPeers returns a snapshot of all known peers.
	GetPeers() []PeerInfo
	// GetHealthyPeers returns a snapshot of all peers within the timeout.
	GetHealthyPeers() []PeerInfo
	// GetTotalLoad returns the sum of this process's own load and the last
	// reported load of all healthy peers.
	GetTotalLoad() int

	// OnPeerAlive registers a callback fired when an unseen peer appears.
	OnPeerAlive(fn PeerCallback)
	// OnPeerDead registers a callback fired when a peer exceeds the
	// heartbeat timeout. Callers use this to trigger lock cleanup.
	OnPeerDead(fn PeerCallback)

	// SetPublisher injects the function used to send own heartbeats.
	SetPublisher(fn PublishFunc)
	// SetLoadFunc injects the source of the published load figure.
	SetLoadFunc(fn LoadFunc)
}
