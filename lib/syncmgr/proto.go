package syncmgr

// --------------------------------------------------------------------------
// Message Types
// --------------------------------------------------------------------------

// MessageType tags a SyncMessage on the wire. The set of types is closed
// for senders but open for receivers: unknown tags decode into MsgTUnknown
// and are ignored by dispatch so newer peers can extend the protocol.
type MessageType string

const (
	MsgTHeartbeat       MessageType = "heartbeat"
	MsgTServerShutdown  MessageType = "server_shutdown"
	MsgTDataUpdate      MessageType = "data_update"
	MsgTCacheInvalidate MessageType = "cache_invalidate"
	MsgTAcquireLock     MessageType = "acquire_lock"
	MsgTReleaseLock     MessageType = "release_lock"
	MsgTTransferLock    MessageType = "transfer_lock"
	MsgTLockAck         MessageType = "lock_ack"
	MsgTUnknown         MessageType = ""
)

// InvalidationScope selects how much of a peer's cache an invalidation
// purges.
type InvalidationScope string

const (
	ScopeKey   InvalidationScope = "key"
	ScopeGroup InvalidationScope = "group"
	ScopeOwner InvalidationScope = "owner"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// SyncMessage represents a single message on the broadcast channel. Which
// fields are used depends on the type of message. Messages are ephemeral:
// they are never persisted, only transmitted.
type SyncMessage struct {
	// Type of message
	MsgType MessageType `json:"type"`

	// Heartbeat / shutdown fields
	PeerID string `json:"peer_id,omitempty"` // Used for: Heartbeat, ServerShutdown
	Ts     int64  `json:"ts,omitempty"`      // Used for: Heartbeat (unix millis)
	Load   int    `json:"load,omitempty"`    // Used for: Heartbeat

	// Entity fields
	EntityKey string            `json:"entity_key,omitempty"` // Used for: DataUpdate, CacheInvalidate, lock messages
	Version   uint64            `json:"version,omitempty"`    // Used for: DataUpdate
	OriginID  string            `json:"origin_id,omitempty"`  // Used for: DataUpdate, CacheInvalidate
	Scope     InvalidationScope `json:"scope,omitempty"`      // Used for: CacheInvalidate

	// Lock fields
	OwnerID string `json:"owner_id,omitempty"` // Used for: AcquireLock, ReleaseLock
	FromID  string `json:"from_id,omitempty"`  // Used for: TransferLock
	ToID    string `json:"to_id,omitempty"`    // Used for: TransferLock
	Granted bool   `json:"granted,omitempty"`  // Used for: LockAck
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewHeartbeatMessage creates a new Heartbeat message
func NewHeartbeatMessage(peerID string, tsMillis int64, load int) *SyncMessage {
	return &SyncMessage{
		MsgType: MsgTHeartbeat,
		PeerID:  peerID,
		Ts:      tsMillis,
		Load:    load,
	}
}

// NewServerShutdownMessage creates a new ServerShutdown message
func NewServerShutdownMessage(peerID string) *SyncMessage {
	return &SyncMessage{
		MsgType: MsgTServerShutdown,
		PeerID:  peerID,
	}
}

// NewDataUpdateMessage creates a new DataUpdate message
func NewDataUpdateMessage(entityKey string, version uint64, originID string) *SyncMessage {
	return &SyncMessage{
		MsgType:   MsgTDataUpdate,
		EntityKey: entityKey,
		Version:   version,
		OriginID:  originID,
	}
}

// NewCacheInvalidateMessage creates a new CacheInvalidate message
func NewCacheInvalidateMessage(entityKey string, scope InvalidationScope, originID string) *SyncMessage {
	return &SyncMessage{
		MsgType:   MsgTCacheInvalidate,
		EntityKey: entityKey,
		Scope:     scope,
		OriginID:  originID,
	}
}

// NewAcquireLockMessage creates a new AcquireLock message
func NewAcquireLockMessage(entityKey, ownerID string) *SyncMessage {
	return &SyncMessage{
		MsgType:   MsgTAcquireLock,
		EntityKey: entityKey,
		OwnerID:   ownerID,
	}
}

// NewReleaseLockMessage creates a new ReleaseLock message
func NewReleaseLockMessage(entityKey, ownerID string) *SyncMessage {
	return &SyncMessage{
		MsgType:   MsgTReleaseLock,
		EntityKey: entityKey,
		OwnerID:   ownerID,
	}
}

// NewTransferLockMessage creates a new TransferLock message
func NewTransferLockMessage(entityKey, fromID, toID string) *SyncMessage {
	return &SyncMessage{
		MsgType:   MsgTTransferLock,
		EntityKey: entityKey,
		FromID:    fromID,
		ToID:      toID,
	}
}

// NewLockAckMessage creates a new LockAck message
func NewLockAckMessage(entityKey string, granted bool) *SyncMessage {
	return &SyncMessage{
		MsgType:   MsgTLockAck,
		EntityKey: entityKey,
		Granted:   granted,
	}
}
