package syncmgr

import (
	"encoding/json"
	"fmt"
)

// IMessageCodec is the interface for all SyncMessage wire codecs
type IMessageCodec interface {
	// Encode serializes a SyncMessage into a byte array
	// It returns the serialized byte array and an error if any
	Encode(msg *SyncMessage) ([]byte, error)
	// Decode deserializes a byte array into a SyncMessage
	// It returns the decoded message and an error if the payload is malformed.
	// A syntactically valid payload with an unrecognized type decodes without
	// error into a message whose MsgType is MsgTUnknown.
	Decode(b []byte) (*SyncMessage, error)
}

// NewJSONCodec creates a new codec using json encoding
func NewJSONCodec() IMessageCodec {
	return &jsonCodecImpl{}
}

// jsonCodecImpl implements the IMessageCodec interface using json encoding
type jsonCodecImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see syncmgr.IMessageCodec)
// --------------------------------------------------------------------------

func (j jsonCodecImpl) Encode(msg *SyncMessage) ([]byte, error) {
	if msg.MsgType == MsgTUnknown {
		return nil, fmt.Errorf("refusing to encode message without type")
	}
	return json.Marshal(msg)
}

func (j jsonCodecImpl) Decode(b []byte) (*SyncMessage, error) {
	msg := &SyncMessage{}
	if err := json.Unmarshal(b, msg); err != nil {
		return nil, err
	}
	if !knownMessageType(msg.MsgType) {
		msg.MsgType = MsgTUnknown
	}
	return msg, nil
}

func knownMessageType(t MessageType) bool {
	switch t {
	case MsgTHeartbeat, MsgTServerShutdown, MsgTDataUpdate, MsgTCacheInvalidate,
		MsgTAcquireLock, MsgTReleaseLock, MsgTTransferLock, MsgTLockAck:
		return true
	default:
		return false
	}
}
