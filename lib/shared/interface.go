package shared

import (
	"context"
	"fmt"
	"time"
)

// --------------------------------------------------------------------------
// Interface Definitions
// --------------------------------------------------------------------------

// StoreFactory is a function type that creates a new ISharedStore.
// This is used to abstract the creation of the store from its consumers.
type StoreFactory func() (ISharedStore, error)

// ISharedStore is the generic interface for the key-value store that is
// shared by all processes of a cluster. It is the single source of truth
// for lock records: the atomic SetIfAbsent primitive is what makes the
// distributed lock manager work.
//
// All write operations return an error (nil on success), read operations
// return the requested data along with an error (nil on success).
type ISharedStore interface {
	// Set inserts or updates a key-value pair without a TTL.
	Set(key string, value []byte) (err error)
	// SetE inserts or updates a key-value pair with a TTL.
	// A zero ttl means no expiration.
	SetE(key string, value []byte, ttl time.Duration) (err error)
	// SetIfAbsent inserts a key-value pair with a TTL only if the key does
	// not exist. It returns true if the value was inserted by this call.
	// This operation must be atomic across all processes sharing the store.
	SetIfAbsent(key string, value []byte, ttl time.Duration) (inserted bool, err error)
	// Get returns the value for a key. The boolean return value indicates
	// whether a value for the key was found.
	Get(key string) (value []byte, loaded bool, err error)
	// Delete removes a key-value pair.
	Delete(key string) (err error)
	// Expire re-applies the given TTL to an existing key. It is a no-op if
	// the key does not exist.
	Expire(key string, ttl time.Duration) (err error)
	// Keys returns all keys starting with the given prefix.
	Keys(prefix string) (keys []string, err error)
	// Close releases all resources held by the store.
	Close() error
}

// IMessageBroker is the interface for the broadcast channel that connects
// all processes of a cluster. Delivery is best-effort: publish order is
// preserved per publisher, no ordering is guaranteed across publishers.
type IMessageBroker interface {
	// Publish sends a payload to all subscribers of the given channel,
	// including subscribers in the publishing process.
	Publish(channel string, payload []byte) (err error)
	// Subscribe returns a channel of inbound payloads for the given
	// broadcast channel. The returned channel is closed when the context
	// is canceled or the broker is closed.
	Subscribe(ctx context.Context, channel string) (msgs <-chan []byte, err error)
	// Close releases all resources held by the broker and closes all
	// subscriptions.
	Close() error
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	errorCode := ""
	switch e.Code {
	case RetCInternalError:
		errorCode = "InternalError"
	case RetCUnsupportedOperation:
		errorCode = "UnsupportedOperation"
	case RetCInvalidOperation:
		errorCode = "InvalidOperation"
	case RetCConnection:
		errorCode = "Connection"
	default:
		errorCode = "Unknown"
	}

	return fmt.Sprintf("SharedStoreError (code %s): %s", errorCode, e.Msg)
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by the underlying store.
	RetCInvalidOperation                    // 3: Invalid operation.
	RetCConnection                          // 4: The shared store or broker is unreachable.
)
