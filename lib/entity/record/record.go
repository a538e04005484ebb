package record

import (
	"sync"

	"github.com/ValentinKolb/dSync/lib/entity"
)

// Record is the general-purpose entity managed by a dSync node: an opaque
// payload plus the version and dirty bookkeeping the orchestrator needs.
// Applications with richer record types implement entity.IEntity themselves.
type Record struct {
	mu      sync.Mutex
	key     entity.Key
	payload []byte
	version uint64
	dirty   bool
}

// New creates a record with the given key and payload.
func New(key entity.Key, payload []byte) *Record {
	return &Record{key: key, payload: payload}
}

func (r *Record) Key() entity.Key { return r.key }

func (r *Record) Version() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

func (r *Record) SetVersion(version uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.version = version
}

func (r *Record) Dirty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dirty
}

func (r *Record) SetDirty(dirty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dirty = dirty
}

// Payload returns the record's payload.
func (r *Record) Payload() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.payload
}

// SetPayload replaces the record's payload.
func (r *Record) SetPayload(payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payload = payload
}

// doc is the JSON shape a record is persisted as
type doc struct {
	Key     entity.Key `json:"key"`
	Payload []byte     `json:"payload"`
	Version uint64     `json:"version"`
}
