// Package testing provides a reference entity implementation and an
// in-memory backing store adapter used by the orchestrator and cache test
// suites. The memory store counts its calls so tests can assert exactly how
// often the durable layer was hit.
package testing

import (
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dSync/lib/entity"
)

// --------------------------------------------------------------------------
// Record (reference IEntity implementation)
// --------------------------------------------------------------------------

// Record is a minimal entity used in tests.
type Record struct {
	mu      sync.Mutex
	key     entity.Key
	Payload []byte
	version uint64
	dirty   bool
}

// NewRecord creates a record with the given key and payload.
func NewRecord(key entity.Key, payload []byte) *Record {
	return &Record{key: key, Payload: payload}
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

// --------------------------------------------------------------------------
// MemoryEntityStore (in-memory IEntityStore with call counters)
// --------------------------------------------------------------------------

// MemoryEntityStore is a thread-safe in-memory backing store adapter.
type MemoryEntityStore struct {
	mu   sync.RWMutex
	data map[string]entity.IEntity

	// call counters for test assertions
	loadCalls   atomic.Int64
	saveCalls   atomic.Int64
	deleteCalls atomic.Int64

	// FailSaves makes SaveEntity and SaveBatch fail while set, used to test
	// flush retry behavior
	FailSaves atomic.Bool
}

// NewMemoryEntityStore creates an empty in-memory backing store.
func NewMemoryEntityStore() *MemoryEntityStore {
	return &MemoryEntityStore{
		data: make(map[string]entity.IEntity),
	}
}

func (s *MemoryEntityStore) LoadEntity(key entity.Key) (entity.IEntity, bool, error) {
	s.loadCalls.Add(1)

	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[key.String()]
	return e, ok, nil
}

func (s *MemoryEntityStore) SaveEntity(e entity.IEntity) error {
	s.saveCalls.Add(1)

	if s.FailSaves.Load() {
		return errBackingStore
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[e.Key().String()] = e
	return nil
}

func (s *MemoryEntityStore) SaveBatch(entities []entity.IEntity) (int, error) {
	if s.FailSaves.Load() {
		s.saveCalls.Add(int64(len(entities)))
		return 0, errBackingStore
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entities {
		s.saveCalls.Add(1)
		s.data[e.Key().String()] = e
	}
	return len(entities), nil
}

func (s *MemoryEntityStore) DeleteEntity(key entity.Key) error {
	s.deleteCalls.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key.String())
	return nil
}

// LoadCalls returns how often LoadEntity was called.
func (s *MemoryEntityStore) LoadCalls() int64 { return s.loadCalls.Load() }

// SaveCalls returns how many single-record saves were performed (batch saves
// count once per record).
func (s *MemoryEntityStore) SaveCalls() int64 { return s.saveCalls.Load() }

// DeleteCalls returns how often DeleteEntity was called.
func (s *MemoryEntityStore) DeleteCalls() int64 { return s.deleteCalls.Load() }

// Len returns the number of stored records.
func (s *MemoryEntityStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

var errBackingStore = &storeError{}

type storeError struct{}

func (e *storeError) Error() string { return "backing store unavailable" }
