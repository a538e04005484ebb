package lstore

import (
	"strings"
	"sync"
	"time"

	"github.com/ValentinKolb/dSync/lib/shared"
	"github.com/puzpuzpuz/xsync/v3"
)

const (
	// interval between janitor runs that evict expired entries
	defaultJanitorInterval = 100 * time.Millisecond
)

// entry stores a value with an optional wall-clock expiration
type entry struct {
	value     []byte
	expiresAt time.Time // zero value means no expiration
}

// expired reports whether the entry has passed its expiration
func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

type storeImpl struct {
	data    *xsync.MapOf[string, entry]
	mu      sync.Mutex // serializes SetIfAbsent against concurrent inserts
	stopCh  chan struct{}
	stopped sync.Once
}

// NewLocalStore creates a new in-process store instance.
// This store implementation is not distributed and only works inside a
// single process. It is used as the fallback when the shared store is
// unreachable and by the test suites.
func NewLocalStore() shared.ISharedStore {
	s := &storeImpl{
		data:   xsync.NewMapOf[string, entry](),
		stopCh: make(chan struct{}),
	}

	// evict expired entries in the background so Keys() stays cheap
	go s.janitor()

	return s
}

// janitor periodically removes expired entries
func (s *storeImpl) janitor() {
	ticker := time.NewTicker(defaultJanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.data.Range(func(key string, e entry) bool {
				if e.expired(now) {
					s.data.Compute(key, func(old entry, loaded bool) (entry, bool) {
						// re-check under the map's internal lock, the entry
						// may have been replaced since the Range snapshot
						return old, !loaded || old.expired(now)
					})
				}
				return true
			})
		}
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see shared/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Set(key string, value []byte) error {
	s.data.Store(key, entry{value: value})
	return nil
}

func (s *storeImpl) SetE(key string, value []byte, ttl time.Duration) error {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	s.data.Store(key, e)
	return nil
}

func (s *storeImpl) SetIfAbsent(key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, ok := s.data.Load(key); ok && !existing.expired(now) {
		return false, nil
	}

	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	s.data.Store(key, e)
	return true, nil
}

func (s *storeImpl) Get(key string) ([]byte, bool, error) {
	e, ok := s.data.Load(key)
	if !ok || e.expired(time.Now()) {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (s *storeImpl) Delete(key string) error {
	s.data.Delete(key)
	return nil
}

func (s *storeImpl) Expire(key string, ttl time.Duration) error {
	now := time.Now()
	s.data.Compute(key, func(old entry, loaded bool) (entry, bool) {
		if !loaded || old.expired(now) {
			// nothing to refresh, deleting a missing key is a no-op
			return old, true
		}
		if ttl > 0 {
			old.expiresAt = now.Add(ttl)
		} else {
			old.expiresAt = time.Time{}
		}
		return old, false
	})
	return nil
}

func (s *storeImpl) Keys(prefix string) ([]string, error) {
	now := time.Now()
	keys := make([]string, 0)
	s.data.Range(func(key string, e entry) bool {
		if strings.HasPrefix(key, prefix) && !e.expired(now) {
			keys = append(keys, key)
		}
		return true
	})
	return keys, nil
}

func (s *storeImpl) Close() error {
	s.stopped.Do(func() {
		close(s.stopCh)
	})
	return nil
}
