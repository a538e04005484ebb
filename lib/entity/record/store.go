package record

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/dSync/lib/entity"
	"github.com/ValentinKolb/dSync/lib/shared"
)

// storeImpl persists records as JSON documents in the shared store under
// "<namespace>:entity:<key>". All nodes of a fleet see the same records,
// which makes the shared store double as the durable backing layer for
// deployments without an external database.
type storeImpl struct {
	store     shared.ISharedStore
	namespace string
}

// NewSharedStore creates a backing store adapter on top of the shared store.
func NewSharedStore(store shared.ISharedStore, namespace string) entity.IEntityStore {
	return &storeImpl{store: store, namespace: namespace}
}

// StoreKey returns the shared-store key a record is persisted under.
func StoreKey(namespace string, key entity.Key) string {
	return namespace + ":entity:" + key.String()
}

// --------------------------------------------------------------------------
// Interface Methods (docu see entity.IEntityStore)
// --------------------------------------------------------------------------

func (s *storeImpl) LoadEntity(key entity.Key) (entity.IEntity, bool, error) {
	data, loaded, err := s.store.Get(StoreKey(s.namespace, key))
	if err != nil {
		return nil, false, err
	}
	if !loaded {
		return nil, false, nil
	}

	rec, err := Decode(data)
	if err != nil {
		return nil, false, fmt.Errorf("corrupt record %s: %w", key, err)
	}
	return rec, true, nil
}

func (s *storeImpl) SaveEntity(e entity.IEntity) error {
	data, err := Encode(e)
	if err != nil {
		return err
	}
	return s.store.Set(StoreKey(s.namespace, e.Key()), data)
}

func (s *storeImpl) SaveBatch(entities []entity.IEntity) (int, error) {
	for i, e := range entities {
		if err := s.SaveEntity(e); err != nil {
			return i, err
		}
	}
	return len(entities), nil
}

func (s *storeImpl) DeleteEntity(key entity.Key) error {
	return s.store.Delete(StoreKey(s.namespace, key))
}

// --------------------------------------------------------------------------
// Wire Format
// --------------------------------------------------------------------------

// Encode serializes a record into its persisted JSON form.
func Encode(e entity.IEntity) ([]byte, error) {
	rec, ok := e.(*Record)
	if !ok {
		return nil, fmt.Errorf("unsupported entity type %T", e)
	}
	return json.Marshal(doc{
		Key:     rec.Key(),
		Payload: rec.Payload(),
		Version: rec.Version(),
	})
}

// Decode parses the persisted JSON form back into a record.
func Decode(data []byte) (*Record, error) {
	var d doc
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	rec := New(d.Key, d.Payload)
	rec.SetVersion(d.Version)
	return rec, nil
}
