package entity

import (
	"fmt"
	"strings"
)

// --------------------------------------------------------------------------
// Entity Key
// --------------------------------------------------------------------------

// Key is the composite identifier addressing one persisted record. A record
// belongs to an owner, within the owner to a subgroup (e.g. a named
// collection) and within the subgroup to a variant.
type Key struct {
	OwnerID  string `json:"owner_id"`
	Subgroup string `json:"subgroup"`
	Variant  string `json:"variant"`
}

// String returns the canonical composite form "owner/subgroup/variant".
// This form is used as the cache key and as the entity key inside lock
// records and sync messages.
func (k Key) String() string {
	return k.OwnerID + "/" + k.Subgroup + "/" + k.Variant
}

// GroupPrefix returns the composite prefix matching all variants of one
// subgroup of an owner.
func (k Key) GroupPrefix() string {
	return k.OwnerID + "/" + k.Subgroup + "/"
}

// OwnerPrefix returns the composite prefix matching all records of an owner.
func (k Key) OwnerPrefix() string {
	return k.OwnerID + "/"
}

// ParseKey parses the canonical composite form back into a Key.
func ParseKey(s string) (Key, error) {
	parts := strings.SplitN(s, "/", 3)
	if len(parts) != 3 || parts[0] == "" {
		return Key{}, fmt.Errorf("invalid entity key %q (expected owner/subgroup/variant)", s)
	}
	return Key{OwnerID: parts[0], Subgroup: parts[1], Variant: parts[2]}, nil
}

// --------------------------------------------------------------------------
// Entity Interface
// --------------------------------------------------------------------------

// IEntity is the contract every record managed by the storage orchestrator
// fulfills. The version counter is part of the durable record: it is
// incremented by the orchestrator exactly once per save and broadcast
// alongside the save so that peers can run last-writer-wins or optimistic
// conflict detection. Conflict resolution itself is up to the application.
type IEntity interface {
	// Key returns the composite identifier of the record
	Key() Key
	// Version returns the monotonic version counter
	Version() uint64
	// SetVersion replaces the version counter
	SetVersion(version uint64)
	// Dirty reports whether the record holds unpersisted changes
	Dirty() bool
	// SetDirty flags or clears the unpersisted-changes marker
	SetDirty(dirty bool)
}

// --------------------------------------------------------------------------
// Backing Store Adapter
// --------------------------------------------------------------------------

// IEntityStore is the adapter to the durable backing store (flat files,
// embedded SQL, relational SQL, ...). Implementations are external to this
// module; they must be safe for concurrent use because the write-behind
// flush timer and foreground requests call them at the same time.
type IEntityStore interface {
	// LoadEntity loads one record. The boolean return value indicates
	// whether the record exists.
	LoadEntity(key Key) (e IEntity, loaded bool, err error)
	// SaveEntity persists one record durably.
	SaveEntity(e IEntity) (err error)
	// SaveBatch persists several records and returns how many were saved.
	// A partial failure returns the count of records that were persisted.
	SaveBatch(entities []IEntity) (saved int, err error)
	// DeleteEntity removes one record. Deleting a missing record is a no-op.
	DeleteEntity(key Key) (err error)
}
