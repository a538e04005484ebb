// Package entity defines the domain contracts of the synchronization core:
// the composite Key addressing one persisted record, the IEntity interface
// every managed record fulfills, and the IEntityStore adapter through which
// records reach the durable backing store.
//
// The core deliberately knows nothing about what a record contains. All it
// relies on is the composite key, the monotonic version counter and the
// dirty marker, which is why the backing store adapters and the business
// rules live outside this module.
package entity
