package entitystore

import (
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// Entity is the contract of an aggregate root that is reconstructed from its events.
//
// Concrete entities embed BaseEntity and implement EntityType, which returns the tag
// the entity is registered with in the Registry.
type Entity interface {
	// EntityType returns the registered type tag.
	EntityType() string

	GetID() string
	SetID(id string)

	// GetVersion returns the current version, an entity that was never versioned is at version 1.
	GetVersion() int
	SetVersion(version int)

	// SnapshotVersion returns the version of the last snapshot, or the version the entity
	// was first versioned at when it never got snapshotted. 0 means no baseline yet.
	SnapshotVersion() int
	SetSnapshotVersion(version int)

	// PersistedVersion returns the version stored for the entity when a backend loaded it.
	// Purged or skipped events never move a loaded entity below it.
	PersistedVersion() int
	SetPersistedVersion(version int)

	PendingEvents() []Event
	AddPendingEvent(event Event)
	ClearPendingEvents()
}

// HasSnapshotKey is implemented by entity types that version the shape of their snapshots.
// A stored snapshot is only used if its key equals the current SnapshotKey.
type HasSnapshotKey interface {
	SnapshotKey() int
}

// BaseEntity implements the bookkeeping part of Entity and is meant to be embedded.
type BaseEntity struct {
	id               string
	version          int
	snapshotVersion  int
	persistedVersion int
	pendingEvents    []Event
}

// GetID returns the entity id, empty if the entity was never persisted.
func (b *BaseEntity) GetID() string {
	return b.id
}

// SetID sets the entity id.
func (b *BaseEntity) SetID(id string) {
	b.id = id
}

// GetVersion returns the current version, at least 1.
func (b *BaseEntity) GetVersion() int {
	if b.version < 1 {
		return 1
	}

	return b.version
}

// SetVersion sets the version. The first assignment also sets the snapshot baseline.
func (b *BaseEntity) SetVersion(version int) {
	if b.snapshotVersion == 0 {
		b.snapshotVersion = version
	}

	b.version = version
}

// SnapshotVersion returns the snapshot baseline.
func (b *BaseEntity) SnapshotVersion() int {
	return b.snapshotVersion
}

// SetSnapshotVersion moves the snapshot baseline, the Store calls it after writing a snapshot.
func (b *BaseEntity) SetSnapshotVersion(version int) {
	b.snapshotVersion = version
}

// PersistedVersion returns the stored version the entity was loaded with, 0 if it was not loaded.
func (b *BaseEntity) PersistedVersion() int {
	return b.persistedVersion
}

// SetPersistedVersion is called by backends while rehydrating. It does not touch the version.
func (b *BaseEntity) SetPersistedVersion(version int) {
	b.persistedVersion = version
}

// PendingEvents returns the events recorded since the last persist.
func (b *BaseEntity) PendingEvents() []Event {
	return b.pendingEvents
}

// AddPendingEvent appends an already applied event to the pending buffer.
func (b *BaseEntity) AddPendingEvent(event Event) {
	b.pendingEvents = append(b.pendingEvents, event)
}

// ClearPendingEvents empties the pending buffer.
func (b *BaseEntity) ClearPendingEvents() {
	b.pendingEvents = nil
}

// IsPersisted reports whether the entity has an id assigned by a backend.
func (b *BaseEntity) IsPersisted() bool {
	return b.id != ""
}

// RecordEvent applies the event to the entity and buffers it for the next save.
// If Apply fails nothing is buffered.
func RecordEvent(entity Entity, event Event) error {
	if err := ApplyEvent(entity, event); err != nil {
		return err
	}

	entity.AddPendingEvent(event)

	return nil
}

// ApplyEvent runs the state transition of the event on the entity.
func ApplyEvent(entity Entity, event Event) error {
	if entity == nil || event == nil {
		return errors.Join(ErrInvalidArgument, errors.New("entity and event must not be nil"))
	}

	if err := event.Apply(entity); err != nil {
		return errors.Join(
			ErrApplyingEventFailed,
			fmt.Errorf("%s on %s %s: %w", event.EventType(), entity.EntityType(), entity.GetID(), err),
		)
	}

	return nil
}

// SnapshotDue reports whether the entity should be snapshotted for the given threshold:
// the version is a multiple of the threshold or at least threshold versions passed since the baseline.
func SnapshotDue(entity Entity, threshold int) bool {
	if threshold < 1 {
		return false
	}

	version := entity.GetVersion()
	if version%threshold == 0 {
		return true
	}

	baseline := entity.SnapshotVersion()

	return baseline > 0 && version-baseline >= threshold
}

// SnapshotKeyOf returns the snapshot key of the entity type and whether the type uses one.
func SnapshotKeyOf(entity Entity) (int, bool) {
	if keyed, ok := entity.(HasSnapshotKey); ok {
		return keyed.SnapshotKey(), true
	}

	return 0, false
}

// Describe renders an entity for logs and audit trails.
func Describe(entity Entity) string {
	state, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalToString(entity)
	if err != nil {
		state = "{}"
	}

	return fmt.Sprintf("<%s %s v%d %s>", entity.EntityType(), entity.GetID(), entity.GetVersion(), state)
}
