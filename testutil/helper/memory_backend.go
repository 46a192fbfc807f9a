package helper

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/entity-store-go/entitystore"
)

// Backend method names for FailOn and CallCount.
const (
	MethodAddEntity            = "AddEntity"
	MethodSaveEntity           = "SaveEntity"
	MethodSnapshotEntity       = "SnapshotEntity"
	MethodRemoveEntitySnapshot = "RemoveEntitySnapshot"
	MethodRemoveSnapshots      = "RemoveSnapshots"
	MethodAddEvents            = "AddEvents"
	MethodUpsertEvents         = "UpsertEvents"
	MethodGetEntities          = "GetEntities"
	MethodGetEvents            = "GetEvents"
	MethodClearEntityEvents    = "ClearEntityEvents"
	MethodClear                = "Clear"
)

type memoryEntity struct {
	entityType      string
	version         int
	snapshot        []byte
	snapshotKey     *int
	snapshotVersion int
}

type memoryEvent struct {
	id            string
	eventType     string
	entityID      string
	entityVersion int
	data          []byte
	sequence      int
}

// MemoryBackend is an in-memory entitystore.Backend.
// Entities and events go through the same encoding a database backend uses,
// so loaded entities never share memory with saved ones.
type MemoryBackend struct {
	registry *entitystore.Registry
	mu       sync.Mutex
	entities map[string]*memoryEntity
	events   []memoryEvent
	sequence int
	calls    map[string]int
	failures map[string]error
}

// NewMemoryBackend creates an empty MemoryBackend that rehydrates through registry.
func NewMemoryBackend(registry *entitystore.Registry) *MemoryBackend {
	return &MemoryBackend{
		registry: registry,
		entities: make(map[string]*memoryEntity),
		calls:    make(map[string]int),
		failures: make(map[string]error),
	}
}

// FailOn makes every following call of method fail with err, nil removes the failure.
func (b *MemoryBackend) FailOn(method string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		delete(b.failures, method)
		return
	}

	b.failures[method] = err
}

// CallCount returns how often method was called.
func (b *MemoryBackend) CallCount(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.calls[method]
}

// TotalCallCount returns the number of all backend calls.
func (b *MemoryBackend) TotalCallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := 0
	for _, count := range b.calls {
		total += count
	}

	return total
}

// StoredVersion returns the persisted version of an entity.
func (b *MemoryBackend) StoredVersion(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if entity, ok := b.entities[id]; ok {
		return entity.version
	}

	return 0
}

// HasSnapshot reports whether a snapshot is stored for the entity and at which version.
func (b *MemoryBackend) HasSnapshot(id string) (bool, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entity, ok := b.entities[id]
	if !ok || entity.snapshot == nil {
		return false, 0
	}

	return true, entity.snapshotVersion
}

// SetStoredSnapshotKey overwrites the stored snapshot key, nil means none.
func (b *MemoryBackend) SetStoredSnapshotKey(id string, key *int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if entity, ok := b.entities[id]; ok {
		entity.snapshotKey = key
	}
}

// StoreRawEvent appends an event with an arbitrary type tag and payload.
func (b *MemoryBackend) StoreRawEvent(entityID, eventType string, entityVersion int, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sequence++
	b.events = append(b.events, memoryEvent{
		id:            uuid.Must(uuid.NewV7()).String(),
		eventType:     eventType,
		entityID:      entityID,
		entityVersion: entityVersion,
		data:          data,
		sequence:      b.sequence,
	})
}

// EventCount returns the number of stored events of an entity.
func (b *MemoryBackend) EventCount(entityID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	count := 0
	for _, event := range b.events {
		if event.entityID == entityID {
			count++
		}
	}

	return count
}

// AddEntity implements entitystore.Backend.
func (b *MemoryBackend) AddEntity(_ context.Context, entity entitystore.Entity) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enter(MethodAddEntity); err != nil {
		return "", err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}

	b.entities[id.String()] = &memoryEntity{entityType: entity.EntityType(), version: entity.GetVersion()}

	return id.String(), nil
}

// SaveEntity implements entitystore.Backend.
func (b *MemoryBackend) SaveEntity(_ context.Context, entity entitystore.Entity, expectedVersion int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enter(MethodSaveEntity); err != nil {
		return err
	}

	stored, ok := b.entities[entity.GetID()]
	if !ok {
		stored = &memoryEntity{entityType: entity.EntityType()}
		b.entities[entity.GetID()] = stored
	}

	if expectedVersion > 0 && stored.version != expectedVersion {
		return errors.Join(
			entitystore.ErrConcurrencyConflict,
			fmt.Errorf("expected version %d, found %d", expectedVersion, stored.version),
		)
	}

	stored.version = entity.GetVersion()

	return nil
}

// SnapshotEntity implements entitystore.Backend.
func (b *MemoryBackend) SnapshotEntity(_ context.Context, entity entitystore.Entity) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enter(MethodSnapshotEntity); err != nil {
		return err
	}

	snapshot, err := entitystore.EncodeSnapshot(entity)
	if err != nil {
		return err
	}

	stored, ok := b.entities[entity.GetID()]
	if !ok {
		stored = &memoryEntity{entityType: entity.EntityType(), version: entity.GetVersion()}
		b.entities[entity.GetID()] = stored
	}

	stored.snapshot = snapshot
	stored.snapshotVersion = entity.GetVersion()
	stored.snapshotKey = nil

	if key, ok := entitystore.SnapshotKeyOf(entity); ok {
		stored.snapshotKey = &key
	}

	return nil
}

// RemoveEntitySnapshot implements entitystore.Backend.
func (b *MemoryBackend) RemoveEntitySnapshot(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enter(MethodRemoveEntitySnapshot); err != nil {
		return err
	}

	if stored, ok := b.entities[id]; ok {
		stored.snapshot = nil
		stored.snapshotKey = nil
		stored.snapshotVersion = 0
	}

	return nil
}

// RemoveSnapshots implements entitystore.Backend.
func (b *MemoryBackend) RemoveSnapshots(_ context.Context, entityType string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enter(MethodRemoveSnapshots); err != nil {
		return err
	}

	for _, stored := range b.entities {
		if entityType == "" || stored.entityType == entityType {
			stored.snapshot = nil
			stored.snapshotKey = nil
			stored.snapshotVersion = 0
		}
	}

	return nil
}

// AddEvents implements entitystore.Backend.
func (b *MemoryBackend) AddEvents(_ context.Context, events []entitystore.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enter(MethodAddEvents); err != nil {
		return err
	}

	for _, event := range events {
		if err := b.insert(event); err != nil {
			return err
		}
	}

	return nil
}

// UpsertEvents implements entitystore.Backend.
func (b *MemoryBackend) UpsertEvents(_ context.Context, events []entitystore.Event) ([]entitystore.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enter(MethodUpsertEvents); err != nil {
		return nil, err
	}

	inserted := make([]entitystore.Event, 0, len(events))
	for _, event := range events {
		if event.GetEventID() != "" && b.eventExists(event.GetEventID()) {
			continue
		}

		if err := b.insert(event); err != nil {
			return nil, err
		}

		inserted = append(inserted, event)
	}

	return inserted, nil
}

// GetEntities implements entitystore.Backend.
func (b *MemoryBackend) GetEntities(_ context.Context, ids []string, raiseOnMissing bool) ([]entitystore.Entity, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enter(MethodGetEntities); err != nil {
		return nil, err
	}

	entities := make([]entitystore.Entity, 0, len(ids))
	for _, id := range ids {
		stored, ok := b.entities[id]
		if _, err := uuid.Parse(id); err != nil || !ok {
			if raiseOnMissing {
				return nil, errors.Join(entitystore.ErrNotFound, fmt.Errorf("id %q", id))
			}

			continue
		}

		entity, err := b.registry.NewEntity(stored.entityType)
		if err != nil {
			if raiseOnMissing {
				return nil, errors.Join(entitystore.ErrNotFound, err)
			}

			continue
		}

		if snapshotValid(entity, stored) {
			if entity, err = b.registry.DecodeEntity(stored.entityType, stored.snapshot); err != nil {
				return nil, err
			}

			entity.SetVersion(stored.snapshotVersion)
		}

		entity.SetID(id)
		entity.SetPersistedVersion(stored.version)
		entities = append(entities, entity)
	}

	return entities, nil
}

// GetEvents implements entitystore.Backend.
func (b *MemoryBackend) GetEvents(_ context.Context, criteria []entitystore.EventCriteria) (map[string][]entitystore.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enter(MethodGetEvents); err != nil {
		return nil, err
	}

	result := make(map[string][]entitystore.Event, len(criteria))
	for _, item := range criteria {
		if item.ID == "" {
			return nil, entitystore.ErrInvalidCriteria
		}

		matching := make([]memoryEvent, 0)
		for _, stored := range b.events {
			if stored.entityID == item.ID && stored.entityVersion > item.SinceVersion {
				matching = append(matching, stored)
			}
		}

		sort.SliceStable(matching, func(i, j int) bool {
			if matching[i].entityVersion != matching[j].entityVersion {
				return matching[i].entityVersion < matching[j].entityVersion
			}

			return matching[i].sequence < matching[j].sequence
		})

		events := make([]entitystore.Event, 0, len(matching))
		for _, stored := range matching {
			event, err := b.registry.DecodeEvent(stored.eventType, stored.data)
			if err != nil {
				return nil, err
			}

			event.SetEventID(stored.id)
			event.SetEntityID(stored.entityID)
			event.SetEntityVersion(stored.entityVersion)
			events = append(events, event)
		}

		result[item.ID] = events
	}

	return result, nil
}

// ClearEntityEvents implements entitystore.Backend.
func (b *MemoryBackend) ClearEntityEvents(_ context.Context, id string, excludedTypes []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enter(MethodClearEntityEvents); err != nil {
		return err
	}

	b.events = slices.DeleteFunc(b.events, func(stored memoryEvent) bool {
		return stored.entityID == id && !slices.Contains(excludedTypes, stored.eventType)
	})

	return nil
}

// Clear implements entitystore.Backend.
func (b *MemoryBackend) Clear(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enter(MethodClear); err != nil {
		return err
	}

	b.entities = make(map[string]*memoryEntity)
	b.events = nil

	return nil
}

func (b *MemoryBackend) enter(method string) error {
	b.calls[method]++

	return b.failures[method]
}

func (b *MemoryBackend) insert(event entitystore.Event) error {
	if event.GetEventID() == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}

		event.SetEventID(id.String())
	}

	data, err := entitystore.EncodeEvent(event)
	if err != nil {
		return err
	}

	b.sequence++
	b.events = append(b.events, memoryEvent{
		id:            event.GetEventID(),
		eventType:     event.EventType(),
		entityID:      event.GetEntityID(),
		entityVersion: event.GetEntityVersion(),
		data:          data,
		sequence:      b.sequence,
	})

	return nil
}

func (b *MemoryBackend) eventExists(id string) bool {
	for _, stored := range b.events {
		if stored.id == id {
			return true
		}
	}

	return false
}

func snapshotValid(entity entitystore.Entity, stored *memoryEntity) bool {
	if stored.snapshot == nil {
		return false
	}

	key, hasKey := entitystore.SnapshotKeyOf(entity)
	if !hasKey {
		return stored.snapshotKey == nil
	}

	return stored.snapshotKey != nil && *stored.snapshotKey == key
}
