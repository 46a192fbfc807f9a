package entitystore

import (
	"context"
	"errors"
	"fmt"
)

const (
	logMsgEntityAdded          = "entity added"
	logMsgEntitySaved          = "entity saved"
	logMsgEntityUpserted       = "entity upserted"
	logMsgEntitiesLoaded       = "entities loaded"
	logMsgSnapshotWritten      = "snapshot written"
	logMsgAddEntityFailed      = "failed to add entity"
	logMsgSaveEntityFailed     = "failed to save entity"
	logMsgAddEventsFailed      = "failed to add events"
	logMsgSnapshotFailed       = "failed to snapshot entity"
	logMsgLoadEntitiesFailed   = "failed to load entities"
	logMsgLoadEventsFailed     = "failed to load events"
	logMsgApplyEventFailed     = "failed to apply event during reconstruction"
	logMsgUnknownEventSkipped  = "skipped event of unknown type"
	logMsgConcurrencyConflict  = "concurrency conflict detected"
	logMsgClearFailed          = "failed to clear data"
	logMsgDataCleared          = "all entities and events cleared"
	logMsgEntityEventsCleared  = "entity events cleared"
	logAttrError               = "error"
	logAttrEntityType          = "entity_type"
	logAttrEntityID            = "entity_id"
	logAttrVersion             = "version"
	logAttrExpectedVersion     = "expected_version"
	logAttrEventType           = "event_type"
	logAttrEventCount          = "event_count"
	logAttrEntityCount         = "entity_count"
	logAttrDurationMS          = "duration_ms"
	logAttrSubscriber          = "subscriber"
	logAttrReceiver            = "receiver"
	logAttrExcludedEventTypes  = "excluded_event_types"
	operationAdd               = "add"
	operationSave              = "save"
	operationUpsert            = "upsert"
	operationGet               = "get"
	operationSnapshot          = "snapshot"
	operationRemoveSnapshots   = "remove_snapshots"
	operationClearEntityEvents = "clear_entity_events"
	operationClearAll          = "clear_all"
	operationAudit             = "audit"
)

// Store loads and persists event-sourced entities through a Backend and publishes
// persisted events on an optional EventBus.
//
// Store is safe for concurrent use as long as the Backend is. Without
// WithOptimisticConcurrency concurrent saves of the same entity may lose updates.
type Store struct {
	observer

	backend               Backend
	registry              *Registry
	bus                   *EventBus
	snapshotThreshold     int
	optimisticConcurrency bool
	strictEventTypes      bool
}

// NewStore creates a Store with optional configuration.
func NewStore(backend Backend, registry *Registry, options ...Option) (*Store, error) {
	if backend == nil {
		return nil, ErrNilBackend
	}

	if registry == nil {
		return nil, ErrNilRegistry
	}

	s := &Store{
		backend:           backend,
		registry:          registry,
		snapshotThreshold: DefaultSnapshotThreshold,
	}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Registry returns the type registry the Store was built with.
func (s *Store) Registry() *Registry {
	return s.registry
}

// Add persists a new entity together with its pending events, which get versions 1..n.
func (s *Store) Add(ctx context.Context, entity Entity) (err error) {
	if entity == nil {
		return errors.Join(ErrInvalidArgument, errors.New("entity must not be nil"))
	}

	ctx, done := s.track(ctx, operationAdd, map[string]string{labelEntityType: entity.EntityType()})
	defer func() { done(err) }()

	pending := entity.PendingEvents()
	stampVersions(pending, 0)
	entity.SetVersion(max(1, len(pending)))

	id, err := s.backend.AddEntity(ctx, entity)
	if err != nil {
		s.logError(ctx, logMsgAddEntityFailed, err, s.entityAttrs(entity)...)
		return errors.Join(ErrAddingEntityFailed, err)
	}

	entity.SetID(id)

	if err = s.flushEvents(ctx, entity, pending); err != nil {
		return err
	}

	s.logInfo(ctx, logMsgEntityAdded, append(s.entityAttrs(entity), logAttrEventCount, len(pending))...)

	s.publishAll(ctx, entity, pending)

	return nil
}

// Save persists the pending events of an entity and the new version.
// Pending events get the versions following the current version.
// A snapshot is written when the snapshot policy asks for one.
// Related entities that were loaded and carry pending events are saved first.
// Entities that reference each other are saved once per call.
func (s *Store) Save(ctx context.Context, entity Entity) error {
	if entity == nil {
		return errors.Join(ErrInvalidArgument, errors.New("entity must not be nil"))
	}

	return s.save(ctx, entity, map[Entity]struct{}{})
}

func (s *Store) save(ctx context.Context, entity Entity, visited map[Entity]struct{}) (err error) {
	visited[entity] = struct{}{}

	for _, related := range loadedRelatedEntities(entity) {
		if _, seen := visited[related]; seen || len(related.PendingEvents()) == 0 {
			continue
		}

		if err = s.save(ctx, related, visited); err != nil {
			return err
		}
	}

	pending := entity.PendingEvents()

	if len(pending) == 0 {
		if entity.GetID() == "" || !SnapshotDue(entity, s.snapshotThreshold) {
			return nil
		}

		return s.SnapshotEntity(ctx, entity)
	}

	ctx, done := s.track(ctx, operationSave, map[string]string{labelEntityType: entity.EntityType()})
	defer func() { done(err) }()

	previousVersion := entity.GetVersion()

	// a new entity starts its history at version 1
	baseVersion := previousVersion
	if entity.GetID() == "" {
		baseVersion = 0
	}

	stampVersions(pending, baseVersion)
	entity.SetVersion(baseVersion + len(pending))

	if err = s.persistMetadata(ctx, entity, previousVersion); err != nil {
		entity.SetVersion(previousVersion)
		return err
	}

	if err = s.flushEvents(ctx, entity, pending); err != nil {
		return err
	}

	if s.snapshotNeeded(entity, baseVersion, len(pending)) {
		if err = s.snapshot(ctx, entity); err != nil {
			return err
		}
	}

	s.logInfo(ctx, logMsgEntitySaved, append(s.entityAttrs(entity), logAttrEventCount, len(pending))...)

	s.publishAll(ctx, entity, pending)

	return nil
}

// Upsert persists pending events idempotently: events whose id already exists are ignored.
// Pending events keep their versions, unversioned ones get the current version, and the
// entity moves to the highest version among them. Only newly stored events are published.
func (s *Store) Upsert(ctx context.Context, entity Entity) (err error) {
	if entity == nil {
		return errors.Join(ErrInvalidArgument, errors.New("entity must not be nil"))
	}

	pending := entity.PendingEvents()
	if len(pending) == 0 {
		return nil
	}

	ctx, done := s.track(ctx, operationUpsert, map[string]string{labelEntityType: entity.EntityType()})
	defer func() { done(err) }()

	previousVersion := entity.GetVersion()
	version := previousVersion

	for _, event := range pending {
		if event.GetEntityVersion() == 0 {
			event.SetEntityVersion(previousVersion)
		}

		version = max(version, event.GetEntityVersion())
	}

	entity.SetVersion(version)

	if err = s.persistMetadata(ctx, entity, 0); err != nil {
		entity.SetVersion(previousVersion)
		return err
	}

	setEntityID(pending, entity.GetID())

	inserted, err := s.backend.UpsertEvents(ctx, pending)
	if err != nil {
		s.logError(ctx, logMsgAddEventsFailed, err, s.entityAttrs(entity)...)
		return errors.Join(ErrAddingEventsFailed, err)
	}

	entity.ClearPendingEvents()

	if SnapshotDue(entity, s.snapshotThreshold) {
		if err = s.snapshot(ctx, entity); err != nil {
			return err
		}
	}

	s.logInfo(ctx, logMsgEntityUpserted, append(s.entityAttrs(entity), logAttrEventCount, len(inserted))...)

	if len(inserted) > 0 {
		s.publishAll(ctx, entity, inserted)
	}

	return nil
}

// Get loads an entity, nil if it does not exist.
func (s *Store) Get(ctx context.Context, id string) (Entity, error) {
	entities, err := s.GetWithIDs(ctx, []string{id})
	if err != nil {
		return nil, err
	}

	return entities[0], nil
}

// GetExisting loads an entity and fails with ErrNotFound if it does not exist.
func (s *Store) GetExisting(ctx context.Context, id string) (Entity, error) {
	entities, err := s.GetWithIDsStrict(ctx, []string{id})
	if err != nil {
		return nil, err
	}

	return entities[0], nil
}

// GetWithIDs loads a batch of entities in the order of ids, with nil for missing ones.
func (s *Store) GetWithIDs(ctx context.Context, ids []string) ([]Entity, error) {
	return s.load(ctx, ids, false)
}

// GetWithIDsStrict loads a batch of entities in the order of ids and fails with ErrNotFound for a missing one.
func (s *Store) GetWithIDsStrict(ctx context.Context, ids []string) ([]Entity, error) {
	return s.load(ctx, ids, true)
}

// SnapshotEntity writes a snapshot of the entity at its current version.
func (s *Store) SnapshotEntity(ctx context.Context, entity Entity) (err error) {
	if entity == nil || entity.GetID() == "" {
		return errors.Join(ErrInvalidArgument, errors.New("only persisted entities can be snapshotted"))
	}

	ctx, done := s.track(ctx, operationSnapshot, map[string]string{labelEntityType: entity.EntityType()})
	defer func() { done(err) }()

	return s.snapshot(ctx, entity)
}

// RemoveEntitySnapshot discards the snapshot of one entity.
func (s *Store) RemoveEntitySnapshot(ctx context.Context, id string) (err error) {
	ctx, done := s.track(ctx, operationRemoveSnapshots, nil)
	defer func() { done(err) }()

	if err = s.backend.RemoveEntitySnapshot(ctx, id); err != nil {
		s.logError(ctx, logMsgSnapshotFailed, err, logAttrEntityID, id)
		return errors.Join(ErrSnapshottingFailed, err)
	}

	return nil
}

// RemoveSnapshots discards the snapshots of an entity type, or of all types if entityType is empty.
func (s *Store) RemoveSnapshots(ctx context.Context, entityType string) (err error) {
	ctx, done := s.track(ctx, operationRemoveSnapshots, map[string]string{labelEntityType: entityType})
	defer func() { done(err) }()

	if err = s.backend.RemoveSnapshots(ctx, entityType); err != nil {
		s.logError(ctx, logMsgSnapshotFailed, err, logAttrEntityType, entityType)
		return errors.Join(ErrSnapshottingFailed, err)
	}

	return nil
}

// ClearEntityEvents purges all events of an entity except those of the excluded types.
// This is an administrative operation that breaks the history of the entity.
func (s *Store) ClearEntityEvents(ctx context.Context, id string, excludedTypes ...string) (err error) {
	ctx, done := s.track(ctx, operationClearEntityEvents, nil)
	defer func() { done(err) }()

	if err = s.backend.ClearEntityEvents(ctx, id, excludedTypes); err != nil {
		s.logError(ctx, logMsgClearFailed, err, logAttrEntityID, id)
		return errors.Join(ErrClearingFailed, err)
	}

	s.logWarn(ctx, logMsgEntityEventsCleared, logAttrEntityID, id, logAttrExcludedEventTypes, excludedTypes)

	return nil
}

// ClearAll wipes all entities and events. confirm must be ClearAllConfirmation.
func (s *Store) ClearAll(ctx context.Context, confirm string) (err error) {
	if confirm != ClearAllConfirmation {
		return ErrClearAllNotConfirmed
	}

	ctx, done := s.track(ctx, operationClearAll, nil)
	defer func() { done(err) }()

	if err = s.backend.Clear(ctx); err != nil {
		s.logError(ctx, logMsgClearFailed, err)
		return errors.Join(ErrClearingFailed, err)
	}

	s.logWarn(ctx, logMsgDataCleared)

	return nil
}

func (s *Store) load(ctx context.Context, ids []string, raiseOnMissing bool) (result []Entity, err error) {
	ctx, done := s.track(ctx, operationGet, nil)
	defer func() { done(err) }()

	result = make([]Entity, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	entities, err := s.backend.GetEntities(ctx, ids, raiseOnMissing)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}

		s.logError(ctx, logMsgLoadEntitiesFailed, err, logAttrEntityCount, len(ids))
		return nil, errors.Join(ErrLoadingEntitiesFailed, err)
	}

	criteria := make([]EventCriteria, 0, len(entities))
	for _, entity := range entities {
		criteria = append(criteria, EventCriteria{ID: entity.GetID(), SinceVersion: entity.SnapshotVersion()})
	}

	eventsByID := make(map[string][]Event)
	if len(criteria) > 0 {
		eventsByID, err = s.backend.GetEvents(ctx, criteria)
		if err != nil {
			s.logError(ctx, logMsgLoadEventsFailed, err, logAttrEntityCount, len(criteria))
			return nil, errors.Join(ErrLoadingEventsFailed, err)
		}
	}

	loaded := make(map[string]Entity, len(entities))
	for _, entity := range entities {
		if err = s.replay(ctx, entity, eventsByID[entity.GetID()]); err != nil {
			return nil, err
		}

		injectLoader(entity, s)
		loaded[entity.GetID()] = entity
	}

	for i, id := range ids {
		entity, ok := loaded[id]
		if !ok {
			if raiseOnMissing {
				return nil, errors.Join(ErrNotFound, fmt.Errorf("id %q", id))
			}

			continue
		}

		result[i] = entity
	}

	s.logDebug(ctx, logMsgEntitiesLoaded, logAttrEntityCount, len(loaded))

	return result, nil
}

// replay applies the events in order and moves the entity version along.
// Skipped events still count, and the result never falls below the persisted version.
func (s *Store) replay(ctx context.Context, entity Entity, events []Event) error {
	for _, event := range events {
		if unknown, ok := event.(*UnknownEvent); ok && !s.strictEventTypes {
			s.logWarn(ctx, logMsgUnknownEventSkipped,
				append(s.entityAttrs(entity), logAttrEventType, unknown.StoredType)...)

			entity.SetVersion(max(entity.GetVersion(), event.GetEntityVersion()))

			continue
		}

		if err := ApplyEvent(entity, event); err != nil {
			s.logError(ctx, logMsgApplyEventFailed, err,
				append(s.entityAttrs(entity), logAttrEventType, event.EventType())...)

			return err
		}

		entity.SetVersion(event.GetEntityVersion())
	}

	if persisted := entity.PersistedVersion(); persisted > entity.GetVersion() {
		entity.SetVersion(persisted)
	}

	return nil
}

// persistMetadata inserts a new entity or updates the version of an existing one.
func (s *Store) persistMetadata(ctx context.Context, entity Entity, previousVersion int) error {
	if entity.GetID() == "" {
		id, err := s.backend.AddEntity(ctx, entity)
		if err != nil {
			s.logError(ctx, logMsgAddEntityFailed, err, s.entityAttrs(entity)...)
			return errors.Join(ErrAddingEntityFailed, err)
		}

		entity.SetID(id)

		return nil
	}

	expectedVersion := 0
	if s.optimisticConcurrency {
		expectedVersion = previousVersion
	}

	if err := s.backend.SaveEntity(ctx, entity, expectedVersion); err != nil {
		if errors.Is(err, ErrConcurrencyConflict) {
			s.logInfo(ctx, logMsgConcurrencyConflict,
				append(s.entityAttrs(entity), logAttrExpectedVersion, expectedVersion)...)

			return err
		}

		s.logError(ctx, logMsgSaveEntityFailed, err, s.entityAttrs(entity)...)

		return errors.Join(ErrSavingEntityFailed, err)
	}

	return nil
}

// flushEvents links the pending events to the entity, appends them and clears the buffer.
func (s *Store) flushEvents(ctx context.Context, entity Entity, pending []Event) error {
	if len(pending) == 0 {
		return nil
	}

	setEntityID(pending, entity.GetID())

	if err := s.backend.AddEvents(ctx, pending); err != nil {
		s.logError(ctx, logMsgAddEventsFailed, err, append(s.entityAttrs(entity), logAttrEventCount, len(pending))...)
		return errors.Join(ErrAddingEventsFailed, err)
	}

	entity.ClearPendingEvents()

	s.recordValue(ctx, metricEventsPersisted, float64(len(pending)), map[string]string{labelEntityType: entity.EntityType()})

	return nil
}

// snapshotNeeded decides the snapshot after a save of n events that started at previousVersion.
// Besides SnapshotDue, a save that crossed a multiple of the threshold or carried
// more events than the threshold gets one snapshot.
func (s *Store) snapshotNeeded(entity Entity, previousVersion, n int) bool {
	if SnapshotDue(entity, s.snapshotThreshold) {
		return true
	}

	return entity.GetVersion()/s.snapshotThreshold > previousVersion/s.snapshotThreshold || n > s.snapshotThreshold
}

func (s *Store) snapshot(ctx context.Context, entity Entity) error {
	if err := s.backend.SnapshotEntity(ctx, entity); err != nil {
		s.logError(ctx, logMsgSnapshotFailed, err, s.entityAttrs(entity)...)
		return errors.Join(ErrSnapshottingFailed, err)
	}

	entity.SetSnapshotVersion(entity.GetVersion())

	s.incrementCounter(ctx, metricSnapshotsWritten, map[string]string{labelEntityType: entity.EntityType()})
	s.logDebug(ctx, logMsgSnapshotWritten, s.entityAttrs(entity)...)

	return nil
}

// publishAll publishes the persisted events followed by the version signal.
func (s *Store) publishAll(ctx context.Context, entity Entity, events []Event) {
	if s.bus == nil {
		return
	}

	for _, event := range events {
		s.bus.Publish(ctx, entity.EntityType(), event)
	}

	s.bus.Publish(ctx, entity.EntityType(), NewVersionIncremented(entity))
}

func (s *Store) entityAttrs(entity Entity) []any {
	return []any{
		logAttrEntityType, entity.EntityType(),
		logAttrEntityID, entity.GetID(),
		logAttrVersion, entity.GetVersion(),
	}
}

// stampVersions gives the events the versions following base.
func stampVersions(events []Event, base int) {
	for i, event := range events {
		event.SetEntityVersion(base + i + 1)
	}
}

func setEntityID(events []Event, id string) {
	for _, event := range events {
		event.SetEntityID(id)
	}
}
