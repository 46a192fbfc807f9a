package entitystore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/entity-store-go/entitystore"
	"github.com/AntonStoeckl/entity-store-go/testutil/helper"
)

func Test_NewStore_ShouldFail_WithNilDependencies(t *testing.T) {
	registry := newTestRegistry()

	_, err := entitystore.NewStore(nil, registry)
	assert.ErrorIs(t, err, entitystore.ErrNilBackend)

	_, err = entitystore.NewStore(helper.NewMemoryBackend(registry), nil)
	assert.ErrorIs(t, err, entitystore.ErrNilRegistry)

	_, err = entitystore.NewStore(helper.NewMemoryBackend(registry), registry, entitystore.WithSnapshotThreshold(0))
	assert.ErrorIs(t, err, entitystore.ErrInvalidSnapshotThreshold)
}

func Test_Store_Add_StampsVersionsAndPublishes(t *testing.T) {
	// setup
	ctx := context.Background()
	f := givenStore(t)

	// arrange
	entity := givenCounterWithEvents(t, &counter{}, 1, 2, 3)

	// act
	err := f.store.Add(ctx, entity)

	// assert
	require.NoError(t, err)
	assert.NotEmpty(t, entity.GetID())
	assert.Equal(t, 3, entity.GetVersion())
	assert.Empty(t, entity.PendingEvents())
	assert.Equal(t, 3, f.backend.EventCount(entity.GetID()))
	assert.Equal(t,
		[]string{incrementedEventType, incrementedEventType, incrementedEventType, "CounterVersionIncremented"},
		f.recorder.eventTypes(),
	)

	loaded, err := f.store.GetExisting(ctx, entity.GetID())
	require.NoError(t, err)
	assert.Equal(t, 6, loaded.(*counter).Count)
	assert.Equal(t, 3, loaded.GetVersion())
}

func Test_Store_Add_WithoutEvents_StartsAtVersionOne(t *testing.T) {
	ctx := context.Background()
	f := givenStore(t)
	entity := &counter{}

	require.NoError(t, f.store.Add(ctx, entity))

	assert.Equal(t, 1, entity.GetVersion())
	assert.Equal(t, 1, f.backend.StoredVersion(entity.GetID()))
}

func Test_Store_Save_WithoutEvents_DoesNotTouchBackend(t *testing.T) {
	// setup
	ctx := context.Background()
	f := givenStore(t)

	// arrange
	entity := &counter{}

	// act
	err := f.store.Save(ctx, entity)

	// assert
	require.NoError(t, err)
	assert.Equal(t, 1, entity.GetVersion())
	assert.Zero(t, f.backend.TotalCallCount())
	assert.Empty(t, f.recorder.eventTypes())

	// act
	require.NoError(t, entitystore.RecordEvent(entity, &incremented{By: 1}))
	err = f.store.Save(ctx, entity)

	// assert
	require.NoError(t, err)
	assert.Equal(t, 1, f.backend.CallCount(helper.MethodAddEntity))
	assert.Equal(t, 1, f.backend.CallCount(helper.MethodAddEvents))
	assert.Equal(t, 1, entity.GetVersion())
}

func Test_Store_Save_BumpsVersionPerEvent(t *testing.T) {
	// setup
	ctx := context.Background()
	f := givenStore(t)

	// arrange
	entity := givenCounterWithEvents(t, &counter{}, 1)
	require.NoError(t, f.store.Add(ctx, entity))
	givenCounterWithEvents(t, entity, 2, 3)

	// act
	err := f.store.Save(ctx, entity)

	// assert
	require.NoError(t, err)
	assert.Equal(t, 3, entity.GetVersion())
	assert.Equal(t, 3, f.backend.StoredVersion(entity.GetID()))
	assert.Empty(t, entity.PendingEvents())

	loaded, err := f.store.GetExisting(ctx, entity.GetID())
	require.NoError(t, err)
	assert.Equal(t, 6, loaded.(*counter).Count)
	assert.Equal(t, 3, loaded.GetVersion())
}

func Test_Store_Save_WhenThresholdIsCrossed_WritesExactlyOneSnapshot(t *testing.T) {
	// setup
	ctx := context.Background()
	f := givenStore(t, entitystore.WithSnapshotThreshold(10))

	// arrange
	entity := givenCounterWithEvents(t, &counter{}, 1, 1, 1, 1, 1, 1, 1, 1, 1)
	require.NoError(t, f.store.Add(ctx, entity))
	require.Equal(t, 9, entity.GetVersion())
	givenCounterWithEvents(t, entity, 1, 1, 1)

	// act
	err := f.store.Save(ctx, entity)

	// assert
	require.NoError(t, err)
	assert.Equal(t, 12, entity.GetVersion())
	assert.Equal(t, 1, f.backend.CallCount(helper.MethodSnapshotEntity))

	hasSnapshot, snapshotVersion := f.backend.HasSnapshot(entity.GetID())
	assert.True(t, hasSnapshot)
	assert.Equal(t, 12, snapshotVersion)
	assert.Equal(t, 12, entity.SnapshotVersion())
}

func Test_Store_Save_WhenBelowThreshold_WritesNoSnapshot(t *testing.T) {
	ctx := context.Background()
	f := givenStore(t, entitystore.WithSnapshotThreshold(10))

	entity := givenCounterWithEvents(t, &counter{}, 1, 1)
	require.NoError(t, f.store.Add(ctx, entity))
	givenCounterWithEvents(t, entity, 1, 1, 1)

	require.NoError(t, f.store.Save(ctx, entity))

	assert.Zero(t, f.backend.CallCount(helper.MethodSnapshotEntity))
}

func Test_Store_Save_WithoutPendingEvents_SnapshotsWhenDue(t *testing.T) {
	ctx := context.Background()
	f := givenStore(t, entitystore.WithSnapshotThreshold(2))

	entity := givenCounterWithEvents(t, &counter{}, 1, 1)
	require.NoError(t, f.store.Add(ctx, entity))
	require.Zero(t, f.backend.CallCount(helper.MethodSnapshotEntity))

	require.NoError(t, f.store.Save(ctx, entity))

	assert.Equal(t, 1, f.backend.CallCount(helper.MethodSnapshotEntity))
	assert.Equal(t, 1, f.backend.CallCount(helper.MethodAddEvents))
}

func Test_Store_Get_SnapshotPlusNewerEvents_EqualsFullReplay(t *testing.T) {
	// setup
	ctx := context.Background()
	f := givenStore(t, entitystore.WithSnapshotThreshold(3))

	// arrange
	entity := givenCounterWithEvents(t, &counter{}, 1, 2)
	require.NoError(t, f.store.Add(ctx, entity))
	givenCounterWithEvents(t, entity, 3, 4)
	require.NoError(t, f.store.Save(ctx, entity))
	givenCounterWithEvents(t, entity, 5)
	require.NoError(t, f.store.Save(ctx, entity))

	hasSnapshot, snapshotVersion := f.backend.HasSnapshot(entity.GetID())
	require.True(t, hasSnapshot)
	require.Equal(t, 4, snapshotVersion)

	// act
	fromSnapshot, err := f.store.GetExisting(ctx, entity.GetID())
	require.NoError(t, err)

	require.NoError(t, f.store.RemoveSnapshots(ctx, ""))
	fromReplay, err := f.store.GetExisting(ctx, entity.GetID())
	require.NoError(t, err)

	// assert
	assert.Equal(t, 15, fromSnapshot.(*counter).Count)
	assert.Equal(t, fromReplay.(*counter).Count, fromSnapshot.(*counter).Count)
	assert.Equal(t, fromReplay.GetVersion(), fromSnapshot.GetVersion())
	assert.Equal(t, 5, fromSnapshot.GetVersion())
}

func Test_Store_Get_WhenSnapshotKeyMismatches_RebuildsFromEvents(t *testing.T) {
	// setup
	ctx := context.Background()
	f := givenStore(t)

	// arrange
	entity := givenCounterWithEvents(t, &keyedCounter{}, 1, 2)
	require.NoError(t, f.store.Add(ctx, entity))
	entity.(*keyedCounter).Name = "only in the snapshot"
	require.NoError(t, f.store.SnapshotEntity(ctx, entity))

	fromSnapshot, err := f.store.GetExisting(ctx, entity.GetID())
	require.NoError(t, err)
	require.Equal(t, "only in the snapshot", fromSnapshot.(*keyedCounter).Name)

	storedKey := 1
	f.backend.SetStoredSnapshotKey(entity.GetID(), &storedKey)

	// act
	rebuilt, err := f.store.GetExisting(ctx, entity.GetID())

	// assert
	require.NoError(t, err)
	assert.Empty(t, rebuilt.(*keyedCounter).Name)
	assert.Equal(t, 3, rebuilt.(*keyedCounter).Count)
	assert.Equal(t, 2, rebuilt.GetVersion())
}

func Test_Store_GetWithIDs_PreservesOrderWithNilSlots(t *testing.T) {
	// setup
	ctx := context.Background()
	f := givenStore(t)

	// arrange
	first := givenCounterWithEvents(t, &counter{}, 1)
	second := givenCounterWithEvents(t, &counter{}, 2)
	require.NoError(t, f.store.Add(ctx, first))
	require.NoError(t, f.store.Add(ctx, second))
	missing := helper.GivenUniqueID(t)

	// act
	entities, err := f.store.GetWithIDs(ctx, []string{second.GetID(), missing, first.GetID(), "not-an-id"})

	// assert
	require.NoError(t, err)
	require.Len(t, entities, 4)
	assert.Equal(t, second.GetID(), entities[0].GetID())
	assert.Nil(t, entities[1])
	assert.Equal(t, first.GetID(), entities[2].GetID())
	assert.Nil(t, entities[3])
	assert.Equal(t, 1, f.backend.CallCount(helper.MethodGetEntities))
	assert.Equal(t, 1, f.backend.CallCount(helper.MethodGetEvents))

	// act
	_, err = f.store.GetWithIDsStrict(ctx, []string{first.GetID(), missing})

	// assert
	assert.ErrorIs(t, err, entitystore.ErrNotFound)
}

func Test_Store_Get_ReturnsNilForMissingAndMalformedIDs(t *testing.T) {
	ctx := context.Background()
	f := givenStore(t)

	entity, err := f.store.Get(ctx, helper.GivenUniqueID(t))
	require.NoError(t, err)
	assert.Nil(t, entity)

	entity, err = f.store.Get(ctx, "malformed")
	require.NoError(t, err)
	assert.Nil(t, entity)

	_, err = f.store.GetExisting(ctx, "malformed")
	assert.ErrorIs(t, err, entitystore.ErrNotFound)
}

func Test_Store_Upsert_PublishesOnlyNewEvents(t *testing.T) {
	// setup
	ctx := context.Background()
	f := givenStore(t)

	// arrange
	entity := givenCounterWithEvents(t, &counter{}, 1)
	require.NoError(t, f.store.Add(ctx, entity))

	first := &incremented{By: 2, BaseEvent: entitystore.BaseEvent{EntityVersion: 2}}
	second := &incremented{By: 3, BaseEvent: entitystore.BaseEvent{EntityVersion: 2}}
	require.NoError(t, entitystore.RecordEvent(entity, first))
	require.NoError(t, entitystore.RecordEvent(entity, second))
	require.NoError(t, f.store.Upsert(ctx, entity))
	f.recorder.reset()

	third := &incremented{By: 4, BaseEvent: entitystore.BaseEvent{EntityVersion: 3}}
	require.NoError(t, entitystore.RecordEvent(entity, first))
	require.NoError(t, entitystore.RecordEvent(entity, second))
	require.NoError(t, entitystore.RecordEvent(entity, third))

	// act
	err := f.store.Upsert(ctx, entity)

	// assert
	require.NoError(t, err)
	assert.Equal(t, 3, entity.GetVersion())
	assert.Equal(t, 4, f.backend.EventCount(entity.GetID()))
	assert.Equal(t, []string{incrementedEventType, "CounterVersionIncremented"}, f.recorder.eventTypes())
}

func Test_Store_Save_WithOptimisticConcurrency_DetectsLostUpdate(t *testing.T) {
	// setup
	ctx := context.Background()
	f := givenStore(t, entitystore.WithOptimisticConcurrency())

	// arrange
	entity := givenCounterWithEvents(t, &counter{}, 1)
	require.NoError(t, f.store.Add(ctx, entity))

	winner, err := f.store.GetExisting(ctx, entity.GetID())
	require.NoError(t, err)
	loser, err := f.store.GetExisting(ctx, entity.GetID())
	require.NoError(t, err)

	givenCounterWithEvents(t, winner.(*counter), 1)
	require.NoError(t, f.store.Save(ctx, winner))
	givenCounterWithEvents(t, loser.(*counter), 1)

	// act
	err = f.store.Save(ctx, loser)

	// assert
	assert.ErrorIs(t, err, entitystore.ErrConcurrencyConflict)
	assert.Equal(t, 1, loser.GetVersion())
	assert.Len(t, loser.PendingEvents(), 1)
	assert.True(t, f.logSpy.HasInfoLogWithMessage("concurrency conflict detected").Assert())
}

func Test_Store_Save_WithoutOptimisticConcurrency_LastWriterWins(t *testing.T) {
	ctx := context.Background()
	f := givenStore(t)

	entity := givenCounterWithEvents(t, &counter{}, 1)
	require.NoError(t, f.store.Add(ctx, entity))

	first, err := f.store.GetExisting(ctx, entity.GetID())
	require.NoError(t, err)
	second, err := f.store.GetExisting(ctx, entity.GetID())
	require.NoError(t, err)

	givenCounterWithEvents(t, first.(*counter), 1)
	givenCounterWithEvents(t, second.(*counter), 1)

	require.NoError(t, f.store.Save(ctx, first))
	require.NoError(t, f.store.Save(ctx, second))
}

func Test_Store_Save_WhenBackendFails_KeepsPendingEventsAndLogs(t *testing.T) {
	// setup
	ctx := context.Background()
	f := givenStore(t)

	// arrange
	entity := givenCounterWithEvents(t, &counter{}, 1)
	require.NoError(t, f.store.Add(ctx, entity))
	givenCounterWithEvents(t, entity, 1)
	f.backend.FailOn(helper.MethodAddEvents, errors.New("disk full"))
	f.recorder.reset()

	// act
	err := f.store.Save(ctx, entity)

	// assert
	assert.ErrorIs(t, err, entitystore.ErrAddingEventsFailed)
	assert.Len(t, entity.PendingEvents(), 1)
	assert.Empty(t, f.recorder.eventTypes())
	assert.True(t, f.logSpy.HasErrorLogWithMessage("failed to add events").
		WithStringAttribute("entity_id", entity.GetID()).
		WithAttribute("error").
		Assert())
}

func Test_Store_Get_SkipsUnknownEventTypes_UnlessStrict(t *testing.T) {
	// setup
	ctx := context.Background()
	lenient := givenStore(t)
	entity := givenCounterWithEvents(t, &counter{}, 1)
	require.NoError(t, lenient.store.Add(ctx, entity))
	lenient.backend.StoreRawEvent(entity.GetID(), "Vanished", 2, []byte(`{}`))

	// act
	loaded, err := lenient.store.GetExisting(ctx, entity.GetID())

	// assert
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.(*counter).Count)
	assert.True(t, lenient.logSpy.HasWarnLogWithMessage("skipped event of unknown type").
		WithStringAttribute("event_type", "Vanished").
		Assert())

	// arrange
	strict, err := entitystore.NewStore(lenient.backend, lenient.registry, entitystore.WithStrictEventTypes())
	require.NoError(t, err)

	// act
	_, err = strict.GetExisting(ctx, entity.GetID())

	// assert
	assert.ErrorIs(t, err, entitystore.ErrUnknownType)
}

func Test_Store_Save_AfterSkippedUnknownEvent_ContinuesAfterItsVersion(t *testing.T) {
	// setup
	ctx := context.Background()
	f := givenStore(t)

	// arrange
	entity := givenCounterWithEvents(t, &counter{}, 1)
	require.NoError(t, f.store.Add(ctx, entity))
	f.backend.StoreRawEvent(entity.GetID(), "SomethingNew", 2, []byte(`{}`))

	loaded, err := f.store.GetExisting(ctx, entity.GetID())
	require.NoError(t, err)
	require.Equal(t, 2, loaded.GetVersion())

	next := &incremented{By: 5}
	require.NoError(t, entitystore.RecordEvent(loaded, next))

	// act
	err = f.store.Save(ctx, loaded)

	// assert
	require.NoError(t, err)
	assert.Equal(t, 3, next.GetEntityVersion())
	assert.Equal(t, 3, loaded.GetVersion())
	assert.Equal(t, 3, f.backend.StoredVersion(entity.GetID()))
}

func Test_Store_Get_AfterClearEntityEvents_KeepsPersistedVersion(t *testing.T) {
	// setup
	ctx := context.Background()
	f := givenStore(t, entitystore.WithOptimisticConcurrency())

	// arrange
	entity := givenCounterWithEvents(t, &counter{}, 1, 2, 3)
	require.NoError(t, f.store.Add(ctx, entity))
	require.NoError(t, f.store.ClearEntityEvents(ctx, entity.GetID()))

	// act
	loaded, err := f.store.GetExisting(ctx, entity.GetID())

	// assert
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.GetVersion())
	assert.Equal(t, 3, loaded.PersistedVersion())
	assert.Zero(t, loaded.(*counter).Count)

	// arrange
	next := &incremented{By: 4}
	require.NoError(t, entitystore.RecordEvent(loaded, next))

	// act
	err = f.store.Save(ctx, loaded)

	// assert
	require.NoError(t, err)
	assert.Equal(t, 4, next.GetEntityVersion())
	assert.Equal(t, 4, f.backend.StoredVersion(entity.GetID()))
}

func Test_Store_Get_WhenEventFailsToApply_AbortsLoad(t *testing.T) {
	ctx := context.Background()
	f := givenStore(t)

	entity := givenCounterWithEvents(t, &counter{}, 1)
	require.NoError(t, f.store.Add(ctx, entity))
	f.backend.StoreRawEvent(entity.GetID(), failingEventType, 2, []byte(`{}`))

	_, err := f.store.GetExisting(ctx, entity.GetID())

	assert.ErrorIs(t, err, entitystore.ErrApplyingEventFailed)
	assert.True(t, f.logSpy.HasErrorLogWithMessage("failed to apply event during reconstruction").Assert())
}

func Test_Store_ClearEntityEvents_KeepsExcludedTypes(t *testing.T) {
	ctx := context.Background()
	f := givenStore(t)

	entity := givenCounterWithEvents(t, &counter{}, 1, 2)
	require.NoError(t, entitystore.RecordEvent(entity, &renamed{Name: "kept"}))
	require.NoError(t, f.store.Add(ctx, entity))

	require.NoError(t, f.store.ClearEntityEvents(ctx, entity.GetID(), renamedEventType))

	loaded, err := f.store.GetExisting(ctx, entity.GetID())
	require.NoError(t, err)
	assert.Equal(t, "kept", loaded.(*counter).Name)
	assert.Zero(t, loaded.(*counter).Count)
	assert.Equal(t, 1, f.backend.EventCount(entity.GetID()))
}

func Test_Store_ClearAll_RequiresConfirmation(t *testing.T) {
	// setup
	ctx := context.Background()
	f := givenStore(t)

	// arrange
	entity := givenCounterWithEvents(t, &counter{}, 1)
	require.NoError(t, f.store.Add(ctx, entity))

	// act
	err := f.store.ClearAll(ctx, "yes")

	// assert
	assert.ErrorIs(t, err, entitystore.ErrClearAllNotConfirmed)
	assert.Zero(t, f.backend.CallCount(helper.MethodClear))

	// act
	err = f.store.ClearAll(ctx, entitystore.ClearAllConfirmation)

	// assert
	require.NoError(t, err)
	loaded, err := f.store.Get(ctx, entity.GetID())
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func Test_Store_RemoveEntitySnapshot_FallsBackToReplay(t *testing.T) {
	ctx := context.Background()
	f := givenStore(t)

	entity := givenCounterWithEvents(t, &counter{}, 4)
	require.NoError(t, f.store.Add(ctx, entity))
	require.NoError(t, f.store.SnapshotEntity(ctx, entity))

	require.NoError(t, f.store.RemoveEntitySnapshot(ctx, entity.GetID()))

	hasSnapshot, _ := f.backend.HasSnapshot(entity.GetID())
	assert.False(t, hasSnapshot)

	loaded, err := f.store.GetExisting(ctx, entity.GetID())
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.(*counter).Count)
}

func Test_Store_SnapshotEntity_ShouldFail_ForUnpersistedEntity(t *testing.T) {
	f := givenStore(t)

	err := f.store.SnapshotEntity(context.Background(), &counter{})

	assert.ErrorIs(t, err, entitystore.ErrInvalidArgument)
	assert.Zero(t, f.backend.TotalCallCount())
}

func Test_Store_WithMetricsAndTracing_RecordsOperations(t *testing.T) {
	// setup
	ctx := context.Background()
	metricsSpy := helper.NewMetricsCollectorSpy(true)
	tracingSpy := helper.NewTracingCollectorSpy()
	f := givenStore(t, entitystore.WithMetrics(metricsSpy), entitystore.WithTracing(tracingSpy))

	// arrange
	entity := givenCounterWithEvents(t, &counter{}, 1)
	require.NoError(t, f.store.Add(ctx, entity))
	givenCounterWithEvents(t, entity, 1)

	// act
	require.NoError(t, f.store.Save(ctx, entity))
	f.backend.FailOn(helper.MethodGetEntities, errors.New("connection reset"))
	_, err := f.store.Get(ctx, entity.GetID())

	// assert
	assert.ErrorIs(t, err, entitystore.ErrLoadingEntitiesFailed)
	assert.True(t, metricsSpy.HasDurationRecordForMetric("entitystore_operation_duration_seconds").
		WithOperation("save").
		WithStatus("success").
		Assert())
	assert.True(t, metricsSpy.HasCounterRecordForMetric("entitystore_operation_errors_total").
		WithOperation("get").
		Assert())
	assert.True(t, metricsSpy.HasValueRecordForMetric("entitystore_events_persisted").
		WithLabel("entity_type", counterEntityType).
		Assert())
	assert.True(t, tracingSpy.HasSpan("entitystore.save", "success"))
	assert.True(t, tracingSpy.HasSpan("entitystore.get", "error"))
}
