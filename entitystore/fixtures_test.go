package entitystore_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/entity-store-go/entitystore"
	"github.com/AntonStoeckl/entity-store-go/testutil/helper"
)

const (
	counterEntityType      = "Counter"
	keyedCounterEntityType = "KeyedCounter"
	incrementedEventType   = "Incremented"
	renamedEventType       = "Renamed"
	failingEventType       = "Failing"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

type countable interface {
	entitystore.Entity
	add(n int)
	rename(name string)
}

type counter struct {
	entitystore.BaseEntity
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func (c *counter) EntityType() string { return counterEntityType }
func (c *counter) add(n int)          { c.Count += n }
func (c *counter) rename(name string) { c.Name = name }

type keyedCounter struct {
	counter
}

func (c *keyedCounter) EntityType() string { return keyedCounterEntityType }
func (c *keyedCounter) SnapshotKey() int   { return 2 }

type incremented struct {
	entitystore.BaseEvent
	By int `json:"by"`
}

func (e *incremented) EventType() string { return incrementedEventType }

func (e *incremented) Apply(entity entitystore.Entity) error {
	c, ok := entity.(countable)
	if !ok {
		return errors.New("not countable")
	}

	c.add(e.By)

	return nil
}

type renamed struct {
	entitystore.BaseEvent
	Name string `json:"name"`
}

func (e *renamed) EventType() string { return renamedEventType }

func (e *renamed) Apply(entity entitystore.Entity) error {
	entity.(countable).rename(e.Name)
	return nil
}

type failing struct {
	entitystore.BaseEvent
}

func (e *failing) EventType() string { return failingEventType }

func (e *failing) Apply(_ entitystore.Entity) error {
	return errors.New("boom")
}

func newTestRegistry() *entitystore.Registry {
	return entitystore.NewRegistry().
		RegisterEntity(func() entitystore.Entity { return &counter{} }).
		RegisterEntity(func() entitystore.Entity { return &keyedCounter{} }).
		RegisterEvent(func() entitystore.Event { return &incremented{} }).
		RegisterEvent(func() entitystore.Event { return &renamed{} }).
		RegisterEvent(func() entitystore.Event { return &failing{} })
}

type testFixture struct {
	registry *entitystore.Registry
	backend  *helper.MemoryBackend
	recorder *recordingSubscriber
	store    *entitystore.Store
	logSpy   *helper.LogHandlerSpy
}

func givenStore(t *testing.T, options ...entitystore.Option) testFixture {
	t.Helper()

	registry := newTestRegistry()
	backend := helper.NewMemoryBackend(registry)
	recorder := newRecordingSubscriber()
	logSpy := helper.NewLogHandlerSpy(false)

	bus, err := entitystore.NewEventBus(
		registry,
		entitystore.WithSubscribers(entitystore.SubscriberFunc("recorder", recorder.factory)),
	)
	require.NoError(t, err)

	options = append([]entitystore.Option{
		entitystore.WithEventBus(bus),
		entitystore.WithLogger(slog.New(logSpy)),
	}, options...)

	store, err := entitystore.NewStore(backend, registry, options...)
	require.NoError(t, err)

	return testFixture{registry: registry, backend: backend, recorder: recorder, store: store, logSpy: logSpy}
}

func givenCounterWithEvents(t *testing.T, entity countable, increments ...int) countable {
	t.Helper()

	for _, by := range increments {
		require.NoError(t, entitystore.RecordEvent(entity, &incremented{By: by}))
	}

	return entity
}

// recordingSubscriber collects every event it receives, across instances.
type recordingSubscriber struct {
	mu     sync.Mutex
	events []entitystore.Event
}

func newRecordingSubscriber() *recordingSubscriber {
	return &recordingSubscriber{}
}

func (r *recordingSubscriber) factory() entitystore.Subscriber {
	return r
}

func (r *recordingSubscriber) Handlers() entitystore.Handlers {
	return entitystore.Handlers{
		entitystore.AllEventsReceiver: func(_ context.Context, event entitystore.Event) error {
			r.mu.Lock()
			defer r.mu.Unlock()

			r.events = append(r.events, event)

			return nil
		},
	}
}

func (r *recordingSubscriber) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	types := make([]string, 0, len(r.events))
	for _, event := range r.events {
		types = append(types, event.EventType())
	}

	return types
}

func (r *recordingSubscriber) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = nil
}
