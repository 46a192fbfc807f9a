package entitystore

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// EntityFactory creates an empty entity of one registered type.
type EntityFactory func() Entity

// EventFactory creates an empty event of one registered type.
type EventFactory func() Event

// TypeLoader maps a stored type tag onto the tag it is registered under today.
// It is used when types were renamed or moved after events had been stored.
type TypeLoader func(typeName string) string

// Registry maps stable type tags to factories for entities, events and subscribers.
// Backends use it to rehydrate stored records, the EventBus to resolve subscribers by name.
type Registry struct {
	mu          sync.RWMutex
	entities    map[string]EntityFactory
	events      map[string]EventFactory
	subscribers map[string]SubscriberFactory
	typeLoader  TypeLoader
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		entities:    make(map[string]EntityFactory),
		events:      make(map[string]EventFactory),
		subscribers: make(map[string]SubscriberFactory),
	}
}

// WithTypeLoader installs a TypeLoader and returns the registry for chaining.
func (r *Registry) WithTypeLoader(loader TypeLoader) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.typeLoader = loader

	return r
}

// RegisterEntity registers an entity factory under the tag the created entities report as EntityType.
func (r *Registry) RegisterEntity(factory EntityFactory) *Registry {
	tag := factory().EntityType()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entities[tag] = factory

	return r
}

// RegisterEvent registers an event factory under the tag the created events report as EventType.
func (r *Registry) RegisterEvent(factory EventFactory) *Registry {
	tag := factory().EventType()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.events[tag] = factory

	return r
}

// RegisterSubscriber registers a subscriber factory under a name that SubscriberNamed refers to.
func (r *Registry) RegisterSubscriber(name string, factory SubscriberFactory) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.subscribers[name] = factory

	return r
}

// NewEntity creates an empty entity for the tag.
func (r *Registry) NewEntity(typeName string) (Entity, error) {
	tag := r.resolve(typeName)

	r.mu.RLock()
	factory, ok := r.entities[tag]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.Join(ErrUnknownType, fmt.Errorf("entity type %q", typeName))
	}

	return factory(), nil
}

// NewEvent creates an empty event for the tag.
// Tags of the form "<EntityType>VersionIncremented" always resolve to VersionIncremented.
func (r *Registry) NewEvent(typeName string) (Event, error) {
	tag := r.resolve(typeName)

	r.mu.RLock()
	factory, ok := r.events[tag]
	r.mu.RUnlock()

	if ok {
		return factory(), nil
	}

	if IsVersionIncrementedType(tag) {
		return &VersionIncremented{ForEntityType: tag[:len(tag)-len(versionIncrementedSuffix)]}, nil
	}

	return nil, errors.Join(ErrUnknownType, fmt.Errorf("event type %q", typeName))
}

// Subscriber returns the factory registered under name.
func (r *Registry) Subscriber(name string) (SubscriberFactory, error) {
	r.mu.RLock()
	factory, ok := r.subscribers[r.resolveLocked(name)]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.Join(ErrUnknownType, fmt.Errorf("subscriber %q", name))
	}

	return factory, nil
}

// EntityTypes returns the registered entity tags, sorted.
func (r *Registry) EntityTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tags := make([]string, 0, len(r.entities))
	for tag := range r.entities {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	return tags
}

func (r *Registry) resolve(typeName string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.resolveLocked(typeName)
}

func (r *Registry) resolveLocked(typeName string) string {
	if r.typeLoader == nil {
		return typeName
	}

	return r.typeLoader(typeName)
}
