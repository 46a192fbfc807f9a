// Package entitystore provides persistence for event-sourced entities.
//
// Entities change state only by applying events. The Store persists the recorded
// events together with entity metadata through a Backend, keeps periodic snapshots
// so that loading does not replay the full history, and publishes every persisted
// event on an EventBus.
//
// Key types:
//   - Entity / BaseEntity: identity, version and pending events of an aggregate
//   - Event / BaseEvent: an immutable fact that transitions exactly one entity
//   - Registry: stable type tags for entities, events and subscribers
//   - Store: add, save, upsert, load, snapshot and purge operations
//   - EventBus: dispatch to subscribers by receiver name, replay from a FeedStore
//   - Related: lazily loaded references between entities
//
// Common usage pattern:
//
//	registry := entitystore.NewRegistry().
//		RegisterEntity(func() entitystore.Entity { return &BookCopy{} }).
//		RegisterEvent(func() entitystore.Event { return &BookCopyLentToReader{} })
//
//	bus, _ := entitystore.NewEventBus(registry, entitystore.WithSubscribers(...))
//	store, _ := entitystore.NewStore(backend, registry, entitystore.WithEventBus(bus))
//
//	_ = entitystore.RecordEvent(bookCopy, BuildBookCopyLentToReader(...))
//	err := store.Save(ctx, bookCopy)
package entitystore
