package entitystore

import (
	"context"
	"time"
)

// EventCriteria selects the events of one entity, optionally only those newer than SinceVersion.
type EventCriteria struct {
	ID           string
	SinceVersion int
}

// Backend is the storage contract the Store orchestrates.
//
// Every method must be atomic on its own; the Store never spans a transaction across calls.
type Backend interface {
	// AddEntity inserts a new entity and returns the id the backend assigned.
	AddEntity(ctx context.Context, entity Entity) (string, error)

	// SaveEntity persists the version of an existing entity.
	// With expectedVersion > 0 the update only happens if the stored version equals it,
	// otherwise ErrConcurrencyConflict is returned.
	SaveEntity(ctx context.Context, entity Entity, expectedVersion int) error

	// SnapshotEntity stores the full attribute rendering of the entity with its snapshot key.
	SnapshotEntity(ctx context.Context, entity Entity) error

	RemoveEntitySnapshot(ctx context.Context, id string) error

	// RemoveSnapshots removes the snapshots of one entity type, or of all types for an empty type.
	RemoveSnapshots(ctx context.Context, entityType string) error

	// AddEvents appends the events, assigning ids to events without one.
	AddEvents(ctx context.Context, events []Event) error

	// UpsertEvents inserts the events whose id does not exist yet and returns only those.
	UpsertEvents(ctx context.Context, events []Event) ([]Event, error)

	// GetEntities returns entity shells built from valid snapshots, or empty entities with only an id.
	// Missing or malformed ids fail with ErrNotFound if raiseOnMissing is set, otherwise they are omitted.
	GetEntities(ctx context.Context, ids []string, raiseOnMissing bool) ([]Entity, error)

	// GetEvents returns the events per entity id sorted by entity version and insertion order.
	GetEvents(ctx context.Context, criteria []EventCriteria) (map[string][]Event, error)

	// ClearEntityEvents removes all events of the entity except those of the excluded types.
	ClearEntityEvents(ctx context.Context, id string, excludedTypes []string) error

	// Clear wipes all entities and events.
	Clear(ctx context.Context) error
}

// Since is the reference point a feed read starts after: a time or the id of a feed item.
type Since struct {
	Time time.Time
	ID   string
}

// SinceTime starts a feed read after the given time.
func SinceTime(t time.Time) Since {
	return Since{Time: t}
}

// SinceID starts a feed read after the feed item with the given id.
func SinceID(id string) Since {
	return Since{ID: id}
}

// IsID reports whether the reference point is a feed item id.
func (s Since) IsID() bool {
	return s.ID != ""
}

// FeedItem is one stored record of the feed.
type FeedItem struct {
	ID         string
	EntityType string
	EventType  string
	Attributes map[string]any
}

// Attr returns one attribute of the stored event.
func (i FeedItem) Attr(key string) any {
	return i.Attributes[key]
}

// FeedStore is the durable, append-only external copy of all published events.
type FeedStore interface {
	AddEvent(ctx context.Context, entityType string, event Event) error

	// GetEvents returns up to maxItems items after since in feed order, optionally only of one event type.
	GetEvents(ctx context.Context, since Since, eventType string, maxItems int) ([]FeedItem, error)
}
