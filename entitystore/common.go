package entitystore

import (
	"errors"
)

var (
	// ErrNotFound is returned when no entity exists for a requested id, including malformed ids.
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidArgument is returned for values that can never be processed, e.g. a wrong type in a relation.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidCriteria is returned when an event criteria entry has no entity id.
	ErrInvalidCriteria = errors.New("event criteria must contain an entity id")

	// ErrUnknownType is returned when a type tag is not registered.
	ErrUnknownType = errors.New("unknown type")

	// ErrConcurrencyConflict is returned when a conditional entity update found an unexpected version.
	ErrConcurrencyConflict = errors.New("concurrency error, entity version has changed")

	// ErrNilBackend is returned when a Store is constructed without a Backend.
	ErrNilBackend = errors.New("backend must not be nil")

	// ErrNilRegistry is returned when a Store or EventBus is constructed without a Registry.
	ErrNilRegistry = errors.New("registry must not be nil")

	// ErrInvalidSnapshotThreshold is returned for a snapshot threshold lower than 1.
	ErrInvalidSnapshotThreshold = errors.New("snapshot threshold must be positive")

	// ErrInvalidPageSize is returned for a replay page size lower than 1.
	ErrInvalidPageSize = errors.New("replay page size must be positive")

	// ErrClearAllNotConfirmed is returned when ClearAll is called without the confirmation token.
	ErrClearAllNotConfirmed = errors.New("clearing all data requires the confirmation token")

	// ErrFeedStoreNotConfigured is returned by Replay when the EventBus has no FeedStore.
	ErrFeedStoreNotConfigured = errors.New("no feed store configured")

	// ErrAddingEntityFailed is returned when the backend could not insert a new entity.
	ErrAddingEntityFailed = errors.New("adding entity failed")

	// ErrSavingEntityFailed is returned when the backend could not update an entity.
	ErrSavingEntityFailed = errors.New("saving entity failed")

	// ErrAddingEventsFailed is returned when the backend could not persist events.
	ErrAddingEventsFailed = errors.New("adding events failed")

	// ErrSnapshottingFailed is returned when a snapshot operation failed.
	ErrSnapshottingFailed = errors.New("snapshotting entity failed")

	// ErrLoadingEntitiesFailed is returned when the backend could not load entities.
	ErrLoadingEntitiesFailed = errors.New("loading entities failed")

	// ErrLoadingEventsFailed is returned when the backend could not load events.
	ErrLoadingEventsFailed = errors.New("loading events failed")

	// ErrApplyingEventFailed is returned when an event could not be applied to its entity.
	ErrApplyingEventFailed = errors.New("applying event failed")

	// ErrClearingFailed is returned when a purge operation failed.
	ErrClearingFailed = errors.New("clearing data failed")
)

// ClearAllConfirmation must be passed to Store.ClearAll to wipe the whole store.
const ClearAllConfirmation = "yes, delete all entities and events"

// DefaultSnapshotThreshold is the version increment after which an entity gets snapshotted.
const DefaultSnapshotThreshold = 10

// DefaultReplayPageSize is the number of feed items fetched per page during a replay.
const DefaultReplayPageSize = 100
