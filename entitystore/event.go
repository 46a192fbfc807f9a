package entitystore

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Events is an alias type for a slice of Event.
type Events = []Event

// Event is an immutable fact that belongs to exactly one entity.
//
// Concrete events embed BaseEvent and implement EventType and Apply.
type Event interface {
	// EventType returns the registered type tag.
	EventType() string

	GetEventID() string
	SetEventID(id string)

	GetEntityID() string
	SetEntityID(id string)

	// GetEntityVersion returns the version the entity had after this event, stamped at persist time.
	GetEntityVersion() int
	SetEntityVersion(version int)

	// Apply mutates the entity. It must not have side effects outside the entity.
	Apply(entity Entity) error
}

// BaseEvent implements the identity part of Event and is meant to be embedded.
type BaseEvent struct {
	ID            string `json:"id,omitempty"`
	EntityID      string `json:"entity_id,omitempty"`
	EntityVersion int    `json:"entity_version,omitempty"`
}

// GetEventID returns the event id, empty until persisted.
func (b *BaseEvent) GetEventID() string {
	return b.ID
}

// SetEventID sets the event id.
func (b *BaseEvent) SetEventID(id string) {
	b.ID = id
}

// GetEntityID returns the id of the owning entity.
func (b *BaseEvent) GetEntityID() string {
	return b.EntityID
}

// SetEntityID links the event to its entity.
func (b *BaseEvent) SetEntityID(id string) {
	b.EntityID = id
}

// GetEntityVersion returns the entity version stamped on the event.
func (b *BaseEvent) GetEntityVersion() int {
	return b.EntityVersion
}

// SetEntityVersion stamps the entity version onto the event.
func (b *BaseEvent) SetEntityVersion(version int) {
	b.EntityVersion = version
}

// AllEventsReceiver is the receiver name of handlers that want every published event.
const AllEventsReceiver = "all_events"

var (
	acronymBoundary = regexp.MustCompile(`([A-Z]+)([A-Z][a-z])`)
	wordBoundary    = regexp.MustCompile(`([a-z\d])([A-Z])`)
)

// ReceiverName derives the subscriber handler name from an event type:
// "BookCopyLentToReader" becomes "book_copy_lent_to_reader".
// Namespace prefixes separated by "." or "::" are dropped.
func ReceiverName(eventType string) string {
	name := eventType
	if i := strings.LastIndex(name, "::"); i >= 0 {
		name = name[i+2:]
	}

	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}

	name = acronymBoundary.ReplaceAllString(name, "${1}_${2}")
	name = wordBoundary.ReplaceAllString(name, "${1}_${2}")
	name = strings.ReplaceAll(name, "-", "_")

	return strings.ToLower(name)
}

// EventAttributes returns the flattened attributes of an event.
func EventAttributes(event Event) (map[string]any, error) {
	return AttributesOf(event)
}

// versionIncrementedSuffix is appended to the entity type to form the signal event type.
const versionIncrementedSuffix = "VersionIncremented"

// VersionIncremented is the signal event published after every successful save.
// It carries no domain payload; its type tag is "<EntityType>VersionIncremented".
type VersionIncremented struct {
	BaseEvent
	ForEntityType string `json:"entity_type"`
	Version       int    `json:"version"`
}

// NewVersionIncremented builds the signal event for the entity's current version.
func NewVersionIncremented(entity Entity) *VersionIncremented {
	return &VersionIncremented{
		BaseEvent: BaseEvent{
			EntityID:      entity.GetID(),
			EntityVersion: entity.GetVersion(),
		},
		ForEntityType: entity.EntityType(),
		Version:       entity.GetVersion(),
	}
}

// EventType returns "<EntityType>VersionIncremented".
func (e *VersionIncremented) EventType() string {
	return e.ForEntityType + versionIncrementedSuffix
}

// Apply does nothing, the event is a signal only.
func (e *VersionIncremented) Apply(_ Entity) error {
	return nil
}

// IsVersionIncrementedType reports whether the tag names a signal event.
func IsVersionIncrementedType(eventType string) bool {
	return strings.HasSuffix(eventType, versionIncrementedSuffix) && len(eventType) > len(versionIncrementedSuffix)
}

// UnknownEvent stands in for a stored event whose type tag is not registered.
// Backends return it instead of failing the whole load; the Store decides whether to skip it.
type UnknownEvent struct {
	BaseEvent
	StoredType string
	Data       []byte
}

// EventType returns the stored tag.
func (e *UnknownEvent) EventType() string {
	return e.StoredType
}

// Apply always fails with ErrUnknownType.
func (e *UnknownEvent) Apply(_ Entity) error {
	return errors.Join(ErrUnknownType, fmt.Errorf("event type %q", e.StoredType))
}
