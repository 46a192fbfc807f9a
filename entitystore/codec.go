package entitystore

import (
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// storageJSON is the codec for event payloads and snapshots.
var storageJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// EncodeEvent renders the event payload as stored by backends and feeds.
func EncodeEvent(event Event) ([]byte, error) {
	data, err := storageJSON.Marshal(event)
	if err != nil {
		return nil, errors.Join(ErrInvalidArgument, fmt.Errorf("encoding %s: %w", event.EventType(), err))
	}

	return data, nil
}

// DecodeEvent rehydrates a stored event payload.
// An unregistered tag yields an *UnknownEvent carrying the raw payload.
func (r *Registry) DecodeEvent(typeName string, data []byte) (Event, error) {
	event, err := r.NewEvent(typeName)
	if errors.Is(err, ErrUnknownType) {
		return &UnknownEvent{StoredType: typeName, Data: data}, nil
	}

	if err != nil {
		return nil, err
	}

	if len(data) > 0 {
		if err := storageJSON.Unmarshal(data, event); err != nil {
			return nil, errors.Join(ErrInvalidArgument, fmt.Errorf("decoding %s: %w", typeName, err))
		}
	}

	return event, nil
}

// EncodeSnapshot renders the domain state of an entity.
func EncodeSnapshot(entity Entity) ([]byte, error) {
	data, err := storageJSON.Marshal(entity)
	if err != nil {
		return nil, errors.Join(ErrSnapshottingFailed, fmt.Errorf("encoding %s: %w", entity.EntityType(), err))
	}

	return data, nil
}

// DecodeEntity creates an entity of the tag, hydrated from snapshot if one is given.
func (r *Registry) DecodeEntity(typeName string, snapshot []byte) (Entity, error) {
	entity, err := r.NewEntity(typeName)
	if err != nil {
		return nil, err
	}

	if len(snapshot) > 0 {
		if err := storageJSON.Unmarshal(snapshot, entity); err != nil {
			return nil, errors.Join(ErrInvalidArgument, fmt.Errorf("decoding snapshot of %s: %w", typeName, err))
		}
	}

	return entity, nil
}
