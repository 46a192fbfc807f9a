package entitystore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// ErrLoaderNotInjected is returned when a related entity is resolved before a loader was injected.
var ErrLoaderNotInjected = errors.New("no entity loader injected into related entity")

// EntityLoader resolves an entity id into the entity, nil if there is none. Store implements it.
type EntityLoader interface {
	Get(ctx context.Context, id string) (Entity, error)
}

// RelatedRef is the type-erased view of a Related field the Store works with.
type RelatedRef interface {
	InjectLoader(loader EntityLoader)
	LoadedEntity() (Entity, bool)
}

// HasRelatedEntities is implemented by entities that reference other entities through Related fields.
type HasRelatedEntities interface {
	RelatedEntities() []RelatedRef
}

// Related is a lazily loaded reference to another entity.
// Only the id is serialized; the entity is loaded on the first Get and cached afterward.
type Related[T Entity] struct {
	id     string
	loader EntityLoader
	value  T
	loaded bool
}

// NewRelated creates a reference to the entity with the given id.
func NewRelated[T Entity](id string) Related[T] {
	return Related[T]{id: id}
}

// ID returns the referenced id.
func (r *Related[T]) ID() string {
	return r.id
}

// SetID points the reference to another entity and drops the cached one.
func (r *Related[T]) SetID(id string) {
	var zero T

	r.id = id
	r.value = zero
	r.loaded = false
}

// Set assigns the referenced entity directly.
func (r *Related[T]) Set(entity T) {
	r.id = entity.GetID()
	r.value = entity
	r.loaded = true
}

// Get returns the referenced entity, loading it on first access.
func (r *Related[T]) Get(ctx context.Context) (T, error) {
	var zero T

	if r.loaded {
		return r.value, nil
	}

	if r.id == "" {
		return zero, nil
	}

	if r.loader == nil {
		return zero, ErrLoaderNotInjected
	}

	entity, err := r.loader.Get(ctx, r.id)
	if err != nil {
		return zero, err
	}

	if entity == nil {
		return zero, nil
	}

	typed, ok := entity.(T)
	if !ok {
		return zero, errors.Join(
			ErrInvalidArgument,
			fmt.Errorf("related entity %s is %T, expected %T", r.id, entity, zero),
		)
	}

	r.value = typed
	r.loaded = true

	return typed, nil
}

// InjectLoader sets the loader used by Get.
func (r *Related[T]) InjectLoader(loader EntityLoader) {
	r.loader = loader
}

// LoadedEntity returns the cached entity if it was loaded or set.
func (r *Related[T]) LoadedEntity() (Entity, bool) {
	if !r.loaded {
		return nil, false
	}

	return r.value, true
}

// MarshalJSON encodes the reference as its id.
func (r Related[T]) MarshalJSON() ([]byte, error) {
	if r.id == "" {
		return []byte("null"), nil
	}

	return []byte(strconv.Quote(r.id)), nil
}

// UnmarshalJSON decodes an id or null.
func (r *Related[T]) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		r.SetID("")
		return nil
	}

	id, err := strconv.Unquote(string(data))
	if err != nil {
		return errors.Join(ErrInvalidArgument, fmt.Errorf("related entity id must be a string: %w", err))
	}

	r.SetID(id)

	return nil
}

// injectLoader hands the loader to every Related field of the entity.
func injectLoader(entity Entity, loader EntityLoader) {
	related, ok := entity.(HasRelatedEntities)
	if !ok {
		return
	}

	for _, ref := range related.RelatedEntities() {
		ref.InjectLoader(loader)
	}
}

// loadedRelatedEntities returns the related entities that were loaded or set on the entity.
func loadedRelatedEntities(entity Entity) []Entity {
	related, ok := entity.(HasRelatedEntities)
	if !ok {
		return nil
	}

	loaded := make([]Entity, 0)
	for _, ref := range related.RelatedEntities() {
		if e, ok := ref.LoadedEntity(); ok && e != nil {
			loaded = append(loaded, e)
		}
	}

	return loaded
}
