package entitystore

import (
	"errors"
	"reflect"

	jsoniter "github.com/json-iterator/go"
)

var attributesJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// EntityValue is a non-identity value embedded in entities and events, e.g. an address.
// Two values are equal when all their declared attributes are equal.
type EntityValue interface {
	Attributes() (map[string]any, error)
}

// AttributesOf flattens a struct, including nested values, into a plain attribute map.
// Field names follow the json tags of the struct.
func AttributesOf(v any) (map[string]any, error) {
	raw, err := attributesJSON.Marshal(v)
	if err != nil {
		return nil, errors.Join(ErrInvalidArgument, err)
	}

	attrs := make(map[string]any)
	if err := attributesJSON.Unmarshal(raw, &attrs); err != nil {
		return nil, errors.Join(ErrInvalidArgument, err)
	}

	return attrs, nil
}

// FromAttributes hydrates target, a pointer to a struct, from an attribute map.
// Attributes without a matching field are ignored, attributes of the wrong shape fail.
func FromAttributes(attrs map[string]any, target any) error {
	raw, err := attributesJSON.Marshal(attrs)
	if err != nil {
		return errors.Join(ErrInvalidArgument, err)
	}

	if err := attributesJSON.Unmarshal(raw, target); err != nil {
		return errors.Join(ErrInvalidArgument, err)
	}

	return nil
}

// ValuesEqual compares two entity values structurally.
func ValuesEqual(a, b EntityValue) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	attrsA, err := a.Attributes()
	if err != nil {
		return false
	}

	attrsB, err := b.Attributes()
	if err != nil {
		return false
	}

	return reflect.DeepEqual(attrsA, attrsB)
}
