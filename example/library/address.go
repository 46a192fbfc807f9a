package library

import (
	"github.com/AntonStoeckl/entity-store-go/entitystore"
)

// Address is the postal address of a reader.
type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	ZipCode string `json:"zip_code"`
}

// Attributes implements entitystore.EntityValue.
func (a Address) Attributes() (map[string]any, error) {
	return entitystore.AttributesOf(a)
}
