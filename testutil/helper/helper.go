package helper

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// GivenUniqueID returns a fresh UUIDv7 string.
func GivenUniqueID(t testing.TB) string {
	id, err := uuid.NewV7()
	assert.NoError(t, err, "error in arranging test data")

	return id.String()
}
