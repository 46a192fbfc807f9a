package library

import (
	"errors"
	"fmt"

	"github.com/AntonStoeckl/entity-store-go/entitystore"
)

var (
	// ErrBookCopyNotInCirculation is returned when a book copy that is not in circulation is lent or removed.
	ErrBookCopyNotInCirculation = errors.New("book copy is not in circulation")

	// ErrBookCopyAlreadyInCirculation is returned when a book copy is added twice.
	ErrBookCopyAlreadyInCirculation = errors.New("book copy is already in circulation")

	// ErrBookCopyAlreadyLent is returned when a lent book copy is lent or removed.
	ErrBookCopyAlreadyLent = errors.New("book copy is already lent")

	// ErrBookCopyNotLent is returned when a book copy that is not lent is returned.
	ErrBookCopyNotLent = errors.New("book copy is not lent")

	// ErrReaderContractCanceled is returned when a reader with a canceled contract borrows a book copy.
	ErrReaderContractCanceled = errors.New("reader contract is canceled")

	// ErrWrongEntity is returned when an event is applied to an entity of another type.
	ErrWrongEntity = errors.New("event applied to wrong entity type")
)

func wrongEntity(event entitystore.Event, entity entitystore.Entity) error {
	return errors.Join(ErrWrongEntity, fmt.Errorf("%s cannot be applied to %s", event.EventType(), entity.EntityType()))
}
