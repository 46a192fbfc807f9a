package library

import (
	"context"
	"time"

	"github.com/AntonStoeckl/entity-store-go/entitystore"
)

// BookCopyEntityType is the entity type identifier.
const BookCopyEntityType = "BookCopy"

// BookCopySnapshotKey versions the snapshot shape of BookCopy. Bump it when fields change meaning.
const BookCopySnapshotKey = 1

// BookCopy is one physical copy of a book.
type BookCopy struct {
	entitystore.BaseEntity
	Title         string                       `json:"title"`
	ISBN          string                       `json:"isbn"`
	InCirculation bool                         `json:"in_circulation"`
	Lendings      int                          `json:"lendings"`
	AddedAt       entitystore.Timestamp        `json:"added_at"`
	LentTo        entitystore.Related[*Reader] `json:"lent_to"`
	LastReader    entitystore.Related[*Reader] `json:"last_reader"`
}

// NewBookCopy creates an empty, unpersisted BookCopy.
func NewBookCopy() *BookCopy {
	return &BookCopy{}
}

// EntityType returns the entity type identifier.
func (b *BookCopy) EntityType() string {
	return BookCopyEntityType
}

// SnapshotKey implements entitystore.HasSnapshotKey.
func (b *BookCopy) SnapshotKey() int {
	return BookCopySnapshotKey
}

// RelatedEntities implements entitystore.HasRelatedEntities.
func (b *BookCopy) RelatedEntities() []entitystore.RelatedRef {
	return []entitystore.RelatedRef{&b.LentTo, &b.LastReader}
}

// IsLent reports whether the book copy is currently lent.
func (b *BookCopy) IsLent() bool {
	return b.LentTo.ID() != ""
}

// AddToCirculation puts a new book copy into circulation.
func (b *BookCopy) AddToCirculation(title, isbn string, at time.Time) error {
	if b.InCirculation {
		return ErrBookCopyAlreadyInCirculation
	}

	return entitystore.RecordEvent(b, BuildBookCopyAddedToCirculation(title, isbn, at))
}

// LendTo lends the book copy to the reader. Both entities get an event, saving the book copy saves both.
func (b *BookCopy) LendTo(reader *Reader, at time.Time) error {
	switch {
	case !b.InCirculation:
		return ErrBookCopyNotInCirculation
	case b.IsLent():
		return ErrBookCopyAlreadyLent
	case reader.ContractCanceled:
		return ErrReaderContractCanceled
	}

	if err := entitystore.RecordEvent(b, BuildBookCopyLentToReader(reader.GetID(), at)); err != nil {
		return err
	}

	if err := entitystore.RecordEvent(reader, &ReaderBorrowedBookCopy{BookCopyID: b.GetID()}); err != nil {
		return err
	}

	b.LentTo.Set(reader)

	return nil
}

// ReturnBy takes the book copy back from the reader it is lent to, loading the reader if needed.
func (b *BookCopy) ReturnBy(ctx context.Context, at time.Time) error {
	if !b.IsLent() {
		return ErrBookCopyNotLent
	}

	reader, err := b.LentTo.Get(ctx)
	if err != nil {
		return err
	}

	readerID := b.LentTo.ID()

	if err := entitystore.RecordEvent(b, BuildBookCopyReturnedByReader(readerID, at)); err != nil {
		return err
	}

	if reader == nil {
		return nil
	}

	returned := &ReaderReturnedBookCopy{BookCopyID: b.GetID(), ReturnedAt: entitystore.NewTimestamp(at)}
	if err := entitystore.RecordEvent(reader, returned); err != nil {
		return err
	}

	b.LastReader.Set(reader)

	return nil
}

// RemoveFromCirculation takes a book copy that is not lent out of circulation.
func (b *BookCopy) RemoveFromCirculation(at time.Time) error {
	switch {
	case !b.InCirculation:
		return ErrBookCopyNotInCirculation
	case b.IsLent():
		return ErrBookCopyAlreadyLent
	}

	return entitystore.RecordEvent(b, BuildBookCopyRemovedFromCirculation(at))
}
