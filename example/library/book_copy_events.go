package library

import (
	"time"

	"github.com/AntonStoeckl/entity-store-go/entitystore"
)

const (
	// BookCopyAddedToCirculationEventType is the event type identifier.
	BookCopyAddedToCirculationEventType = "BookCopyAddedToCirculation"

	// BookCopyLentToReaderEventType is the event type identifier.
	BookCopyLentToReaderEventType = "BookCopyLentToReader"

	// BookCopyReturnedByReaderEventType is the event type identifier.
	BookCopyReturnedByReaderEventType = "BookCopyReturnedByReader"

	// BookCopyRemovedFromCirculationEventType is the event type identifier.
	BookCopyRemovedFromCirculationEventType = "BookCopyRemovedFromCirculation"
)

// BookCopyAddedToCirculation represents when a book copy is added to circulation.
type BookCopyAddedToCirculation struct {
	entitystore.BaseEvent
	Title   string                `json:"title"`
	ISBN    string                `json:"isbn"`
	AddedAt entitystore.Timestamp `json:"added_at"`
}

// BuildBookCopyAddedToCirculation creates a new BookCopyAddedToCirculation event.
func BuildBookCopyAddedToCirculation(title, isbn string, addedAt time.Time) *BookCopyAddedToCirculation {
	return &BookCopyAddedToCirculation{
		Title:   title,
		ISBN:    isbn,
		AddedAt: entitystore.NewTimestamp(addedAt),
	}
}

// EventType returns the event type identifier.
func (e *BookCopyAddedToCirculation) EventType() string {
	return BookCopyAddedToCirculationEventType
}

// Apply puts the book copy into circulation.
func (e *BookCopyAddedToCirculation) Apply(entity entitystore.Entity) error {
	bookCopy, ok := entity.(*BookCopy)
	if !ok {
		return wrongEntity(e, entity)
	}

	bookCopy.Title = e.Title
	bookCopy.ISBN = e.ISBN
	bookCopy.InCirculation = true
	bookCopy.AddedAt = e.AddedAt

	return nil
}

// BookCopyLentToReader represents when a book copy is lent to a reader.
type BookCopyLentToReader struct {
	entitystore.BaseEvent
	ReaderID string                `json:"reader_id"`
	LentAt   entitystore.Timestamp `json:"lent_at"`
}

// BuildBookCopyLentToReader creates a new BookCopyLentToReader event.
func BuildBookCopyLentToReader(readerID string, lentAt time.Time) *BookCopyLentToReader {
	return &BookCopyLentToReader{
		ReaderID: readerID,
		LentAt:   entitystore.NewTimestamp(lentAt),
	}
}

// EventType returns the event type identifier.
func (e *BookCopyLentToReader) EventType() string {
	return BookCopyLentToReaderEventType
}

// Apply marks the book copy as lent.
func (e *BookCopyLentToReader) Apply(entity entitystore.Entity) error {
	bookCopy, ok := entity.(*BookCopy)
	if !ok {
		return wrongEntity(e, entity)
	}

	bookCopy.LentTo.SetID(e.ReaderID)
	bookCopy.Lendings++

	return nil
}

// BookCopyReturnedByReader represents when a book copy is returned by a reader.
type BookCopyReturnedByReader struct {
	entitystore.BaseEvent
	ReaderID   string                `json:"reader_id"`
	ReturnedAt entitystore.Timestamp `json:"returned_at"`
}

// BuildBookCopyReturnedByReader creates a new BookCopyReturnedByReader event.
func BuildBookCopyReturnedByReader(readerID string, returnedAt time.Time) *BookCopyReturnedByReader {
	return &BookCopyReturnedByReader{
		ReaderID:   readerID,
		ReturnedAt: entitystore.NewTimestamp(returnedAt),
	}
}

// EventType returns the event type identifier.
func (e *BookCopyReturnedByReader) EventType() string {
	return BookCopyReturnedByReaderEventType
}

// Apply marks the book copy as available.
func (e *BookCopyReturnedByReader) Apply(entity entitystore.Entity) error {
	bookCopy, ok := entity.(*BookCopy)
	if !ok {
		return wrongEntity(e, entity)
	}

	bookCopy.LentTo.SetID("")
	bookCopy.LastReader.SetID(e.ReaderID)

	return nil
}

// BookCopyRemovedFromCirculation represents when a book copy is removed from circulation.
type BookCopyRemovedFromCirculation struct {
	entitystore.BaseEvent
	RemovedAt entitystore.Timestamp `json:"removed_at"`
}

// BuildBookCopyRemovedFromCirculation creates a new BookCopyRemovedFromCirculation event.
func BuildBookCopyRemovedFromCirculation(removedAt time.Time) *BookCopyRemovedFromCirculation {
	return &BookCopyRemovedFromCirculation{RemovedAt: entitystore.NewTimestamp(removedAt)}
}

// EventType returns the event type identifier.
func (e *BookCopyRemovedFromCirculation) EventType() string {
	return BookCopyRemovedFromCirculationEventType
}

// Apply takes the book copy out of circulation.
func (e *BookCopyRemovedFromCirculation) Apply(entity entitystore.Entity) error {
	bookCopy, ok := entity.(*BookCopy)
	if !ok {
		return wrongEntity(e, entity)
	}

	bookCopy.InCirculation = false

	return nil
}
