package library

import (
	"slices"

	"github.com/AntonStoeckl/entity-store-go/entitystore"
)

const (
	// ReaderRegisteredEventType is the event type identifier.
	ReaderRegisteredEventType = "ReaderRegistered"

	// ReaderMovedEventType is the event type identifier.
	ReaderMovedEventType = "ReaderMoved"

	// ReaderBorrowedBookCopyEventType is the event type identifier.
	ReaderBorrowedBookCopyEventType = "ReaderBorrowedBookCopy"

	// ReaderReturnedBookCopyEventType is the event type identifier.
	ReaderReturnedBookCopyEventType = "ReaderReturnedBookCopy"

	// ReaderContractCanceledEventType is the event type identifier.
	ReaderContractCanceledEventType = "ReaderContractCanceled"
)

// ReaderRegistered represents when a reader signs a contract with the library.
type ReaderRegistered struct {
	entitystore.BaseEvent
	Name         string                `json:"name"`
	Address      Address               `json:"address"`
	RegisteredAt entitystore.Timestamp `json:"registered_at"`
}

// EventType returns the event type identifier.
func (e *ReaderRegistered) EventType() string {
	return ReaderRegisteredEventType
}

// Apply sets name and address of the reader.
func (e *ReaderRegistered) Apply(entity entitystore.Entity) error {
	reader, ok := entity.(*Reader)
	if !ok {
		return wrongEntity(e, entity)
	}

	reader.Name = e.Name
	reader.Address = e.Address
	reader.RegisteredAt = e.RegisteredAt

	return nil
}

// ReaderMoved represents when a reader reports a new address.
type ReaderMoved struct {
	entitystore.BaseEvent
	Address Address `json:"address"`
}

// EventType returns the event type identifier.
func (e *ReaderMoved) EventType() string {
	return ReaderMovedEventType
}

// Apply replaces the address of the reader.
func (e *ReaderMoved) Apply(entity entitystore.Entity) error {
	reader, ok := entity.(*Reader)
	if !ok {
		return wrongEntity(e, entity)
	}

	reader.Address = e.Address

	return nil
}

// ReaderBorrowedBookCopy represents the reader side of a lending.
type ReaderBorrowedBookCopy struct {
	entitystore.BaseEvent
	BookCopyID string `json:"book_copy_id"`
}

// EventType returns the event type identifier.
func (e *ReaderBorrowedBookCopy) EventType() string {
	return ReaderBorrowedBookCopyEventType
}

// Apply adds the book copy to the borrowed ones.
func (e *ReaderBorrowedBookCopy) Apply(entity entitystore.Entity) error {
	reader, ok := entity.(*Reader)
	if !ok {
		return wrongEntity(e, entity)
	}

	reader.BorrowedBookCopies = append(reader.BorrowedBookCopies, e.BookCopyID)

	return nil
}

// ReaderReturnedBookCopy represents the reader side of a return.
type ReaderReturnedBookCopy struct {
	entitystore.BaseEvent
	BookCopyID string                `json:"book_copy_id"`
	ReturnedAt entitystore.Timestamp `json:"returned_at"`
}

// EventType returns the event type identifier.
func (e *ReaderReturnedBookCopy) EventType() string {
	return ReaderReturnedBookCopyEventType
}

// Apply removes the book copy from the borrowed ones.
func (e *ReaderReturnedBookCopy) Apply(entity entitystore.Entity) error {
	reader, ok := entity.(*Reader)
	if !ok {
		return wrongEntity(e, entity)
	}

	reader.BorrowedBookCopies = slices.DeleteFunc(reader.BorrowedBookCopies, func(id string) bool {
		return id == e.BookCopyID
	})

	return nil
}

// ReaderContractCanceled represents when a reader cancels the contract with the library.
type ReaderContractCanceled struct {
	entitystore.BaseEvent
}

// EventType returns the event type identifier.
func (e *ReaderContractCanceled) EventType() string {
	return ReaderContractCanceledEventType
}

// Apply marks the contract as canceled.
func (e *ReaderContractCanceled) Apply(entity entitystore.Entity) error {
	reader, ok := entity.(*Reader)
	if !ok {
		return wrongEntity(e, entity)
	}

	reader.ContractCanceled = true

	return nil
}
