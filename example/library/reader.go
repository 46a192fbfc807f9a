package library

import (
	"time"

	"github.com/AntonStoeckl/entity-store-go/entitystore"
)

// ReaderEntityType is the entity type identifier.
const ReaderEntityType = "Reader"

// Reader is a person with a lending contract.
type Reader struct {
	entitystore.BaseEntity
	Name               string                `json:"name"`
	Address            Address               `json:"address"`
	RegisteredAt       entitystore.Timestamp `json:"registered_at"`
	BorrowedBookCopies []string              `json:"borrowed_book_copies"`
	ContractCanceled   bool                  `json:"contract_canceled"`
}

// NewReader creates an empty, unpersisted Reader.
func NewReader() *Reader {
	return &Reader{}
}

// EntityType returns the entity type identifier.
func (r *Reader) EntityType() string {
	return ReaderEntityType
}

// Register records the contract of a new reader.
func (r *Reader) Register(name string, address Address, at time.Time) error {
	return entitystore.RecordEvent(r, &ReaderRegistered{
		Name:         name,
		Address:      address,
		RegisteredAt: entitystore.NewTimestamp(at),
	})
}

// MoveTo records a new address. Moving to the current address records nothing.
func (r *Reader) MoveTo(address Address) error {
	if entitystore.ValuesEqual(r.Address, address) {
		return nil
	}

	return entitystore.RecordEvent(r, &ReaderMoved{Address: address})
}

// CancelContract ends the contract of the reader.
func (r *Reader) CancelContract() error {
	if r.ContractCanceled {
		return nil
	}

	return entitystore.RecordEvent(r, &ReaderContractCanceled{})
}
