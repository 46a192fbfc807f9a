package library

import (
	"github.com/AntonStoeckl/entity-store-go/entitystore"
)

// Register adds the entities and events of the library domain to the registry.
func Register(registry *entitystore.Registry) *entitystore.Registry {
	return registry.
		RegisterEntity(func() entitystore.Entity { return NewBookCopy() }).
		RegisterEntity(func() entitystore.Entity { return NewReader() }).
		RegisterEvent(func() entitystore.Event { return &BookCopyAddedToCirculation{} }).
		RegisterEvent(func() entitystore.Event { return &BookCopyLentToReader{} }).
		RegisterEvent(func() entitystore.Event { return &BookCopyReturnedByReader{} }).
		RegisterEvent(func() entitystore.Event { return &BookCopyRemovedFromCirculation{} }).
		RegisterEvent(func() entitystore.Event { return &ReaderRegistered{} }).
		RegisterEvent(func() entitystore.Event { return &ReaderMoved{} }).
		RegisterEvent(func() entitystore.Event { return &ReaderBorrowedBookCopy{} }).
		RegisterEvent(func() entitystore.Event { return &ReaderReturnedBookCopy{} }).
		RegisterEvent(func() entitystore.Event { return &ReaderContractCanceled{} })
}

// RegisterSubscribers registers the subscribers of the library domain by name.
func RegisterSubscribers(registry *entitystore.Registry, stats *LendingStatistics, log *ActivityLog) *entitystore.Registry {
	return registry.
		RegisterSubscriber(LendingStatisticsSubscriberName, LendingStatisticsSubscriber(stats)).
		RegisterSubscriber(ActivityLogSubscriberName, ActivityLogSubscriber(log))
}
