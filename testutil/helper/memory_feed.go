package helper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AntonStoeckl/entity-store-go/entitystore"
)

type memoryFeedItem struct {
	item    entitystore.FeedItem
	addedAt time.Time
}

// MemoryFeed is an in-memory entitystore.FeedStore.
// Item ids are zero padded sequence numbers, so they sort in feed order.
type MemoryFeed struct {
	mu       sync.Mutex
	items    []memoryFeedItem
	now      func() time.Time
	addErr   error
	getCalls int
}

// NewMemoryFeed creates an empty MemoryFeed.
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{now: time.Now}
}

// WithClock replaces the clock that timestamps added items.
func (f *MemoryFeed) WithClock(now func() time.Time) *MemoryFeed {
	f.now = now
	return f
}

// FailAdd makes AddEvent fail with err, nil removes the failure.
func (f *MemoryFeed) FailAdd(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.addErr = err
}

// Items returns a copy of all stored items.
func (f *MemoryFeed) Items() []entitystore.FeedItem {
	f.mu.Lock()
	defer f.mu.Unlock()

	items := make([]entitystore.FeedItem, 0, len(f.items))
	for _, stored := range f.items {
		items = append(items, stored.item)
	}

	return items
}

// GetCallCount returns how often GetEvents was called.
func (f *MemoryFeed) GetCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.getCalls
}

// AddEvent implements entitystore.FeedStore.
func (f *MemoryFeed) AddEvent(_ context.Context, entityType string, event entitystore.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.addErr != nil {
		return f.addErr
	}

	attrs, err := entitystore.EventAttributes(event)
	if err != nil {
		return err
	}

	f.items = append(f.items, memoryFeedItem{
		item: entitystore.FeedItem{
			ID:         fmt.Sprintf("%020d", len(f.items)+1),
			EntityType: entityType,
			EventType:  event.EventType(),
			Attributes: attrs,
		},
		addedAt: f.now(),
	})

	return nil
}

// GetEvents implements entitystore.FeedStore.
func (f *MemoryFeed) GetEvents(_ context.Context, since entitystore.Since, eventType string, maxItems int) ([]entitystore.FeedItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.getCalls++

	items := make([]entitystore.FeedItem, 0, maxItems)
	for _, stored := range f.items {
		if len(items) == maxItems {
			break
		}

		if since.IsID() && stored.item.ID <= since.ID {
			continue
		}

		if !since.IsID() && !stored.addedAt.After(since.Time) {
			continue
		}

		if eventType != "" && stored.item.EventType != eventType {
			continue
		}

		items = append(items, stored.item)
	}

	return items, nil
}
