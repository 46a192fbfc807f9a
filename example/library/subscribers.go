package library

import (
	"context"
	"fmt"
	"sync"

	"github.com/AntonStoeckl/entity-store-go/entitystore"
)

const (
	// LendingStatisticsSubscriberName is the name the lending statistics subscriber is registered under.
	LendingStatisticsSubscriberName = "lending_statistics"

	// ActivityLogSubscriberName is the name the activity log subscriber is registered under.
	ActivityLogSubscriberName = "activity_log"
)

// LendingStatistics is the read model maintained by the lending statistics subscriber.
type LendingStatistics struct {
	mu            sync.Mutex
	lentPerReader map[string]int
	currentlyLent int
}

// NewLendingStatistics creates an empty read model.
func NewLendingStatistics() *LendingStatistics {
	return &LendingStatistics{lentPerReader: make(map[string]int)}
}

// LentTo returns how often books were lent to the reader.
func (s *LendingStatistics) LentTo(readerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lentPerReader[readerID]
}

// CurrentlyLent returns the number of book copies that are lent right now.
func (s *LendingStatistics) CurrentlyLent() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.currentlyLent
}

type lendingStatisticsSubscriber struct {
	stats *LendingStatistics
}

// LendingStatisticsSubscriber returns the factory of a subscriber that projects lendings into stats.
func LendingStatisticsSubscriber(stats *LendingStatistics) entitystore.SubscriberFactory {
	return func() entitystore.Subscriber {
		return &lendingStatisticsSubscriber{stats: stats}
	}
}

func (s *lendingStatisticsSubscriber) Handlers() entitystore.Handlers {
	return entitystore.Handlers{
		entitystore.ReceiverName(BookCopyLentToReaderEventType):     s.bookCopyLentToReader,
		entitystore.ReceiverName(BookCopyReturnedByReaderEventType): s.bookCopyReturnedByReader,
	}
}

func (s *lendingStatisticsSubscriber) bookCopyLentToReader(_ context.Context, event entitystore.Event) error {
	lent, ok := event.(*BookCopyLentToReader)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}

	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()

	s.stats.lentPerReader[lent.ReaderID]++
	s.stats.currentlyLent++

	return nil
}

func (s *lendingStatisticsSubscriber) bookCopyReturnedByReader(_ context.Context, _ entitystore.Event) error {
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()

	s.stats.currentlyLent--

	return nil
}

// ActivityLog collects one line per published event.
type ActivityLog struct {
	mu    sync.Mutex
	lines []string
}

// Lines returns a copy of the collected lines.
func (l *ActivityLog) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]string(nil), l.lines...)
}

type activityLogSubscriber struct {
	log *ActivityLog
}

// ActivityLogSubscriber returns the factory of a subscriber that receives all events.
func ActivityLogSubscriber(log *ActivityLog) entitystore.SubscriberFactory {
	return func() entitystore.Subscriber {
		return &activityLogSubscriber{log: log}
	}
}

func (s *activityLogSubscriber) Handlers() entitystore.Handlers {
	return entitystore.Handlers{
		entitystore.AllEventsReceiver: s.allEvents,
	}
}

func (s *activityLogSubscriber) allEvents(_ context.Context, event entitystore.Event) error {
	s.log.mu.Lock()
	defer s.log.mu.Unlock()

	s.log.lines = append(s.log.lines,
		fmt.Sprintf("%s %s v%d", event.EventType(), event.GetEntityID(), event.GetEntityVersion()))

	return nil
}
