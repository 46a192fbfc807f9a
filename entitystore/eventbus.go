package entitystore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	logMsgPublishing             = "publishing event"
	logMsgFeedAddFailed          = "failed to add event to feed store"
	logMsgSubscriberUnresolvable = "failed to resolve subscriber"
	logMsgSubscriberFailed       = "subscriber failed to handle event"
	logMsgSubscriberCalled       = "subscriber handled event"
	logMsgReplayItemSkipped      = "skipped feed item during replay"
	logMsgReplayFinished         = "replay finished"
)

// HandlerFunc reacts to one published event.
type HandlerFunc func(ctx context.Context, event Event) error

// Handlers maps receiver names, as produced by ReceiverName, to handlers.
// The AllEventsReceiver key receives every event.
type Handlers map[string]HandlerFunc

// Subscriber exposes the handlers of one subscriber type.
// The handler set must not depend on the state of the instance, it is probed once per type.
type Subscriber interface {
	Handlers() Handlers
}

// SubscriberFactory creates a fresh subscriber instance.
type SubscriberFactory func() Subscriber

// SubscriberRef identifies a subscriber either by factory or by a name registered in the Registry.
type SubscriberRef struct {
	name    string
	factory SubscriberFactory
}

// SubscriberFunc refers to a subscriber by its factory.
func SubscriberFunc(name string, factory SubscriberFactory) SubscriberRef {
	return SubscriberRef{name: name, factory: factory}
}

// SubscriberNamed refers to a subscriber registered with Registry.RegisterSubscriber.
// The name is resolved on first dispatch.
func SubscriberNamed(name string) SubscriberRef {
	return SubscriberRef{name: name}
}

// Name returns the subscriber name used in logs.
func (r SubscriberRef) Name() string {
	return r.name
}

// subscription is one subscriber entry of the bus with its memoized receiver names.
type subscription struct {
	ref       SubscriberRef
	receivers map[string]struct{}
}

func subscriptionsOf(refs []SubscriberRef) []*subscription {
	subscriptions := make([]*subscription, 0, len(refs))
	for _, ref := range refs {
		subscriptions = append(subscriptions, &subscription{ref: ref})
	}

	return subscriptions
}

// EventBus dispatches published events to subscribers and appends them to an optional feed store.
// Subscriber failures are logged and never reach the publisher.
type EventBus struct {
	observer

	registry    *Registry
	feed        FeedStore
	pageSize    int
	mu          sync.RWMutex
	subscribers []*subscription
}

// NewEventBus creates an EventBus with optional configuration.
func NewEventBus(registry *Registry, options ...BusOption) (*EventBus, error) {
	if registry == nil {
		return nil, ErrNilRegistry
	}

	b := &EventBus{
		registry: registry,
		pageSize: DefaultReplayPageSize,
	}

	for _, option := range options {
		if err := option(b); err != nil {
			return nil, err
		}
	}

	return b, nil
}

// Subscribe adds subscribers after construction.
func (b *EventBus) Subscribe(refs ...SubscriberRef) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscribers = append(b.subscribers, subscriptionsOf(refs)...)
}

// Publish appends the event to the feed store and dispatches it to every subscriber
// that has a handler for its receiver name or for AllEventsReceiver.
// Each dispatch works on a fresh subscriber instance.
func (b *EventBus) Publish(ctx context.Context, entityType string, event Event) {
	if b.feed != nil {
		if err := b.feed.AddEvent(ctx, entityType, event); err != nil {
			b.logError(ctx, logMsgFeedAddFailed, err, b.eventAttrs(event)...)
		}
	}

	receiver := ReceiverName(event.EventType())

	b.logDebug(ctx, logMsgPublishing, append(b.eventAttrs(event), logAttrReceiver, receiver)...)
	b.incrementCounter(ctx, metricEventsPublished, map[string]string{labelEventType: event.EventType()})

	b.mu.RLock()
	subscribers := append([]*subscription(nil), b.subscribers...)
	b.mu.RUnlock()

	for _, sub := range subscribers {
		ref := sub.ref

		receivers, err := b.receiversOf(sub)
		if err != nil {
			b.logError(ctx, logMsgSubscriberUnresolvable, err, logAttrSubscriber, ref.name)
			continue
		}

		_, specific := receivers[receiver]
		_, all := receivers[AllEventsReceiver]
		all = all && receiver != AllEventsReceiver

		if !specific && !all {
			continue
		}

		factory, err := b.factoryOf(ref)
		if err != nil {
			b.logError(ctx, logMsgSubscriberUnresolvable, err, logAttrSubscriber, ref.name)
			continue
		}

		handlers := factory().Handlers()

		if specific {
			b.call(ctx, ref.name, receiver, handlers[receiver], event)
		}

		if all {
			b.call(ctx, ref.name, AllEventsReceiver, handlers[AllEventsReceiver], event)
		}
	}
}

// Replay feeds the events stored in the feed store after since to the subscriber,
// optionally only those of one event type. Like Publish, an event reaches both the
// specific handler and the AllEventsReceiver handler. It returns the number of events
// whose handlers all succeeded. Items of unknown types and handler failures are logged and skipped.
func (b *EventBus) Replay(ctx context.Context, since Since, eventType string, subscriber Subscriber) (int, error) {
	if b.feed == nil {
		return 0, ErrFeedStoreNotConfigured
	}

	if subscriber == nil {
		return 0, errors.Join(ErrInvalidArgument, errors.New("subscriber must not be nil"))
	}

	start := time.Now()
	name := fmt.Sprintf("%T", subscriber)
	handlers := subscriber.Handlers()
	handled := 0

	for {
		items, err := b.feed.GetEvents(ctx, since, eventType, b.pageSize)
		if err != nil {
			return handled, err
		}

		for _, item := range items {
			event, err := b.rehydrate(item)
			if err != nil {
				b.logWarn(ctx, logMsgReplayItemSkipped, logAttrEventType, item.EventType, logAttrError, err.Error())
				continue
			}

			receiver := ReceiverName(item.EventType)

			specific, hasSpecific := handlers[receiver]
			all, hasAll := handlers[AllEventsReceiver]
			hasAll = hasAll && receiver != AllEventsReceiver

			if !hasSpecific && !hasAll {
				continue
			}

			ok := true
			if hasSpecific {
				ok = b.call(ctx, name, receiver, specific, event)
			}

			if hasAll {
				ok = b.call(ctx, name, AllEventsReceiver, all, event) && ok
			}

			if ok {
				handled++
			}
		}

		if len(items) < b.pageSize {
			break
		}

		since = SinceID(items[len(items)-1].ID)
	}

	b.recordValue(ctx, metricReplayedEvents, float64(handled), map[string]string{labelEventType: eventType})
	b.logInfo(ctx, logMsgReplayFinished,
		logAttrEventCount, handled, logAttrDurationMS, toMilliseconds(time.Since(start)))

	return handled, nil
}

// call runs one handler and recovers its panics. It reports whether the handler succeeded.
func (b *EventBus) call(ctx context.Context, subscriber, receiver string, handler HandlerFunc, event Event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			b.handlerFailed(ctx, subscriber, receiver, event, fmt.Errorf("panic: %v", r))
			ok = false
		}
	}()

	if handler == nil {
		return false
	}

	if err := handler(ctx, event); err != nil {
		b.handlerFailed(ctx, subscriber, receiver, event, err)
		return false
	}

	b.logDebug(ctx, logMsgSubscriberCalled,
		append(b.eventAttrs(event), logAttrSubscriber, subscriber, logAttrReceiver, receiver)...)

	return true
}

func (b *EventBus) handlerFailed(ctx context.Context, subscriber, receiver string, event Event, err error) {
	b.logError(ctx, logMsgSubscriberFailed, err,
		append(b.eventAttrs(event), logAttrSubscriber, subscriber, logAttrReceiver, receiver)...)
	b.incrementCounter(ctx, metricDispatchFailures, map[string]string{labelSubscriber: subscriber})
}

// receiversOf returns the memoized receiver names of the subscription.
func (b *EventBus) receiversOf(sub *subscription) (map[string]struct{}, error) {
	b.mu.RLock()
	receivers := sub.receivers
	b.mu.RUnlock()

	if receivers != nil {
		return receivers, nil
	}

	factory, err := b.factoryOf(sub.ref)
	if err != nil {
		return nil, err
	}

	handlers := factory().Handlers()
	receivers = make(map[string]struct{}, len(handlers))
	for name := range handlers {
		receivers[name] = struct{}{}
	}

	b.mu.Lock()
	sub.receivers = receivers
	b.mu.Unlock()

	return receivers, nil
}

func (b *EventBus) factoryOf(ref SubscriberRef) (SubscriberFactory, error) {
	if ref.factory != nil {
		return ref.factory, nil
	}

	return b.registry.Subscriber(ref.name)
}

// rehydrate builds the typed event from a feed item.
func (b *EventBus) rehydrate(item FeedItem) (Event, error) {
	event, err := b.registry.NewEvent(item.EventType)
	if err != nil {
		return nil, err
	}

	if err := FromAttributes(item.Attributes, event); err != nil {
		return nil, err
	}

	return event, nil
}

func (b *EventBus) eventAttrs(event Event) []any {
	return []any{
		logAttrEventType, event.EventType(),
		logAttrEntityID, event.GetEntityID(),
		logAttrVersion, event.GetEntityVersion(),
	}
}

// BusOption defines a functional option for configuring EventBus.
type BusOption func(*EventBus) error

// WithFeedStore sets the feed store every published event is appended to and Replay reads from.
func WithFeedStore(feed FeedStore) BusOption {
	return func(b *EventBus) error {
		b.feed = feed
		return nil
	}
}

// WithSubscribers sets the subscribers events are dispatched to.
func WithSubscribers(refs ...SubscriberRef) BusOption {
	return func(b *EventBus) error {
		b.subscribers = append(b.subscribers, subscriptionsOf(refs)...)
		return nil
	}
}

// WithBusLogger sets the logger for the EventBus.
func WithBusLogger(logger Logger) BusOption {
	return func(b *EventBus) error {
		b.logger = logger
		return nil
	}
}

// WithBusContextualLogger sets the contextual logger for the EventBus.
func WithBusContextualLogger(logger ContextualLogger) BusOption {
	return func(b *EventBus) error {
		b.contextualLogger = logger
		return nil
	}
}

// WithBusMetrics sets the metrics collector for the EventBus.
func WithBusMetrics(collector MetricsCollector) BusOption {
	return func(b *EventBus) error {
		b.metricsCollector = collector
		return nil
	}
}

// WithReplayPageSize sets the number of feed items Replay fetches per page.
func WithReplayPageSize(size int) BusOption {
	return func(b *EventBus) error {
		if size < 1 {
			return ErrInvalidPageSize
		}

		b.pageSize = size

		return nil
	}
}
