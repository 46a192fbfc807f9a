// Package kafkafeed provides an entitystore.FeedStore on a single-partition Kafka topic.
//
// Feed item ids are the zero padded partition offsets, so they compare in feed order.
// The topic must have exactly one partition, otherwise the feed order is not total.
package kafkafeed

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/segmentio/kafka-go"

	"github.com/AntonStoeckl/entity-store-go/entitystore"
)

const (
	headerEventType     = "event_type"
	defaultBatchTimeout = 10 * time.Millisecond
	defaultReadTimeout  = 10 * time.Second
	offsetIDFormat      = "%020d"
)

var (
	// ErrNoBrokers is returned when the feed is constructed without broker addresses.
	ErrNoBrokers = errors.New("at least one kafka broker is required")

	// ErrEmptyTopic is returned when the feed is constructed without a topic.
	ErrEmptyTopic = errors.New("kafka topic must not be empty")

	// ErrInvalidItemID is returned for a since id that is not an offset.
	ErrInvalidItemID = errors.New("feed item id is not a partition offset")

	// ErrFeedUnavailable wraps Kafka failures.
	ErrFeedUnavailable = errors.New("kafka feed unavailable")
)

var feedJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// record is the message value written for each published event.
type record struct {
	EntityType string         `json:"entity_type"`
	EventType  string         `json:"event_type"`
	Attributes map[string]any `json:"attributes"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, messages ...kafka.Message) error
	Close() error
}

// messageSource reads the partition the feed is stored in.
type messageSource interface {
	// OffsetAt returns the first offset of a message written at or after t.
	OffsetAt(ctx context.Context, t time.Time) (int64, error)

	// ReadFrom returns up to maxMessages messages starting at offset, fewer at the end of the partition.
	ReadFrom(ctx context.Context, offset int64, maxMessages int) ([]kafka.Message, error)
}

// Feed writes feed items to a Kafka topic and reads them back by offset.
type Feed struct {
	writer messageWriter
	source messageSource
	now    func() time.Time
}

// Config holds the connection settings of a Feed.
type Config struct {
	Brokers     []string
	Topic       string
	ReadTimeout time.Duration
}

// NewFeed creates a Feed for the topic on the given brokers.
func NewFeed(config Config) (*Feed, error) {
	if len(config.Brokers) == 0 {
		return nil, ErrNoBrokers
	}

	if config.Topic == "" {
		return nil, ErrEmptyTopic
	}

	readTimeout := config.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Topic:                  config.Topic,
		Balancer:               &kafka.LeastBytes{},
		BatchTimeout:           defaultBatchTimeout,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}

	source := &brokerSource{
		dialer:      &kafka.Dialer{Timeout: readTimeout},
		broker:      config.Brokers[0],
		topic:       config.Topic,
		readTimeout: readTimeout,
	}

	return newFeed(writer, source), nil
}

func newFeed(writer messageWriter, source messageSource) *Feed {
	return &Feed{writer: writer, source: source, now: time.Now}
}

// Close flushes and closes the writer.
func (f *Feed) Close() error {
	return f.writer.Close()
}

// AddEvent implements entitystore.FeedStore. The message key is the entity id.
func (f *Feed) AddEvent(ctx context.Context, entityType string, event entitystore.Event) error {
	attrs, err := entitystore.EventAttributes(event)
	if err != nil {
		return err
	}

	value, err := feedJSON.Marshal(record{EntityType: entityType, EventType: event.EventType(), Attributes: attrs})
	if err != nil {
		return errors.Join(entitystore.ErrInvalidArgument, err)
	}

	message := kafka.Message{
		Key:     []byte(event.GetEntityID()),
		Value:   value,
		Headers: []kafka.Header{{Key: headerEventType, Value: []byte(event.EventType())}},
		Time:    f.now(),
	}

	if err = f.writer.WriteMessages(ctx, message); err != nil {
		return errors.Join(ErrFeedUnavailable, err)
	}

	return nil
}

// GetEvents implements entitystore.FeedStore.
func (f *Feed) GetEvents(ctx context.Context, since entitystore.Since, eventType string, maxItems int) ([]entitystore.FeedItem, error) {
	offset, err := f.startOffset(ctx, since)
	if err != nil {
		return nil, err
	}

	items := make([]entitystore.FeedItem, 0, maxItems)
	for len(items) < maxItems {
		messages, err := f.source.ReadFrom(ctx, offset, maxItems)
		if err != nil {
			return nil, errors.Join(ErrFeedUnavailable, err)
		}

		for _, message := range messages {
			if !since.IsID() && !message.Time.After(since.Time) {
				continue
			}

			if eventType != "" && eventTypeOf(message) != eventType {
				continue
			}

			item, err := toFeedItem(message)
			if err != nil {
				return nil, err
			}

			items = append(items, item)
			if len(items) == maxItems {
				return items, nil
			}
		}

		if len(messages) < maxItems {
			break
		}

		offset = messages[len(messages)-1].Offset + 1
	}

	return items, nil
}

func (f *Feed) startOffset(ctx context.Context, since entitystore.Since) (int64, error) {
	if since.IsID() {
		offset, err := strconv.ParseInt(since.ID, 10, 64)
		if err != nil || offset < 0 {
			return 0, errors.Join(ErrInvalidItemID, fmt.Errorf("%q", since.ID))
		}

		return offset + 1, nil
	}

	if since.Time.IsZero() {
		return 0, nil
	}

	offset, err := f.source.OffsetAt(ctx, since.Time)
	if err != nil {
		return 0, errors.Join(ErrFeedUnavailable, err)
	}

	return offset, nil
}

func eventTypeOf(message kafka.Message) string {
	for _, header := range message.Headers {
		if header.Key == headerEventType {
			return string(header.Value)
		}
	}

	return ""
}

func toFeedItem(message kafka.Message) (entitystore.FeedItem, error) {
	var decoded record
	if err := feedJSON.Unmarshal(message.Value, &decoded); err != nil {
		return entitystore.FeedItem{}, errors.Join(
			entitystore.ErrInvalidArgument,
			fmt.Errorf("feed item at offset %d: %w", message.Offset, err),
		)
	}

	if decoded.Attributes == nil {
		decoded.Attributes = make(map[string]any)
	}

	return entitystore.FeedItem{
		ID:         fmt.Sprintf(offsetIDFormat, message.Offset),
		EntityType: decoded.EntityType,
		EventType:  decoded.EventType,
		Attributes: decoded.Attributes,
	}, nil
}
