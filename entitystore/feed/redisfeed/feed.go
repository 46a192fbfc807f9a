// Package redisfeed provides an entitystore.FeedStore on a Redis stream.
//
// Every published event becomes one stream entry carrying the entity type, the event
// type and the event attributes as JSON. Stream entry ids are the feed item ids.
package redisfeed

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"github.com/AntonStoeckl/entity-store-go/entitystore"
)

const (
	defaultStreamKey = "entitystore:feed"
	fieldEntityType  = "entity_type"
	fieldEventType   = "event_type"
	fieldData        = "data"
	streamStart      = "-"
	streamEnd        = "+"
)

var (
	// ErrNilClient is returned when the feed is constructed without a Redis client.
	ErrNilClient = errors.New("redis client must not be nil")

	// ErrEmptyStreamKey is returned for an empty stream key option.
	ErrEmptyStreamKey = errors.New("stream key must not be empty")

	// ErrInvalidItemID is returned for a since id that is not a stream entry id.
	ErrInvalidItemID = errors.New("feed item id is not a stream entry id")

	// ErrFeedUnavailable wraps Redis failures.
	ErrFeedUnavailable = errors.New("redis feed unavailable")
)

var feedJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Feed appends feed items to a Redis stream and reads them back in stream order.
type Feed struct {
	client    redis.Cmdable
	streamKey string
	maxLen    int64
}

// Option defines a functional option for configuring Feed.
type Option func(*Feed) error

// WithStreamKey sets the key of the stream.
func WithStreamKey(key string) Option {
	return func(f *Feed) error {
		if key == "" {
			return ErrEmptyStreamKey
		}

		f.streamKey = key

		return nil
	}
}

// WithMaxLen caps the stream at roughly maxLen entries, older entries are trimmed on append.
// 0 keeps every entry.
func WithMaxLen(maxLen int64) Option {
	return func(f *Feed) error {
		f.maxLen = maxLen
		return nil
	}
}

// NewFeed creates a Feed on the given client with optional configuration.
func NewFeed(client redis.Cmdable, options ...Option) (*Feed, error) {
	if client == nil {
		return nil, ErrNilClient
	}

	f := &Feed{client: client, streamKey: defaultStreamKey}

	for _, option := range options {
		if err := option(f); err != nil {
			return nil, err
		}
	}

	return f, nil
}

// AddEvent implements entitystore.FeedStore.
func (f *Feed) AddEvent(ctx context.Context, entityType string, event entitystore.Event) error {
	attrs, err := entitystore.EventAttributes(event)
	if err != nil {
		return err
	}

	data, err := feedJSON.Marshal(attrs)
	if err != nil {
		return errors.Join(entitystore.ErrInvalidArgument, err)
	}

	args := &redis.XAddArgs{
		Stream: f.streamKey,
		Values: map[string]any{
			fieldEntityType: entityType,
			fieldEventType:  event.EventType(),
			fieldData:       string(data),
		},
	}

	if f.maxLen > 0 {
		args.MaxLen = f.maxLen
		args.Approx = true
	}

	if err = f.client.XAdd(ctx, args).Err(); err != nil {
		return errors.Join(ErrFeedUnavailable, err)
	}

	return nil
}

// GetEvents implements entitystore.FeedStore.
// A time reference starts after the millisecond of that time, stream ids have millisecond resolution.
func (f *Feed) GetEvents(ctx context.Context, since entitystore.Since, eventType string, maxItems int) ([]entitystore.FeedItem, error) {
	start, err := startOf(since)
	if err != nil {
		return nil, err
	}

	items := make([]entitystore.FeedItem, 0, maxItems)
	for len(items) < maxItems {
		messages, err := f.client.XRangeN(ctx, f.streamKey, start, streamEnd, int64(maxItems)).Result()
		if err != nil {
			return nil, errors.Join(ErrFeedUnavailable, err)
		}

		for _, message := range messages {
			item, err := toFeedItem(message)
			if err != nil {
				return nil, err
			}

			if eventType == "" || item.EventType == eventType {
				items = append(items, item)
			}

			if len(items) == maxItems {
				return items, nil
			}
		}

		if len(messages) < maxItems {
			break
		}

		if start, err = nextID(messages[len(messages)-1].ID); err != nil {
			return nil, err
		}
	}

	return items, nil
}

func startOf(since entitystore.Since) (string, error) {
	if since.IsID() {
		return nextID(since.ID)
	}

	if since.Time.IsZero() {
		return streamStart, nil
	}

	return fmt.Sprintf("%d-0", since.Time.UnixMilli()+1), nil
}

// nextID returns the smallest stream id greater than id.
func nextID(id string) (string, error) {
	millis, sequence, ok := strings.Cut(id, "-")
	if !ok {
		return "", errors.Join(ErrInvalidItemID, fmt.Errorf("%q", id))
	}

	seq, err := strconv.ParseUint(sequence, 10, 64)
	if err != nil {
		return "", errors.Join(ErrInvalidItemID, fmt.Errorf("%q", id))
	}

	if _, err = strconv.ParseUint(millis, 10, 64); err != nil {
		return "", errors.Join(ErrInvalidItemID, fmt.Errorf("%q", id))
	}

	return fmt.Sprintf("%s-%d", millis, seq+1), nil
}

func toFeedItem(message redis.XMessage) (entitystore.FeedItem, error) {
	item := entitystore.FeedItem{
		ID:         message.ID,
		EntityType: stringValue(message.Values[fieldEntityType]),
		EventType:  stringValue(message.Values[fieldEventType]),
		Attributes: make(map[string]any),
	}

	if data := stringValue(message.Values[fieldData]); data != "" {
		if err := feedJSON.UnmarshalFromString(data, &item.Attributes); err != nil {
			return entitystore.FeedItem{}, errors.Join(entitystore.ErrInvalidArgument, fmt.Errorf("feed item %s: %w", message.ID, err))
		}
	}

	return item, nil
}

func stringValue(value any) string {
	if s, ok := value.(string); ok {
		return s
	}

	return ""
}
