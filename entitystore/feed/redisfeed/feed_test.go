package redisfeed_test

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/entity-store-go/entitystore"
	"github.com/AntonStoeckl/entity-store-go/entitystore/feed/redisfeed"
)

type priceChanged struct {
	entitystore.BaseEvent
	Cents int `json:"cents"`
}

func (e *priceChanged) EventType() string                 { return "PriceChanged" }
func (e *priceChanged) Apply(_ entitystore.Entity) error { return nil }

type stockChanged struct {
	entitystore.BaseEvent
	Units int `json:"units"`
}

func (e *stockChanged) EventType() string                 { return "StockChanged" }
func (e *stockChanged) Apply(_ entitystore.Entity) error { return nil }

func givenFeed(t *testing.T, options ...redisfeed.Option) (*redisfeed.Feed, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	feed, err := redisfeed.NewFeed(client, options...)
	require.NoError(t, err)

	return feed, mr
}

func givenPublished(t *testing.T, feed *redisfeed.Feed, events ...entitystore.Event) {
	t.Helper()

	for _, event := range events {
		require.NoError(t, feed.AddEvent(context.Background(), "Product", event))
	}
}

func Test_Feed_AddEvent_StoresAttributes(t *testing.T) {
	// setup
	ctx := context.Background()
	feed, mr := givenFeed(t, redisfeed.WithStreamKey("products:feed"))

	// arrange
	event := &priceChanged{Cents: 1299}
	event.SetEntityID("product-1")
	event.SetEntityVersion(4)

	// act
	require.NoError(t, feed.AddEvent(ctx, "Product", event))

	// assert
	assert.True(t, mr.Exists("products:feed"))

	items, err := feed.GetEvents(ctx, entitystore.SinceTime(time.Time{}), "", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Product", items[0].EntityType)
	assert.Equal(t, "PriceChanged", items[0].EventType)
	assert.EqualValues(t, 1299, items[0].Attr("cents"))
	assert.Equal(t, "product-1", items[0].Attr("entity_id"))
	assert.EqualValues(t, 4, items[0].Attr("entity_version"))
}

func Test_Feed_GetEvents_PagesAfterID(t *testing.T) {
	ctx := context.Background()
	feed, _ := givenFeed(t)
	givenPublished(t, feed, &priceChanged{Cents: 1}, &priceChanged{Cents: 2}, &priceChanged{Cents: 3})

	firstPage, err := feed.GetEvents(ctx, entitystore.SinceTime(time.Time{}), "", 2)
	require.NoError(t, err)
	require.Len(t, firstPage, 2)

	secondPage, err := feed.GetEvents(ctx, entitystore.SinceID(firstPage[1].ID), "", 2)
	require.NoError(t, err)
	require.Len(t, secondPage, 1)
	assert.EqualValues(t, 3, secondPage[0].Attr("cents"))

	lastPage, err := feed.GetEvents(ctx, entitystore.SinceID(secondPage[0].ID), "", 2)
	require.NoError(t, err)
	assert.Empty(t, lastPage)
}

func Test_Feed_GetEvents_FiltersByEventTypeAcrossBatches(t *testing.T) {
	ctx := context.Background()
	feed, _ := givenFeed(t)
	givenPublished(t, feed,
		&stockChanged{Units: 1},
		&stockChanged{Units: 2},
		&priceChanged{Cents: 10},
		&stockChanged{Units: 3},
		&stockChanged{Units: 4},
		&priceChanged{Cents: 20},
		&priceChanged{Cents: 30},
	)

	items, err := feed.GetEvents(ctx, entitystore.SinceTime(time.Time{}), "PriceChanged", 2)

	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.EqualValues(t, 10, items[0].Attr("cents"))
	assert.EqualValues(t, 20, items[1].Attr("cents"))
}

func Test_Feed_GetEvents_SinceFutureTimeIsEmpty(t *testing.T) {
	ctx := context.Background()
	feed, _ := givenFeed(t)
	givenPublished(t, feed, &priceChanged{Cents: 1})

	items, err := feed.GetEvents(ctx, entitystore.SinceTime(time.Now().Add(time.Hour)), "", 10)

	require.NoError(t, err)
	assert.Empty(t, items)
}

func Test_Feed_GetEvents_ShouldFail_WithInvalidID(t *testing.T) {
	feed, _ := givenFeed(t)

	_, err := feed.GetEvents(context.Background(), entitystore.SinceID("00000000000000000001"), "", 10)

	assert.ErrorIs(t, err, redisfeed.ErrInvalidItemID)
}

func Test_Feed_ReportsUnavailableRedis(t *testing.T) {
	feed, mr := givenFeed(t)
	mr.Close()

	err := feed.AddEvent(context.Background(), "Product", &priceChanged{})

	assert.ErrorIs(t, err, redisfeed.ErrFeedUnavailable)
}

func Test_Feed_ServesEventBusReplay(t *testing.T) {
	// setup
	ctx := context.Background()
	feed, _ := givenFeed(t)
	registry := entitystore.NewRegistry().
		RegisterEvent(func() entitystore.Event { return &priceChanged{} }).
		RegisterEvent(func() entitystore.Event { return &stockChanged{} })

	bus, err := entitystore.NewEventBus(registry, entitystore.WithFeedStore(feed), entitystore.WithReplayPageSize(2))
	require.NoError(t, err)

	// arrange
	for cents := 1; cents <= 5; cents++ {
		bus.Publish(ctx, "Product", &priceChanged{Cents: cents})
	}

	var replayed []int
	subscriber := handlers{
		"price_changed": func(_ context.Context, event entitystore.Event) error {
			replayed = append(replayed, event.(*priceChanged).Cents)
			return nil
		},
	}

	// act
	count, err := bus.Replay(ctx, entitystore.SinceTime(time.Time{}), "", subscriber)

	// assert
	require.NoError(t, err)
	assert.Equal(t, 5, count)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, replayed)
}

func Test_NewFeed_ShouldFail_WithInvalidConfiguration(t *testing.T) {
	_, err := redisfeed.NewFeed(nil)
	assert.ErrorIs(t, err, redisfeed.ErrNilClient)

	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	t.Cleanup(func() { _ = client.Close() })

	_, err = redisfeed.NewFeed(client, redisfeed.WithStreamKey(""))
	assert.ErrorIs(t, err, redisfeed.ErrEmptyStreamKey)
}

type handlers entitystore.Handlers

func (h handlers) Handlers() entitystore.Handlers {
	return entitystore.Handlers(h)
}
