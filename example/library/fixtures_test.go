package library_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/entity-store-go/entitystore"
	"github.com/AntonStoeckl/entity-store-go/example/library"
	"github.com/AntonStoeckl/entity-store-go/testutil/helper"
)

var (
	registeredAt = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	lentAt       = registeredAt.Add(24 * time.Hour)
	returnedAt   = lentAt.Add(14 * 24 * time.Hour)

	mainStreet = library.Address{Street: "Main Street 1", City: "Springfield", ZipCode: "12345"}
)

type libraryFixture struct {
	ctx      context.Context
	backend  *helper.MemoryBackend
	store    *entitystore.Store
	stats    *library.LendingStatistics
	activity *library.ActivityLog
}

func givenLibrary(t *testing.T) libraryFixture {
	t.Helper()

	stats := library.NewLendingStatistics()
	activity := &library.ActivityLog{}
	registry := library.RegisterSubscribers(library.Register(entitystore.NewRegistry()), stats, activity)

	bus, err := entitystore.NewEventBus(registry, entitystore.WithSubscribers(
		entitystore.SubscriberNamed(library.LendingStatisticsSubscriberName),
		entitystore.SubscriberNamed(library.ActivityLogSubscriberName),
	))
	require.NoError(t, err)

	backend := helper.NewMemoryBackend(registry)
	store, err := entitystore.NewStore(backend, registry, entitystore.WithEventBus(bus))
	require.NoError(t, err)

	return libraryFixture{
		ctx:      context.Background(),
		backend:  backend,
		store:    store,
		stats:    stats,
		activity: activity,
	}
}

func (f libraryFixture) givenReader(t *testing.T, name string) *library.Reader {
	t.Helper()

	reader := library.NewReader()
	require.NoError(t, reader.Register(name, mainStreet, registeredAt))
	require.NoError(t, f.store.Add(f.ctx, reader))

	return reader
}

func (f libraryFixture) givenBookCopy(t *testing.T, title string) *library.BookCopy {
	t.Helper()

	bookCopy := library.NewBookCopy()
	require.NoError(t, bookCopy.AddToCirculation(title, "978-0-00-000000-0", registeredAt))
	require.NoError(t, f.store.Add(f.ctx, bookCopy))

	return bookCopy
}

func (f libraryFixture) getBookCopy(t *testing.T, id string) *library.BookCopy {
	t.Helper()

	entity, err := f.store.GetExisting(f.ctx, id)
	require.NoError(t, err)

	bookCopy, ok := entity.(*library.BookCopy)
	require.True(t, ok)

	return bookCopy
}

func (f libraryFixture) getReader(t *testing.T, id string) *library.Reader {
	t.Helper()

	entity, err := f.store.GetExisting(f.ctx, id)
	require.NoError(t, err)

	reader, ok := entity.(*library.Reader)
	require.True(t, ok)

	return reader
}
