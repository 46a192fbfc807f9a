// Command library-demo runs a lending scenario against the backend and feed configured
// through ENTITY_STORE_* variables and prints the resulting read models.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/AntonStoeckl/entity-store-go/config"
	"github.com/AntonStoeckl/entity-store-go/entitystore"
	"github.com/AntonStoeckl/entity-store-go/entitystore/oteladapters"
	"github.com/AntonStoeckl/entity-store-go/example/library"
)

const serviceName = "library-demo"

func main() {
	readers := flag.Int("readers", 3, "number of readers to register")
	books := flag.Int("books", 5, "number of book copies to add")
	reset := flag.Bool("reset", false, "delete all entities and events before the run")
	verbose := flag.Bool("verbose", false, "log SQL statements")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *readers, *books, *reset, *verbose); err != nil {
		log.Fatalf("library demo failed: %v", err)
	}
}

func run(ctx context.Context, readerCount, bookCount int, reset, verbose bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String("demo"),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create otel resource: %w", err)
	}

	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	otel.SetTracerProvider(tracerProvider)
	otel.SetMeterProvider(meterProvider)

	defer func() {
		_ = tracerProvider.Shutdown(context.Background())
		_ = meterProvider.Shutdown(context.Background())
	}()

	stats := library.NewLendingStatistics()
	activity := &library.ActivityLog{}
	registry := library.RegisterSubscribers(library.Register(entitystore.NewRegistry()), stats, activity)

	backend, closeBackend, err := config.OpenBackend(ctx, cfg, registry, logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	feed, closeFeed, err := config.OpenFeedStore(cfg)
	if err != nil {
		return err
	}
	defer closeFeed()

	busOptions := append(config.BusOptions(cfg, feed),
		entitystore.WithBusLogger(logger),
		entitystore.WithSubscribers(
			entitystore.SubscriberNamed(library.LendingStatisticsSubscriberName),
			entitystore.SubscriberNamed(library.ActivityLogSubscriberName),
		),
	)

	bus, err := entitystore.NewEventBus(registry, busOptions...)
	if err != nil {
		return err
	}

	storeOptions := append(config.StoreOptions(cfg),
		entitystore.WithEventBus(bus),
		entitystore.WithLogger(logger),
		entitystore.WithTracing(oteladapters.NewTracingCollector(otel.Tracer(serviceName))),
		entitystore.WithMetrics(oteladapters.NewMetricsCollector(otel.Meter(serviceName))),
	)

	store, err := entitystore.NewStore(backend, registry, storeOptions...)
	if err != nil {
		return err
	}

	if reset {
		if err = store.ClearAll(ctx, entitystore.ClearAllConfirmation); err != nil {
			return err
		}
	}

	start := time.Now()

	lent, err := lendAndReturn(ctx, store, readerCount, bookCount)
	if err != nil {
		return err
	}

	fmt.Printf("lent %d book copies in %s, %d still lent\n", lent, time.Since(start).Round(time.Millisecond), stats.CurrentlyLent())
	fmt.Printf("%d events published\n", len(activity.Lines()))

	if feed == nil {
		return nil
	}

	return replayLendings(ctx, bus)
}

// lendAndReturn lends every book copy to a reader in turn and returns every second one.
func lendAndReturn(ctx context.Context, store *entitystore.Store, readerCount, bookCount int) (int, error) {
	now := time.Now()

	readerIDs := make([]string, 0, readerCount)
	for i := range readerCount {
		reader := library.NewReader()
		address := library.Address{Street: fmt.Sprintf("Library Lane %d", i+1), City: "Springfield", ZipCode: "12345"}

		if err := reader.Register(fmt.Sprintf("Reader %d", i+1), address, now); err != nil {
			return 0, err
		}

		if err := store.Add(ctx, reader); err != nil {
			return 0, err
		}

		readerIDs = append(readerIDs, reader.GetID())
	}

	if len(readerIDs) == 0 {
		return 0, nil
	}

	lent := 0
	for i := range bookCount {
		bookCopy := library.NewBookCopy()
		if err := bookCopy.AddToCirculation(fmt.Sprintf("Book %d", i+1), fmt.Sprintf("978-3-16-148410-%d", i%10), now); err != nil {
			return lent, err
		}

		if err := store.Add(ctx, bookCopy); err != nil {
			return lent, err
		}

		reader, err := getReader(ctx, store, readerIDs[i%len(readerIDs)])
		if err != nil {
			return lent, err
		}

		if err = bookCopy.LendTo(reader, now); err != nil {
			return lent, err
		}

		if err = store.Save(ctx, bookCopy); err != nil {
			return lent, err
		}

		lent++

		if i%2 == 1 {
			if err = returnBookCopy(ctx, store, bookCopy.GetID(), now); err != nil {
				return lent, err
			}
		}
	}

	return lent, nil
}

// getReader loads the current version of a reader, an earlier return may have moved it on.
func getReader(ctx context.Context, store *entitystore.Store, id string) (*library.Reader, error) {
	entity, err := store.GetExisting(ctx, id)
	if err != nil {
		return nil, err
	}

	reader, ok := entity.(*library.Reader)
	if !ok {
		return nil, fmt.Errorf("entity %s is %T", id, entity)
	}

	return reader, nil
}

// returnBookCopy reloads the book copy, so the reader is loaded through the relation.
func returnBookCopy(ctx context.Context, store *entitystore.Store, id string, at time.Time) error {
	entity, err := store.GetExisting(ctx, id)
	if err != nil {
		return err
	}

	bookCopy, ok := entity.(*library.BookCopy)
	if !ok {
		return fmt.Errorf("entity %s is %T", id, entity)
	}

	if err = bookCopy.ReturnBy(ctx, at); err != nil {
		return err
	}

	return store.Save(ctx, bookCopy)
}

func replayLendings(ctx context.Context, bus *entitystore.EventBus) error {
	rebuilt := library.NewLendingStatistics()

	handled, err := bus.Replay(
		ctx,
		entitystore.SinceTime(time.Time{}),
		"",
		library.LendingStatisticsSubscriber(rebuilt)(),
	)
	if err != nil {
		return err
	}

	fmt.Printf("replayed %d feed items, %d book copies lent according to the feed\n", handled, rebuilt.CurrentlyLent())

	return nil
}
