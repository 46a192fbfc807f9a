package config

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/AntonStoeckl/entity-store-go/entitystore"
	"github.com/AntonStoeckl/entity-store-go/entitystore/feed/kafkafeed"
	"github.com/AntonStoeckl/entity-store-go/entitystore/feed/redisfeed"
	"github.com/AntonStoeckl/entity-store-go/entitystore/sqlengine"
)

// RedisClient creates a client for the configured URL. It does not connect.
func RedisClient(cfg Config) (*redis.Client, error) {
	options, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	options.DialTimeout = cfg.ConnectTimeout

	return redis.NewClient(options), nil
}

// KafkaFeedConfig maps the Kafka settings to a kafkafeed.Config.
func KafkaFeedConfig(cfg Config) kafkafeed.Config {
	return kafkafeed.Config{
		Brokers:     cfg.KafkaBrokers,
		Topic:       cfg.KafkaTopic,
		ReadTimeout: cfg.ConnectTimeout,
	}
}

// OpenBackend connects to the configured database, creates the schema if needed
// and returns the backend with a function that closes the connection.
func OpenBackend(
	ctx context.Context,
	cfg Config,
	registry *entitystore.Registry,
	logger entitystore.Logger,
) (*sqlengine.Backend, func(), error) {
	var options []sqlengine.Option
	if logger != nil {
		options = append(options, sqlengine.WithLogger(logger))
	}

	var (
		backend *sqlengine.Backend
		closeDB func()
	)

	switch cfg.Backend {
	case BackendPostgres:
		pool, err := PostgresPGXPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}

		closeDB = pool.Close
		backend, err = sqlengine.NewBackendFromPGXPool(pool, registry, options...)
		if err != nil {
			closeDB()
			return nil, nil, err
		}

	case BackendSQLite:
		db, err := SQLiteDB(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}

		closeDB = func() { _ = db.Close() }
		backend, err = sqlengine.NewBackendFromSQLDB(db, registry, append(options, sqlengine.WithDialect(sqlengine.DialectSQLite))...)
		if err != nil {
			closeDB()
			return nil, nil, err
		}

	default:
		return nil, nil, ErrInvalidConfig
	}

	if err := backend.EnsureSchema(ctx); err != nil {
		closeDB()
		return nil, nil, err
	}

	return backend, closeDB, nil
}

// OpenFeedStore builds the configured feed store. It returns a nil store for FeedNone.
func OpenFeedStore(cfg Config) (entitystore.FeedStore, func(), error) {
	switch cfg.Feed {
	case FeedNone:
		return nil, func() {}, nil

	case FeedRedis:
		client, err := RedisClient(cfg)
		if err != nil {
			return nil, nil, err
		}

		feed, err := redisfeed.NewFeed(client, redisfeed.WithStreamKey(cfg.RedisStreamKey))
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}

		return feed, func() { _ = client.Close() }, nil

	case FeedKafka:
		feed, err := kafkafeed.NewFeed(KafkaFeedConfig(cfg))
		if err != nil {
			return nil, nil, err
		}

		return feed, func() { _ = feed.Close() }, nil

	default:
		return nil, nil, ErrInvalidConfig
	}
}

// StoreOptions returns the Store options derived from cfg.
func StoreOptions(cfg Config) []entitystore.Option {
	return []entitystore.Option{entitystore.WithSnapshotThreshold(cfg.SnapshotThreshold)}
}

// BusOptions returns the EventBus options derived from cfg, with feed when it is not nil.
func BusOptions(cfg Config, feed entitystore.FeedStore) []entitystore.BusOption {
	options := []entitystore.BusOption{entitystore.WithReplayPageSize(cfg.ReplayPageSize)}
	if feed != nil {
		options = append(options, entitystore.WithFeedStore(feed))
	}

	return options
}
