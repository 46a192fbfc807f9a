package entitystore

// Option defines a functional option for configuring Store.
type Option func(*Store) error

// WithSnapshotThreshold sets the number of versions after which an entity gets snapshotted.
func WithSnapshotThreshold(threshold int) Option {
	return func(s *Store) error {
		if threshold < 1 {
			return ErrInvalidSnapshotThreshold
		}

		s.snapshotThreshold = threshold

		return nil
	}
}

// WithEventBus sets the EventBus persisted events are published on.
// Without one, the Store persists without publishing.
func WithEventBus(bus *EventBus) Option {
	return func(s *Store) error {
		s.bus = bus
		return nil
	}
}

// WithLogger sets the logger for the Store.
// The logger will receive messages at different levels based on the logger's configured level:
//
// Debug level: loaded entity counts, written snapshots
// Info level: added and saved entities, concurrency conflicts
// Warn level: skipped events of unknown types, administrative purges
// Error level: backend failures with entity type, id and version.
func WithLogger(logger Logger) Option {
	return func(s *Store) error {
		s.logger = logger
		return nil
	}
}

// WithContextualLogger sets the contextual logger for the Store.
// It takes precedence over a Logger set with WithLogger.
func WithContextualLogger(logger ContextualLogger) Option {
	return func(s *Store) error {
		s.contextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the Store.
// The collector receives operation durations, error counts, persisted event counts and snapshot counts.
func WithMetrics(collector MetricsCollector) Option {
	return func(s *Store) error {
		s.metricsCollector = collector
		return nil
	}
}

// WithTracing sets the tracing collector for the Store.
func WithTracing(collector TracingCollector) Option {
	return func(s *Store) error {
		s.tracingCollector = collector
		return nil
	}
}

// WithOptimisticConcurrency makes Save update an existing entity only if the stored
// version still equals the version the entity was loaded at.
// A lost race fails with ErrConcurrencyConflict.
func WithOptimisticConcurrency() Option {
	return func(s *Store) error {
		s.optimisticConcurrency = true
		return nil
	}
}

// WithStrictEventTypes makes loading fail on stored events of unregistered types instead of skipping them.
func WithStrictEventTypes() Option {
	return func(s *Store) error {
		s.strictEventTypes = true
		return nil
	}
}
