package sqlengine

import (
	"fmt"

	"github.com/AntonStoeckl/entity-store-go/entitystore"
)

// Option defines a functional option for configuring Backend.
type Option func(*Backend) error

// WithEntitiesTableName sets the name of the entities table.
func WithEntitiesTableName(tableName string) Option {
	return func(b *Backend) error {
		if tableName == "" {
			return ErrEmptyTableName
		}

		b.entitiesTable = tableName

		return nil
	}
}

// WithEventsTableName sets the name of the events table.
func WithEventsTableName(tableName string) Option {
	return func(b *Backend) error {
		if tableName == "" {
			return ErrEmptyTableName
		}

		b.eventsTable = tableName

		return nil
	}
}

// WithDialect selects the SQL dialect, DialectPostgres is the default.
func WithDialect(dialect string) Option {
	return func(b *Backend) error {
		switch dialect {
		case DialectPostgres, DialectSQLite:
			b.dialect = dialect
			return nil
		}

		return fmt.Errorf("%w: %q", ErrUnsupportedDialect, dialect)
	}
}

// WithLogger sets the logger for the Backend.
//
// Debug level: SQL statements with execution timing (development use)
// Warn level: Non-critical issues like cleanup failures
// Error level: Failures that cause operation failures.
func WithLogger(logger entitystore.Logger) Option {
	return func(b *Backend) error {
		b.logger = logger
		return nil
	}
}
