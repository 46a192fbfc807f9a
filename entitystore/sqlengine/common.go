package sqlengine

import "errors"

var (
	// ErrNilDatabaseConnection is returned when a constructor gets a nil connection.
	ErrNilDatabaseConnection = errors.New("database connection must not be nil")

	// ErrEmptyTableName is returned for an empty table name option.
	ErrEmptyTableName = errors.New("table name must not be empty")

	// ErrUnsupportedDialect is returned for a dialect other than DialectPostgres and DialectSQLite.
	ErrUnsupportedDialect = errors.New("unsupported sql dialect")

	// ErrBuildingQueryFailed is returned when goqu could not render a statement.
	ErrBuildingQueryFailed = errors.New("building query failed")

	// ErrQueryFailed is returned when the database rejected a statement.
	ErrQueryFailed = errors.New("database query failed")

	// ErrScanningRowFailed is returned when a result row could not be scanned.
	ErrScanningRowFailed = errors.New("scanning database row failed")

	// ErrCreatingSchemaFailed is returned by EnsureSchema.
	ErrCreatingSchemaFailed = errors.New("creating schema failed")
)
