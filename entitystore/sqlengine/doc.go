// Package sqlengine provides a SQL implementation of the entitystore.Backend interface.
//
// Entities are kept in an entities table holding the type tag, the current version and
// the latest snapshot. Events are kept in an entity_events table ordered by entity version
// and insertion sequence. PostgreSQL (via pgx, sql.DB or sqlx) and SQLite are supported,
// the statements are built with goqu for the configured dialect.
//
// Usage examples:
//
//	// PostgreSQL through pgx
//	pool, _ := pgxpool.New(context.Background(), dsn)
//	backend, _ := sqlengine.NewBackendFromPGXPool(pool, registry)
//
//	// SQLite through database/sql, with SQL query logging
//	db, _ := sql.Open("sqlite", "file:entities.db")
//	backend, _ := sqlengine.NewBackendFromSQLDB(
//		db,
//		registry,
//		sqlengine.WithDialect(sqlengine.DialectSQLite),
//		sqlengine.WithLogger(debugLogger),
//	)
//
//	_ = backend.EnsureSchema(ctx)
//	store, _ := entitystore.NewStore(backend, registry)
package sqlengine
