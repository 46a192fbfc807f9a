// Package adapters provide database adapter implementations for the SQL entity backend.
//
// pgxpool.Pool, sql.DB and sqlx.DB are wrapped behind the common DBAdapter interface,
// so the backend builds its SQL once and runs it on whichever connection type the
// application already has.
package adapters
