// Package config loads the entity store settings from ENTITY_STORE_* environment variables
// and builds the database connections, backends and feed stores they describe.
//
// The connection factories mirror the three database adapters the SQL backend supports
// (pgxpool.Pool, sql.DB with lib/pq, sqlx.DB) plus modernc SQLite for local runs.
package config
