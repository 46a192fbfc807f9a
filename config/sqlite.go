package config

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite" // database/sql driver "sqlite"
)

const sqliteMemory = ":memory:"

// SQLiteDB opens and pings a modernc SQLite database.
// An in-memory database is limited to one connection, each connection would see its own database otherwise.
func SQLiteDB(ctx context.Context, cfg Config) (*sql.DB, error) {
	db, err := sql.Open("sqlite", cfg.SQLitePath)
	if err != nil {
		return nil, err
	}

	if cfg.SQLitePath == sqliteMemory {
		db.SetMaxOpenConns(1)
	}

	if err = ping(ctx, db, cfg.ConnectTimeout); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}
