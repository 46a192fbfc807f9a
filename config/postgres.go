package config

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
)

const (
	defaultMaxConnections    = 20
	defaultMinConnections    = 2
	defaultMaxConnLifetime   = time.Hour
	defaultMaxConnIdleTime   = time.Minute * 5
	defaultHealthCheckPeriod = time.Minute
)

// PostgresPGXPoolConfig creates a pgxpool.Config for the configured DSN.
func PostgresPGXPoolConfig(cfg Config) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}

	poolConfig.MaxConns = defaultMaxConnections
	poolConfig.MinConns = defaultMinConnections
	poolConfig.MaxConnLifetime = defaultMaxConnLifetime
	poolConfig.MaxConnIdleTime = defaultMaxConnIdleTime
	poolConfig.HealthCheckPeriod = defaultHealthCheckPeriod
	poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	return poolConfig, nil
}

// PostgresPGXPool opens and pings a pgx pool.
func PostgresPGXPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolConfig, err := PostgresPGXPoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	if err = pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// PostgresSQLDB opens and pings a *sql.DB using the lib/pq driver.
func PostgresSQLDB(ctx context.Context, cfg Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}

	configurePool(db)

	if err = ping(ctx, db, cfg.ConnectTimeout); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// PostgresSQLX wraps PostgresSQLDB in a *sqlx.DB.
func PostgresSQLX(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	db, err := PostgresSQLDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return sqlx.NewDb(db, "postgres"), nil
}

func configurePool(db *sql.DB) {
	db.SetMaxOpenConns(defaultMaxConnections)
	db.SetMaxIdleConns(defaultMinConnections)
	db.SetConnMaxLifetime(defaultMaxConnLifetime)
	db.SetConnMaxIdleTime(defaultMaxConnIdleTime)
}

func ping(ctx context.Context, db *sql.DB, timeout time.Duration) error {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return db.PingContext(pingCtx)
}
