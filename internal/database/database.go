package database

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// ErrNotFound marks lookups and mutations that matched no row.
var ErrNotFound = errors.New("not found")

type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

func Connect(ctx context.Context, databaseURL string, log zerolog.Logger) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}

	cfg.MaxConns = 20
	cfg.MinConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().
		Str("url", maskDSN(databaseURL)).
		Int32("max_conns", cfg.MaxConns).
		Int32("min_conns", cfg.MinConns).
		Msg("database connected")

	return &DB{Pool: pool, log: log}, nil
}

func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return db.Pool.Ping(ctx)
}

func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		if _, hasPass := u.User.Password(); hasPass {
			u.User = url.UserPassword(u.User.Username(), "***")
		}
	}
	return u.String()
}

func (db *DB) Close() {
	db.log.Info().Msg("closing database pool")
	db.Pool.Close()
}

// Unset lifecycle timestamps are stored as the -infinity sentinel so window
// predicates (first_dial + interval > now) stay plain SQL comparisons. In Go
// the zero time.Time stands in for the sentinel.

// pgtz maps a time to timestamptz, zero value to -infinity.
func pgtz(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{InfinityModifier: pgtype.NegativeInfinity, Valid: true}
	}
	return pgtype.Timestamptz{Time: t.UTC(), Valid: true}
}

// fromPgtz maps NULL and -infinity back to the zero time.
func fromPgtz(ts pgtype.Timestamptz) time.Time {
	if !ts.Valid || ts.InfinityModifier == pgtype.NegativeInfinity {
		return time.Time{}
	}
	return ts.Time.UTC()
}
