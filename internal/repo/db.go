package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNotFound signals a miss: no row matched. Callers distinguish it
	// from ErrStoreUnavailable, which means the query itself could not run.
	ErrNotFound = errors.New("not found")

	// ErrStoreUnavailable wraps connectivity and query failures. The
	// pipeline treats it as fatal for the request.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// DB wraps the pgx connection pool shared by all repositories.
type DB struct {
	pool *pgxpool.Pool
}

func NewDB(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log.Info().Msg("Database connection established")
	return &DB{pool: pool}, nil
}

func (db *DB) Close() {
	db.pool.Close()
}

// EnsureSchema creates the tables this service owns. The reviews and
// accommodations tables are populated by the external ingestion side and
// are only created here so a fresh local database works out of the box.
func (db *DB) EnsureSchema(ctx context.Context) error {
	_, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS location_takeaways (
			id                 UUID PRIMARY KEY,
			latitude           DOUBLE PRECISION NOT NULL,
			longitude          DOUBLE PRECISION NOT NULL,
			radius_m           INTEGER NOT NULL,
			positive_takeaway  TEXT,
			negative_takeaway  TEXT,
			opinion_count      INTEGER NOT NULL DEFAULT 0,
			model              TEXT NOT NULL DEFAULT '',
			created_at         TIMESTAMPTZ NOT NULL,
			expires_at         TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS location_takeaways_key_idx
			ON location_takeaways (latitude, longitude, radius_m, created_at DESC);

		CREATE TABLE IF NOT EXISTS reviews (
			id          BIGSERIAL PRIMARY KEY,
			body        TEXT NOT NULL,
			latitude    DOUBLE PRECISION NOT NULL,
			longitude   DOUBLE PRECISION NOT NULL,
			observed_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS reviews_coords_idx ON reviews (latitude, longitude);

		CREATE TABLE IF NOT EXISTS accommodations (
			id        TEXT PRIMARY KEY,
			name      TEXT NOT NULL,
			latitude  DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}
	return nil
}
