package repo

import (
	"context"
	"fmt"
	"time"
)

// Opinion is a short piece of user-generated text tied to a point. It is
// read-only here; the ingestion side owns the rows.
type Opinion struct {
	Text       string
	ObservedAt *time.Time
}

// OpinionStore reads geo-scoped opinions.
type OpinionStore struct {
	db *DB
}

func NewOpinionStore(db *DB) *OpinionStore {
	return &OpinionStore{db: db}
}

// FetchNearby returns up to limit opinions within radiusMeters of the point,
// most recent first (rows without a timestamp sort last). An empty area
// yields an empty slice, not an error.
func (s *OpinionStore) FetchNearby(ctx context.Context, lat, lng float64, radiusMeters, limit int32) ([]Opinion, error) {
	// Haversine distance evaluated in SQL; fine at neighbourhood radii.
	rows, err := s.db.pool.Query(ctx, `
		SELECT body, observed_at
		FROM reviews
		WHERE 2 * 6371000 * asin(sqrt(
			pow(sin(radians(latitude - $1) / 2), 2) +
			cos(radians($1)) * cos(radians(latitude)) *
			pow(sin(radians(longitude - $2) / 2), 2)
		)) <= $3
		ORDER BY observed_at DESC NULLS LAST
		LIMIT $4
	`, lat, lng, radiusMeters, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: querying nearby reviews: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var opinions []Opinion
	for rows.Next() {
		var op Opinion
		if err := rows.Scan(&op.Text, &op.ObservedAt); err != nil {
			return nil, fmt.Errorf("%w: scanning review: %v", ErrStoreUnavailable, err)
		}
		opinions = append(opinions, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading reviews: %v", ErrStoreUnavailable, err)
	}
	return opinions, nil
}

// InsertReview exists for the sample-data loader; the production rows come
// from the external ingestion scripts.
func (s *OpinionStore) InsertReview(ctx context.Context, body string, lat, lng float64, observedAt *time.Time) error {
	_, err := s.db.pool.Exec(ctx, `
		INSERT INTO reviews (body, latitude, longitude, observed_at)
		VALUES ($1, $2, $3, $4)
	`, body, lat, lng, observedAt)
	if err != nil {
		return fmt.Errorf("inserting review: %w", err)
	}
	return nil
}
