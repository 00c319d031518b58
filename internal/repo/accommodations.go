package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Accommodation is the listing a takeaway request is anchored to.
type Accommodation struct {
	ID        string
	Name      string
	Latitude  float64
	Longitude float64
}

// AccommodationStore resolves listing identifiers to coordinates.
type AccommodationStore struct {
	db *DB
}

func NewAccommodationStore(db *DB) *AccommodationStore {
	return &AccommodationStore{db: db}
}

func (s *AccommodationStore) Get(ctx context.Context, id string) (*Accommodation, error) {
	acc := Accommodation{ID: id}
	err := s.db.pool.QueryRow(ctx, `
		SELECT name, latitude, longitude FROM accommodations WHERE id = $1
	`, id).Scan(&acc.Name, &acc.Latitude, &acc.Longitude)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: looking up accommodation: %v", ErrStoreUnavailable, err)
	}
	return &acc, nil
}

// Upsert exists for the sample-data loader.
func (s *AccommodationStore) Upsert(ctx context.Context, acc Accommodation) error {
	_, err := s.db.pool.Exec(ctx, `
		INSERT INTO accommodations (id, name, latitude, longitude)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude
	`, acc.ID, acc.Name, acc.Latitude, acc.Longitude)
	if err != nil {
		return fmt.Errorf("upserting accommodation: %w", err)
	}
	return nil
}
