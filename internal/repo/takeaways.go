package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Cache lifetimes. An entry with real content lives a month; an empty
// result is kept just long enough to absorb repeat lookups while still
// letting newly-arriving reviews trigger regeneration soon.
const (
	TakeawayTTL      = 30 * 24 * time.Hour
	EmptyTakeawayTTL = 24 * time.Hour
)

// LocationKey identifies a takeaway cache scope. Coordinates compare by
// exact value; two differently-rounded points are distinct keys.
type LocationKey struct {
	Latitude     float64
	Longitude    float64
	RadiusMeters int32
}

// TakeawayEntry is one cached generation result. Rows are append-only:
// a regeneration inserts a new row rather than updating the old one, and
// lookup picks the freshest row that has not expired.
type TakeawayEntry struct {
	ID           string
	Key          LocationKey
	Positive     *string
	Negative     *string
	OpinionCount int
	Model        string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// TakeawayStore persists generated takeaways keyed by location.
type TakeawayStore struct {
	db *DB
}

func NewTakeawayStore(db *DB) *TakeawayStore {
	return &TakeawayStore{db: db}
}

// Lookup returns the most recent unexpired entry for the key, or
// ErrNotFound. Expired rows are ignored but never deleted; new writes
// simply supersede them.
func (s *TakeawayStore) Lookup(ctx context.Context, key LocationKey) (*TakeawayEntry, error) {
	entry := TakeawayEntry{Key: key}
	err := s.db.pool.QueryRow(ctx, `
		SELECT id, positive_takeaway, negative_takeaway, opinion_count, model, created_at, expires_at
		FROM location_takeaways
		WHERE latitude = $1 AND longitude = $2 AND radius_m = $3 AND expires_at > now()
		ORDER BY created_at DESC
		LIMIT 1
	`, key.Latitude, key.Longitude, key.RadiusMeters).Scan(
		&entry.ID, &entry.Positive, &entry.Negative,
		&entry.OpinionCount, &entry.Model, &entry.CreatedAt, &entry.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: looking up takeaway: %v", ErrStoreUnavailable, err)
	}
	return &entry, nil
}

// TTLFor picks the lifetime of a new entry from its content.
func TTLFor(positive, negative *string) time.Duration {
	if positive != nil || negative != nil {
		return TakeawayTTL
	}
	return EmptyTakeawayTTL
}

// Store inserts a new entry for the key. The TTL depends on whether the
// summary carries any content.
func (s *TakeawayStore) Store(ctx context.Context, key LocationKey, positive, negative *string, opinionCount int, model string) (*TakeawayEntry, error) {
	now := time.Now().UTC()
	ttl := TTLFor(positive, negative)

	entry := &TakeawayEntry{
		ID:           uuid.NewString(),
		Key:          key,
		Positive:     positive,
		Negative:     negative,
		OpinionCount: opinionCount,
		Model:        model,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}

	_, err := s.db.pool.Exec(ctx, `
		INSERT INTO location_takeaways
			(id, latitude, longitude, radius_m, positive_takeaway, negative_takeaway,
			 opinion_count, model, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, entry.ID, key.Latitude, key.Longitude, key.RadiusMeters,
		entry.Positive, entry.Negative, entry.OpinionCount, entry.Model,
		entry.CreatedAt, entry.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("inserting takeaway: %w", err)
	}
	return entry, nil
}
