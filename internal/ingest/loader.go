package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"stayguard/internal/repo"
)

// Loader seeds a local database with a few accommodations and nearby
// reviews for development. Production data comes from the external
// ingestion pipeline.
type Loader struct {
	opinions       *repo.OpinionStore
	accommodations *repo.AccommodationStore
}

func NewLoader(opinions *repo.OpinionStore, accommodations *repo.AccommodationStore) *Loader {
	return &Loader{opinions: opinions, accommodations: accommodations}
}

type sampleReview struct {
	body     string
	lat, lng float64
	daysAgo  int
}

func (l *Loader) GenerateSampleData(ctx context.Context) error {
	accommodations := []repo.Accommodation{
		{ID: "dtla-loft-12", Name: "Arts District Loft", Latitude: 34.05, Longitude: -118.24},
		{ID: "echo-park-house-3", Name: "Echo Park Hillside House", Latitude: 34.078, Longitude: -118.26},
	}

	reviews := []sampleReview{
		{"The streets around here are well-lit at night, felt fine walking back late.", 34.051, -118.241, 3},
		{"Well-lit streets and plenty of people around in the evening.", 34.049, -118.238, 10},
		{"Loved the area but my bike got stolen from the rack outside.", 34.052, -118.243, 5},
		{"Heard about a lot of bike theft on this block, lock up well.", 34.0495, -118.2405, 21},
		{"Quiet neighborhood, neighbors were friendly and kept an eye out.", 34.079, -118.261, 8},
		{"Steep dark stairs up the hill, bring a flashlight after sunset.", 34.0775, -118.259, 14},
	}

	for _, acc := range accommodations {
		if err := l.accommodations.Upsert(ctx, acc); err != nil {
			return fmt.Errorf("seeding accommodation %s: %w", acc.ID, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, rv := range reviews {
		rv := rv
		g.Go(func() error {
			observed := time.Now().UTC().AddDate(0, 0, -rv.daysAgo)
			return l.opinions.InsertReview(gctx, rv.body, rv.lat, rv.lng, &observed)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("seeding reviews: %w", err)
	}

	log.Info().
		Int("accommodations", len(accommodations)).
		Int("reviews", len(reviews)).
		Msg("Sample data loaded")
	return nil
}
