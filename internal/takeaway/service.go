package takeaway

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"stayguard/internal/llm"
	"stayguard/internal/repo"
)

// OpinionSource reads geo-scoped opinions, most recent first.
type OpinionSource interface {
	FetchNearby(ctx context.Context, lat, lng float64, radiusMeters, limit int32) ([]repo.Opinion, error)
}

// Cache is the keyed takeaway store. Lookup returns repo.ErrNotFound on a
// miss; Store appends a new entry and computes its TTL.
type Cache interface {
	Lookup(ctx context.Context, key repo.LocationKey) (*repo.TakeawayEntry, error)
	Store(ctx context.Context, key repo.LocationKey, positive, negative *string, opinionCount int, model string) (*repo.TakeawayEntry, error)
}

// Directory resolves listing identifiers to coordinates.
type Directory interface {
	Get(ctx context.Context, id string) (*repo.Accommodation, error)
}

// Limiter gates outbound generation calls. A caller denied a token must
// wait the returned duration and try again; it must never proceed without
// one.
type Limiter interface {
	Consume() (ok bool, wait time.Duration)
}

// Options are the pipeline policy knobs; see config.TakeawayConfig for the
// reference values.
type Options struct {
	RadiusMeters    int
	OpinionLimit    int32
	PromptCharLimit int
	MaxRetries      int
	RetryBaseDelay  time.Duration
}

// Result is the terminal pipeline state returned to the API layer.
type Result struct {
	Summary      Summary
	Source       string // "cache" or "generated"
	OpinionCount int
	CachedAt     *time.Time
}

// Service runs the cache-and-generate pipeline. Collaborators are injected
// so tests can substitute deterministic fakes.
type Service struct {
	opinions  OpinionSource
	cache     Cache
	directory Directory
	limiter   Limiter
	generator llm.TextGenerator
	opts      Options

	sleep func(ctx context.Context, d time.Duration) error
}

func NewService(opinions OpinionSource, cache Cache, directory Directory, limiter Limiter, generator llm.TextGenerator, opts Options) *Service {
	return &Service{
		opinions:  opinions,
		cache:     cache,
		directory: directory,
		limiter:   limiter,
		generator: generator,
		opts:      opts,
		sleep:     sleepCtx,
	}
}

// Configured reports whether a generation provider is wired in. Without
// one only cache hits could be served, so the API answers 503 instead.
func (s *Service) Configured() bool {
	return s.generator != nil
}

// ForListing resolves a listing to its coordinates and runs the pipeline
// with the policy radius. repo.ErrNotFound propagates for unknown ids.
func (s *Service) ForListing(ctx context.Context, listingID string) (*Result, error) {
	acc, err := s.directory.Get(ctx, listingID)
	if err != nil {
		return nil, err
	}
	return s.ForLocation(ctx, acc.Latitude, acc.Longitude, acc.Name)
}

// ForLocation is the pipeline state machine: cache check, opinion fetch,
// rate-limited generation with retry, normalization, best-effort cache
// write. Generation failures degrade to an empty summary; only a store
// outage fails the request.
func (s *Service) ForLocation(ctx context.Context, lat, lng float64, label string) (*Result, error) {
	key := repo.LocationKey{Latitude: lat, Longitude: lng, RadiusMeters: int32(s.opts.RadiusMeters)}

	entry, err := s.cache.Lookup(ctx, key)
	if err == nil {
		return &Result{
			Summary:      Summary{Positive: entry.Positive, Negative: entry.Negative},
			Source:       "cache",
			OpinionCount: entry.OpinionCount,
			CachedAt:     &entry.CreatedAt,
		}, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		// A broken cache read degrades to a miss; regeneration still works.
		log.Warn().Err(err).Float64("lat", lat).Float64("lng", lng).Msg("Takeaway cache lookup failed")
	}

	opinions, err := s.opinions.FetchNearby(ctx, lat, lng, int32(s.opts.RadiusMeters), s.opts.OpinionLimit)
	if err != nil {
		return nil, err
	}

	var summary Summary
	if len(opinions) > 0 && s.generator != nil {
		prompt := BuildPrompt(label, opinions, s.opts.PromptCharLimit)
		raw, genErr := s.generateWithRetry(ctx, prompt)
		if genErr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Blocked, exhausted, or non-retryable: no insight available,
			// but the request still succeeds.
			log.Warn().Err(genErr).Float64("lat", lat).Float64("lng", lng).Msg("Generation degraded to empty summary")
		} else {
			summary = Normalize(raw)
		}
	}

	// Empty results are cached too (short TTL) so empty areas and provider
	// outages do not trigger regeneration storms.
	if _, storeErr := s.cache.Store(ctx, key, summary.Positive, summary.Negative, len(opinions), s.modelID()); storeErr != nil {
		log.Warn().Err(storeErr).Float64("lat", lat).Float64("lng", lng).Msg("Takeaway cache write failed")
	}

	return &Result{
		Summary:      summary,
		Source:       "generated",
		OpinionCount: len(opinions),
	}, nil
}

// generateWithRetry performs the provider call under the token bucket with
// up to MaxRetries additional attempts. Provider-suggested rate-limit waits
// are queuing and do not consume the retry budget; generic transient
// failures back off exponentially and do.
func (s *Service) generateWithRetry(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	attempt := 0
	for attempt <= s.opts.MaxRetries {
		if err := s.acquireToken(ctx); err != nil {
			return "", err
		}

		raw, err := s.generator.Generate(ctx, prompt)
		if err == nil {
			return raw, nil
		}
		lastErr = err

		if errors.Is(err, llm.ErrBlockedBySafety) {
			return "", err
		}

		var rle *llm.RateLimitError
		if errors.As(err, &rle) {
			log.Debug().Dur("retry_after", rle.RetryAfter).Msg("Provider rate limited, waiting")
			if werr := s.sleep(ctx, rle.RetryAfter); werr != nil {
				return "", werr
			}
			continue
		}

		var pe *llm.ProviderError
		if !errors.As(err, &pe) {
			return "", err
		}

		attempt++
		if attempt > s.opts.MaxRetries {
			break
		}
		backoff := s.opts.RetryBaseDelay * (1 << (attempt - 1))
		log.Debug().Int("attempt", attempt).Dur("backoff", backoff).Err(err).Msg("Retrying generation")
		if werr := s.sleep(ctx, backoff); werr != nil {
			return "", werr
		}
	}
	return "", lastErr
}

func (s *Service) acquireToken(ctx context.Context) error {
	for {
		ok, wait := s.limiter.Consume()
		if ok {
			return nil
		}
		if err := s.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (s *Service) modelID() string {
	if s.generator == nil {
		return ""
	}
	return s.generator.Model()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
