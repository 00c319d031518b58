package takeaway

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stayguard/internal/llm"
	"stayguard/internal/repo"
)

type fakeOpinions struct {
	opinions   []repo.Opinion
	err        error
	calls      int
	lastLat    float64
	lastLng    float64
	lastRadius int32
}

func (f *fakeOpinions) FetchNearby(_ context.Context, lat, lng float64, radiusMeters, _ int32) ([]repo.Opinion, error) {
	f.calls++
	f.lastLat, f.lastLng, f.lastRadius = lat, lng, radiusMeters
	if f.err != nil {
		return nil, f.err
	}
	return f.opinions, nil
}

type storedCall struct {
	key          repo.LocationKey
	positive     *string
	negative     *string
	opinionCount int
	model        string
}

type fakeCache struct {
	entry    *repo.TakeawayEntry
	storeErr error
	stored   []storedCall
}

func (f *fakeCache) Lookup(_ context.Context, key repo.LocationKey) (*repo.TakeawayEntry, error) {
	if f.entry != nil && f.entry.Key == key {
		return f.entry, nil
	}
	return nil, repo.ErrNotFound
}

func (f *fakeCache) Store(_ context.Context, key repo.LocationKey, positive, negative *string, opinionCount int, model string) (*repo.TakeawayEntry, error) {
	f.stored = append(f.stored, storedCall{key, positive, negative, opinionCount, model})
	if f.storeErr != nil {
		return nil, f.storeErr
	}
	now := time.Now().UTC()
	entry := &repo.TakeawayEntry{
		ID:           fmt.Sprintf("entry-%d", len(f.stored)),
		Key:          key,
		Positive:     positive,
		Negative:     negative,
		OpinionCount: opinionCount,
		Model:        model,
		CreatedAt:    now,
		ExpiresAt:    now.Add(repo.TTLFor(positive, negative)),
	}
	f.entry = entry
	return entry, nil
}

type fakeDirectory struct {
	acc *repo.Accommodation
	err error
}

func (f *fakeDirectory) Get(_ context.Context, _ string) (*repo.Accommodation, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.acc, nil
}

type fakeLimiter struct {
	denials int
	waits   int
}

func (f *fakeLimiter) Consume() (bool, time.Duration) {
	if f.denials > 0 {
		f.denials--
		f.waits++
		return false, 100 * time.Millisecond
	}
	return true, 0
}

type genResponse struct {
	text string
	err  error
}

type fakeGenerator struct {
	responses []genResponse
	calls     int
}

func (f *fakeGenerator) Generate(_ context.Context, _ string) (string, error) {
	idx := f.calls
	f.calls++
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	r := f.responses[idx]
	return r.text, r.err
}

func (f *fakeGenerator) Model() string {
	return "fake-model"
}

const goodJSON = `{"positive": "Well-lit streets are mentioned favorably.", "negative": "Bike theft is mentioned as a concern."}`

func threeOpinions() []repo.Opinion {
	return []repo.Opinion{
		{Text: "The streets are well-lit at night."},
		{Text: "Well-lit streets made walking home easy."},
		{Text: "My bike got stolen, theft is a problem here."},
	}
}

func newTestService(ops *fakeOpinions, cache *fakeCache, dir *fakeDirectory, lim *fakeLimiter, gen llm.TextGenerator) (*Service, *[]time.Duration) {
	svc := NewService(ops, cache, dir, lim, gen, Options{
		RadiusMeters:    2000,
		OpinionLimit:    100,
		PromptCharLimit: 28000,
		MaxRetries:      2,
		RetryBaseDelay:  10 * time.Millisecond,
	})
	sleeps := &[]time.Duration{}
	svc.sleep = func(_ context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return nil
	}
	return svc, sleeps
}

func TestCacheHitShortCircuits(t *testing.T) {
	key := repo.LocationKey{Latitude: 34.05, Longitude: -118.24, RadiusMeters: 2000}
	created := time.Now().UTC().Add(-time.Hour)
	cache := &fakeCache{entry: &repo.TakeawayEntry{
		Key:          key,
		Positive:     strPtr("✓ Safe area."),
		OpinionCount: 7,
		CreatedAt:    created,
		ExpiresAt:    created.Add(repo.TakeawayTTL),
	}}
	ops := &fakeOpinions{}
	gen := &fakeGenerator{responses: []genResponse{{text: goodJSON}}}
	svc, _ := newTestService(ops, cache, nil, &fakeLimiter{}, gen)

	res, err := svc.ForLocation(context.Background(), 34.05, -118.24, "somewhere")

	require.NoError(t, err)
	assert.Equal(t, "cache", res.Source)
	assert.Equal(t, 7, res.OpinionCount)
	require.NotNil(t, res.Summary.Positive)
	assert.Equal(t, "✓ Safe area.", *res.Summary.Positive)
	require.NotNil(t, res.CachedAt)
	assert.Equal(t, created, *res.CachedAt)
	assert.Zero(t, ops.calls, "cache hit must not touch the opinion store")
	assert.Zero(t, gen.calls, "cache hit must not call the provider")
}

func TestGenerateOnCacheMiss(t *testing.T) {
	ops := &fakeOpinions{opinions: threeOpinions()}
	cache := &fakeCache{}
	gen := &fakeGenerator{responses: []genResponse{{text: goodJSON}}}
	svc, _ := newTestService(ops, cache, nil, &fakeLimiter{}, gen)

	res, err := svc.ForLocation(context.Background(), 34.05, -118.24, "Arts District Loft")

	require.NoError(t, err)
	assert.Equal(t, "generated", res.Source)
	assert.Equal(t, 3, res.OpinionCount)
	require.NotNil(t, res.Summary.Positive)
	require.NotNil(t, res.Summary.Negative)
	assert.Equal(t, "✓ Well-lit streets are mentioned favorably.", *res.Summary.Positive)
	assert.Equal(t, "⚠️ Bike theft is mentioned as a concern.", *res.Summary.Negative)
	assert.Equal(t, 1, gen.calls)

	require.Len(t, cache.stored, 1)
	assert.Equal(t, 3, cache.stored[0].opinionCount)
	assert.Equal(t, "fake-model", cache.stored[0].model)
	assert.NotNil(t, cache.stored[0].positive)
	require.NotNil(t, cache.entry)
	assert.Equal(t, repo.TakeawayTTL, cache.entry.ExpiresAt.Sub(cache.entry.CreatedAt))
}

func TestRepeatCallServedFromCache(t *testing.T) {
	ops := &fakeOpinions{opinions: threeOpinions()}
	cache := &fakeCache{}
	gen := &fakeGenerator{responses: []genResponse{{text: goodJSON}}}
	svc, _ := newTestService(ops, cache, nil, &fakeLimiter{}, gen)

	first, err := svc.ForLocation(context.Background(), 34.05, -118.24, "Arts District Loft")
	require.NoError(t, err)
	require.Equal(t, "generated", first.Source)

	second, err := svc.ForLocation(context.Background(), 34.05, -118.24, "Arts District Loft")
	require.NoError(t, err)

	assert.Equal(t, "cache", second.Source)
	assert.Equal(t, 1, gen.calls, "second call must not hit the provider")
	assert.Equal(t, *first.Summary.Positive, *second.Summary.Positive)
	assert.Equal(t, *first.Summary.Negative, *second.Summary.Negative)
	assert.NotNil(t, second.CachedAt)
}

func TestEmptyAreaSkipsGeneration(t *testing.T) {
	ops := &fakeOpinions{}
	cache := &fakeCache{}
	gen := &fakeGenerator{responses: []genResponse{{text: goodJSON}}}
	svc, _ := newTestService(ops, cache, nil, &fakeLimiter{}, gen)

	res, err := svc.ForLocation(context.Background(), 10, 20, "nowhere")

	require.NoError(t, err)
	assert.True(t, res.Summary.Empty())
	assert.Equal(t, 0, res.OpinionCount)
	assert.Zero(t, gen.calls, "no opinions means no provider call")

	// Empty results are still cached, with the short lifetime.
	require.Len(t, cache.stored, 1)
	assert.Nil(t, cache.stored[0].positive)
	assert.Nil(t, cache.stored[0].negative)
	assert.Equal(t, 0, cache.stored[0].opinionCount)
	require.NotNil(t, cache.entry)
	assert.Equal(t, repo.EmptyTakeawayTTL, cache.entry.ExpiresAt.Sub(cache.entry.CreatedAt))
}

func TestRetryBoundOnPersistentProviderErrors(t *testing.T) {
	ops := &fakeOpinions{opinions: threeOpinions()}
	cache := &fakeCache{}
	gen := &fakeGenerator{responses: []genResponse{
		{err: &llm.ProviderError{Err: errors.New("boom")}},
	}}
	svc, sleeps := newTestService(ops, cache, nil, &fakeLimiter{}, gen)

	res, err := svc.ForLocation(context.Background(), 34.05, -118.24, "somewhere")

	require.NoError(t, err, "exhausted retries degrade, they do not fail the request")
	assert.True(t, res.Summary.Empty())
	assert.Equal(t, 3, gen.calls, "initial attempt plus MaxRetries")
	// Exponential backoff between attempts: base, then 2x base.
	require.Len(t, *sleeps, 2)
	assert.Equal(t, 10*time.Millisecond, (*sleeps)[0])
	assert.Equal(t, 20*time.Millisecond, (*sleeps)[1])
}

func TestRateLimitWaitDoesNotConsumeRetries(t *testing.T) {
	ops := &fakeOpinions{opinions: threeOpinions()}
	cache := &fakeCache{}
	gen := &fakeGenerator{responses: []genResponse{
		{err: &llm.RateLimitError{RetryAfter: 5 * time.Second}},
		{err: &llm.RateLimitError{RetryAfter: 7 * time.Second}},
		{text: goodJSON},
	}}
	svc, sleeps := newTestService(ops, cache, nil, &fakeLimiter{}, gen)

	res, err := svc.ForLocation(context.Background(), 34.05, -118.24, "somewhere")

	require.NoError(t, err)
	assert.False(t, res.Summary.Empty())
	assert.Equal(t, 3, gen.calls)
	// The suggested waits are honored exactly and no backoff is added.
	assert.Equal(t, []time.Duration{5 * time.Second, 7 * time.Second}, *sleeps)
}

func TestRateLimitWaitsThenRetriesStillBounded(t *testing.T) {
	ops := &fakeOpinions{opinions: threeOpinions()}
	cache := &fakeCache{}
	gen := &fakeGenerator{responses: []genResponse{
		{err: &llm.RateLimitError{RetryAfter: time.Second}},
		{err: &llm.ProviderError{Err: errors.New("boom")}},
	}}
	svc, _ := newTestService(ops, cache, nil, &fakeLimiter{}, gen)

	res, err := svc.ForLocation(context.Background(), 34.05, -118.24, "somewhere")

	require.NoError(t, err)
	assert.True(t, res.Summary.Empty())
	// One queued wait plus the three counted attempts.
	assert.Equal(t, 4, gen.calls)
}

func TestSafetyBlockIsTerminal(t *testing.T) {
	ops := &fakeOpinions{opinions: threeOpinions()}
	cache := &fakeCache{}
	gen := &fakeGenerator{responses: []genResponse{{err: llm.ErrBlockedBySafety}}}
	svc, _ := newTestService(ops, cache, nil, &fakeLimiter{}, gen)

	res, err := svc.ForLocation(context.Background(), 34.05, -118.24, "somewhere")

	require.NoError(t, err)
	assert.True(t, res.Summary.Empty())
	assert.Equal(t, 1, gen.calls, "safety blocks are never retried")
}

func TestStoreUnavailableIsFatal(t *testing.T) {
	ops := &fakeOpinions{err: fmt.Errorf("%w: connection refused", repo.ErrStoreUnavailable)}
	cache := &fakeCache{}
	gen := &fakeGenerator{responses: []genResponse{{text: goodJSON}}}
	svc, _ := newTestService(ops, cache, nil, &fakeLimiter{}, gen)

	_, err := svc.ForLocation(context.Background(), 34.05, -118.24, "somewhere")

	require.Error(t, err)
	assert.ErrorIs(t, err, repo.ErrStoreUnavailable)
	assert.Empty(t, cache.stored)
	assert.Zero(t, gen.calls)
}

func TestCacheWriteFailureDoesNotFailRequest(t *testing.T) {
	ops := &fakeOpinions{opinions: threeOpinions()}
	cache := &fakeCache{storeErr: errors.New("disk full")}
	gen := &fakeGenerator{responses: []genResponse{{text: goodJSON}}}
	svc, _ := newTestService(ops, cache, nil, &fakeLimiter{}, gen)

	res, err := svc.ForLocation(context.Background(), 34.05, -118.24, "somewhere")

	require.NoError(t, err)
	assert.Equal(t, "generated", res.Source)
	assert.False(t, res.Summary.Empty())
}

func TestLimiterGatesProviderCalls(t *testing.T) {
	ops := &fakeOpinions{opinions: threeOpinions()}
	cache := &fakeCache{}
	lim := &fakeLimiter{denials: 2}
	gen := &fakeGenerator{responses: []genResponse{{text: goodJSON}}}
	svc, sleeps := newTestService(ops, cache, nil, lim, gen)

	res, err := svc.ForLocation(context.Background(), 34.05, -118.24, "somewhere")

	require.NoError(t, err)
	assert.False(t, res.Summary.Empty())
	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, 2, lim.waits)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 100 * time.Millisecond}, *sleeps)
}

func TestForListingResolvesCoordinates(t *testing.T) {
	ops := &fakeOpinions{opinions: threeOpinions()}
	cache := &fakeCache{}
	dir := &fakeDirectory{acc: &repo.Accommodation{
		ID: "dtla-loft-12", Name: "Arts District Loft", Latitude: 34.05, Longitude: -118.24,
	}}
	gen := &fakeGenerator{responses: []genResponse{{text: goodJSON}}}
	svc, _ := newTestService(ops, cache, dir, &fakeLimiter{}, gen)

	res, err := svc.ForListing(context.Background(), "dtla-loft-12")

	require.NoError(t, err)
	assert.Equal(t, "generated", res.Source)
	assert.Equal(t, 34.05, ops.lastLat)
	assert.Equal(t, -118.24, ops.lastLng)
	assert.Equal(t, int32(2000), ops.lastRadius)
}

func TestForListingUnknownListing(t *testing.T) {
	dir := &fakeDirectory{err: repo.ErrNotFound}
	svc, _ := newTestService(&fakeOpinions{}, &fakeCache{}, dir, &fakeLimiter{}, &fakeGenerator{responses: []genResponse{{}}})

	_, err := svc.ForListing(context.Background(), "nope")

	assert.ErrorIs(t, err, repo.ErrNotFound)
}
