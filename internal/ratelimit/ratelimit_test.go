package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumeWithinCapacity(t *testing.T) {
	b := NewTokenBucket(3, time.Minute)

	for i := 0; i < 3; i++ {
		ok, wait := b.Consume()
		assert.True(t, ok, "grant %d", i)
		assert.Zero(t, wait)
	}
}

func TestConsumeDeniedWhenExhausted(t *testing.T) {
	now := time.Unix(1000, 0)
	b := NewTokenBucket(2, time.Minute)
	b.now = func() time.Time { return now }

	b.Consume()
	b.Consume()

	ok, wait := b.Consume()
	require.False(t, ok)
	assert.Equal(t, time.Minute, wait)

	// Part-way through the window the wait shrinks accordingly.
	now = now.Add(40 * time.Second)
	ok, wait = b.Consume()
	require.False(t, ok)
	assert.Equal(t, 20*time.Second, wait)
}

func TestWindowRollover(t *testing.T) {
	now := time.Unix(1000, 0)
	b := NewTokenBucket(1, time.Minute)
	b.now = func() time.Time { return now }

	ok, _ := b.Consume()
	require.True(t, ok)
	ok, _ = b.Consume()
	require.False(t, ok)

	now = now.Add(time.Minute)
	ok, wait := b.Consume()
	assert.True(t, ok, "budget replenishes after the window")
	assert.Zero(t, wait)
}

func TestConcurrentConsumeNeverOvergrants(t *testing.T) {
	const capacity = 50
	b := NewTokenBucket(capacity, time.Minute)

	var wg sync.WaitGroup
	granted := make(chan struct{}, capacity*4)
	for i := 0; i < capacity*4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := b.Consume(); ok {
				granted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(granted)

	assert.Equal(t, capacity, len(granted))
}
