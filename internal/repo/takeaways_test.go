package repo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLFor(t *testing.T) {
	pos := "✓ Nice area."
	neg := "⚠️ Theft reported."

	assert.Equal(t, 30*24*time.Hour, TTLFor(&pos, &neg))
	assert.Equal(t, 30*24*time.Hour, TTLFor(&pos, nil))
	assert.Equal(t, 30*24*time.Hour, TTLFor(nil, &neg))
	assert.Equal(t, 24*time.Hour, TTLFor(nil, nil))
}

func TestLocationKeyExactEquality(t *testing.T) {
	a := LocationKey{Latitude: 34.05, Longitude: -118.24, RadiusMeters: 2000}
	b := LocationKey{Latitude: 34.05, Longitude: -118.24, RadiusMeters: 2000}
	c := LocationKey{Latitude: 34.050000001, Longitude: -118.24, RadiusMeters: 2000}

	assert.Equal(t, a, b)
	// Near-duplicate coordinates are distinct keys; no binning.
	assert.NotEqual(t, a, c)
}
