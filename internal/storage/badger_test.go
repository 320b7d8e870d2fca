package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestCache creates a temporary BadgerDB cache and returns it with a cleanup func.
func setupTestCache(t *testing.T, ttl time.Duration) (*BadgerCache, func()) {
	t.Helper()

	testLogger := logrus.New()
	testLogger.SetOutput(os.Stderr)
	testLogger.SetLevel(logrus.ErrorLevel)

	cache, err := NewBadgerCache(t.TempDir(), ttl, testLogger)
	require.NoError(t, err, "Failed to create test BadgerDB cache")

	cleanup := func() {
		assert.NoError(t, cache.Close(), "Failed to close test BadgerDB cache")
	}
	return cache, cleanup
}

func TestBadgerCache_SaveAndGet(t *testing.T) {
	cache, cleanup := setupTestCache(t, 0)
	defer cleanup()

	ctx := context.Background()
	url := "https://bit.ly/abc"

	_, found, err := cache.GetResolution(ctx, LookupRedirect, url)
	require.NoError(t, err)
	assert.False(t, found, "empty cache should miss")

	err = cache.SaveResolution(ctx, Resolution{URL: url, Kind: LookupRedirect, Value: "https://example.com/article"})
	require.NoError(t, err)
	err = cache.SaveResolution(ctx, Resolution{URL: url, Kind: LookupTitle, Value: "Shortener landing"})
	require.NoError(t, err)

	redirect, found, err := cache.GetResolution(ctx, LookupRedirect, url)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "https://example.com/article", redirect.Value)
	assert.False(t, redirect.FetchedAt.IsZero(), "FetchedAt should be stamped on save")

	title, found, err := cache.GetResolution(ctx, LookupTitle, url)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Shortener landing", title.Value, "kinds must not collide for the same URL")

	// Overwrite
	err = cache.SaveResolution(ctx, Resolution{URL: url, Kind: LookupTitle, Value: "Updated"})
	require.NoError(t, err)
	title, _, err = cache.GetResolution(ctx, LookupTitle, url)
	require.NoError(t, err)
	assert.Equal(t, "Updated", title.Value)
}

func TestBadgerCache_Delete(t *testing.T) {
	cache, cleanup := setupTestCache(t, time.Hour)
	defer cleanup()

	ctx := context.Background()
	url := "https://example.com/to_delete"

	require.NoError(t, cache.SaveResolution(ctx, Resolution{URL: url, Kind: LookupTitle, Value: "Delete Me"}))
	require.NoError(t, cache.DeleteResolution(ctx, LookupTitle, url))

	_, found, err := cache.GetResolution(ctx, LookupTitle, url)
	require.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, cache.DeleteResolution(ctx, LookupTitle, url), "deleting a missing entry should not error")
}
