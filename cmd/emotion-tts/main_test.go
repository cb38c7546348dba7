package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/emotion-tts/internal/cache"
	"github.com/book-expert/emotion-tts/internal/core"
	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLogFile = "emotion-tts-test.log"

var errCountFailed = errors.New("count failed")

type unreachableStore struct {
	*cache.MemoryStore
}

func (unreachableStore) Count(context.Context) (int, error) {
	return 0, errCountFailed
}

func newReportLogger(t *testing.T) (*logger.Logger, string) {
	t.Helper()

	logDir := t.TempDir()

	log, err := logger.New(logDir, testLogFile)
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	return log, filepath.Join(logDir, testLogFile)
}

func readLog(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	return string(data)
}

// TestReportCache verifies the startup report counts total and idle entries.
func TestReportCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := cache.NewMemoryStore()
	now := time.Now()

	entries := []core.CacheEntry{
		{Key: "fresh", AudioURL: "https://cdn.test/fresh.mp3", CreatedAt: now, LastAccessedAt: now},
		{
			Key:            "idle",
			AudioURL:       "https://cdn.test/idle.mp3",
			CreatedAt:      now.Add(-60 * 24 * time.Hour),
			LastAccessedAt: now.Add(-45 * 24 * time.Hour),
		},
	}

	for _, entry := range entries {
		_, err := store.Save(ctx, entry)
		require.NoError(t, err)
	}

	log, logPath := newReportLogger(t)

	reportCache(ctx, store, 30*24*time.Hour, log)

	assert.Contains(t, readLog(t, logPath), "Cache holds 2 entries, 1 idle longer than 720h0m0s")
}

// TestReportCache_CountFailure verifies a failing store only produces a warning.
func TestReportCache_CountFailure(t *testing.T) {
	t.Parallel()

	log, logPath := newReportLogger(t)

	reportCache(context.Background(), unreachableStore{MemoryStore: cache.NewMemoryStore()}, time.Hour, log)

	contents := readLog(t, logPath)
	assert.Contains(t, contents, "Failed to count cache entries")
	assert.NotContains(t, contents, "Cache holds")
}
