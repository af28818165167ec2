package analytics

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestStore(t *testing.T) *FileStore {
	s := NewFileStore(filepath.Join(t.TempDir(), "analytics.json"), zaptest.NewLogger(t))
	s.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestParseEvent(t *testing.T) {
	e, err := ParseEvent("imageShare")
	require.NoError(t, err)
	assert.Equal(t, ImageShare, e)

	_, err = ParseEvent("interactions")
	assert.ErrorIs(t, err, ErrUnknownEvent)
	_, err = ParseEvent("")
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestFileStore_TrackEveryEvent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	events := []Event{PageView, PageView, PhotoUpload, DOICompletion, ModerationPassed, ModerationFlagged,
		HowItWorksClick, DirectContestClick, ImageDownload, ImageShare}
	for _, e := range events {
		require.NoError(t, s.Track(ctx, e))
	}

	c := s.Snapshot()
	assert.Equal(t, int64(2), c.PageViews)
	assert.Equal(t, int64(1), c.PhotoUploads)
	assert.Equal(t, int64(1), c.DOICompletions)
	assert.Equal(t, int64(1), c.ModerationPassed)
	assert.Equal(t, int64(1), c.ModerationFlagged)
	assert.Equal(t, int64(1), c.HowItWorksClicks)
	assert.Equal(t, int64(1), c.DirectContestClicks)
	assert.Equal(t, int64(1), c.ImageDownloads)
	assert.Equal(t, int64(1), c.ImageShares)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), c.LastUpdated)
}

func TestFileStore_UnknownEvent(t *testing.T) {
	s := newTestStore(t)
	assert.ErrorIs(t, s.Track(context.Background(), Event("bogus")), ErrUnknownEvent)
}

func TestFileStore_PersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "analytics.json")

	first := NewFileStore(path, nil)
	require.NoError(t, first.Track(ctx, PhotoUpload))

	second := NewFileStore(path, nil)
	assert.Equal(t, int64(1), second.Snapshot().PhotoUploads)
}

func TestFileStore_CorruptFileStartsFromZero(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.path, []byte("garbage"), 0o644))

	require.NoError(t, s.Track(ctx, PageView))
	assert.Equal(t, int64(1), s.Snapshot().PageViews)
}

func TestFileStore_Reset(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Track(ctx, PageView))

	c, err := s.Reset()
	require.NoError(t, err)
	assert.Zero(t, c.PageViews)
	assert.Zero(t, s.Snapshot().PageViews)
}

func TestFileStore_ConcurrentTracking(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Track(ctx, ImageDownload))
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(25), s.Snapshot().ImageDownloads)
}
