package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josdijkstraco/rssfeed-agent/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func strp(s string) *string { return &s }

func timep(t time.Time) *time.Time { return &t }

func TestOpen(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	require.NotNil(t, s)
	require.NoError(t, s.Close())
}

func TestStore_UseAfterClose(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.ListFeeds(context.Background())
	assert.ErrorIs(t, err, model.ErrNotInitialized)

	err = s.AddFeed(context.Background(), &model.Feed{URL: "https://example.com/rss"})
	assert.ErrorIs(t, err, model.ErrNotInitialized)
}

func TestStore_AddAndGetFeed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	feed := &model.Feed{
		URL:         "https://example.com/rss",
		Title:       "Example Feed",
		Description: strp("All about examples"),
		SiteLink:    strp("https://example.com"),
		IsActive:    true,
	}
	require.NoError(t, s.AddFeed(ctx, feed))
	assert.NotZero(t, feed.ID)
	assert.False(t, feed.CreatedAt.IsZero())

	got, err := s.GetFeedByID(ctx, feed.ID)
	require.NoError(t, err)
	assert.Equal(t, feed.URL, got.URL)
	assert.Equal(t, feed.Title, got.Title)
	require.NotNil(t, got.Description)
	assert.Equal(t, "All about examples", *got.Description)
	assert.True(t, got.IsActive)
	assert.Nil(t, got.LastFetchedAt)
	assert.Zero(t, got.ErrorCount)

	byURL, err := s.GetFeedByURL(ctx, feed.URL)
	require.NoError(t, err)
	assert.Equal(t, feed.ID, byURL.ID)
}

func TestStore_GetFeedNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetFeedByID(ctx, 9999)
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = s.GetFeedByURL(ctx, "https://nowhere.example.com/rss")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestStore_AddFeedDuplicateURL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &model.Feed{URL: "https://example.com/rss", Title: "First", IsActive: true}
	require.NoError(t, s.AddFeed(ctx, first))

	dup := &model.Feed{URL: "https://example.com/rss", Title: "Second", IsActive: true}
	err := s.AddFeed(ctx, dup)
	assert.ErrorIs(t, err, model.ErrConflict)

	feeds, err := s.ListFeeds(ctx)
	require.NoError(t, err)
	assert.Len(t, feeds, 1)
}

func TestStore_AddFeedValidation(t *testing.T) {
	s := newTestStore(t)
	err := s.AddFeed(context.Background(), &model.Feed{Title: "No URL"})
	assert.Error(t, err)
}

func TestStore_ConcurrentAddSameURL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	conflicts := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f := &model.Feed{URL: "https://example.com/rss", Title: "Racer", IsActive: true}
			if err := s.AddFeed(ctx, f); err != nil {
				conflicts <- err
			}
		}()
	}
	wg.Wait()
	close(conflicts)

	failed := 0
	for err := range conflicts {
		assert.ErrorIs(t, err, model.ErrConflict)
		failed++
	}
	assert.Equal(t, 9, failed, "exactly one concurrent add should win")

	feeds, err := s.ListFeeds(ctx)
	require.NoError(t, err)
	assert.Len(t, feeds, 1)
}

func TestStore_SubscribeAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	feed := &model.Feed{URL: "https://example.com/rss", Title: "Example", IsActive: true}
	entries := []model.Entry{
		{GUID: "a", Title: "A", FetchedAt: time.Now()},
		{GUID: "b", Title: "B", FetchedAt: time.Now()},
	}
	inserted, err := s.Subscribe(ctx, feed, entries)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)
	assert.NotZero(t, feed.ID)

	count, err := s.CountEntriesForFeed(ctx, feed.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// A conflicting subscribe leaves nothing behind.
	dup := &model.Feed{URL: "https://example.com/rss", Title: "Again", IsActive: true}
	_, err = s.Subscribe(ctx, dup, []model.Entry{{GUID: "c", Title: "C", FetchedAt: time.Now()}})
	assert.ErrorIs(t, err, model.ErrConflict)

	feeds, err := s.ListFeeds(ctx)
	require.NoError(t, err)
	require.Len(t, feeds, 1)
	count, err = s.CountEntriesForFeed(ctx, feed.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestStore_ListFeedsOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	older := &model.Feed{URL: "https://a.example.com/rss", Title: "Older", IsActive: true, CreatedAt: base}
	newer := &model.Feed{URL: "https://b.example.com/rss", Title: "Newer", IsActive: true, CreatedAt: base.Add(time.Hour)}
	require.NoError(t, s.AddFeed(ctx, older))
	require.NoError(t, s.AddFeed(ctx, newer))

	feeds, err := s.ListFeeds(ctx)
	require.NoError(t, err)
	require.Len(t, feeds, 2)
	assert.Equal(t, "Newer", feeds[0].Title)
	assert.Equal(t, "Older", feeds[1].Title)
}

func TestStore_ActiveFeeds(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	active := &model.Feed{URL: "https://a.example.com/rss", Title: "Active", IsActive: true}
	inactive := &model.Feed{URL: "https://b.example.com/rss", Title: "Paused", IsActive: false}
	require.NoError(t, s.AddFeed(ctx, active))
	require.NoError(t, s.AddFeed(ctx, inactive))

	feeds, err := s.ActiveFeeds(ctx)
	require.NoError(t, err)
	require.Len(t, feeds, 1)
	assert.Equal(t, "Active", feeds[0].Title)
}

func TestStore_FindFeedsByIdentifier(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddFeed(ctx, &model.Feed{URL: "https://hn.example.com/rss", Title: "Hacker News", IsActive: true}))
	require.NoError(t, s.AddFeed(ctx, &model.Feed{URL: "https://lobsters.example.com/rss", Title: "Lobsters News", IsActive: true}))

	// Exact URL.
	feeds, err := s.FindFeedsByIdentifier(ctx, "https://hn.example.com/rss")
	require.NoError(t, err)
	require.Len(t, feeds, 1)
	assert.Equal(t, "Hacker News", feeds[0].Title)

	// Case-insensitive title fragment.
	feeds, err = s.FindFeedsByIdentifier(ctx, "hacker")
	require.NoError(t, err)
	require.Len(t, feeds, 1)

	// Fragment shared by both titles.
	feeds, err = s.FindFeedsByIdentifier(ctx, "news")
	require.NoError(t, err)
	assert.Len(t, feeds, 2)

	// No match.
	feeds, err = s.FindFeedsByIdentifier(ctx, "nonexistent")
	require.NoError(t, err)
	assert.Empty(t, feeds)
}

func TestStore_DeleteFeedCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	feed := &model.Feed{URL: "https://example.com/rss", Title: "Example", IsActive: true}
	_, err := s.Subscribe(ctx, feed, []model.Entry{
		{GUID: "a", Title: "A", FetchedAt: time.Now()},
		{GUID: "b", Title: "B", FetchedAt: time.Now()},
	})
	require.NoError(t, err)

	deleted, err := s.DeleteFeed(ctx, feed.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	count, err := s.CountEntriesForFeed(ctx, feed.ID)
	require.NoError(t, err)
	assert.Zero(t, count, "entries should be removed with their feed")

	deleted, err = s.DeleteFeed(ctx, feed.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestStore_FetchBookkeeping(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	feed := &model.Feed{URL: "https://example.com/rss", Title: "Example", IsActive: true}
	require.NoError(t, s.AddFeed(ctx, feed))

	// Each failure increments by exactly one.
	require.NoError(t, s.RecordFetchFailure(ctx, feed.ID, "timeout"))
	require.NoError(t, s.RecordFetchFailure(ctx, feed.ID, "HTTP 500"))

	got, err := s.GetFeedByID(ctx, feed.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ErrorCount)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "HTTP 500", *got.LastError)
	assert.True(t, got.Erroring())

	// Success resets the streak and stamps the fetch time.
	when := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordFetchSuccess(ctx, feed.ID, when))

	got, err = s.GetFeedByID(ctx, feed.ID)
	require.NoError(t, err)
	assert.Zero(t, got.ErrorCount)
	assert.Nil(t, got.LastError)
	require.NotNil(t, got.LastFetchedAt)
	assert.True(t, when.Equal(*got.LastFetchedAt))
	assert.False(t, got.Erroring())
}
