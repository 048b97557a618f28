// Package model defines the core data structures for the feed catalog.
package model

import (
	"errors"
	"time"
)

// Feed represents a subscribed RSS/Atom source.
type Feed struct {
	ID            int64      `json:"id"`
	URL           string     `json:"url"`
	Title         string     `json:"title"`
	Description   *string    `json:"description,omitempty"`
	SiteLink      *string    `json:"site_link,omitempty"`
	LastFetchedAt *time.Time `json:"last_fetched_at,omitempty"`
	ErrorCount    int        `json:"error_count"`
	LastError     *string    `json:"last_error,omitempty"`
	IsActive      bool       `json:"is_active"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Validate checks if the feed has required fields.
func (f *Feed) Validate() error {
	if f.URL == "" {
		return errors.New("feed URL is required")
	}
	return nil
}

// Erroring reports whether the feed's most recent fetches have failed.
func (f *Feed) Erroring() bool {
	return f.ErrorCount > 0
}

// Entry represents a single item belonging to a feed. Entries are
// deduplicated by (feed id, guid) and immutable after insertion except
// for the read flag.
type Entry struct {
	ID          int64      `json:"id"`
	FeedID      int64      `json:"feed_id"`
	GUID        string     `json:"guid"`
	Title       string     `json:"title"`
	Link        *string    `json:"link,omitempty"`
	Summary     *string    `json:"summary,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	IsRead      bool       `json:"is_read"`
	FetchedAt   time.Time  `json:"fetched_at"`
}

// IsUnread returns true if the entry hasn't been read.
func (e *Entry) IsUnread() bool {
	return !e.IsRead
}

// EntryWithFeed is an entry joined with its owning feed's title.
type EntryWithFeed struct {
	Entry
	FeedTitle string `json:"feed_title"`
}

// EntryFilter is the conjunction of optional constraints applied by
// RecentEntries and TotalEntries. A nil field means "no constraint".
type EntryFilter struct {
	FeedID     *int64
	Since      *time.Time
	Until      *time.Time
	UnreadOnly bool
}
