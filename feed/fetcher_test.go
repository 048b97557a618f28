package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetcher_ParseRSS2(t *testing.T) {
	data, err := os.ReadFile("testdata/rss2.xml")
	require.NoError(t, err)

	fetcher := NewFetcher()
	result, err := fetcher.Parse(string(data), "https://example.com/rss")
	require.NoError(t, err)

	assert.Equal(t, "Test RSS Feed", result.Title)
	require.NotNil(t, result.Description)
	assert.Equal(t, "A feed used by the parser tests", *result.Description)
	require.NotNil(t, result.SiteLink)
	assert.Equal(t, "https://example.com", *result.SiteLink)

	// The orphan item has no guid and no link, so it is dropped.
	require.Len(t, result.Entries, 3)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "Orphan Entry")

	// Newest first, undated last.
	assert.Equal(t, "First Test Entry", result.Entries[0].Title)
	assert.Equal(t, "Second Test Entry", result.Entries[1].Title)
	assert.Equal(t, "Third Test Entry", result.Entries[2].Title)
	assert.Nil(t, result.Entries[2].PublishedAt)

	// Explicit guid wins, link is the fallback.
	assert.Equal(t, "entry-1", result.Entries[0].GUID)
	assert.Equal(t, "https://example.com/entry-2", result.Entries[1].GUID)

	// HTML is stripped from summaries.
	require.NotNil(t, result.Entries[0].Summary)
	assert.Equal(t, "This is the first test entry.", *result.Entries[0].Summary)
}

func TestFetcher_ParseAtom(t *testing.T) {
	data, err := os.ReadFile("testdata/atom.xml")
	require.NoError(t, err)

	fetcher := NewFetcher()
	result, err := fetcher.Parse(string(data), "https://example.com/atom")
	require.NoError(t, err)

	assert.Equal(t, "Test Atom Feed", result.Title)
	require.Len(t, result.Entries, 2)
	assert.Empty(t, result.Warnings)

	assert.Equal(t, "First Atom Entry", result.Entries[0].Title)
	assert.Equal(t, "atom-entry-1", result.Entries[0].GUID)
	require.NotNil(t, result.Entries[0].Link)
	assert.Equal(t, "https://example.com/atom-entry-1", *result.Entries[0].Link)
	require.NotNil(t, result.Entries[0].Summary)
	assert.Contains(t, *result.Entries[0].Summary, "HTML content")
	require.NotNil(t, result.Entries[0].PublishedAt)

	// The second entry only carries <updated>, which serves as the
	// publication time.
	require.NotNil(t, result.Entries[1].PublishedAt)
	assert.True(t, result.Entries[0].PublishedAt.After(*result.Entries[1].PublishedAt))
}

func TestFetcher_ParseTruncated(t *testing.T) {
	data, err := os.ReadFile("testdata/truncated.xml")
	require.NoError(t, err)

	fetcher := NewFetcher()
	result, err := fetcher.Parse(string(data), "https://example.com/rss")
	require.NoError(t, err)

	assert.Equal(t, "Truncated Feed", result.Title)
	require.Len(t, result.Entries, 2)
	assert.Equal(t, "t-1", result.Entries[0].GUID)
	assert.Equal(t, "t-2", result.Entries[1].GUID)

	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "formatting issues")
}

func TestFetcher_ParseNotAFeed(t *testing.T) {
	fetcher := NewFetcher()

	cases := []string{
		"",
		"<html><body>not a feed</body></html>",
		"<?xml version='1.0'?><root><thing>plain xml</thing></root>",
	}
	for _, content := range cases {
		_, err := fetcher.Parse(content, "https://example.com/rss")
		require.Error(t, err)

		var perr *ParseError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, KindNotAFeed, perr.Kind)
	}
}

func TestValidateURL(t *testing.T) {
	assert.NoError(t, ValidateURL("https://example.com/rss"))
	assert.NoError(t, ValidateURL("http://example.com/rss"))

	for _, bad := range []string{
		"",
		"example.com/rss",
		"ftp://example.com/rss",
		"https://",
	} {
		err := ValidateURL(bad)
		require.Error(t, err, "URL %q should be rejected", bad)

		var perr *ParseError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, KindInvalidURL, perr.Kind)
	}
}

func TestFetcher_Fetch(t *testing.T) {
	data, err := os.ReadFile("testdata/rss2.xml")
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write(data)
	}))
	defer srv.Close()

	fetcher := NewFetcher()
	result, err := fetcher.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Test RSS Feed", result.Title)
	assert.Len(t, result.Entries, 3)
}

func TestFetcher_FetchStatusErrors(t *testing.T) {
	tests := []struct {
		status int
		kind   ErrorKind
	}{
		{http.StatusUnauthorized, KindAuthRequired},
		{http.StatusForbidden, KindAuthRequired},
		{http.StatusNotFound, KindUnreachable},
		{http.StatusInternalServerError, KindUnreachable},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))

		fetcher := NewFetcher()
		_, err := fetcher.Fetch(context.Background(), srv.URL)
		srv.Close()
		require.Error(t, err)

		var perr *ParseError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, tt.kind, perr.Kind, "status %d", tt.status)
		assert.Equal(t, tt.status, perr.Status)
	}
}

func TestFetcher_FetchInvalidURL(t *testing.T) {
	fetcher := NewFetcher()
	_, err := fetcher.Fetch(context.Background(), "not-a-url")

	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindInvalidURL, perr.Kind)
}

func TestResult_Snapshot(t *testing.T) {
	result := &Result{Entries: make([]Entry, 10)}

	assert.Len(t, result.Snapshot(5), 5)
	assert.Len(t, result.Snapshot(10), 10)
	assert.Len(t, result.Snapshot(50), 10)
	assert.Len(t, result.Snapshot(0), 10)
}
