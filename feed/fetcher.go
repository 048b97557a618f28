// Package feed fetches RSS/Atom documents and normalizes them into a
// canonical representation: feed metadata plus an ordered list of
// candidate entries and any warnings collected along the way.
package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
)

// MaxSnapshotEntries bounds the initial import when first subscribing to
// a feed. Steady-state polling merges are never truncated.
const MaxSnapshotEntries = 50

const maxSummaryLen = 2048

// Entry is a normalized candidate entry. It is transient value data:
// nothing owns it until the store merges it.
type Entry struct {
	GUID        string
	Title       string
	Link        *string
	Summary     *string
	PublishedAt *time.Time
}

// Result is the normalized form of one fetched feed document.
type Result struct {
	Title       string
	Description *string
	SiteLink    *string
	Entries     []Entry
	Warnings    []string
}

// Snapshot returns at most n entries, newest first. Used to cap the
// first-subscription import cost.
func (r *Result) Snapshot(n int) []Entry {
	if n <= 0 || len(r.Entries) <= n {
		return r.Entries
	}
	return r.Entries[:n]
}

// Fetcher retrieves and normalizes RSS/Atom feeds.
type Fetcher struct {
	client *http.Client
	parser *gofeed.Parser
	strip  *bluemonday.Policy
}

// NewFetcher creates a new Fetcher.
func NewFetcher() *Fetcher {
	return &Fetcher{
		client: &http.Client{Timeout: 15 * time.Second},
		parser: gofeed.NewParser(),
		strip:  bluemonday.StrictPolicy(),
	}
}

// ValidateURL fails unless the URL has an explicit http or https scheme
// and a non-empty host.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return &ParseError{Kind: KindInvalidURL, cause: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ParseError{Kind: KindInvalidURL}
	}
	if u.Host == "" {
		return &ParseError{Kind: KindInvalidURL}
	}
	return nil
}

type fetchResult struct {
	status int
	body   []byte
}

// Fetch retrieves the document at url and normalizes it.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	if err := ValidateURL(rawURL); err != nil {
		return nil, err
	}

	// Retry transport-level failures a couple of times. HTTP error
	// statuses are answers, not transient failures, so they pass through.
	op := func() (fetchResult, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return fetchResult{}, backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", "rssfeed-agent/1.0")

		resp, err := f.client.Do(req)
		if err != nil {
			return fetchResult{}, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fetchResult{}, err
		}
		return fetchResult{status: resp.StatusCode, body: body}, nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	res, err := backoff.RetryWithData(op, bo)
	if err != nil {
		return nil, &ParseError{Kind: KindUnreachable, cause: err}
	}

	if res.status == http.StatusUnauthorized || res.status == http.StatusForbidden {
		return nil, &ParseError{Kind: KindAuthRequired, Status: res.status}
	}
	if res.status >= 400 {
		return nil, &ParseError{Kind: KindUnreachable, Status: res.status}
	}

	return f.Parse(string(res.body), rawURL)
}

// Parse normalizes a raw feed document. Recoverable formatting defects
// produce warnings instead of failures; a document from which no
// feed-level title can be recovered fails with KindNotAFeed.
func (f *Fetcher) Parse(content, sourceURL string) (*Result, error) {
	var warnings []string

	parsed, err := f.parser.ParseString(content)
	if err != nil {
		// The document may be damaged at the tail (truncated uploads,
		// bad encodings mid-stream). Cut it back to the last complete
		// item and try again before giving up.
		salvaged, ok := salvage(content)
		if ok {
			if reparsed, rerr := f.parser.ParseString(salvaged); rerr == nil {
				warnings = append(warnings, fmt.Sprintf("feed has formatting issues: %v", err))
				parsed = reparsed
			}
		}
		if parsed == nil {
			return nil, &ParseError{Kind: KindNotAFeed, cause: err}
		}
	}

	if parsed.Title == "" {
		return nil, &ParseError{Kind: KindNotAFeed}
	}

	result := &Result{
		Title:    f.sanitize(parsed.Title),
		Warnings: warnings,
	}
	if desc := f.sanitize(parsed.Description); desc != "" {
		result.Description = &desc
	}
	if parsed.Link != "" {
		link := parsed.Link
		result.SiteLink = &link
	}
	result.Entries = f.extractEntries(parsed.Items, &result.Warnings)

	return result, nil
}

// extractEntries converts gofeed items to normalized entries, sorted by
// published time descending with undated entries last.
func (f *Fetcher) extractEntries(items []*gofeed.Item, warnings *[]string) []Entry {
	var entries []Entry
	for _, item := range items {
		if item == nil {
			continue
		}

		// The identifier is the first available of the explicit id/guid
		// and the entry link. No identifier means no dedup key, so the
		// entry is dropped rather than stored under a synthetic one.
		guid := item.GUID
		if guid == "" {
			guid = item.Link
		}
		if guid == "" {
			title := item.Title
			if title == "" {
				title = "unknown"
			}
			*warnings = append(*warnings, fmt.Sprintf("skipping entry with no identifier: %s", title))
			continue
		}

		entry := Entry{
			GUID:  guid,
			Title: f.sanitize(item.Title),
		}
		if entry.Title == "" {
			entry.Title = "Untitled"
		}
		if item.Link != "" {
			link := item.Link
			entry.Link = &link
		}

		summary := item.Description
		if summary == "" {
			summary = item.Content
		}
		if summary = f.sanitize(summary); summary != "" {
			entry.Summary = &summary
		}

		if item.PublishedParsed != nil {
			t := *item.PublishedParsed
			entry.PublishedAt = &t
		} else if item.UpdatedParsed != nil {
			t := *item.UpdatedParsed
			entry.PublishedAt = &t
		}

		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return publishedOrZero(entries[i]).After(publishedOrZero(entries[j]))
	})

	return entries
}

func publishedOrZero(e Entry) time.Time {
	if e.PublishedAt == nil {
		return time.Time{}
	}
	return *e.PublishedAt
}

// sanitize removes html tags from the string, usually a title or
// description, and bounds its length.
func (f *Fetcher) sanitize(s string) string {
	s = f.strip.Sanitize(s)
	s = strings.TrimSpace(s)
	if len(s) > maxSummaryLen {
		s = s[:maxSummaryLen]
	}
	return s
}

// salvage truncates a damaged document after its last complete item so
// the well-formed prefix can be reparsed. Returns false when there is no
// complete item to fall back to.
func salvage(content string) (string, bool) {
	type shape struct {
		itemClose string
		suffix    string
	}
	for _, s := range []shape{
		{itemClose: "</item>", suffix: "</channel></rss>"},
		{itemClose: "</entry>", suffix: "</feed>"},
	} {
		idx := strings.LastIndex(content, s.itemClose)
		if idx < 0 {
			continue
		}
		return content[:idx+len(s.itemClose)] + s.suffix, true
	}
	return "", false
}
