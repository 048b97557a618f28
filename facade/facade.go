// Package facade is the thin command layer consumed by front-ends. It
// translates structured requests into store operations and shapes the
// results; it holds no state of its own beyond its two collaborators.
package facade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/josdijkstraco/rssfeed-agent/feed"
	"github.com/josdijkstraco/rssfeed-agent/model"
	"github.com/josdijkstraco/rssfeed-agent/store"
)

// SummaryPreviewLen bounds the summary length in item payloads.
const SummaryPreviewLen = 200

const defaultLimit = 20

// Facade exposes the catalog as commands. Both collaborators are
// explicit construction-time dependencies.
type Facade struct {
	store   *store.Store
	fetcher *feed.Fetcher
}

// New creates a Facade.
func New(s *store.Store, f *feed.Fetcher) *Facade {
	return &Facade{store: s, fetcher: f}
}

// Subscribe fetches the feed at url and adds it to the catalog together
// with an initial snapshot of its entries. Fetch and parse failures,
// and an already-subscribed URL, come back as error responses; only
// storage faults surface as Go errors.
func (f *Facade) Subscribe(ctx context.Context, url string) (*SubscribeResponse, error) {
	result, err := f.fetcher.Fetch(ctx, url)
	if err != nil {
		var perr *feed.ParseError
		if errors.As(err, &perr) {
			return &SubscribeResponse{Status: StatusError, Message: perr.Error()}, nil
		}
		return &SubscribeResponse{Status: StatusError, Message: err.Error()}, nil
	}

	newFeed := model.Feed{
		URL:         url,
		Title:       result.Title,
		Description: result.Description,
		SiteLink:    result.SiteLink,
		IsActive:    true,
	}

	now := time.Now().UTC()
	entries := lo.Map(result.Snapshot(feed.MaxSnapshotEntries), func(e feed.Entry, _ int) model.Entry {
		return model.Entry{
			GUID:        e.GUID,
			Title:       e.Title,
			Link:        e.Link,
			Summary:     e.Summary,
			PublishedAt: e.PublishedAt,
			FetchedAt:   now,
		}
	})

	inserted, err := f.store.Subscribe(ctx, &newFeed, entries)
	if errors.Is(err, model.ErrConflict) {
		return &SubscribeResponse{Status: StatusError, Message: "already subscribed to this feed"}, nil
	}
	if err != nil {
		return nil, err
	}

	return &SubscribeResponse{
		Status: StatusSubscribed,
		Feed: &SubscribedFeed{
			ID:          newFeed.ID,
			Title:       newFeed.Title,
			Description: newFeed.Description,
			URL:         newFeed.URL,
			ItemCount:   inserted,
		},
		Warnings: result.Warnings,
	}, nil
}

// ListFeeds returns every subscribed feed with its health status.
func (f *Facade) ListFeeds(ctx context.Context) (*ListFeedsResponse, error) {
	feeds, err := f.store.ListFeeds(ctx)
	if err != nil {
		return nil, err
	}

	summaries := lo.Map(feeds, func(fd model.Feed, _ int) FeedSummary {
		status := FeedStatusActive
		if fd.Erroring() {
			status = FeedStatusErroring
		}
		var lastFetched *string
		if fd.LastFetchedAt != nil {
			s := fd.LastFetchedAt.UTC().Format(time.RFC3339)
			lastFetched = &s
		}
		return FeedSummary{
			ID:            fd.ID,
			Title:         fd.Title,
			URL:           fd.URL,
			Status:        status,
			LastFetchedAt: lastFetched,
			ErrorCount:    fd.ErrorCount,
			LastError:     fd.LastError,
		}
	})

	return &ListFeedsResponse{Feeds: summaries, Total: len(summaries)}, nil
}

// GetItems returns entries matching the request filters, newest first,
// with a has_more flag computed against the unpaginated total.
func (f *Facade) GetItems(ctx context.Context, req GetItemsRequest) (*ItemsResponse, error) {
	filter := model.EntryFilter{UnreadOnly: req.UnreadOnly}

	if req.FeedIdentifier != "" {
		match, _, err := f.resolveFeed(ctx, req.FeedIdentifier)
		if err != nil {
			return itemsError(identifierMessage(req.FeedIdentifier, err)), nil
		}
		filter.FeedID = &match.ID
	}

	if req.Since != "" {
		t, err := parseISOTime(req.Since)
		if err != nil {
			return itemsError(fmt.Sprintf("invalid since date: %q", req.Since)), nil
		}
		filter.Since = &t
	}
	if req.Until != "" {
		t, err := parseISOTime(req.Until)
		if err != nil {
			return itemsError(fmt.Sprintf("invalid until date: %q", req.Until)), nil
		}
		filter.Until = &t
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	entries, err := f.store.RecentEntries(ctx, filter, limit)
	if err != nil {
		return nil, err
	}
	total, err := f.store.TotalEntries(ctx, filter)
	if err != nil {
		return nil, err
	}

	return &ItemsResponse{
		Items:   shapeItems(entries),
		Total:   total,
		HasMore: total > limit,
	}, nil
}

// SearchItems runs a relevance search over entry titles and summaries.
func (f *Facade) SearchItems(ctx context.Context, query string, limit int) (*ItemsResponse, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	entries, err := f.store.SearchEntries(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	return &ItemsResponse{
		Items:   shapeItems(entries),
		Total:   len(entries),
		HasMore: false,
	}, nil
}

// Unsubscribe removes the feed matching the identifier and, by cascade,
// all of its entries. An identifier matching several feeds fails with
// the candidate titles so the caller can clarify.
func (f *Facade) Unsubscribe(ctx context.Context, identifier string) (*UnsubscribeResponse, error) {
	match, matches, err := f.resolveFeed(ctx, identifier)
	if err != nil {
		return &UnsubscribeResponse{
			Status:  StatusError,
			Message: identifierMessage(identifier, err),
			Matches: matches,
		}, nil
	}

	if _, err := f.store.DeleteFeed(ctx, match.ID); err != nil {
		return nil, err
	}

	return &UnsubscribeResponse{Status: StatusUnsubscribed, FeedTitle: match.Title}, nil
}

// MarkRead marks specific entries and/or every entry of one feed as
// read. Idempotent: the reported count covers only rows actually
// flipped.
func (f *Facade) MarkRead(ctx context.Context, req MarkReadRequest) (*MarkResponse, error) {
	if len(req.ItemIDs) == 0 && req.FeedIdentifier == "" {
		return &MarkResponse{Status: StatusError, Message: "provide item_ids and/or feed_identifier"}, nil
	}

	totalMarked := 0

	if req.FeedIdentifier != "" {
		match, matches, err := f.resolveFeed(ctx, req.FeedIdentifier)
		if err != nil {
			return &MarkResponse{
				Status:  StatusError,
				Message: identifierMessage(req.FeedIdentifier, err),
				Matches: matches,
			}, nil
		}
		marked, err := f.store.MarkFeedRead(ctx, match.ID)
		if err != nil {
			return nil, err
		}
		totalMarked += marked
	}

	if len(req.ItemIDs) > 0 {
		marked, err := f.store.MarkRead(ctx, req.ItemIDs)
		if err != nil {
			return nil, err
		}
		totalMarked += marked
	}

	return &MarkResponse{Status: StatusSuccess, ItemsMarked: totalMarked}, nil
}

// MarkUnread marks the given entries unread.
func (f *Facade) MarkUnread(ctx context.Context, itemIDs []int64) (*MarkResponse, error) {
	if len(itemIDs) == 0 {
		return &MarkResponse{Status: StatusError, Message: "provide item_ids"}, nil
	}

	marked, err := f.store.MarkUnread(ctx, itemIDs)
	if err != nil {
		return nil, err
	}
	return &MarkResponse{Status: StatusSuccess, ItemsMarked: marked}, nil
}

// resolveFeed maps a title-or-URL identifier to exactly one feed. The
// same policy applies to every command: when several feeds match, a
// single exact-URL match wins; anything else is ambiguous and the
// candidate titles are returned for clarification.
func (f *Facade) resolveFeed(ctx context.Context, identifier string) (model.Feed, []string, error) {
	matches, err := f.store.FindFeedsByIdentifier(ctx, identifier)
	if err != nil {
		return model.Feed{}, nil, err
	}
	if len(matches) == 0 {
		return model.Feed{}, nil, model.ErrNotFound
	}
	if len(matches) == 1 {
		return matches[0], nil, nil
	}

	exact := lo.Filter(matches, func(fd model.Feed, _ int) bool {
		return fd.URL == identifier
	})
	if len(exact) == 1 {
		return exact[0], nil, nil
	}

	titles := lo.Map(matches, func(fd model.Feed, _ int) string { return fd.Title })
	return model.Feed{}, titles, model.ErrAmbiguous
}

func identifierMessage(identifier string, err error) string {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return fmt.Sprintf("no feed found matching %q", identifier)
	case errors.Is(err, model.ErrAmbiguous):
		return fmt.Sprintf("multiple feeds match %q, please be more specific", identifier)
	default:
		return err.Error()
	}
}

func itemsError(message string) *ItemsResponse {
	return &ItemsResponse{Status: StatusError, Message: message, Items: []Item{}}
}

func shapeItems(entries []model.EntryWithFeed) []Item {
	return lo.Map(entries, func(e model.EntryWithFeed, _ int) Item {
		var published *string
		if e.PublishedAt != nil {
			s := e.PublishedAt.UTC().Format(time.RFC3339)
			published = &s
		}
		return Item{
			ID:          e.ID,
			FeedTitle:   e.FeedTitle,
			Title:       e.Title,
			Link:        e.Link,
			Summary:     truncate(e.Summary, SummaryPreviewLen),
			PublishedAt: published,
			IsRead:      e.IsRead,
		}
	})
}

// truncate bounds s to n runes so multi-byte text is never cut
// mid-character.
func truncate(s *string, n int) string {
	if s == nil {
		return ""
	}
	runes := []rune(*s)
	if len(runes) <= n {
		return *s
	}
	return string(runes[:n])
}

// parseISOTime accepts full RFC3339 timestamps and bare ISO dates.
func parseISOTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
