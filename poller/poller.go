// Package poller runs the recurring ingestion loop: fetch every active
// feed, merge new entries into the store, and keep per-feed health
// bookkeeping current.
package poller

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/josdijkstraco/rssfeed-agent/feed"
	"github.com/josdijkstraco/rssfeed-agent/model"
	"github.com/josdijkstraco/rssfeed-agent/store"
)

// DefaultInterval is the pause between poll cycles.
const DefaultInterval = 900 * time.Second

const defaultConcurrency = 8

// Poller drives periodic ingestion for all active feeds.
type Poller struct {
	store       *store.Store
	fetcher     *feed.Fetcher
	interval    time.Duration
	concurrency int
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval overrides the pause between cycles.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithConcurrency bounds how many feeds are fetched at once in a cycle.
func WithConcurrency(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// New creates a Poller. Both collaborators are explicit dependencies;
// the poller holds no global state.
func New(s *store.Store, f *feed.Fetcher, opts ...Option) *Poller {
	p := &Poller{
		store:       s,
		fetcher:     f,
		interval:    DefaultInterval,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunCycle polls every active feed once, in stable id order. Feeds are
// fetched concurrently under a semaphore so one slow source cannot stall
// the rest, and one feed's failure never aborts the cycle. Returns the
// total count of newly inserted entries.
func (p *Poller) RunCycle(ctx context.Context) (int, error) {
	feeds, err := p.store.ActiveFeeds(ctx)
	if err != nil {
		return 0, err
	}

	var (
		mu       sync.Mutex
		totalNew int
		wg       sync.WaitGroup
	)
	sem := make(chan struct{}, p.concurrency)

	for _, f := range feeds {
		if ctx.Err() != nil {
			// Cooperative shutdown: feeds not yet visited are simply
			// skipped. A partially completed cycle is valid state.
			break
		}

		wg.Add(1)
		go func(f model.Feed) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			inserted := p.pollFeed(ctx, f)
			mu.Lock()
			totalNew += inserted
			mu.Unlock()
		}(f)
	}

	wg.Wait()
	return totalNew, nil
}

// pollFeed fetches one feed and merges its entries, recording success or
// failure against the feed's health counters.
func (p *Poller) pollFeed(ctx context.Context, f model.Feed) int {
	logger := log.WithFields(log.Fields{"feed_id": f.ID, "feed": f.Title})

	result, err := p.fetcher.Fetch(ctx, f.URL)
	if err != nil {
		logger.WithError(err).Warn("Feed fetch failed")
		if rerr := p.store.RecordFetchFailure(ctx, f.ID, err.Error()); rerr != nil {
			logger.WithError(rerr).Error("Failed to record fetch failure")
		}
		return 0
	}

	entries := make([]model.Entry, 0, len(result.Entries))
	now := time.Now().UTC()
	for _, e := range result.Entries {
		entries = append(entries, model.Entry{
			FeedID:      f.ID,
			GUID:        e.GUID,
			Title:       e.Title,
			Link:        e.Link,
			Summary:     e.Summary,
			PublishedAt: e.PublishedAt,
			FetchedAt:   now,
		})
	}

	inserted, err := p.store.MergeEntries(ctx, entries)
	if err != nil {
		logger.WithError(err).Warn("Feed merge failed")
		if rerr := p.store.RecordFetchFailure(ctx, f.ID, err.Error()); rerr != nil {
			logger.WithError(rerr).Error("Failed to record fetch failure")
		}
		return 0
	}

	if err := p.store.RecordFetchSuccess(ctx, f.ID, now); err != nil {
		logger.WithError(err).Error("Failed to record fetch success")
	}

	if inserted > 0 {
		logger.WithField("new_entries", inserted).Info("Feed updated")
	}
	return inserted
}

// Run repeats RunCycle on the configured interval until ctx is
// cancelled. A failed cycle is logged and the loop continues; the poller
// is never fatal from a single bad feed or a single bad cycle.
func (p *Poller) Run(ctx context.Context) error {
	log.WithField("interval", p.interval).Info("Poller started")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		newCount, err := p.RunCycle(ctx)
		if err != nil {
			log.WithError(err).Error("Poll cycle failed")
		} else if newCount > 0 {
			log.WithField("new_entries", newCount).Info("Poll cycle complete")
		}

		select {
		case <-ctx.Done():
			log.Info("Poller stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
