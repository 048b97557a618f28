package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/josdijkstraco/rssfeed-agent/model"
)

type entryRow struct {
	ID          int64          `db:"id"`
	FeedID      int64          `db:"feed_id"`
	GUID        string         `db:"guid"`
	Title       string         `db:"title"`
	Link        sql.NullString `db:"link"`
	Summary     sql.NullString `db:"summary"`
	PublishedAt sql.NullString `db:"published_at"`
	IsRead      bool           `db:"is_read"`
	FetchedAt   string         `db:"fetched_at"`
}

func (r entryRow) toModel() (model.Entry, error) {
	fetchedAt, err := parseTime(r.FetchedAt)
	if err != nil {
		return model.Entry{}, fmt.Errorf("failed to parse fetched_at: %w", err)
	}
	e := model.Entry{
		ID:        r.ID,
		FeedID:    r.FeedID,
		GUID:      r.GUID,
		Title:     r.Title,
		Link:      strPtr(r.Link),
		Summary:   strPtr(r.Summary),
		IsRead:    r.IsRead,
		FetchedAt: fetchedAt,
	}
	if r.PublishedAt.Valid {
		t, err := parseTime(r.PublishedAt.String)
		if err != nil {
			return model.Entry{}, fmt.Errorf("failed to parse published_at: %w", err)
		}
		e.PublishedAt = &t
	}
	return e, nil
}

type entryWithFeedRow struct {
	entryRow
	FeedTitle string `db:"feed_title"`
}

func entriesWithFeedFromRows(rows []entryWithFeedRow) ([]model.EntryWithFeed, error) {
	entries := make([]model.EntryWithFeed, 0, len(rows))
	for _, r := range rows {
		e, err := r.toModel()
		if err != nil {
			return nil, err
		}
		entries = append(entries, model.EntryWithFeed{Entry: e, FeedTitle: r.FeedTitle})
	}
	return entries, nil
}

const entryColumns = `entries.id, entries.feed_id, entries.guid, entries.title, entries.link, entries.summary, entries.published_at, entries.is_read, entries.fetched_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// insertEntries bulk-inserts entries inside an existing transaction,
// counting how many were actually new. An already-present (feed_id,
// guid) pair is skipped without touching the stored row, so re-ingesting
// a seen guid can never overwrite title, link, or summary.
func insertEntries(ctx context.Context, tx execer, entries []model.Entry) (int, error) {
	inserted := 0
	for _, e := range entries {
		if e.FetchedAt.IsZero() {
			e.FetchedAt = time.Now().UTC()
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO entries (feed_id, guid, title, link, summary, published_at, is_read, fetched_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(feed_id, guid) DO NOTHING`,
			e.FeedID, e.GUID, e.Title, nullable(e.Link), nullable(e.Summary),
			formatTimePtr(e.PublishedAt), e.IsRead, formatTime(e.FetchedAt),
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert entry: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to get rows affected: %w", err)
		}
		inserted += int(affected)
	}
	return inserted, nil
}

// MergeEntries inserts entries whose (feed id, guid) is new, atomically
// for the whole batch. Duplicates count as already present, not errors.
// Returns the number of entries actually inserted.
func (s *Store) MergeEntries(ctx context.Context, entries []model.Entry) (int, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	inserted, err := insertEntries(ctx, tx, entries)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit merge: %w", err)
	}
	return inserted, nil
}

// EntryExists reports whether an entry with the given guid is already
// stored for the feed.
func (s *Store) EntryExists(ctx context.Context, feedID int64, guid string) (bool, error) {
	db, err := s.conn()
	if err != nil {
		return false, err
	}

	var one int
	err = db.GetContext(ctx, &one, `SELECT 1 FROM entries WHERE feed_id = ? AND guid = ?`, feedID, guid)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check entry existence: %w", err)
	}
	return true, nil
}

// GetEntry retrieves a single entry with its feed title.
func (s *Store) GetEntry(ctx context.Context, id int64) (model.EntryWithFeed, error) {
	db, err := s.conn()
	if err != nil {
		return model.EntryWithFeed{}, err
	}

	var row entryWithFeedRow
	err = db.GetContext(ctx, &row,
		`SELECT `+entryColumns+`, feeds.title AS feed_title
		 FROM entries JOIN feeds ON entries.feed_id = feeds.id
		 WHERE entries.id = ?`, id)
	if err == sql.ErrNoRows {
		return model.EntryWithFeed{}, model.ErrNotFound
	}
	if err != nil {
		return model.EntryWithFeed{}, fmt.Errorf("failed to get entry: %w", err)
	}

	e, err := row.toModel()
	if err != nil {
		return model.EntryWithFeed{}, err
	}
	return model.EntryWithFeed{Entry: e, FeedTitle: row.FeedTitle}, nil
}

// applyFilter adds the filter's conjunction of optional constraints.
func applyFilter(b sq.SelectBuilder, filter model.EntryFilter) sq.SelectBuilder {
	if filter.FeedID != nil {
		b = b.Where(sq.Eq{"entries.feed_id": *filter.FeedID})
	}
	if filter.Since != nil {
		b = b.Where(sq.GtOrEq{"entries.published_at": formatTime(*filter.Since)})
	}
	if filter.Until != nil {
		b = b.Where(sq.LtOrEq{"entries.published_at": formatTime(*filter.Until)})
	}
	if filter.UnreadOnly {
		b = b.Where(sq.Eq{"entries.is_read": 0})
	}
	return b
}

// RecentEntries returns entries matching the filter ordered by published
// time descending with undated entries last.
func (s *Store) RecentEntries(ctx context.Context, filter model.EntryFilter, limit int) ([]model.EntryWithFeed, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	b := sq.Select(strings.Split(entryColumns, ", ")...).
		Column("feeds.title AS feed_title").
		From("entries").
		Join("feeds ON entries.feed_id = feeds.id").
		OrderBy("entries.published_at DESC NULLS LAST", "entries.id DESC")
	b = applyFilter(b, filter)
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %w", err)
	}

	var rows []entryWithFeedRow
	if err := db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	return entriesWithFeedFromRows(rows)
}

// TotalEntries answers the same filter as RecentEntries, unpaginated.
// Used to compute whether more results exist beyond a limit.
func (s *Store) TotalEntries(ctx context.Context, filter model.EntryFilter) (int, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}

	b := sq.Select("COUNT(*)").From("entries")
	b = applyFilter(b, filter)

	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("error constructing sql: %w", err)
	}

	var count int
	if err := db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return count, nil
}

// CountEntriesForFeed returns the number of entries stored for a feed.
func (s *Store) CountEntriesForFeed(ctx context.Context, feedID int64) (int, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}

	var count int
	err = db.GetContext(ctx, &count, `SELECT COUNT(*) FROM entries WHERE feed_id = ?`, feedID)
	if err != nil {
		return 0, fmt.Errorf("failed to count feed entries: %w", err)
	}
	return count, nil
}

// ftsQuery turns free text into an FTS5 MATCH expression. Each token is
// quoted so user input cannot produce match-syntax errors.
func ftsQuery(text string) string {
	fields := strings.Fields(text)
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, `""`)
		quoted = append(quoted, `"`+f+`"`)
	}
	return strings.Join(quoted, " ")
}

// SearchEntries runs a free-text relevance search over entry titles and
// summaries, best match first.
func (s *Store) SearchEntries(ctx context.Context, query string, limit int) ([]model.EntryWithFeed, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	match := ftsQuery(query)
	if match == "" {
		return []model.EntryWithFeed{}, nil
	}
	if limit <= 0 {
		limit = 20
	}

	var rows []entryWithFeedRow
	err = db.SelectContext(ctx, &rows,
		`SELECT `+entryColumns+`, feeds.title AS feed_title
		 FROM entries_fts
		 JOIN entries ON entries.id = entries_fts.rowid
		 JOIN feeds ON entries.feed_id = feeds.id
		 WHERE entries_fts MATCH ?
		 ORDER BY entries_fts.rank
		 LIMIT ?`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search entries: %w", err)
	}
	return entriesWithFeedFromRows(rows)
}

// MarkRead marks the given entries read. Idempotent: already-read
// entries are not touched. Returns the count of rows actually flipped.
func (s *Store) MarkRead(ctx context.Context, ids []int64) (int, error) {
	return s.setRead(ctx, ids, true)
}

// MarkUnread marks the given entries unread. Idempotent like MarkRead.
func (s *Store) MarkUnread(ctx context.Context, ids []int64) (int, error) {
	return s.setRead(ctx, ids, false)
}

func (s *Store) setRead(ctx context.Context, ids []int64, read bool) (int, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	query, args, err := sq.Update("entries").
		Set("is_read", read).
		Where(sq.Eq{"id": ids}).
		Where(sq.Eq{"is_read": !read}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("error constructing sql: %w", err)
	}

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update read state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(affected), nil
}

// MarkAllRead marks every unread entry in the catalog as read. Returns
// the count of rows actually flipped.
func (s *Store) MarkAllRead(ctx context.Context) (int, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}

	res, err := db.ExecContext(ctx, `UPDATE entries SET is_read = 1 WHERE is_read = 0`)
	if err != nil {
		return 0, fmt.Errorf("failed to mark all read: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(affected), nil
}

// MarkFeedRead marks every unread entry in a feed as read. Returns the
// count of rows actually flipped.
func (s *Store) MarkFeedRead(ctx context.Context, feedID int64) (int, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}

	res, err := db.ExecContext(ctx,
		`UPDATE entries SET is_read = 1 WHERE feed_id = ? AND is_read = 0`, feedID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark feed read: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(affected), nil
}
