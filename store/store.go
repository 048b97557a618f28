// Package store is the sole reader and writer of persisted catalog
// state: feeds, their entries, and the full-text index over entry
// titles and summaries.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"

	"github.com/josdijkstraco/rssfeed-agent/model"
)

// timeLayout is a fixed-width RFC3339 variant so stored timestamps sort
// lexicographically. All times are stored in UTC.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store manages the SQLite database.
type Store struct {
	db *sqlx.DB
}

// Open opens the database at path, applies migrations, and returns a
// ready Store. Use ":memory:" for an in-memory database (useful for
// testing).
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	dbx, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serializes conflicting writes and keeps an
	// in-memory database from vanishing between pool connections.
	dbx.SetMaxOpenConns(1)

	if err := runMigrations(dbx); err != nil {
		dbx.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: dbx}, nil
}

// Close closes the database connection. The store is unusable afterward.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// conn guards every operation against use before Open or after Close.
func (s *Store) conn() (*sqlx.DB, error) {
	if s == nil || s.db == nil {
		return nil, model.ErrNotInitialized
	}
	return s.db, nil
}

// isUniqueViolation reports whether err is a SQLite uniqueness
// constraint failure.
func isUniqueViolation(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	// SQLITE_CONSTRAINT_UNIQUE and SQLITE_CONSTRAINT_PRIMARYKEY
	return serr.Code() == 2067 || serr.Code() == 1555
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullable(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

type feedRow struct {
	ID            int64          `db:"id"`
	URL           string         `db:"url"`
	Title         string         `db:"title"`
	Description   sql.NullString `db:"description"`
	SiteLink      sql.NullString `db:"site_link"`
	LastFetchedAt sql.NullString `db:"last_fetched_at"`
	ErrorCount    int            `db:"error_count"`
	LastError     sql.NullString `db:"last_error"`
	IsActive      bool           `db:"is_active"`
	CreatedAt     string         `db:"created_at"`
}

func (r feedRow) toModel() (model.Feed, error) {
	createdAt, err := parseTime(r.CreatedAt)
	if err != nil {
		return model.Feed{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	f := model.Feed{
		ID:          r.ID,
		URL:         r.URL,
		Title:       r.Title,
		Description: strPtr(r.Description),
		SiteLink:    strPtr(r.SiteLink),
		ErrorCount:  r.ErrorCount,
		LastError:   strPtr(r.LastError),
		IsActive:    r.IsActive,
		CreatedAt:   createdAt,
	}
	if r.LastFetchedAt.Valid {
		t, err := parseTime(r.LastFetchedAt.String)
		if err != nil {
			return model.Feed{}, fmt.Errorf("failed to parse last_fetched_at: %w", err)
		}
		f.LastFetchedAt = &t
	}
	return f, nil
}

func feedsFromRows(rows []feedRow) ([]model.Feed, error) {
	feeds := make([]model.Feed, 0, len(rows))
	for _, r := range rows {
		f, err := r.toModel()
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, f)
	}
	return feeds, nil
}

const feedColumns = `id, url, title, description, site_link, last_fetched_at, error_count, last_error, is_active, created_at`

// AddFeed inserts a new feed and assigns its id. A feed with the same
// URL already in the store fails with model.ErrConflict, enforced by the
// storage layer's uniqueness constraint.
func (s *Store) AddFeed(ctx context.Context, f *model.Feed) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if err := f.Validate(); err != nil {
		return err
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}

	res, err := db.ExecContext(ctx,
		`INSERT INTO feeds (url, title, description, site_link, last_fetched_at, error_count, last_error, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.URL, f.Title, nullable(f.Description), nullable(f.SiteLink),
		formatTimePtr(f.LastFetchedAt), f.ErrorCount, nullable(f.LastError),
		f.IsActive, formatTime(f.CreatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("feed URL already subscribed: %w", model.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert feed: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	f.ID = id
	return nil
}

// Subscribe atomically inserts a feed and its initial entries. It fails
// with model.ErrConflict if the URL is already subscribed, leaving no
// partial state behind. Returns the count of entries actually inserted;
// duplicates are silently skipped.
func (s *Store) Subscribe(ctx context.Context, f *model.Feed, entries []model.Entry) (int, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	if err := f.Validate(); err != nil {
		return 0, err
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO feeds (url, title, description, site_link, last_fetched_at, error_count, last_error, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.URL, f.Title, nullable(f.Description), nullable(f.SiteLink),
		formatTimePtr(f.LastFetchedAt), f.ErrorCount, nullable(f.LastError),
		f.IsActive, formatTime(f.CreatedAt),
	)
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("feed URL already subscribed: %w", model.ErrConflict)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to insert feed: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	for i := range entries {
		entries[i].FeedID = id
	}
	inserted, err := insertEntries(ctx, tx, entries)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit subscribe: %w", err)
	}
	f.ID = id
	return inserted, nil
}

// ListFeeds returns all feeds, most recently created first.
func (s *Store) ListFeeds(ctx context.Context) ([]model.Feed, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	var rows []feedRow
	err = db.SelectContext(ctx, &rows,
		`SELECT `+feedColumns+` FROM feeds ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query feeds: %w", err)
	}
	return feedsFromRows(rows)
}

// ActiveFeeds returns feeds eligible for polling in stable id order.
func (s *Store) ActiveFeeds(ctx context.Context) ([]model.Feed, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	var rows []feedRow
	err = db.SelectContext(ctx, &rows,
		`SELECT `+feedColumns+` FROM feeds WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query active feeds: %w", err)
	}
	return feedsFromRows(rows)
}

// GetFeedByURL looks up a feed by its canonical URL.
func (s *Store) GetFeedByURL(ctx context.Context, url string) (model.Feed, error) {
	db, err := s.conn()
	if err != nil {
		return model.Feed{}, err
	}

	var row feedRow
	err = db.GetContext(ctx, &row, `SELECT `+feedColumns+` FROM feeds WHERE url = ?`, url)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Feed{}, model.ErrNotFound
	}
	if err != nil {
		return model.Feed{}, fmt.Errorf("failed to get feed: %w", err)
	}
	return row.toModel()
}

// GetFeedByID looks up a feed by its id.
func (s *Store) GetFeedByID(ctx context.Context, id int64) (model.Feed, error) {
	db, err := s.conn()
	if err != nil {
		return model.Feed{}, err
	}

	var row feedRow
	err = db.GetContext(ctx, &row, `SELECT `+feedColumns+` FROM feeds WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Feed{}, model.ErrNotFound
	}
	if err != nil {
		return model.Feed{}, fmt.Errorf("failed to get feed: %w", err)
	}
	return row.toModel()
}

// FindFeedsByIdentifier matches feeds whose URL equals text exactly or
// whose title contains text case-insensitively. Disambiguation policy
// lives in the facade, not here.
func (s *Store) FindFeedsByIdentifier(ctx context.Context, text string) ([]model.Feed, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	var rows []feedRow
	err = db.SelectContext(ctx, &rows,
		`SELECT `+feedColumns+` FROM feeds WHERE url = ? OR title LIKE ? COLLATE NOCASE ORDER BY id`,
		text, "%"+text+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to find feeds: %w", err)
	}
	return feedsFromRows(rows)
}

// DeleteFeed deletes a feed and, via the schema-level cascade, all of
// its entries. Returns whether a row was actually removed.
func (s *Store) DeleteFeed(ctx context.Context, id int64) (bool, error) {
	db, err := s.conn()
	if err != nil {
		return false, err
	}

	res, err := db.ExecContext(ctx, `DELETE FROM feeds WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete feed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// RecordFetchSuccess marks a successful fetch: sets last_fetched_at,
// resets the error count, and clears the last error.
func (s *Store) RecordFetchSuccess(ctx context.Context, feedID int64, when time.Time) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx,
		`UPDATE feeds SET last_fetched_at = ?, error_count = 0, last_error = NULL WHERE id = ?`,
		formatTime(when), feedID)
	if err != nil {
		return fmt.Errorf("failed to record fetch success: %w", err)
	}
	return nil
}

// RecordFetchFailure increments the feed's error count by exactly one
// and stores the failure message.
func (s *Store) RecordFetchFailure(ctx context.Context, feedID int64, message string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx,
		`UPDATE feeds SET error_count = error_count + 1, last_error = ? WHERE id = ?`,
		message, feedID)
	if err != nil {
		return fmt.Errorf("failed to record fetch failure: %w", err)
	}
	return nil
}
