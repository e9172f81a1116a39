package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/azure/discussion-pulse/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Options tunes derived statistics
type Options struct {
	TrendingThreshold int
}

// SQLiteStore is the Repository backed by a single SQLite database file
type SQLiteStore struct {
	db                *sql.DB
	path              string
	trendingThreshold int
	now               func() time.Time
}

// Ensure SQLiteStore implements Repository
var _ Repository = (*SQLiteStore)(nil)

// OpenSQLite creates or opens the database at path and applies pending migrations
func OpenSQLite(path string, opts Options) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serialises writers and keeps the pragmas below in effect.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	if opts.TrendingThreshold <= 0 {
		opts.TrendingThreshold = 50
	}

	logrus.Infof("Opened database %s", path)
	return &SQLiteStore{
		db:                db,
		path:              path,
		trendingThreshold: opts.TrendingThreshold,
		now:               time.Now,
	}, nil
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(logrus.StandardLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return goose.Up(db, "migrations")
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const keywordColumns = `keyword, fetch_status, auto_fetch, fetch_interval, next_scheduled_fetch, last_fetched,
	last_error, sentiment_positive, sentiment_negative, sentiment_neutral, volume, trending, top_subreddits,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKeyword(row rowScanner) (*models.Keyword, error) {
	var (
		k                  models.Keyword
		next, lastFetched  sql.NullInt64
		created, updated   int64
		topSubreddits      string
		autoFetch, trending bool
	)
	err := row.Scan(&k.Keyword, &k.FetchStatus, &autoFetch, &k.FetchInterval, &next, &lastFetched,
		&k.LastError, &k.Sentiment.Positive, &k.Sentiment.Negative, &k.Sentiment.Neutral, &k.Volume,
		&trending, &topSubreddits, &created, &updated)
	if err != nil {
		return nil, err
	}

	k.AutoFetch = autoFetch
	k.Trending = trending
	k.NextScheduledFetch = fromNullMillis(next)
	k.LastFetched = fromNullMillis(lastFetched)
	k.CreatedAt = fromMillis(created)
	k.UpdatedAt = fromMillis(updated)
	k.TopSubreddits = []models.ChannelStat{}
	if err := json.Unmarshal([]byte(topSubreddits), &k.TopSubreddits); err != nil {
		logrus.Warnf("Ignoring malformed top subreddits for %s: %v", k.Keyword, err)
		k.TopSubreddits = []models.ChannelStat{}
	}
	return &k, nil
}

// EnsureKeyword returns the keyword record, creating it in the pending state on first use
func (s *SQLiteStore) EnsureKeyword(ctx context.Context, keyword string, intervalHours int) (*models.Keyword, error) {
	now := toMillis(s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO keywords (keyword, fetch_status, auto_fetch, fetch_interval, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?, ?)
		ON CONFLICT(keyword) DO NOTHING`,
		keyword, models.StatusPending, intervalHours, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create keyword %s: %w", keyword, err)
	}
	return s.GetKeyword(ctx, keyword)
}

// GetKeyword returns ErrNotFound for unknown keywords
func (s *SQLiteStore) GetKeyword(ctx context.Context, keyword string) (*models.Keyword, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+keywordColumns+` FROM keywords WHERE keyword = ?`, keyword)
	k, err := scanKeyword(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("keyword %s: %w", keyword, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load keyword %s: %w", keyword, err)
	}
	return k, nil
}

// MarkProcessing moves the keyword into the processing state
func (s *SQLiteStore) MarkProcessing(ctx context.Context, keyword string) error {
	return s.updateKeyword(ctx, keyword,
		`fetch_status = ?, last_error = '', updated_at = ?`,
		models.StatusProcessing, toMillis(s.now()))
}

// MarkCompleted records a successful cycle and the next scheduled fetch
func (s *SQLiteStore) MarkCompleted(ctx context.Context, keyword string, fetchedAt, next time.Time) error {
	return s.updateKeyword(ctx, keyword,
		`fetch_status = ?, last_error = '', last_fetched = ?, next_scheduled_fetch = ?, updated_at = ?`,
		models.StatusCompleted, toMillis(fetchedAt), toMillis(next), toMillis(s.now()))
}

// MarkFailed records a failed cycle; the keyword stays out of scheduling until rescheduled
func (s *SQLiteStore) MarkFailed(ctx context.Context, keyword, reason string) error {
	return s.updateKeyword(ctx, keyword,
		`fetch_status = ?, last_error = ?, updated_at = ?`,
		models.StatusFailed, reason, toMillis(s.now()))
}

// UpdateSchedule creates or updates a keyword's scheduling. Failed keywords are re-enabled.
func (s *SQLiteStore) UpdateSchedule(ctx context.Context, keyword string, intervalHours int, autoFetch bool) (*models.Keyword, error) {
	now := toMillis(s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO keywords (keyword, fetch_status, auto_fetch, fetch_interval, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(keyword) DO UPDATE SET
			auto_fetch = excluded.auto_fetch,
			fetch_interval = excluded.fetch_interval,
			fetch_status = CASE WHEN keywords.fetch_status = 'failed' THEN 'pending' ELSE keywords.fetch_status END,
			next_scheduled_fetch = CASE WHEN excluded.auto_fetch = 1 THEN keywords.next_scheduled_fetch ELSE NULL END,
			updated_at = excluded.updated_at`,
		keyword, models.StatusPending, autoFetch, intervalHours, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule keyword %s: %w", keyword, err)
	}
	return s.GetKeyword(ctx, keyword)
}

// Unschedule stops automatic fetching without deleting the keyword
func (s *SQLiteStore) Unschedule(ctx context.Context, keyword string) error {
	return s.updateKeyword(ctx, keyword,
		`auto_fetch = 0, next_scheduled_fetch = NULL, updated_at = ?`,
		toMillis(s.now()))
}

// ListScheduled returns keywords with automatic fetching enabled, soonest first
func (s *SQLiteStore) ListScheduled(ctx context.Context) ([]models.Keyword, error) {
	return s.queryKeywords(ctx, `SELECT `+keywordColumns+` FROM keywords
		WHERE auto_fetch = 1
		ORDER BY COALESCE(next_scheduled_fetch, 0) ASC, keyword ASC`)
}

// DueKeywords selects keywords whose next fetch is due, least recently fetched first
func (s *SQLiteStore) DueKeywords(ctx context.Context, now time.Time, limit int) ([]models.Keyword, error) {
	return s.queryKeywords(ctx, `SELECT `+keywordColumns+` FROM keywords
		WHERE auto_fetch = 1
		  AND fetch_status NOT IN ('processing', 'failed')
		  AND (next_scheduled_fetch IS NULL OR next_scheduled_fetch <= ?)
		ORDER BY COALESCE(last_fetched, 0) ASC, keyword ASC
		LIMIT ?`, toMillis(now), limit)
}

// ResetStaleProcessing returns keywords left processing by a previous process to pending
func (s *SQLiteStore) ResetStaleProcessing(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE keywords SET fetch_status = ?, updated_at = ? WHERE fetch_status = ?`,
		models.StatusPending, toMillis(s.now()), models.StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("failed to reset processing keywords: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *SQLiteStore) updateKeyword(ctx context.Context, keyword, set string, args ...any) error {
	args = append(args, keyword)
	res, err := s.db.ExecContext(ctx, `UPDATE keywords SET `+set+` WHERE keyword = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update keyword %s: %w", keyword, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update keyword %s: %w", keyword, err)
	}
	if n == 0 {
		return fmt.Errorf("keyword %s: %w", keyword, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) queryKeywords(ctx context.Context, query string, args ...any) ([]models.Keyword, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query keywords: %w", err)
	}
	defer rows.Close()

	keywords := []models.Keyword{}
	for rows.Next() {
		k, err := scanKeyword(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan keyword: %w", err)
		}
		keywords = append(keywords, *k)
	}
	return keywords, rows.Err()
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}
