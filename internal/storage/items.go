package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/azure/discussion-pulse/internal/models"
)

const topSubredditLimit = 10

// InsertPost stores an enriched post. A post whose id is already stored returns ErrDuplicate.
func (s *SQLiteStore) InsertPost(ctx context.Context, p models.Post) error {
	p.Analysis.Normalize()
	analysis, err := json.Marshal(p.Analysis)
	if err != nil {
		return fmt.Errorf("failed to encode analysis for post %s: %w", p.ID, err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO posts (id, title, link, author, subreddit, body, permalink, score, num_comments,
			keyword, sentiment, aggregate_score, quality, analysis, processed, created_at, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Title, p.Link, p.Author, p.Subreddit, p.Body, p.Permalink, p.Score, p.NumComments,
		p.Keyword, p.Analysis.Sentiment.Classification, p.Analysis.AggregateScore(), p.Analysis.Quality.Overall,
		string(analysis), p.Processed, toMillis(p.CreatedAt), toMillis(p.FetchedAt))
	if err != nil {
		return fmt.Errorf("failed to insert post %s: %w", p.ID, err)
	}
	return duplicateCheck(res.RowsAffected())
}

// InsertComment stores an enriched comment. A comment whose id is already stored returns ErrDuplicate.
func (s *SQLiteStore) InsertComment(ctx context.Context, c models.Comment) error {
	c.Analysis.Normalize()
	analysis, err := json.Marshal(c.Analysis)
	if err != nil {
		return fmt.Errorf("failed to encode analysis for comment %s: %w", c.ID, err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO comments (id, post_id, author, subreddit, body, permalink, score,
			keyword, sentiment, aggregate_score, quality, analysis, processed, created_at, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.PostID, c.Author, c.Subreddit, c.Body, c.Permalink, c.Score,
		c.Keyword, c.Analysis.Sentiment.Classification, c.Analysis.AggregateScore(), c.Analysis.Quality.Overall,
		string(analysis), c.Processed, toMillis(c.CreatedAt), toMillis(c.FetchedAt))
	if err != nil {
		return fmt.Errorf("failed to insert comment %s: %w", c.ID, err)
	}
	return duplicateCheck(res.RowsAffected())
}

func duplicateCheck(n int64, err error) error {
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrDuplicate
	}
	return nil
}

// HasRecentItems reports whether anything was stored for keyword since the given time
func (s *SQLiteStore) HasRecentItems(ctx context.Context, keyword string, since time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM posts WHERE keyword = ? AND fetched_at >= ?)
		    OR EXISTS (SELECT 1 FROM comments WHERE keyword = ? AND fetched_at >= ?)`,
		keyword, toMillis(since), keyword, toMillis(since)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check recent items for %s: %w", keyword, err)
	}
	return exists, nil
}

const keywordItems = `
	SELECT sentiment, subreddit, score FROM posts WHERE keyword = ?
	UNION ALL
	SELECT sentiment, subreddit, score FROM comments WHERE keyword = ?`

// RefreshKeywordStats recomputes the keyword's sentiment mix, volume, trending flag and top subreddits
// from every item stored under it
func (s *SQLiteStore) RefreshKeywordStats(ctx context.Context, keyword string) (*models.Keyword, error) {
	var counts models.SentimentCounts
	rows, err := s.db.QueryContext(ctx,
		`SELECT sentiment, COUNT(*) FROM (`+keywordItems+`) GROUP BY sentiment`, keyword, keyword)
	if err != nil {
		return nil, fmt.Errorf("failed to count sentiment for %s: %w", keyword, err)
	}
	for rows.Next() {
		var label string
		var n int
		if err := rows.Scan(&label, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan sentiment count: %w", err)
		}
		addSentiment(&counts, label, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to count sentiment for %s: %w", keyword, err)
	}

	top, err := s.topSubreddits(ctx, keyword)
	if err != nil {
		return nil, err
	}
	topJSON, err := json.Marshal(top)
	if err != nil {
		return nil, fmt.Errorf("failed to encode top subreddits: %w", err)
	}

	volume := counts.Total()
	err = s.updateKeyword(ctx, keyword, `
		sentiment_positive = ?, sentiment_negative = ?, sentiment_neutral = ?,
		volume = ?, trending = ?, top_subreddits = ?, updated_at = ?`,
		counts.Positive, counts.Negative, counts.Neutral,
		volume, volume > s.trendingThreshold, string(topJSON), toMillis(s.now()))
	if err != nil {
		return nil, err
	}

	logrus.Debugf("Refreshed stats for %s: volume=%d positive=%d negative=%d neutral=%d",
		keyword, volume, counts.Positive, counts.Negative, counts.Neutral)
	return s.GetKeyword(ctx, keyword)
}

func (s *SQLiteStore) topSubreddits(ctx context.Context, keyword string) ([]models.ChannelStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT subreddit, COUNT(*) AS n, AVG(score)
		FROM (`+keywordItems+`)
		WHERE subreddit != ''
		GROUP BY subreddit
		ORDER BY n DESC, subreddit ASC
		LIMIT ?`, keyword, keyword, topSubredditLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to rank subreddits for %s: %w", keyword, err)
	}
	defer rows.Close()

	top := []models.ChannelStat{}
	for rows.Next() {
		var c models.ChannelStat
		if err := rows.Scan(&c.Name, &c.Count, &c.AvgScore); err != nil {
			return nil, fmt.Errorf("failed to scan subreddit stat: %w", err)
		}
		c.AvgScore = math.Round(c.AvgScore*100) / 100
		top = append(top, c)
	}
	return top, rows.Err()
}

func addSentiment(c *models.SentimentCounts, label string, n int) {
	switch label {
	case models.SentimentPositive:
		c.Positive += n
	case models.SentimentNegative:
		c.Negative += n
	default:
		c.Neutral += n
	}
}

var sortColumns = map[string]string{
	models.SortAggregateScore: "aggregate_score",
	models.SortCreatedAt:      "created_at",
	models.SortExternalScore:  "score",
}

// itemSource builds the filtered SELECT for one item table
func itemSource(table string, q models.ItemQuery) (string, []any) {
	var cols string
	if table == "posts" {
		cols = `'post' AS type, id, '' AS post_id, title, link`
	} else {
		cols = `'comment' AS type, id, post_id, '' AS title, '' AS link`
	}

	var where []string
	var args []any
	if q.Keyword != "" {
		where = append(where, "keyword = ?")
		args = append(args, q.Keyword)
	}
	if q.Sentiment != "" {
		where = append(where, "sentiment = ?")
		args = append(args, strings.ToLower(q.Sentiment))
	}
	if q.Subreddit != "" {
		where = append(where, "subreddit = ? COLLATE NOCASE")
		args = append(args, q.Subreddit)
	}

	query := `SELECT ` + cols + `, body, author, subreddit, permalink, score, keyword, analysis,
		aggregate_score, quality, sentiment, created_at, fetched_at FROM ` + table
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	return query, args
}

func itemUnion(q models.ItemQuery) (string, []any) {
	switch q.Type {
	case models.QueryPosts:
		return itemSource("posts", q)
	case models.QueryComments:
		return itemSource("comments", q)
	}
	posts, postArgs := itemSource("posts", q)
	comments, commentArgs := itemSource("comments", q)
	return posts + ` UNION ALL ` + comments, append(postArgs, commentArgs...)
}

// QueryItems returns one page of items matching q plus statistics over every match
func (s *SQLiteStore) QueryItems(ctx context.Context, q models.ItemQuery) (*models.ItemPage, error) {
	q.Defaults()
	union, args := itemUnion(q)

	stats, total, err := s.itemStatistics(ctx, union, args)
	if err != nil {
		return nil, err
	}

	order := "DESC"
	if q.SortOrder == "asc" {
		order = "ASC"
	}
	query := `SELECT * FROM (` + union + `) ORDER BY ` + sortColumns[q.SortBy] + ` ` + order + `, id ASC LIMIT ? OFFSET ?`
	pageArgs := append(append([]any{}, args...), q.Limit, (q.Page-1)*q.Limit)

	rows, err := s.db.QueryContext(ctx, query, pageArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	items := []models.ItemRecord{}
	for rows.Next() {
		var (
			r                  models.ItemRecord
			analysis           string
			quality            float64
			sentiment          string
			created, fetchedAt int64
		)
		if err := rows.Scan(&r.Type, &r.ID, &r.PostID, &r.Title, &r.Link, &r.Body, &r.Author, &r.Subreddit,
			&r.Permalink, &r.Score, &r.Keyword, &analysis, &r.AggregateScore, &quality, &sentiment,
			&created, &fetchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		if err := json.Unmarshal([]byte(analysis), &r.Analysis); err != nil {
			logrus.Warnf("Malformed analysis stored for %s %s: %v", r.Type, r.ID, err)
		}
		r.Analysis.Normalize()
		r.CreatedAt = fromMillis(created)
		r.FetchedAt = fromMillis(fetchedAt)
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read items: %w", err)
	}

	totalPages := int(math.Ceil(float64(total) / float64(q.Limit)))
	return &models.ItemPage{
		Items: items,
		Pagination: models.Pagination{
			Page:       q.Page,
			Limit:      q.Limit,
			TotalCount: total,
			TotalPages: totalPages,
			HasNext:    q.Page < totalPages,
		},
		Statistics: stats,
	}, nil
}

func (s *SQLiteStore) itemStatistics(ctx context.Context, union string, args []any) (models.ItemStatistics, int, error) {
	stats := models.ItemStatistics{}
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, sentiment, COUNT(*), COALESCE(SUM(aggregate_score), 0), COALESCE(SUM(quality), 0)
		FROM (`+union+`)
		GROUP BY type, sentiment`, args...)
	if err != nil {
		return stats, 0, fmt.Errorf("failed to compute item statistics: %w", err)
	}
	defer rows.Close()

	total := 0
	var scoreSum, qualitySum float64
	for rows.Next() {
		var (
			itemType, sentiment string
			n                   int
			score, quality      float64
		)
		if err := rows.Scan(&itemType, &sentiment, &n, &score, &quality); err != nil {
			return stats, 0, fmt.Errorf("failed to scan item statistics: %w", err)
		}
		addSentiment(&stats.Sentiment, sentiment, n)
		if itemType == models.ItemTypePost {
			stats.TotalPosts += n
		} else {
			stats.TotalComments += n
		}
		total += n
		scoreSum += score
		qualitySum += quality
	}
	if err := rows.Err(); err != nil {
		return stats, 0, fmt.Errorf("failed to read item statistics: %w", err)
	}

	if total > 0 {
		stats.AverageScore = math.Round(scoreSum/float64(total)*100) / 100
		stats.AverageQuality = math.Round(qualitySum/float64(total)*100) / 100
	}
	return stats, total, nil
}

// TrendingKeywords ranks keywords by how many items were stored for them since the given time
func (s *SQLiteStore) TrendingKeywords(ctx context.Context, limit int, since time.Time) ([]models.TrendingKeyword, error) {
	if limit <= 0 {
		limit = 10
	}
	ts := toMillis(since)

	rows, err := s.db.QueryContext(ctx, `
		SELECT keyword, volume, sentiment_positive, sentiment_negative, sentiment_neutral, trending, recent
		FROM (
			SELECT k.*,
				(SELECT COUNT(*) FROM posts p WHERE p.keyword = k.keyword AND p.fetched_at >= ?) +
				(SELECT COUNT(*) FROM comments c WHERE c.keyword = k.keyword AND c.fetched_at >= ?) AS recent
			FROM keywords k
		)
		WHERE recent > 0
		ORDER BY recent DESC, volume DESC, keyword ASC
		LIMIT ?`, ts, ts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trending keywords: %w", err)
	}
	defer rows.Close()

	trending := []models.TrendingKeyword{}
	for rows.Next() {
		var t models.TrendingKeyword
		if err := rows.Scan(&t.Keyword, &t.Volume, &t.Sentiment.Positive, &t.Sentiment.Negative,
			&t.Sentiment.Neutral, &t.Trending, &t.RecentActivity); err != nil {
			return nil, fmt.Errorf("failed to scan trending keyword: %w", err)
		}
		trending = append(trending, t)
	}
	return trending, rows.Err()
}
