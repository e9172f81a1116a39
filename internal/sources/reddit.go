package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/azure/discussion-pulse/internal/models"
	"github.com/azure/discussion-pulse/internal/observability"
	"github.com/azure/discussion-pulse/internal/textnorm"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

const (
	defaultBaseURL   = "https://www.reddit.com"
	defaultUserAgent = "discussion-pulse/1.0"
)

// removedSentinels are bodies reddit substitutes for moderated or deleted comments
var removedSentinels = map[string]bool{
	"[removed]": true,
	"[deleted]": true,
	"":          true,
}

// RedditOptions configures RedditSource
type RedditOptions struct {
	BaseURL       string
	UserAgent     string
	FeedTimeout   time.Duration
	ThreadTimeout time.Duration
	MaxRetries    int
	RetryDelay    time.Duration // multiplied by the attempt number
}

// RedditSource reads subreddit search feeds and thread listings
type RedditSource struct {
	baseURL       string
	userAgent     string
	feedTimeout   time.Duration
	threadTimeout time.Duration
	maxRetries    int
	retryDelay    time.Duration
	client        *resty.Client
}

// Ensure RedditSource implements Source
var _ Source = (*RedditSource)(nil)

type redditListing struct {
	Kind string `json:"kind"`
	Data struct {
		Children []struct {
			Kind string          `json:"kind"`
			Data json.RawMessage `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditThing struct {
	ID          string  `json:"id"`
	Author      string  `json:"author"`
	Body        string  `json:"body"`
	Subreddit   string  `json:"subreddit"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	Created     float64 `json:"created_utc"`
}

// NewRedditSource creates a new Reddit source
func NewRedditSource(opts RedditOptions) *RedditSource {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.FeedTimeout <= 0 {
		opts.FeedTimeout = 15 * time.Second
	}
	if opts.ThreadTimeout <= 0 {
		opts.ThreadTimeout = 10 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}

	return &RedditSource{
		baseURL:       strings.TrimSuffix(opts.BaseURL, "/"),
		userAgent:     opts.UserAgent,
		feedTimeout:   opts.FeedTimeout,
		threadTimeout: opts.ThreadTimeout,
		maxRetries:    opts.MaxRetries,
		retryDelay:    opts.RetryDelay,
		client:        resty.New().SetHeader("User-Agent", opts.UserAgent),
	}
}

func (r *RedditSource) GetName() string {
	return "reddit"
}

// FetchPosts searches one subreddit's feed for keyword. It retries with linear backoff and
// returns an empty slice once retries are exhausted.
func (r *RedditSource) FetchPosts(ctx context.Context, keyword, subreddit string, limit int) []models.Post {
	if limit <= 0 {
		limit = 10
	}
	searchURL := r.searchURL(keyword, subreddit, limit)

	var body []byte
	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		data, err := r.get(ctx, searchURL, r.feedTimeout, "application/atom+xml, application/rss+xml, application/xml;q=0.9")
		if err == nil {
			body = data
			break
		}

		observability.FetchFailures.WithLabelValues("feed").Inc()
		logrus.Warnf("Feed fetch for '%s' in r/%s failed (attempt %d/%d): %v", keyword, subreddit, attempt, r.maxRetries, err)

		if attempt == r.maxRetries {
			logrus.Errorf("Giving up on r/%s for '%s' after %d attempts", subreddit, keyword, r.maxRetries)
			return []models.Post{}
		}
		if err := sleepCtx(ctx, time.Duration(attempt)*r.retryDelay); err != nil {
			return []models.Post{}
		}
	}

	entries, err := ParseFeed(body)
	if err != nil {
		observability.FetchFailures.WithLabelValues("feed_parse").Inc()
		logrus.Warnf("Failed to parse feed for '%s' in r/%s: %v", keyword, subreddit, err)
		return []models.Post{}
	}

	posts := make([]models.Post, 0, len(entries))
	for _, entry := range entries {
		if len(posts) >= limit {
			break
		}
		posts = append(posts, r.entryToPost(entry, keyword, subreddit))
	}

	observability.ItemsFetched.WithLabelValues(models.ItemTypePost).Add(float64(len(posts)))
	logrus.Debugf("Fetched %d posts for '%s' from r/%s", len(posts), keyword, subreddit)
	return posts
}

// FetchThread loads the JSON listing of a post's thread and keeps up to limit comments
func (r *RedditSource) FetchThread(ctx context.Context, post models.Post, limit int) Thread {
	if limit <= 0 || post.Permalink == "" || IsSynthesizedID(post.ID) {
		return Thread{Comments: []models.Comment{}}
	}

	data, err := r.get(ctx, r.threadURL(post.Permalink, limit), r.threadTimeout, "application/json")
	if err != nil {
		observability.FetchFailures.WithLabelValues("thread").Inc()
		logrus.Warnf("Thread fetch for post %s failed: %v", post.ID, err)
		return Thread{Comments: []models.Comment{}}
	}

	thread, err := parseThread(data, post, limit)
	if err != nil {
		observability.FetchFailures.WithLabelValues("thread_parse").Inc()
		logrus.Warnf("Failed to parse thread for post %s: %v", post.ID, err)
		return Thread{Comments: []models.Comment{}}
	}

	observability.ItemsFetched.WithLabelValues(models.ItemTypeComment).Add(float64(len(thread.Comments)))
	return thread
}

func (r *RedditSource) searchURL(keyword, subreddit string, limit int) string {
	return fmt.Sprintf("%s/r/%s/search.rss?q=%s&restrict_sr=on&sort=new&limit=%d",
		r.baseURL, url.PathEscape(subreddit), url.QueryEscape(keyword), limit)
}

func (r *RedditSource) threadURL(permalink string, limit int) string {
	link := strings.TrimSuffix(permalink, "/")
	if strings.HasPrefix(link, "/") {
		link = r.baseURL + link
	}
	if i := strings.IndexAny(link, "?#"); i >= 0 {
		link = link[:i]
	}
	return fmt.Sprintf("%s.json?limit=%d&sort=top&raw_json=1", link, limit)
}

func (r *RedditSource) get(ctx context.Context, target string, timeout time.Duration, accept string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := r.client.R().
		SetContext(reqCtx).
		SetHeader("Accept", accept).
		Get(target)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("reddit returned status %d", resp.StatusCode())
	}

	return resp.Body(), nil
}

func (r *RedditSource) entryToPost(entry FeedEntry, keyword, subreddit string) models.Post {
	author := strings.TrimSpace(entry.Author)
	author = strings.TrimPrefix(strings.TrimPrefix(author, "/u/"), "u/")

	if entry.Subreddit != "" {
		subreddit = entry.Subreddit
	}

	return models.Post{
		ID:        entry.ID,
		Title:     textnorm.Normalize(entry.Title),
		Link:      entry.Link,
		Author:    author,
		Subreddit: subreddit,
		Body:      textnorm.Normalize(entry.Body),
		Permalink: entry.Link,
		Keyword:   keyword,
		CreatedAt: entry.Published,
	}
}

func parseThread(data []byte, post models.Post, limit int) (Thread, error) {
	var listings []redditListing
	if err := json.Unmarshal(data, &listings); err != nil {
		return Thread{}, fmt.Errorf("failed to decode thread listing: %w", err)
	}
	if len(listings) == 0 {
		return Thread{}, fmt.Errorf("thread listing is empty")
	}

	thread := Thread{Found: true, Comments: []models.Comment{}}

	for _, child := range listings[0].Data.Children {
		if child.Kind != "t3" {
			continue
		}
		var p redditThing
		if err := json.Unmarshal(child.Data, &p); err == nil {
			thread.PostScore = p.Score
			thread.NumComments = p.NumComments
		}
		break
	}

	if len(listings) < 2 {
		return thread, nil
	}

	base := strings.TrimSuffix(post.Permalink, "/")
	for _, child := range listings[1].Data.Children {
		if len(thread.Comments) >= limit {
			break
		}
		if child.Kind != "t1" {
			continue
		}

		var c redditThing
		if err := json.Unmarshal(child.Data, &c); err != nil {
			logrus.Debugf("Skipping malformed comment in post %s: %v", post.ID, err)
			continue
		}
		if c.ID == "" || removedSentinels[strings.TrimSpace(c.Body)] {
			continue
		}

		body := textnorm.Normalize(c.Body)
		if body == "" {
			continue
		}

		subreddit := c.Subreddit
		if subreddit == "" {
			subreddit = post.Subreddit
		}

		thread.Comments = append(thread.Comments, models.Comment{
			ID:        c.ID,
			PostID:    post.ID,
			Author:    c.Author,
			Subreddit: subreddit,
			Body:      body,
			Permalink: fmt.Sprintf("%s/%s/", base, c.ID),
			Score:     c.Score,
			Keyword:   post.Keyword,
			CreatedAt: time.Unix(int64(c.Created), 0).UTC(),
		})
	}

	return thread, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
