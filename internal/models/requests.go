package models

import "time"

// FetchRequest asks for one fetch-filter-enrich-store cycle for a keyword
type FetchRequest struct {
	Keyword            string   `json:"keyword"`
	Subreddits         []string `json:"subreddits,omitempty"`
	MaxPosts           int      `json:"maxPosts"`
	IncludeComments    bool     `json:"includeComments"`
	MaxCommentsPerPost int      `json:"maxCommentsPerPost"`
	ForceRefresh       bool     `json:"forceRefresh"`
	CallerRole         string   `json:"callerRole"`
}

// FetchResult reports a cycle with partial-success semantics
type FetchResult struct {
	Success          bool            `json:"success"`
	Keyword          string          `json:"keyword"`
	TotalPosts       int             `json:"totalPosts"`
	TotalComments    int             `json:"totalComments"`
	TotalStored      int             `json:"totalStored"`
	SkippedDuplicate int             `json:"skippedDuplicates"`
	Cached           bool            `json:"cached"`
	Errors           []string        `json:"errors"`
	ProcessingTimeMs int64           `json:"processingTimeMs"`
	SentimentStats   SentimentCounts `json:"sentimentStats"`
	TopChannels      []ChannelStat   `json:"topChannels"`
	CompletedAt      time.Time       `json:"completedAt"`
}

// Query sort keys
const (
	SortAggregateScore = "aggregateScore"
	SortCreatedAt      = "createdAt"
	SortExternalScore  = "externalScore"
)

// Query item types
const (
	QueryPosts    = "posts"
	QueryComments = "comments"
	QueryBoth     = "both"
)

// ItemQuery filters, sorts and pages stored items
type ItemQuery struct {
	Keyword   string `json:"keyword,omitempty"`
	Type      string `json:"type"`
	Sentiment string `json:"sentiment,omitempty"`
	Subreddit string `json:"subreddit,omitempty"`
	SortBy    string `json:"sortBy"`
	SortOrder string `json:"sortOrder"`
	Page      int    `json:"page"`
	Limit     int    `json:"limit"`
}

// Defaults fills unset query fields
func (q *ItemQuery) Defaults() {
	switch q.Type {
	case QueryPosts, QueryComments, QueryBoth:
	default:
		q.Type = QueryBoth
	}
	switch q.SortBy {
	case SortAggregateScore, SortCreatedAt, SortExternalScore:
	default:
		q.SortBy = SortCreatedAt
	}
	if q.SortOrder != "asc" {
		q.SortOrder = "desc"
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = 20
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	if q.Keyword != "" {
		q.Keyword = NormalizeKeyword(q.Keyword)
	}
}

// ItemRecord is a stored post or comment flattened for rendering
type ItemRecord struct {
	Type           string    `json:"type"`
	ID             string    `json:"id"`
	PostID         string    `json:"postId,omitempty"`
	Title          string    `json:"title,omitempty"`
	Link           string    `json:"link,omitempty"`
	Body           string    `json:"body"`
	Author         string    `json:"author"`
	Subreddit      string    `json:"subreddit"`
	Permalink      string    `json:"permalink"`
	Score          int       `json:"score"`
	Keyword        string    `json:"keyword"`
	Analysis       Analysis  `json:"analysis"`
	AggregateScore float64   `json:"aggregateScore"`
	CreatedAt      time.Time `json:"createdAt"`
	FetchedAt      time.Time `json:"fetchedAt"`
}

// Pagination describes the page returned by a query
type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	TotalCount int  `json:"totalCount"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
}

// ItemStatistics summarises every item matching a query, not just the page
type ItemStatistics struct {
	Sentiment      SentimentCounts `json:"sentiment"`
	TotalPosts     int             `json:"totalPosts"`
	TotalComments  int             `json:"totalComments"`
	AverageScore   float64         `json:"averageScore"`
	AverageQuality float64         `json:"averageQuality"`
}

// ItemPage is a query response
type ItemPage struct {
	Items      []ItemRecord   `json:"items"`
	Pagination Pagination     `json:"pagination"`
	Statistics ItemStatistics `json:"statistics"`
}

// TrendingKeyword is a keyword ranked by recent activity
type TrendingKeyword struct {
	Keyword        string          `json:"keyword"`
	Volume         int             `json:"volume"`
	Sentiment      SentimentCounts `json:"sentiment"`
	RecentActivity int             `json:"recentActivity"`
	Trending       bool            `json:"trending"`
}
