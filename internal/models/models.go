package models

import (
	"strings"
	"time"
)

// Fetch lifecycle states for a keyword
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Item types
const (
	ItemTypePost    = "post"
	ItemTypeComment = "comment"
)

// Caller roles that select a relevance policy
const (
	RoleGeneral    = "general"
	RoleExpert     = "expert"
	RoleResearcher = "researcher"
	RoleAnalyst    = "analyst"
)

// Keyword is the unit of scheduled ingestion
type Keyword struct {
	Keyword            string          `json:"keyword"`
	FetchStatus        string          `json:"fetchStatus"`
	AutoFetch          bool            `json:"autoFetch"`
	FetchInterval      int             `json:"fetchInterval"` // hours
	NextScheduledFetch *time.Time      `json:"nextScheduledFetch,omitempty"`
	LastFetched        *time.Time      `json:"lastFetched,omitempty"`
	LastError          string          `json:"lastError,omitempty"`
	Sentiment          SentimentCounts `json:"sentiment"`
	Volume             int             `json:"volume"`
	Trending           bool            `json:"trending"`
	TopSubreddits      []ChannelStat   `json:"topSubreddits"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

// SentimentCounts is the sentiment mix across stored items
type SentimentCounts struct {
	Positive int `json:"positive"`
	Negative int `json:"negative"`
	Neutral  int `json:"neutral"`
}

// Total returns the number of classified items
func (s SentimentCounts) Total() int {
	return s.Positive + s.Negative + s.Neutral
}

// ChannelStat ranks a subreddit by how many stored items came from it
type ChannelStat struct {
	Name     string  `json:"name"`
	Count    int     `json:"count"`
	AvgScore float64 `json:"avgScore"`
}

// Post is one fetched top-level submission
type Post struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Author      string    `json:"author"`
	Subreddit   string    `json:"subreddit"`
	Body        string    `json:"body"`
	Permalink   string    `json:"permalink"`
	Score       int       `json:"score"`
	NumComments int       `json:"numComments"`
	Keyword     string    `json:"keyword"`
	Analysis    Analysis  `json:"analysis"`
	Processed   bool      `json:"processed"`
	CreatedAt   time.Time `json:"createdAt"`
	FetchedAt   time.Time `json:"fetchedAt"`
}

// Text returns the content used for relevance and analysis
func (p Post) Text() string {
	if p.Body == "" {
		return p.Title
	}
	return p.Title + " " + p.Body
}

// Comment is one reply to a Post
type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"postId"`
	Author    string    `json:"author"`
	Subreddit string    `json:"subreddit"`
	Body      string    `json:"body"`
	Permalink string    `json:"permalink"`
	Score     int       `json:"score"`
	Keyword   string    `json:"keyword"`
	Analysis  Analysis  `json:"analysis"`
	Processed bool      `json:"processed"`
	CreatedAt time.Time `json:"createdAt"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// Alert represents an urgent notification
type Alert struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"` // "critical", "urgent", "info"
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Keyword   string    `json:"keyword,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NormalizeKeyword lowercases the keyword and collapses whitespace so it can be used as a unique key
func NormalizeKeyword(keyword string) string {
	return strings.Join(strings.Fields(strings.ToLower(keyword)), " ")
}

// IsFocusedRole reports whether the role gets the domain-focused relevance policy
func IsFocusedRole(role string) bool {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case RoleExpert, RoleResearcher, RoleAnalyst:
		return true
	}
	return false
}
