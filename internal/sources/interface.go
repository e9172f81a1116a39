package sources

import (
	"context"

	"github.com/azure/discussion-pulse/internal/models"
)

// FeedFetcher retrieves candidate posts for a keyword within one subreddit.
// Failures are logged and produce an empty slice, never an error.
type FeedFetcher interface {
	FetchPosts(ctx context.Context, keyword, subreddit string, limit int) []models.Post
}

// ThreadFetcher retrieves a bounded number of comments for a post.
// Failures are logged and produce an empty Thread, never an error.
type ThreadFetcher interface {
	FetchThread(ctx context.Context, post models.Post, limit int) Thread
}

// Source interface defines the contract for a content network
type Source interface {
	GetName() string
	FeedFetcher
	ThreadFetcher
}

// Thread is the comment listing for a post plus the post's live counters
type Thread struct {
	Found       bool
	PostScore   int
	NumComments int
	Comments    []models.Comment
}
