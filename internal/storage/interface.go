package storage

import (
	"context"
	"errors"
	"time"

	"github.com/azure/discussion-pulse/internal/models"
)

var (
	// ErrDuplicate is returned when an item with the same external id is already stored
	ErrDuplicate = errors.New("item already stored")
	// ErrNotFound is returned when a keyword does not exist
	ErrNotFound = errors.New("not found")
)

// StorageInterface defines the contract for blob storage operations
type StorageInterface interface {
	Store(filename string, data []byte) error
	Retrieve(filename string) ([]byte, error)
	List(prefix string) ([]string, error)
	Delete(filename string) error
}

// KeywordStore holds keyword lifecycle and scheduling state
type KeywordStore interface {
	EnsureKeyword(ctx context.Context, keyword string, intervalHours int) (*models.Keyword, error)
	GetKeyword(ctx context.Context, keyword string) (*models.Keyword, error)
	MarkProcessing(ctx context.Context, keyword string) error
	MarkCompleted(ctx context.Context, keyword string, fetchedAt, next time.Time) error
	MarkFailed(ctx context.Context, keyword, reason string) error
	UpdateSchedule(ctx context.Context, keyword string, intervalHours int, autoFetch bool) (*models.Keyword, error)
	Unschedule(ctx context.Context, keyword string) error
	ListScheduled(ctx context.Context) ([]models.Keyword, error)
	DueKeywords(ctx context.Context, now time.Time, limit int) ([]models.Keyword, error)
	ResetStaleProcessing(ctx context.Context) (int, error)
}

// ItemStore holds enriched posts and comments
type ItemStore interface {
	InsertPost(ctx context.Context, post models.Post) error
	InsertComment(ctx context.Context, comment models.Comment) error
	HasRecentItems(ctx context.Context, keyword string, since time.Time) (bool, error)
	RefreshKeywordStats(ctx context.Context, keyword string) (*models.Keyword, error)
	QueryItems(ctx context.Context, q models.ItemQuery) (*models.ItemPage, error)
	TrendingKeywords(ctx context.Context, limit int, since time.Time) ([]models.TrendingKeyword, error)
}

// Repository is everything the pipeline needs from its relational store
type Repository interface {
	KeywordStore
	ItemStore
	Close() error
}
