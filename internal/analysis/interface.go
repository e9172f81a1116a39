package analysis

import (
	"context"
	"errors"

	"github.com/azure/discussion-pulse/internal/models"
)

var (
	// ErrRateLimited is returned by an Analyzer when the AI service throttles the caller
	ErrRateLimited = errors.New("ai service rate limited")
	// ErrDisabled is returned when AI analysis is requested without a configured analyzer
	ErrDisabled = errors.New("ai analysis disabled")
)

// Input is one post or comment handed to an analyzer
type Input struct {
	ID      string
	Kind    string // models.ItemTypePost or models.ItemTypeComment
	Title   string
	Body    string
	Channel string
	Keyword string
	Topics  []string
}

// Text returns the content that gets analyzed
func (in Input) Text() string {
	if in.Title == "" {
		return in.Body
	}
	if in.Body == "" {
		return in.Title
	}
	return in.Title + " " + in.Body
}

// Analyzer produces an Analysis for one item
type Analyzer interface {
	Analyze(ctx context.Context, in Input) (models.Analysis, error)
}

// Result pairs an input with the analysis it received
type Result struct {
	Input    Input
	Analysis models.Analysis
}

// PostInput builds the analyzer input for a post
func PostInput(p models.Post, topics []string) Input {
	return Input{
		ID:      p.ID,
		Kind:    models.ItemTypePost,
		Title:   p.Title,
		Body:    p.Body,
		Channel: p.Subreddit,
		Keyword: p.Keyword,
		Topics:  topics,
	}
}

// CommentInput builds the analyzer input for a comment
func CommentInput(c models.Comment, topics []string) Input {
	return Input{
		ID:      c.ID,
		Kind:    models.ItemTypeComment,
		Body:    c.Body,
		Channel: c.Subreddit,
		Keyword: c.Keyword,
		Topics:  topics,
	}
}
