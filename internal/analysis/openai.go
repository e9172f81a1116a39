package analysis

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/azure/discussion-pulse/internal/models"
)

const maxPromptChars = 4000

const systemPrompt = `You analyse posts and comments from online discussions.
Reply with one JSON object and nothing else, using exactly this shape:
{
  "sentiment": {"classification": "positive|negative|neutral", "confidence": 0-100, "positive": 0-100, "negative": 0-100, "neutral": 0-100},
  "relevancy": {"score": 0-100, "reasoning": "short sentence", "matchedKeywords": ["..."]},
  "quality": {"clarity": 0-100, "coherence": 0-100, "informativeness": 0-100, "overall": 0-100},
  "engagement": {"score": 0-100, "factors": ["..."], "discussionPotential": 0-100},
  "insights": {"keyPoints": ["..."], "stance": "supporting|opposing|neutral|questioning|mixed", "tone": "formal|casual|emotional|analytical", "credibilityIndicators": ["..."]},
  "contributor": {"score": 0-100, "expertise": "novice|intermediate|expert", "contributionType": "opinion|fact|experience|question"}
}
The three sentiment percentages must sum to 100.`

// OpenAIOptions configures the chat completion client
type OpenAIOptions struct {
	APIKey  string
	Model   string
	BaseURL string
}

// OpenAIAnalyzer asks a chat completion model for a structured Analysis
type OpenAIAnalyzer struct {
	client *openai.Client
	model  string
}

var _ Analyzer = (*OpenAIAnalyzer)(nil)

// NewOpenAIAnalyzer creates an analyzer for an OpenAI compatible endpoint
func NewOpenAIAnalyzer(opts OpenAIOptions) *OpenAIAnalyzer {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")
	}
	model := opts.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIAnalyzer{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// Analyze sends one item to the model. A throttled request returns an error wrapping ErrRateLimited.
func (a *OpenAIAnalyzer) Analyze(ctx context.Context, in Input) (models.Analysis, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(in)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.2,
	})
	if err != nil {
		if isRateLimit(err) {
			return models.Analysis{}, fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		return models.Analysis{}, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return models.Analysis{}, errors.New("chat completion returned no choices")
	}

	return Decode(resp.Choices[0].Message.Content)
}

func buildPrompt(in Input) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Keyword: %s\n", in.Keyword)
	if len(in.Topics) > 0 {
		fmt.Fprintf(&sb, "Topic context: %s\n", strings.Join(in.Topics, ", "))
	}
	fmt.Fprintf(&sb, "Item type: %s\n", in.Kind)
	if in.Channel != "" {
		fmt.Fprintf(&sb, "Subreddit: r/%s\n", in.Channel)
	}
	if in.Title != "" {
		fmt.Fprintf(&sb, "Title: %s\n", in.Title)
	}

	body := in.Body
	if r := []rune(body); len(r) > maxPromptChars {
		body = string(r[:maxPromptChars])
	}
	fmt.Fprintf(&sb, "Content:\n%s\n", body)
	return sb.String()
}

func isRateLimit(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	return false
}
