package analysis

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/azure/discussion-pulse/internal/models"
)

// MockAnalyzer is a mock implementation of Analyzer
type MockAnalyzer struct {
	mock.Mock
}

func (m *MockAnalyzer) Analyze(ctx context.Context, in Input) (models.Analysis, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(models.Analysis), args.Error(1)
}

func assertComplete(t *testing.T, a models.Analysis) {
	t.Helper()
	for _, v := range []float64{
		a.Sentiment.Confidence, a.Sentiment.Positive, a.Sentiment.Negative, a.Sentiment.Neutral,
		a.Relevancy.Score, a.Quality.Clarity, a.Quality.Coherence, a.Quality.Informativeness, a.Quality.Overall,
		a.Engagement.Score, a.Engagement.DiscussionPotential, a.Contributor.Score,
	} {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 100.0)
	}
	for _, s := range []string{
		a.Sentiment.Classification, a.Insights.Stance, a.Insights.Tone,
		a.Contributor.Expertise, a.Contributor.ContributionType, a.Method,
	} {
		assert.NotEmpty(t, s)
	}
	assert.NotNil(t, a.Relevancy.MatchedKeywords)
	assert.NotNil(t, a.Engagement.Factors)
	assert.NotNil(t, a.Insights.KeyPoints)
	assert.NotNil(t, a.Insights.CredibilityIndicators)
	assert.InDelta(t, 100, a.Sentiment.Positive+a.Sentiment.Negative+a.Sentiment.Neutral, 0.05)
}

func TestDecode(t *testing.T) {
	raw := "```json\n" + `{
  "sentiment": {"classification": "Negative", "confidence": "85", "positive": 10, "negative": 70, "neutral": 20},
  "relevancy": {"score": 140, "reasoning": " on topic ", "matchedKeywords": "solar"},
  "quality": {"clarity": 60, "coherence": 90, "informativeness": 75},
  "engagement": {"score": "72%", "factors": ["question", 5, ""]},
  "insights": {"stance": "sideways", "tone": "ANALYTICAL"},
  "contributor": {"score": -5, "expertise": "expert"}
}` + "\n```"

	a, err := Decode(raw)
	require.NoError(t, err)
	assertComplete(t, a)

	assert.Equal(t, models.MethodAI, a.Method)
	assert.Equal(t, models.SentimentNegative, a.Sentiment.Classification)
	assert.Equal(t, 85.0, a.Sentiment.Confidence)
	assert.Equal(t, 70.0, a.Sentiment.Negative)
	assert.Equal(t, 100.0, a.Relevancy.Score)
	assert.Equal(t, "on topic", a.Relevancy.Reasoning)
	assert.Equal(t, []string{"solar"}, a.Relevancy.MatchedKeywords)
	assert.Equal(t, 75.0, a.Quality.Overall, "overall derived from the other quality scores")
	assert.Equal(t, 72.0, a.Engagement.Score)
	assert.Equal(t, []string{"question"}, a.Engagement.Factors)
	assert.Equal(t, models.StanceNeutral, a.Insights.Stance)
	assert.Equal(t, models.ToneAnalytical, a.Insights.Tone)
	assert.Equal(t, 0.0, a.Contributor.Score)
	assert.Equal(t, models.ExpertiseExpert, a.Contributor.Expertise)
	assert.Equal(t, models.ContributionOpinion, a.Contributor.ContributionType)
}

func TestDecode_PartialAndMalformed(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "empty object", raw: `{}`},
		{name: "nulls everywhere", raw: `{"sentiment": null, "quality": {"overall": null}, "insights": {"keyPoints": null}}`},
		{name: "bare sentiment label", raw: `{"sentiment": "positive"}`},
		{name: "wrong value types", raw: `{"relevancy": {"score": true, "matchedKeywords": {"a": 1}}, "contributor": {"score": [1]}}`},
		{name: "prose around json", raw: `Here you go: {"sentiment": {"classification": "neutral"}} hope it helps`},
		{name: "no json", raw: `I cannot help with that`, wantErr: true},
		{name: "broken json", raw: `{"sentiment": {`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Decode(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assertComplete(t, a)
		})
	}
}

func TestDecode_BareSentimentLabel(t *testing.T) {
	a, err := Decode(`{"sentiment": "positive"}`)
	require.NoError(t, err)
	assert.Equal(t, models.SentimentPositive, a.Sentiment.Classification)
	assert.Equal(t, 100.0, a.Sentiment.Positive)
}

func TestFallback(t *testing.T) {
	tests := []struct {
		name         string
		input        Input
		sentiment    string
		stance       string
		contribution string
	}{
		{
			name:         "positive experience",
			input:        Input{Body: "This is great, I love my new panels", Keyword: "solar"},
			sentiment:    models.SentimentPositive,
			stance:       models.StanceSupporting,
			contribution: models.ContributionExperience,
		},
		{
			name:         "negative",
			input:        Input{Body: "Terrible outage, the grid failed again and it is a waste", Keyword: "grid"},
			sentiment:    models.SentimentNegative,
			stance:       models.StanceOpposing,
			contribution: models.ContributionOpinion,
		},
		{
			name:         "neutral question",
			input:        Input{Title: "Heat pumps", Body: "Does anyone know how heat pumps work in winter?", Keyword: "heat pumps"},
			sentiment:    models.SentimentNeutral,
			stance:       models.StanceQuestioning,
			contribution: models.ContributionQuestion,
		},
		{
			name:         "empty text",
			input:        Input{},
			sentiment:    models.SentimentNeutral,
			stance:       models.StanceNeutral,
			contribution: models.ContributionOpinion,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Fallback(tt.input)
			assertComplete(t, a)
			assert.Equal(t, models.MethodFallback, a.Method)
			assert.Equal(t, tt.sentiment, a.Sentiment.Classification)
			assert.Equal(t, tt.stance, a.Insights.Stance)
			assert.Equal(t, tt.contribution, a.Contributor.ContributionType)
			assert.Equal(t, a, Fallback(tt.input), "fallback is deterministic")
		})
	}
}

func TestFallback_Relevancy(t *testing.T) {
	a := Fallback(Input{Body: "Solar power is cheap now", Keyword: "solar power"})
	assert.Equal(t, 70.0, a.Relevancy.Score)
	assert.Equal(t, []string{"solar", "power"}, a.Relevancy.MatchedKeywords)

	a = Fallback(Input{Body: "Solar and battery storage together", Keyword: "solar power", Topics: []string{"battery storage"}})
	assert.Equal(t, 35.0+20.0, a.Relevancy.Score)
	assert.Equal(t, []string{"solar", "battery", "storage"}, a.Relevancy.MatchedKeywords)

	a = Fallback(Input{Body: "Nothing related here at all", Keyword: "solar power"})
	assert.Equal(t, 0.0, a.Relevancy.Score)
	assert.Empty(t, a.Relevancy.MatchedKeywords)
}

func fastOptions() EnricherOptions {
	return EnricherOptions{
		Enabled:        true,
		BatchSize:      3,
		ItemTimeout:    time.Second,
		TotalTimeout:   5 * time.Second,
		RateLimitDelay: time.Millisecond,
		MaxRetries:     2,
	}
}

func sampleInputs(n int) []Input {
	inputs := make([]Input, n)
	for i := range inputs {
		inputs[i] = Input{ID: fmt.Sprintf("p%d", i), Kind: models.ItemTypePost, Body: fmt.Sprintf("Solar post number %d is good", i), Keyword: "solar"}
	}
	return inputs
}

func aiAnalysis() models.Analysis {
	a := models.Analysis{}
	a.Sentiment.Classification = models.SentimentPositive
	a.Relevancy.Score = 88
	return a
}

func TestEnricher_DisabledUsesFallback(t *testing.T) {
	analyzer := new(MockAnalyzer)
	opts := fastOptions()
	opts.Enabled = false

	inputs := sampleInputs(4)
	results := NewEnricher(analyzer, opts).Enrich(context.Background(), inputs)

	require.Len(t, results, 4)
	for i, r := range results {
		assert.Equal(t, inputs[i], r.Input)
		assert.Equal(t, Fallback(inputs[i]), r.Analysis)
	}
	analyzer.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything)
}

func TestEnricher_NilAnalyzerIsDisabled(t *testing.T) {
	e := NewEnricher(nil, fastOptions())
	assert.False(t, e.Enabled())

	results := e.Enrich(context.Background(), sampleInputs(2))
	assert.Equal(t, models.MethodFallback, results[0].Analysis.Method)
}

func TestEnricher_AIResults(t *testing.T) {
	analyzer := new(MockAnalyzer)
	analyzer.On("Analyze", mock.Anything, mock.Anything).Return(aiAnalysis(), nil)

	inputs := sampleInputs(7)
	results := NewEnricher(analyzer, fastOptions()).Enrich(context.Background(), inputs)

	require.Len(t, results, 7)
	for i, r := range results {
		assert.Equal(t, inputs[i].ID, r.Input.ID, "results keep input order")
		assert.Equal(t, models.MethodAI, r.Analysis.Method)
		assert.Equal(t, 88.0, r.Analysis.Relevancy.Score)
		assertComplete(t, r.Analysis)
	}
	analyzer.AssertNumberOfCalls(t, "Analyze", 7)
}

func TestEnricher_ItemTimeoutFallsBack(t *testing.T) {
	inputs := sampleInputs(3)
	analyzer := new(MockAnalyzer)
	analyzer.On("Analyze", mock.Anything, inputs[1]).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(models.Analysis{}, context.DeadlineExceeded)
	analyzer.On("Analyze", mock.Anything, mock.Anything).Return(aiAnalysis(), nil)

	opts := fastOptions()
	opts.ItemTimeout = 20 * time.Millisecond
	results := NewEnricher(analyzer, opts).Enrich(context.Background(), inputs)

	require.Len(t, results, 3)
	assert.Equal(t, models.MethodAI, results[0].Analysis.Method)
	assert.Equal(t, Fallback(inputs[1]), results[1].Analysis)
	assert.Equal(t, models.MethodAI, results[2].Analysis.Method)
}

func TestEnricher_RetriesRateLimit(t *testing.T) {
	inputs := sampleInputs(1)
	analyzer := new(MockAnalyzer)
	analyzer.On("Analyze", mock.Anything, inputs[0]).Return(models.Analysis{}, fmt.Errorf("%w: 429", ErrRateLimited)).Once()
	analyzer.On("Analyze", mock.Anything, inputs[0]).Return(aiAnalysis(), nil).Once()

	results := NewEnricher(analyzer, fastOptions()).Enrich(context.Background(), inputs)

	assert.Equal(t, models.MethodAI, results[0].Analysis.Method)
	analyzer.AssertNumberOfCalls(t, "Analyze", 2)
}

func TestEnricher_RateLimitExhaustedFallsBack(t *testing.T) {
	inputs := sampleInputs(1)
	analyzer := new(MockAnalyzer)
	analyzer.On("Analyze", mock.Anything, mock.Anything).Return(models.Analysis{}, ErrRateLimited)

	results := NewEnricher(analyzer, fastOptions()).Enrich(context.Background(), inputs)

	assert.Equal(t, Fallback(inputs[0]), results[0].Analysis)
	analyzer.AssertNumberOfCalls(t, "Analyze", 3)
}

func TestEnricher_ErrorFallsBackWithoutRetry(t *testing.T) {
	inputs := sampleInputs(2)
	analyzer := new(MockAnalyzer)
	analyzer.On("Analyze", mock.Anything, inputs[0]).Return(models.Analysis{}, fmt.Errorf("boom"))
	analyzer.On("Analyze", mock.Anything, inputs[1]).Return(aiAnalysis(), nil)

	results := NewEnricher(analyzer, fastOptions()).Enrich(context.Background(), inputs)

	assert.Equal(t, Fallback(inputs[0]), results[0].Analysis)
	assert.Equal(t, models.MethodAI, results[1].Analysis.Method)
	analyzer.AssertNumberOfCalls(t, "Analyze", 2)
}

func TestEnricher_TotalTimeoutFallsBackForRemaining(t *testing.T) {
	inputs := sampleInputs(6)
	analyzer := new(MockAnalyzer)
	analyzer.On("Analyze", mock.Anything, mock.Anything).Return(aiAnalysis(), nil)

	opts := fastOptions()
	opts.BatchDelay = 200 * time.Millisecond
	opts.TotalTimeout = 50 * time.Millisecond

	results := NewEnricher(analyzer, opts).Enrich(context.Background(), inputs)

	require.Len(t, results, 6)
	for i := 0; i < 3; i++ {
		assert.Equal(t, models.MethodAI, results[i].Analysis.Method)
	}
	for i := 3; i < 6; i++ {
		assert.Equal(t, Fallback(inputs[i]), results[i].Analysis)
	}
	analyzer.AssertNumberOfCalls(t, "Analyze", 3)
}

const chatResponse = `{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
"choices":[{"index":0,"message":{"role":"assistant","content":"{\"sentiment\":{\"classification\":\"Positive\",\"confidence\":90},\"contributor\":{\"expertise\":\"intermediate\"}}"},"finish_reason":"stop"}],
"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`

func TestOpenAIAnalyzer_Analyze(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(chatResponse))
	}))
	defer server.Close()

	analyzer := NewOpenAIAnalyzer(OpenAIOptions{APIKey: "test-key", BaseURL: server.URL + "/v1"})
	a, err := analyzer.Analyze(context.Background(), Input{ID: "p1", Kind: models.ItemTypePost, Title: "Solar", Keyword: "solar"})

	require.NoError(t, err)
	assertComplete(t, a)
	assert.Equal(t, models.MethodAI, a.Method)
	assert.Equal(t, models.SentimentPositive, a.Sentiment.Classification)
	assert.Equal(t, 90.0, a.Sentiment.Confidence)
	assert.Equal(t, models.ExpertiseIntermediate, a.Contributor.Expertise)
}

func TestOpenAIAnalyzer_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"requests","param":null,"code":"rate_limit_exceeded"}}`))
	}))
	defer server.Close()

	analyzer := NewOpenAIAnalyzer(OpenAIOptions{APIKey: "test-key", BaseURL: server.URL + "/v1"})
	_, err := analyzer.Analyze(context.Background(), Input{ID: "p1", Body: "text"})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestOpenAIAnalyzer_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer server.Close()

	analyzer := NewOpenAIAnalyzer(OpenAIOptions{APIKey: "test-key", BaseURL: server.URL + "/v1"})
	_, err := analyzer.Analyze(context.Background(), Input{ID: "p1", Body: "text"})

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRateLimited)
}
