package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/azure/discussion-pulse/internal/analysis"
	"github.com/azure/discussion-pulse/internal/config"
	"github.com/azure/discussion-pulse/internal/filter"
	"github.com/azure/discussion-pulse/internal/models"
	"github.com/azure/discussion-pulse/internal/sources"
	"github.com/azure/discussion-pulse/internal/storage"
)

// MockSource is a mock implementation of the content source
type MockSource struct {
	mock.Mock
}

func (m *MockSource) GetName() string {
	return "mock"
}

func (m *MockSource) FetchPosts(ctx context.Context, keyword, subreddit string, limit int) []models.Post {
	args := m.Called(ctx, keyword, subreddit, limit)
	return args.Get(0).([]models.Post)
}

func (m *MockSource) FetchThread(ctx context.Context, post models.Post, limit int) sources.Thread {
	args := m.Called(ctx, post, limit)
	return args.Get(0).(sources.Thread)
}

// MockNotificationService is a mock implementation of the notification service
type MockNotificationService struct {
	mock.Mock
}

func (m *MockNotificationService) SendAlert(alert *models.Alert) error {
	args := m.Called(alert)
	return args.Error(0)
}

// MockAnalyzer is a mock implementation of the AI analyzer
type MockAnalyzer struct {
	mock.Mock
}

func (m *MockAnalyzer) Analyze(ctx context.Context, in analysis.Input) (models.Analysis, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(models.Analysis), args.Error(1)
}

// insertFailingRepo simulates a store that stops accepting writes mid-cycle
type insertFailingRepo struct {
	storage.Repository
}

func (r *insertFailingRepo) InsertPost(ctx context.Context, p models.Post) error {
	return errors.New("disk I/O error")
}

type panickingRepo struct {
	storage.Repository
}

func (r *panickingRepo) EnsureKeyword(ctx context.Context, keyword string, intervalHours int) (*models.Keyword, error) {
	panic("connection pool exhausted")
}

var fixedNow = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		DefaultSubreddits:         []string{"energy", "solar"},
		ThreadConcurrency:         4,
		DefaultFetchIntervalHours: 24,
		DefaultMaxPosts:           25,
		DefaultMaxCommentsPerPost: 20,
		FreshnessWindow:           24 * time.Hour,
		CycleTimeout:              time.Minute,
		ArchiveKeep:               5,
	}
}

func newTestRepo(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "pulse.db"), storage.Options{TrendingThreshold: 50})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestService(cfg *config.Config, deps Dependencies) *Service {
	service := NewService(cfg, deps)
	service.now = func() time.Time { return fixedNow }
	return service
}

func post(id, subreddit, title string, age time.Duration) models.Post {
	return models.Post{
		ID:        id,
		Title:     title,
		Body:      "Sharing what we learned over the last year.",
		Author:    "user_" + id,
		Subreddit: subreddit,
		Permalink: "https://www.reddit.com/r/" + subreddit + "/comments/" + id + "/x/",
		Keyword:   "solar power",
		CreatedAt: fixedNow.Add(-age),
	}
}

func comment(id, postID, body string) models.Comment {
	return models.Comment{
		ID:        id,
		PostID:    postID,
		Author:    "commenter_" + id,
		Subreddit: "energy",
		Body:      body,
		Score:     4,
		Keyword:   "solar power",
		CreatedAt: fixedNow.Add(-30 * time.Minute),
	}
}

func withID(id string) any {
	return mock.MatchedBy(func(p models.Post) bool { return p.ID == id })
}

// solarSource serves three posts over two subreddits, one of them listed in both
func solarSource() *MockSource {
	p1 := post("t3_p1", "energy", "Solar power costs dropped again this year", time.Hour)
	p2 := post("t3_p2", "energy", "Rooftop solar power install experience", 2*time.Hour)
	p3 := post("t3_p3", "solar", "Grid scale battery storage and solar power", 3*time.Hour)

	src := new(MockSource)
	src.On("FetchPosts", mock.Anything, "solar power", "energy", mock.Anything).Return([]models.Post{p1, p2})
	src.On("FetchPosts", mock.Anything, "solar power", "solar", mock.Anything).Return([]models.Post{p2, p3})
	src.On("FetchThread", mock.Anything, withID("t3_p1"), mock.Anything).Return(sources.Thread{
		Found:       true,
		PostScore:   120,
		NumComments: 2,
		Comments: []models.Comment{
			comment("c1", "t3_p1", "Our solar power bill went down a lot, love it"),
			comment("c2", "t3_p1", "ok"),
		},
	})
	src.On("FetchThread", mock.Anything, withID("t3_p2"), mock.Anything).Return(sources.Thread{})
	src.On("FetchThread", mock.Anything, withID("t3_p3"), mock.Anything).Return(sources.Thread{
		Found:     true,
		PostScore: 15,
		Comments: []models.Comment{
			comment("c3", "t3_p3", "Storage is the missing piece for solar power at night"),
		},
	})
	return src
}

func solarRequest() models.FetchRequest {
	return models.FetchRequest{
		Keyword:         "Solar  Power",
		MaxPosts:        5,
		IncludeComments: true,
	}
}

func TestRunCycle_FreshKeyword(t *testing.T) {
	repo := newTestRepo(t)
	src := solarSource()
	fileStore, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	archive := storage.NewArchive(fileStore)

	service := newTestService(testConfig(), Dependencies{Repository: repo, Source: src, Archive: archive})

	result, err := service.RunCycle(context.Background(), solarRequest())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.False(t, result.Cached)
	assert.Equal(t, "solar power", result.Keyword)
	assert.Empty(t, result.Errors)
	assert.LessOrEqual(t, result.TotalPosts, 5)
	assert.Equal(t, 3, result.TotalPosts)
	assert.Equal(t, 2, result.TotalComments)
	assert.Equal(t, 5, result.TotalStored)
	assert.Equal(t, 0, result.SkippedDuplicate)
	assert.Equal(t, 5, result.SentimentStats.Total())
	require.NotEmpty(t, result.TopChannels)
	assert.Equal(t, "energy", result.TopChannels[0].Name)
	assert.Equal(t, fixedNow, result.CompletedAt)

	kw, err := repo.GetKeyword(context.Background(), "solar power")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, kw.FetchStatus)
	require.NotNil(t, kw.NextScheduledFetch)
	assert.Equal(t, fixedNow.Add(24*time.Hour), kw.NextScheduledFetch.UTC())
	require.NotNil(t, kw.LastFetched)
	assert.Equal(t, fixedNow, kw.LastFetched.UTC())
	assert.Equal(t, 5, kw.Volume)

	page, err := repo.QueryItems(context.Background(), models.ItemQuery{Keyword: "solar power", Type: models.QueryPosts})
	require.NoError(t, err)
	scores := map[string]int{}
	for _, item := range page.Items {
		scores[item.ID] = item.Score
	}
	assert.Equal(t, 120, scores["t3_p1"], "thread score backfilled")

	names, err := archive.ListCycles("solar power")
	require.NoError(t, err)
	assert.Len(t, names, 1)

	src.AssertNumberOfCalls(t, "FetchPosts", 2)
	src.AssertNumberOfCalls(t, "FetchThread", 3)
	assert.False(t, service.IsProcessing("solar power"))
}

func TestRunCycle_AIDisabledStoresFallback(t *testing.T) {
	repo := newTestRepo(t)
	lex := filter.DefaultLexicon()
	service := newTestService(testConfig(), Dependencies{Repository: repo, Source: solarSource(), Lexicon: lex})

	result, err := service.RunCycle(context.Background(), solarRequest())
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, result.TotalPosts+result.TotalComments, result.TotalStored)

	page, err := repo.QueryItems(context.Background(), models.ItemQuery{Keyword: "solar power"})
	require.NoError(t, err)
	require.Len(t, page.Items, result.TotalStored)

	for _, item := range page.Items {
		var want models.Analysis
		if item.Type == models.ItemTypePost {
			want = analysis.Fallback(analysis.PostInput(models.Post{
				ID: item.ID, Title: item.Title, Body: item.Body, Subreddit: item.Subreddit, Keyword: item.Keyword,
			}, lex.TopicContext()))
		} else {
			want = analysis.Fallback(analysis.CommentInput(models.Comment{
				ID: item.ID, Body: item.Body, Subreddit: item.Subreddit, Keyword: item.Keyword,
			}, lex.TopicContext()))
		}
		assert.Equal(t, models.MethodFallback, item.Analysis.Method, item.ID)
		assert.Equal(t, want.Sentiment, item.Analysis.Sentiment, item.ID)
		assert.Equal(t, want.Relevancy.Score, item.Analysis.Relevancy.Score, item.ID)
		assert.Equal(t, want.Quality, item.Analysis.Quality, item.ID)
	}
}

func TestRunCycle_AIEnrichment(t *testing.T) {
	repo := newTestRepo(t)

	ai := models.Analysis{}
	ai.Sentiment.Classification = models.SentimentPositive
	ai.Sentiment.Confidence = 80
	ai.Relevancy.Score = 90

	analyzer := new(MockAnalyzer)
	analyzer.On("Analyze", mock.Anything, mock.Anything).Return(ai, nil)

	opts := analysis.DefaultEnricherOptions()
	opts.Enabled = true
	opts.BatchDelay = 0
	opts.RequestsPerSecond = 0
	enricher := analysis.NewEnricher(analyzer, opts)

	service := newTestService(testConfig(), Dependencies{Repository: repo, Source: solarSource(), Enricher: enricher})

	result, err := service.RunCycle(context.Background(), solarRequest())
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, 5, result.SentimentStats.Positive)

	page, err := repo.QueryItems(context.Background(), models.ItemQuery{Keyword: "solar power"})
	require.NoError(t, err)
	for _, item := range page.Items {
		assert.Equal(t, models.MethodAI, item.Analysis.Method)
		assert.Equal(t, 90.0, item.Analysis.Relevancy.Score)
	}
	analyzer.AssertNumberOfCalls(t, "Analyze", 5)
}

func TestRunCycle_FreshDataShortCircuits(t *testing.T) {
	repo := newTestRepo(t)
	src := solarSource()
	service := newTestService(testConfig(), Dependencies{Repository: repo, Source: src})

	first, err := service.RunCycle(context.Background(), solarRequest())
	require.NoError(t, err)
	require.True(t, first.Success)

	second, err := service.RunCycle(context.Background(), solarRequest())
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.True(t, second.Cached)
	assert.Equal(t, 0, second.TotalStored)
	assert.Equal(t, first.SentimentStats, second.SentimentStats)

	src.AssertNumberOfCalls(t, "FetchPosts", 2)

	kw, err := repo.GetKeyword(context.Background(), "solar power")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, kw.FetchStatus)
}

func TestRunCycle_ForceRefreshSkipsDuplicates(t *testing.T) {
	repo := newTestRepo(t)
	service := newTestService(testConfig(), Dependencies{Repository: repo, Source: solarSource()})

	_, err := service.RunCycle(context.Background(), solarRequest())
	require.NoError(t, err)

	req := solarRequest()
	req.ForceRefresh = true
	result, err := service.RunCycle(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.False(t, result.Cached)
	assert.Equal(t, 0, result.TotalStored)
	assert.Equal(t, 5, result.SkippedDuplicate)
	assert.Empty(t, result.Errors)

	kw, err := repo.GetKeyword(context.Background(), "solar power")
	require.NoError(t, err)
	assert.Equal(t, 5, kw.Volume)
}

func TestRunCycle_LockExclusivity(t *testing.T) {
	repo := newTestRepo(t)
	cfg := testConfig()
	cfg.DefaultSubreddits = []string{"energy"}

	unblock := make(chan struct{})
	src := new(MockSource)
	src.On("FetchPosts", mock.Anything, "solar power", "energy", mock.Anything).
		Run(func(mock.Arguments) { <-unblock }).
		Return([]models.Post{post("t3_p1", "energy", "Solar power costs dropped again this year", time.Hour)})

	service := newTestService(cfg, Dependencies{Repository: repo, Source: src})
	req := models.FetchRequest{Keyword: "solar power", MaxPosts: 5, ForceRefresh: true}

	var wg sync.WaitGroup
	var first *models.FetchResult
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		first, firstErr = service.RunCycle(context.Background(), req)
	}()

	require.Eventually(t, func() bool { return service.IsProcessing("solar power") }, 5*time.Second, 10*time.Millisecond)

	second, err := service.RunCycle(context.Background(), models.FetchRequest{Keyword: "SOLAR POWER", ForceRefresh: true})
	assert.Nil(t, second)
	assert.ErrorIs(t, err, ErrAlreadyProcessing)

	close(unblock)
	wg.Wait()

	require.NoError(t, firstErr)
	assert.True(t, first.Success)
	assert.Equal(t, 1, first.TotalStored)
	assert.False(t, service.IsProcessing("solar power"))
	src.AssertNumberOfCalls(t, "FetchPosts", 1)
}

func TestRunCycle_StorageFailureMarksFailed(t *testing.T) {
	repo := newTestRepo(t)
	notifier := new(MockNotificationService)
	notifier.On("SendAlert", mock.MatchedBy(func(a *models.Alert) bool {
		return a.Keyword == "solar power" && a.Type == "critical"
	})).Return(nil)

	service := newTestService(testConfig(), Dependencies{
		Repository: &insertFailingRepo{Repository: repo},
		Source:     solarSource(),
		Notifier:   notifier,
	})

	result, err := service.RunCycle(context.Background(), solarRequest())
	require.NoError(t, err)

	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "disk I/O error")

	kw, err := repo.GetKeyword(context.Background(), "solar power")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, kw.FetchStatus)
	assert.Contains(t, kw.LastError, "disk I/O error")

	notifier.AssertExpectations(t)
	assert.False(t, service.IsProcessing("solar power"))
}

func TestRunCycle_PanicReleasesLock(t *testing.T) {
	repo := newTestRepo(t)
	service := newTestService(testConfig(), Dependencies{
		Repository: &panickingRepo{Repository: repo},
		Source:     new(MockSource),
	})

	result, err := service.RunCycle(context.Background(), solarRequest())
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "connection pool exhausted")
	assert.False(t, service.IsProcessing("solar power"))
}

func TestRunCycle_CallerCancellationDoesNotAbort(t *testing.T) {
	repo := newTestRepo(t)
	cfg := testConfig()
	cfg.DefaultSubreddits = []string{"energy"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := new(MockSource)
	src.On("FetchPosts", mock.Anything, "solar power", "energy", mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return([]models.Post{post("t3_p1", "energy", "Solar power costs dropped again this year", time.Hour)})

	service := newTestService(cfg, Dependencies{Repository: repo, Source: src})

	result, err := service.RunCycle(ctx, models.FetchRequest{Keyword: "solar power", MaxPosts: 5})
	require.NoError(t, err)
	require.Error(t, ctx.Err())

	assert.True(t, result.Success, result.Errors)
	assert.Equal(t, 1, result.TotalStored)

	kw, err := repo.GetKeyword(context.Background(), "solar power")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, kw.FetchStatus)
}

func TestRunCycle_SourcePanicFailsKeyword(t *testing.T) {
	p1 := post("t3_p1", "energy", "Solar power costs dropped again this year", time.Hour)

	tests := []struct {
		name  string
		setup func(src *MockSource)
	}{
		{
			name: "feed worker",
			setup: func(src *MockSource) {
				src.On("FetchPosts", mock.Anything, "solar power", "energy", mock.Anything).
					Run(func(mock.Arguments) { panic("feed parser blew up") }).
					Return([]models.Post{})
			},
		},
		{
			name: "thread worker",
			setup: func(src *MockSource) {
				src.On("FetchPosts", mock.Anything, "solar power", "energy", mock.Anything).Return([]models.Post{p1})
				src.On("FetchThread", mock.Anything, withID("t3_p1"), mock.Anything).
					Run(func(mock.Arguments) { panic("feed parser blew up") }).
					Return(sources.Thread{})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newTestRepo(t)
			cfg := testConfig()
			cfg.DefaultSubreddits = []string{"energy"}

			src := new(MockSource)
			tt.setup(src)
			service := newTestService(cfg, Dependencies{Repository: repo, Source: src})

			result, err := service.RunCycle(context.Background(), solarRequest())
			require.NoError(t, err)
			assert.False(t, result.Success)
			require.Len(t, result.Errors, 1)
			assert.Contains(t, result.Errors[0], "feed parser blew up")
			assert.False(t, service.IsProcessing("solar power"))

			kw, err := repo.GetKeyword(context.Background(), "solar power")
			require.NoError(t, err)
			assert.Equal(t, models.StatusFailed, kw.FetchStatus)
		})
	}
}

func TestRunCycle_InvalidKeyword(t *testing.T) {
	service := newTestService(testConfig(), Dependencies{Repository: newTestRepo(t), Source: new(MockSource)})

	tests := []struct {
		name    string
		keyword string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"too long", strings.Repeat("a", 101)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.RunCycle(context.Background(), models.FetchRequest{Keyword: tt.keyword})
			assert.ErrorIs(t, err, ErrInvalidKeyword)
		})
	}
}

func TestChannels(t *testing.T) {
	cfg := testConfig()
	service := newTestService(cfg, Dependencies{})

	assert.Equal(t, []string{"Energy", "science"}, service.channels([]string{" r/Energy ", "energy", "science", ""}, false))
	assert.Equal(t, []string{"energy", "solar"}, service.channels(nil, false))

	lex := filter.DefaultLexicon()
	assert.Equal(t, lex.FocusedChannels, service.channels(nil, true), "focused callers search the focused set first")
	assert.Equal(t, []string{"wind"}, service.channels([]string{"wind"}, true))

	cfg.DefaultSubreddits = nil
	assert.Equal(t, lex.Channels(true), service.channels(nil, true))
	assert.Equal(t, lex.Channels(false), service.channels(nil, false))

	lex.FocusedChannels = nil
	cfg.DefaultSubreddits = []string{"energy"}
	service = newTestService(cfg, Dependencies{Lexicon: lex})
	assert.Equal(t, []string{"energy"}, service.channels(nil, true))
}

func TestGetMetrics(t *testing.T) {
	repo := newTestRepo(t)
	service := newTestService(testConfig(), Dependencies{Repository: repo, Source: solarSource()})

	_, err := service.RunCycle(context.Background(), solarRequest())
	require.NoError(t, err)

	var metrics Metrics
	require.NoError(t, json.Unmarshal([]byte(service.GetMetrics()), &metrics))
	assert.Equal(t, 1, metrics.TotalCycles)
	assert.Equal(t, 0, metrics.FailedCycles)
	assert.Equal(t, 5, metrics.TotalStored)
	assert.Equal(t, 5, metrics.KeywordMetrics["solar power"])
	assert.Empty(t, metrics.ActiveKeywords)
}

func TestKeywordLocks(t *testing.T) {
	locks := newKeywordLocks()

	release, ok := locks.TryAcquire("wind")
	require.True(t, ok)
	_, ok = locks.TryAcquire("wind")
	assert.False(t, ok)

	other, ok := locks.TryAcquire("solar")
	require.True(t, ok)
	assert.Equal(t, []string{"solar", "wind"}, locks.List())

	release()
	release()
	assert.False(t, locks.Held("wind"))
	assert.True(t, locks.Held("solar"))
	other()
	assert.Empty(t, locks.List())
}
