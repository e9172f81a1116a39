package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/azure/discussion-pulse/internal/analysis"
	"github.com/azure/discussion-pulse/internal/config"
	"github.com/azure/discussion-pulse/internal/filter"
	"github.com/azure/discussion-pulse/internal/models"
	"github.com/azure/discussion-pulse/internal/notifications"
	"github.com/azure/discussion-pulse/internal/observability"
	"github.com/azure/discussion-pulse/internal/sources"
	"github.com/azure/discussion-pulse/internal/storage"
)

const (
	maxKeywordLength = 100
	maxItemsPerCycle = 100
)

var (
	// ErrInvalidKeyword is returned for an empty or oversized keyword
	ErrInvalidKeyword = errors.New("invalid keyword")
	// ErrAlreadyProcessing is returned when a cycle for the same keyword is already running
	ErrAlreadyProcessing = errors.New("keyword is already being processed")
)

// Dependencies are the collaborators a cycle runs against
type Dependencies struct {
	Repository storage.Repository
	Source     sources.Source
	Enricher   *analysis.Enricher
	Lexicon    *filter.Lexicon
	Notifier   notifications.NotificationInterface
	// Archive is optional
	Archive *storage.Archive
}

// Service runs fetch-filter-enrich-store cycles for keywords
type Service struct {
	config   *config.Config
	repo     storage.Repository
	source   sources.Source
	enricher *analysis.Enricher
	lexicon  *filter.Lexicon
	notifier notifications.NotificationInterface
	archive  *storage.Archive
	locks    *keywordLocks
	metrics  *Metrics
	mu       sync.RWMutex
	now      func() time.Time
}

// Metrics holds in-process cycle metrics
type Metrics struct {
	TotalCycles     int                    `json:"total_cycles"`
	FailedCycles    int                    `json:"failed_cycles"`
	CachedCycles    int                    `json:"cached_cycles"`
	TotalStored     int                    `json:"total_stored"`
	LastRun         time.Time              `json:"last_run"`
	LastRunDuration string                 `json:"last_run_duration"`
	KeywordMetrics  map[string]int         `json:"keyword_metrics"`
	LastSentiment   models.SentimentCounts `json:"last_sentiment"`
	ActiveKeywords  []string               `json:"active_keywords"`
	ErrorCount      int                    `json:"error_count"`
}

// NewService creates a new monitoring service
func NewService(cfg *config.Config, deps Dependencies) *Service {
	lex := deps.Lexicon
	if lex == nil {
		lex = filter.DefaultLexicon()
	}
	enricher := deps.Enricher
	if enricher == nil {
		enricher = analysis.NewEnricher(nil, analysis.DefaultEnricherOptions())
	}

	return &Service{
		config:   cfg,
		repo:     deps.Repository,
		source:   deps.Source,
		enricher: enricher,
		lexicon:  lex,
		notifier: deps.Notifier,
		archive:  deps.Archive,
		locks:    newKeywordLocks(),
		metrics: &Metrics{
			KeywordMetrics: make(map[string]int),
		},
		now: time.Now,
	}
}

// IsProcessing reports whether a cycle for keyword is in flight in this process
func (s *Service) IsProcessing(keyword string) bool {
	return s.locks.Held(models.NormalizeKeyword(keyword))
}

// RunCycle runs one cycle for the requested keyword. Only validation and lock contention are returned
// as errors; everything else is reported through the result's Success and Errors fields.
// Cancelling ctx does not stop a started cycle; it runs to completion bounded by CycleTimeout.
func (s *Service) RunCycle(ctx context.Context, req models.FetchRequest) (*models.FetchResult, error) {
	ctx = context.WithoutCancel(ctx)
	keyword := models.NormalizeKeyword(req.Keyword)
	if keyword == "" || len(keyword) > maxKeywordLength {
		return nil, fmt.Errorf("%w: must be 1 to %d characters", ErrInvalidKeyword, maxKeywordLength)
	}

	release, ok := s.locks.TryAcquire(keyword)
	if !ok {
		observability.LockContention.Inc()
		logrus.Warnf("Rejected cycle for %q: already processing", keyword)
		return nil, fmt.Errorf("%w: %s", ErrAlreadyProcessing, keyword)
	}
	defer release()

	start := s.now()
	log := logrus.WithFields(logrus.Fields{"keyword": keyword, "role": req.CallerRole})
	log.Info("Starting fetch cycle")

	result := &models.FetchResult{
		Keyword:     keyword,
		Errors:      []string{},
		TopChannels: []models.ChannelStat{},
	}

	if err := s.runGuarded(ctx, keyword, req, result); err != nil {
		s.fail(keyword, result, err)
	} else {
		result.Success = true
	}

	result.CompletedAt = s.now().UTC()
	result.ProcessingTimeMs = result.CompletedAt.Sub(start).Milliseconds()

	s.updateMetrics(result)
	s.archiveResult(result)

	log.WithFields(logrus.Fields{
		"success":  result.Success,
		"cached":   result.Cached,
		"posts":    result.TotalPosts,
		"comments": result.TotalComments,
		"stored":   result.TotalStored,
		"skipped":  result.SkippedDuplicate,
	}).Infof("Fetch cycle finished in %dms", result.ProcessingTimeMs)

	return result, nil
}

func (s *Service) runGuarded(ctx context.Context, keyword string, req models.FetchRequest, result *models.FetchResult) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panicked: %v", r)
		}
	}()
	return s.runCycle(ctx, keyword, req, result)
}

func (s *Service) runCycle(ctx context.Context, keyword string, req models.FetchRequest, result *models.FetchResult) error {
	if s.config.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.CycleTimeout)
		defer cancel()
	}

	kw, err := s.repo.EnsureKeyword(ctx, keyword, s.config.DefaultFetchIntervalHours)
	if err != nil {
		return fmt.Errorf("failed to load keyword: %w", err)
	}

	interval := kw.FetchInterval
	if interval <= 0 {
		interval = s.config.DefaultFetchIntervalHours
	}

	if !req.ForceRefresh {
		fresh, err := s.repo.HasRecentItems(ctx, keyword, s.now().Add(-s.config.FreshnessWindow))
		if err != nil {
			return fmt.Errorf("failed to check freshness: %w", err)
		}
		if fresh {
			return s.completeCached(ctx, kw, interval, result)
		}
	}

	if err := s.repo.MarkProcessing(ctx, keyword); err != nil {
		return fmt.Errorf("failed to mark keyword processing: %w", err)
	}

	maxPosts := clamp(req.MaxPosts, s.config.DefaultMaxPosts)
	maxComments := clamp(req.MaxCommentsPerPost, s.config.DefaultMaxCommentsPerPost)
	focused := models.IsFocusedRole(req.CallerRole)
	fetchedAt := s.now().UTC()

	posts, err := s.fetchPosts(ctx, keyword, s.channels(req.Subreddits, focused), maxPosts)
	if err != nil {
		return fmt.Errorf("failed to fetch posts: %w", err)
	}
	for i := range posts {
		posts[i].FetchedAt = fetchedAt
	}

	var comments []models.Comment
	if req.IncludeComments {
		if comments, err = s.fetchThreads(ctx, posts, maxComments); err != nil {
			return fmt.Errorf("failed to fetch threads: %w", err)
		}
		for i := range comments {
			comments[i].FetchedAt = fetchedAt
		}
	}

	policy := filter.ForRole(req.CallerRole, s.lexicon)
	posts = policy.SelectPosts(keyword, posts)
	comments = policy.SelectComments(keyword, commentsOf(posts, comments))
	result.TotalPosts = len(posts)
	result.TotalComments = len(comments)
	logrus.Debugf("Policy %s kept %d posts and %d comments for %q", policy.Name(), len(posts), len(comments), keyword)

	topics := s.lexicon.TopicContext()

	postInputs := make([]analysis.Input, len(posts))
	for i, p := range posts {
		postInputs[i] = analysis.PostInput(p, topics)
	}
	for i, r := range s.enricher.Enrich(ctx, postInputs) {
		posts[i].Analysis = r.Analysis
		posts[i].Processed = true
	}

	commentInputs := make([]analysis.Input, len(comments))
	for i, c := range comments {
		commentInputs[i] = analysis.CommentInput(c, topics)
	}
	for i, r := range s.enricher.Enrich(ctx, commentInputs) {
		comments[i].Analysis = r.Analysis
		comments[i].Processed = true
	}

	if err := s.persist(ctx, posts, comments, result); err != nil {
		return err
	}

	updated, err := s.repo.RefreshKeywordStats(ctx, keyword)
	if err != nil {
		return fmt.Errorf("failed to refresh keyword stats: %w", err)
	}
	result.SentimentStats = updated.Sentiment
	if updated.TopSubreddits != nil {
		result.TopChannels = updated.TopSubreddits
	}

	now := s.now().UTC()
	if err := s.repo.MarkCompleted(ctx, keyword, now, now.Add(time.Duration(interval)*time.Hour)); err != nil {
		return fmt.Errorf("failed to mark keyword completed: %w", err)
	}
	return nil
}

// completeCached finishes a cycle that found recent data without fetching anything
func (s *Service) completeCached(ctx context.Context, kw *models.Keyword, interval int, result *models.FetchResult) error {
	now := s.now().UTC()
	if err := s.repo.MarkCompleted(ctx, kw.Keyword, now, now.Add(time.Duration(interval)*time.Hour)); err != nil {
		return fmt.Errorf("failed to mark keyword completed: %w", err)
	}

	result.Cached = true
	result.SentimentStats = kw.Sentiment
	if kw.TopSubreddits != nil {
		result.TopChannels = kw.TopSubreddits
	}
	logrus.Infof("Recent data exists for %q, skipping fetch", kw.Keyword)
	return nil
}

func (s *Service) channels(requested []string, focused bool) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(list []string) {
		for _, c := range list {
			c = strings.TrimPrefix(strings.TrimSpace(c), "r/")
			if c == "" || seen[strings.ToLower(c)] {
				continue
			}
			seen[strings.ToLower(c)] = true
			out = append(out, c)
		}
	}

	add(requested)
	if len(out) == 0 && focused {
		add(s.lexicon.FocusedChannels)
	}
	if len(out) == 0 {
		add(s.config.DefaultSubreddits)
	}
	if len(out) == 0 {
		add(s.lexicon.Channels(false))
	}
	if len(out) == 0 {
		out = []string{"all"}
	}
	return out
}

// fetchPosts searches every channel concurrently and returns the newest unique posts, at most limit
func (s *Service) fetchPosts(ctx context.Context, keyword string, channels []string, limit int) ([]models.Post, error) {
	perChannel := make([][]models.Post, len(channels))

	var workers fanOut
	for i, channel := range channels {
		workers.Go(func() {
			perChannel[i] = s.source.FetchPosts(ctx, keyword, channel, limit)
			logrus.Debugf("Found %d posts for %q in r/%s", len(perChannel[i]), keyword, channel)
		})
	}
	if err := workers.Wait(); err != nil {
		return nil, err
	}

	var posts []models.Post
	seen := make(map[string]bool)
	for _, batch := range perChannel {
		for _, p := range batch {
			if p.ID == "" || seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			posts = append(posts, p)
		}
	}

	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].CreatedAt.After(posts[j].CreatedAt)
	})
	if len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

// fetchThreads loads comments for every post with bounded fan-out and backfills the posts' live counters
func (s *Service) fetchThreads(ctx context.Context, posts []models.Post, limit int) ([]models.Comment, error) {
	workers := s.config.ThreadConcurrency
	if workers <= 0 {
		workers = 1
	}

	threads := make([]sources.Thread, len(posts))
	sem := make(chan struct{}, workers)
	var fetchers fanOut
	for i := range posts {
		sem <- struct{}{}
		fetchers.Go(func() {
			defer func() { <-sem }()
			threads[i] = s.source.FetchThread(ctx, posts[i], limit)
		})
	}
	if err := fetchers.Wait(); err != nil {
		return nil, err
	}

	var comments []models.Comment
	for i, thread := range threads {
		if !thread.Found {
			continue
		}
		posts[i].Score = thread.PostScore
		posts[i].NumComments = thread.NumComments
		comments = append(comments, thread.Comments...)
	}
	return comments, nil
}

func commentsOf(posts []models.Post, comments []models.Comment) []models.Comment {
	kept := make(map[string]bool, len(posts))
	for _, p := range posts {
		kept[p.ID] = true
	}

	out := make([]models.Comment, 0, len(comments))
	for _, c := range comments {
		if kept[c.PostID] {
			out = append(out, c)
		}
	}
	return out
}

func (s *Service) persist(ctx context.Context, posts []models.Post, comments []models.Comment, result *models.FetchResult) error {
	for _, p := range posts {
		err := s.repo.InsertPost(ctx, p)
		if err := s.countInsert(err, models.ItemTypePost, p.ID, result); err != nil {
			return err
		}
	}
	for _, c := range comments {
		err := s.repo.InsertComment(ctx, c)
		if err := s.countInsert(err, models.ItemTypeComment, c.ID, result); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) countInsert(err error, kind, id string, result *models.FetchResult) error {
	switch {
	case err == nil:
		result.TotalStored++
		observability.ItemsStored.WithLabelValues(kind).Inc()
		return nil
	case errors.Is(err, storage.ErrDuplicate):
		result.SkippedDuplicate++
		observability.DuplicatesSkipped.WithLabelValues(kind).Inc()
		logrus.Debugf("Skipping duplicate %s %s", kind, id)
		return nil
	default:
		return fmt.Errorf("failed to store %s %s: %w", kind, id, err)
	}
}

func (s *Service) fail(keyword string, result *models.FetchResult, cause error) {
	logrus.WithField("keyword", keyword).Errorf("Fetch cycle failed: %v", cause)
	result.Success = false
	result.Errors = append(result.Errors, cause.Error())

	// The cycle context may already be expired
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.repo.MarkFailed(ctx, keyword, cause.Error()); err != nil {
		logrus.Errorf("Failed to mark %q failed: %v", keyword, err)
	}

	if s.notifier == nil {
		return
	}
	alert := &models.Alert{
		ID:        uuid.NewString(),
		Type:      "critical",
		Title:     fmt.Sprintf("Fetch cycle failed for %s", keyword),
		Message:   cause.Error(),
		Keyword:   keyword,
		CreatedAt: s.now().UTC(),
	}
	if err := s.notifier.SendAlert(alert); err != nil {
		logrus.Errorf("Failed to send failure alert for %q: %v", keyword, err)
	}
}

func (s *Service) archiveResult(result *models.FetchResult) {
	if s.archive == nil || result.Cached {
		return
	}

	name, err := s.archive.SaveCycle(result)
	if err != nil {
		logrus.Warnf("Failed to archive cycle for %q: %v", result.Keyword, err)
		return
	}
	logrus.Debugf("Archived cycle as %s", name)

	if s.config.ArchiveKeep > 0 {
		if removed, err := s.archive.Prune(result.Keyword, s.config.ArchiveKeep); err != nil {
			logrus.Warnf("Failed to prune archive for %q: %v", result.Keyword, err)
		} else if removed > 0 {
			logrus.Debugf("Pruned %d archived cycles for %q", removed, result.Keyword)
		}
	}
}

func (s *Service) updateMetrics(result *models.FetchResult) {
	status := "success"
	switch {
	case !result.Success:
		status = "failed"
	case result.Cached:
		status = "cached"
	}
	observability.CyclesTotal.WithLabelValues(status).Inc()
	observability.CycleDurationSeconds.Observe(float64(result.ProcessingTimeMs) / 1000)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics.TotalCycles++
	s.metrics.LastRun = result.CompletedAt
	s.metrics.LastRunDuration = (time.Duration(result.ProcessingTimeMs) * time.Millisecond).String()
	s.metrics.TotalStored += result.TotalStored
	s.metrics.KeywordMetrics[result.Keyword] += result.TotalStored
	switch status {
	case "failed":
		s.metrics.FailedCycles++
		s.metrics.ErrorCount += len(result.Errors)
	case "cached":
		s.metrics.CachedCycles++
	default:
		s.metrics.LastSentiment = result.SentimentStats
	}
}

// GetMetrics returns current metrics as JSON
func (s *Service) GetMetrics() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := *s.metrics
	snapshot.ActiveKeywords = s.locks.List()

	data, _ := json.MarshalIndent(snapshot, "", "  ")
	return string(data)
}

func clamp(requested, fallback int) int {
	if requested <= 0 {
		requested = fallback
	}
	if requested > maxItemsPerCycle {
		requested = maxItemsPerCycle
	}
	return requested
}
