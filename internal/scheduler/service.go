package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/azure/discussion-pulse/internal/config"
	"github.com/azure/discussion-pulse/internal/models"
	"github.com/azure/discussion-pulse/internal/monitoring"
	"github.com/azure/discussion-pulse/internal/storage"
)

const (
	minIntervalHours = 1
	maxIntervalHours = 168
)

// ErrInvalidInterval is returned for a fetch interval outside 1 to 168 hours
var ErrInvalidInterval = fmt.Errorf("fetch interval must be between %d and %d hours", minIntervalHours, maxIntervalHours)

// CycleRunner runs one keyword cycle
type CycleRunner interface {
	RunCycle(ctx context.Context, req models.FetchRequest) (*models.FetchResult, error)
}

// Status describes the scheduler for operators
type Status struct {
	IsRunning       bool       `json:"isRunning"`
	Interval        string     `json:"interval"`
	BatchSize       int        `json:"batchSize"`
	NextRunEstimate *time.Time `json:"nextRunEstimate,omitempty"`
	LastRun         *time.Time `json:"lastRun,omitempty"`
	LastRunCycles   int        `json:"lastRunCycles"`
}

// Service handles scheduling of keyword cycles
type Service struct {
	config  *config.Config
	runner  CycleRunner
	store   storage.KeywordStore
	cron    *cron.Cron
	entryID cron.EntryID
	mu      sync.Mutex
	running bool
	lastRun time.Time
	lastRan int
	now     func() time.Time
}

// NewService creates a new scheduler service
func NewService(cfg *config.Config, runner CycleRunner, store storage.KeywordStore) *Service {
	logger := cron.PrintfLogger(logrus.StandardLogger())
	return &Service{
		config: cfg,
		runner: runner,
		store:  store,
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		now: time.Now,
	}
}

// Start begins the periodic due-keyword sweep
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	spec := fmt.Sprintf("@every %s", s.config.SchedulerInterval)
	id, err := s.cron.AddFunc(spec, func() {
		logrus.Info("Starting scheduled keyword sweep")
		if _, err := s.RunDue(context.Background()); err != nil {
			logrus.Errorf("Scheduled keyword sweep failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule keyword sweep: %w", err)
	}

	s.entryID = id
	s.cron.Start()
	s.running = true
	logrus.Infof("Scheduler started: every %s, up to %d keywords per sweep", s.config.SchedulerInterval, s.config.SchedulerBatchSize)
	return nil
}

// Stop stops the scheduler and waits for an in-flight sweep to finish, bounded by ctx
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cron.Remove(s.entryID)
	done := s.cron.Stop()
	s.mu.Unlock()

	select {
	case <-done.Done():
		logrus.Info("Scheduler stopped")
	case <-ctx.Done():
		logrus.Warn("Scheduler stopped before the running sweep finished")
	}
}

// Status reports whether the scheduler is running and when it fires next
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		IsRunning:     s.running,
		Interval:      s.config.SchedulerInterval.String(),
		BatchSize:     s.config.SchedulerBatchSize,
		LastRunCycles: s.lastRan,
	}
	if s.running {
		entry := s.cron.Entry(s.entryID)
		next := entry.Next
		if next.IsZero() && entry.Schedule != nil {
			next = entry.Schedule.Next(s.now())
		}
		if !next.IsZero() {
			status.NextRunEstimate = &next
		}
	}
	if !s.lastRun.IsZero() {
		last := s.lastRun
		status.LastRun = &last
	}
	return status
}

// RunDue runs a cycle for every due keyword, one at a time, and returns how many cycles ran
func (s *Service) RunDue(ctx context.Context) (int, error) {
	due, err := s.store.DueKeywords(ctx, s.now(), s.config.SchedulerBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list due keywords: %w", err)
	}
	if len(due) == 0 {
		logrus.Debug("No keywords due")
		s.recordRun(0)
		return 0, nil
	}

	logrus.Infof("%d keywords due for fetching", len(due))

	ran := 0
	for i, kw := range due {
		if i > 0 {
			if err := sleepCtx(ctx, s.config.SchedulerKeywordDelay); err != nil {
				break
			}
		}

		result, err := s.runner.RunCycle(ctx, models.FetchRequest{
			Keyword:            kw.Keyword,
			MaxPosts:           s.config.DefaultMaxPosts,
			IncludeComments:    true,
			MaxCommentsPerPost: s.config.DefaultMaxCommentsPerPost,
			ForceRefresh:       true,
			CallerRole:         models.RoleGeneral,
		})
		switch {
		case errors.Is(err, monitoring.ErrAlreadyProcessing):
			logrus.Infof("Skipping %q: a cycle is already running", kw.Keyword)
			continue
		case err != nil:
			logrus.Errorf("Scheduled cycle for %q was rejected: %v", kw.Keyword, err)
			continue
		}

		ran++
		if !result.Success {
			logrus.Warnf("Scheduled cycle for %q failed: %v", kw.Keyword, result.Errors)
		}
	}

	s.recordRun(ran)
	return ran, nil
}

func (s *Service) recordRun(ran int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = s.now()
	s.lastRan = ran
}

// Schedule adds a keyword to scheduling or updates its interval and auto-fetch flag.
// A zero interval means the configured default. Failed keywords are re-enabled.
func (s *Service) Schedule(ctx context.Context, keyword string, intervalHours int, autoFetch bool) (*models.Keyword, error) {
	keyword = models.NormalizeKeyword(keyword)
	if keyword == "" {
		return nil, monitoring.ErrInvalidKeyword
	}
	if intervalHours == 0 {
		intervalHours = s.config.DefaultFetchIntervalHours
	}
	if intervalHours < minIntervalHours || intervalHours > maxIntervalHours {
		return nil, ErrInvalidInterval
	}

	kw, err := s.store.UpdateSchedule(ctx, keyword, intervalHours, autoFetch)
	if err != nil {
		return nil, err
	}
	logrus.Infof("Scheduled %q every %dh (autoFetch=%t)", keyword, intervalHours, autoFetch)
	return kw, nil
}

// Unschedule stops automatic fetching for a keyword
func (s *Service) Unschedule(ctx context.Context, keyword string) error {
	keyword = models.NormalizeKeyword(keyword)
	if keyword == "" {
		return monitoring.ErrInvalidKeyword
	}
	if err := s.store.Unschedule(ctx, keyword); err != nil {
		return err
	}
	logrus.Infof("Unscheduled %q", keyword)
	return nil
}

func (s *Service) Get(ctx context.Context, keyword string) (*models.Keyword, error) {
	return s.store.GetKeyword(ctx, models.NormalizeKeyword(keyword))
}

func (s *Service) List(ctx context.Context) ([]models.Keyword, error) {
	return s.store.ListScheduled(ctx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
