package main

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/azure/discussion-pulse/internal/analysis"
	"github.com/azure/discussion-pulse/internal/config"
	"github.com/azure/discussion-pulse/internal/filter"
	"github.com/azure/discussion-pulse/internal/monitoring"
	"github.com/azure/discussion-pulse/internal/notifications"
	"github.com/azure/discussion-pulse/internal/scheduler"
	"github.com/azure/discussion-pulse/internal/sources"
	"github.com/azure/discussion-pulse/internal/storage"
)

// app is the process dependency graph
type app struct {
	store     *storage.SQLiteStore
	monitor   *monitoring.Service
	scheduler *scheduler.Service
}

func buildApp(cfg *config.Config) (*app, error) {
	store, err := storage.OpenSQLite(cfg.DatabasePath, storage.Options{TrendingThreshold: cfg.TrendingThreshold})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	lexicon := filter.DefaultLexicon()
	if cfg.LexiconPath != "" {
		if lexicon, err = filter.LoadLexicon(cfg.LexiconPath); err != nil {
			store.Close()
			return nil, err
		}
	}

	archive, err := newArchive(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	monitor := monitoring.NewService(cfg, monitoring.Dependencies{
		Repository: store,
		Source:     newSource(cfg),
		Enricher:   analysis.NewEnricher(newAnalyzer(cfg), enricherOptions(cfg)),
		Lexicon:    lexicon,
		Notifier:   notifications.NewService(cfg),
		Archive:    archive,
	})

	return &app{
		store:     store,
		monitor:   monitor,
		scheduler: scheduler.NewService(cfg, monitor, store),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		logrus.Errorf("Failed to close database: %v", err)
	}
}

func newSource(cfg *config.Config) *sources.RedditSource {
	return sources.NewRedditSource(sources.RedditOptions{
		BaseURL:       cfg.RedditBaseURL,
		UserAgent:     cfg.RedditUserAgent,
		FeedTimeout:   cfg.FeedTimeout,
		ThreadTimeout: cfg.ThreadTimeout,
		MaxRetries:    cfg.FeedMaxRetries,
		RetryDelay:    cfg.FeedRetryDelay,
	})
}

// newAnalyzer returns nil when AI analysis is switched off or has no credential
func newAnalyzer(cfg *config.Config) analysis.Analyzer {
	if !cfg.AIEnabled() {
		logrus.Info("AI analysis disabled, items get fallback analysis")
		return nil
	}
	return analysis.NewOpenAIAnalyzer(analysis.OpenAIOptions{
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.OpenAIModel,
		BaseURL: cfg.OpenAIBaseURL,
	})
}

func enricherOptions(cfg *config.Config) analysis.EnricherOptions {
	return analysis.EnricherOptions{
		Enabled:           cfg.AIEnabled(),
		BatchSize:         cfg.AIBatchSize,
		BatchDelay:        cfg.AIBatchDelay,
		ItemTimeout:       cfg.AIItemTimeout,
		TotalTimeout:      cfg.AITotalTimeout,
		RateLimitDelay:    cfg.AIRateLimitDelay,
		MaxRetries:        cfg.AIMaxRetries,
		RequestsPerSecond: cfg.AIRequestsPerSecond,
	}
}

// newArchive prefers Azure Storage, then a local directory; nil disables archiving
func newArchive(cfg *config.Config) (*storage.Archive, error) {
	switch {
	case cfg.StorageAccount != "":
		blobs, err := storage.NewAzureStorage(cfg.StorageAccount, cfg.StorageContainer)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		logrus.Infof("Archiving cycles to Azure container %s", cfg.StorageContainer)
		return storage.NewArchive(blobs), nil
	case cfg.ArchiveDir != "":
		files, err := storage.NewFileStorage(cfg.ArchiveDir)
		if err != nil {
			return nil, err
		}
		logrus.Infof("Archiving cycles to %s", cfg.ArchiveDir)
		return storage.NewArchive(files), nil
	default:
		return nil, nil
	}
}
