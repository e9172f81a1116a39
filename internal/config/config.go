package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port  string `env:"PORT" envDefault:"8080"`
	Debug bool   `env:"DEBUG" envDefault:"false"`

	// Relational store
	DatabasePath string `env:"DATABASE_PATH" envDefault:"data/pulse.db"`

	// Cycle archive: Azure Storage when an account is set, otherwise a local directory when ARCHIVE_DIR is set
	StorageAccount   string `env:"AZURE_STORAGE_ACCOUNT"`
	StorageContainer string `env:"AZURE_STORAGE_CONTAINER" envDefault:"pulse-cycles"`
	ArchiveDir       string `env:"ARCHIVE_DIR"`
	ArchiveKeep      int    `env:"ARCHIVE_KEEP" envDefault:"30"`

	// Failure alerts
	TeamsWebhookURL   string `env:"TEAMS_WEBHOOK_URL"`
	NotificationEmail string `env:"NOTIFICATION_EMAIL"`
	SMTPHost          string `env:"SMTP_HOST"`
	SMTPPort          int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername      string `env:"SMTP_USERNAME"`
	SMTPPassword      string `env:"SMTP_PASSWORD"`

	// Content network
	RedditBaseURL     string        `env:"REDDIT_BASE_URL" envDefault:"https://www.reddit.com"`
	RedditUserAgent   string        `env:"REDDIT_USER_AGENT" envDefault:"discussion-pulse/1.0"`
	FeedTimeout       time.Duration `env:"FEED_TIMEOUT" envDefault:"15s"`
	FeedMaxRetries    int           `env:"FEED_MAX_RETRIES" envDefault:"3"`
	FeedRetryDelay    time.Duration `env:"FEED_RETRY_DELAY" envDefault:"1s"`
	ThreadTimeout     time.Duration `env:"THREAD_TIMEOUT" envDefault:"10s"`
	DefaultSubreddits []string      `env:"DEFAULT_SUBREDDITS" envSeparator:","`
	ThreadConcurrency int           `env:"THREAD_CONCURRENCY" envDefault:"4"`

	// AI enrichment
	AIAnalysisEnabled   bool          `env:"AI_ANALYSIS_ENABLED" envDefault:"true"`
	OpenAIAPIKey        string        `env:"OPENAI_API_KEY"`
	OpenAIModel         string        `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	OpenAIBaseURL       string        `env:"OPENAI_BASE_URL"`
	AIBatchSize         int           `env:"AI_BATCH_SIZE" envDefault:"3"`
	AIBatchDelay        time.Duration `env:"AI_BATCH_DELAY" envDefault:"1s"`
	AIItemTimeout       time.Duration `env:"AI_ITEM_TIMEOUT" envDefault:"8s"`
	AITotalTimeout      time.Duration `env:"AI_TOTAL_TIMEOUT" envDefault:"45s"`
	AIRateLimitDelay    time.Duration `env:"AI_RATE_LIMIT_DELAY" envDefault:"2s"`
	AIMaxRetries        int           `env:"AI_MAX_RETRIES" envDefault:"2"`
	AIRequestsPerSecond float64       `env:"AI_REQUESTS_PER_SECOND" envDefault:"3"`

	// Scheduler
	SchedulerEnabled          bool          `env:"SCHEDULER_ENABLED" envDefault:"true"`
	SchedulerInterval         time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"30m"`
	SchedulerBatchSize        int           `env:"SCHEDULER_BATCH_SIZE" envDefault:"5"`
	SchedulerKeywordDelay     time.Duration `env:"SCHEDULER_KEYWORD_DELAY" envDefault:"5s"`
	DefaultFetchIntervalHours int           `env:"DEFAULT_FETCH_INTERVAL_HOURS" envDefault:"24"`

	// Cycle defaults
	DefaultMaxPosts           int           `env:"DEFAULT_MAX_POSTS" envDefault:"25"`
	DefaultMaxCommentsPerPost int           `env:"DEFAULT_MAX_COMMENTS_PER_POST" envDefault:"20"`
	TrendingThreshold         int           `env:"TRENDING_THRESHOLD" envDefault:"50"`
	FreshnessWindow           time.Duration `env:"FRESHNESS_WINDOW" envDefault:"24h"`
	CycleTimeout              time.Duration `env:"CYCLE_TIMEOUT" envDefault:"10m"`

	// Relevance lexicon (YAML); built-in defaults when empty
	LexiconPath string `env:"LEXICON_PATH"`
}

// Load loads configuration from the environment, reading a .env file first when present
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Parse()
	if err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Parse reads the environment into a Config without validating it
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment config: %w", err)
	}
	return cfg, nil
}

// AIEnabled reports whether AI analysis is both switched on and has a credential
func (c *Config) AIEnabled() bool {
	return c.AIAnalysisEnabled && c.OpenAIAPIKey != ""
}

func (c *Config) validate() error {
	if c.DefaultFetchIntervalHours < 1 || c.DefaultFetchIntervalHours > 168 {
		return fmt.Errorf("DEFAULT_FETCH_INTERVAL_HOURS must be between 1 and 168")
	}

	positive := map[string]int{
		"AI_BATCH_SIZE":                 c.AIBatchSize,
		"SCHEDULER_BATCH_SIZE":          c.SchedulerBatchSize,
		"THREAD_CONCURRENCY":            c.ThreadConcurrency,
		"DEFAULT_MAX_POSTS":             c.DefaultMaxPosts,
		"DEFAULT_MAX_COMMENTS_PER_POST": c.DefaultMaxCommentsPerPost,
		"TRENDING_THRESHOLD":            c.TrendingThreshold,
	}
	for name, v := range positive {
		if v <= 0 {
			return fmt.Errorf("%s must be greater than zero", name)
		}
	}

	if c.SchedulerInterval < time.Minute {
		return fmt.Errorf("SCHEDULER_INTERVAL must be at least one minute")
	}
	if c.AIItemTimeout <= 0 || c.AITotalTimeout <= 0 {
		return fmt.Errorf("AI_ITEM_TIMEOUT and AI_TOTAL_TIMEOUT must be positive")
	}

	if c.NotificationEmail != "" {
		if c.SMTPHost == "" || c.SMTPUsername == "" || c.SMTPPassword == "" {
			return fmt.Errorf("SMTP configuration is required when NOTIFICATION_EMAIL is set")
		}
	}

	return nil
}
