package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/azure/discussion-pulse/internal/models"
	"github.com/azure/discussion-pulse/internal/observability"
)

// EnricherOptions controls batching, timeouts and backoff of AI analysis
type EnricherOptions struct {
	Enabled           bool
	BatchSize         int
	BatchDelay        time.Duration
	ItemTimeout       time.Duration
	TotalTimeout      time.Duration
	RateLimitDelay    time.Duration
	MaxRetries        int
	RequestsPerSecond float64
}

// DefaultEnricherOptions returns the production batching settings
func DefaultEnricherOptions() EnricherOptions {
	return EnricherOptions{
		Enabled:           true,
		BatchSize:         3,
		BatchDelay:        time.Second,
		ItemTimeout:       8 * time.Second,
		TotalTimeout:      45 * time.Second,
		RateLimitDelay:    2 * time.Second,
		MaxRetries:        2,
		RequestsPerSecond: 3,
	}
}

// Enricher attaches an Analysis to every item, using the AI analyzer when it is enabled and
// the local fallback for anything the AI path cannot serve in time.
type Enricher struct {
	analyzer Analyzer
	opts     EnricherOptions
	limiter  *rate.Limiter
}

// NewEnricher creates an enricher. A nil analyzer means AI analysis is unavailable.
func NewEnricher(analyzer Analyzer, opts EnricherOptions) *Enricher {
	def := DefaultEnricherOptions()
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.ItemTimeout <= 0 {
		opts.ItemTimeout = def.ItemTimeout
	}
	if opts.TotalTimeout <= 0 {
		opts.TotalTimeout = def.TotalTimeout
	}
	if opts.BatchDelay < 0 {
		opts.BatchDelay = 0
	}
	if opts.RateLimitDelay < 0 {
		opts.RateLimitDelay = 0
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &Enricher{
		analyzer: analyzer,
		opts:     opts,
		limiter:  rate.NewLimiter(limit, opts.BatchSize),
	}
}

// Enabled reports whether items go to the AI analyzer
func (e *Enricher) Enabled() bool {
	return e.opts.Enabled && e.analyzer != nil
}

// Enrich returns one Result per input, in input order. It never fails: items the AI path could not
// analyse receive the fallback analysis.
func (e *Enricher) Enrich(ctx context.Context, inputs []Input) []Result {
	results := make([]Result, len(inputs))
	if len(inputs) == 0 {
		return results
	}

	done := make([]bool, len(inputs))
	if e.Enabled() {
		e.enrichBatches(ctx, inputs, results, done)
	}

	fallbacks := 0
	for i, in := range inputs {
		if done[i] {
			continue
		}
		results[i] = Result{Input: in, Analysis: Fallback(in)}
		fallbacks++
	}

	observability.AnalysesTotal.WithLabelValues(models.MethodAI).Add(float64(len(inputs) - fallbacks))
	observability.AnalysesTotal.WithLabelValues(models.MethodFallback).Add(float64(fallbacks))
	if e.Enabled() && fallbacks > 0 {
		logrus.Warnf("AI analysis unavailable for %d of %d items, used fallback analysis", fallbacks, len(inputs))
	}
	return results
}

func (e *Enricher) enrichBatches(ctx context.Context, inputs []Input, results []Result, done []bool) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.TotalTimeout)
	defer cancel()

	for start := 0; start < len(inputs); start += e.opts.BatchSize {
		if ctx.Err() != nil {
			logrus.Warnf("AI analysis exceeded %s, %d items left for fallback", e.opts.TotalTimeout, len(inputs)-start)
			return
		}

		end := min(start+e.opts.BatchSize, len(inputs))
		var wg sync.WaitGroup
		var throttled atomic.Bool

		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				a, limited, ok := e.analyzeWithRetry(ctx, inputs[i])
				if limited {
					throttled.Store(true)
				}
				if ok {
					results[i] = Result{Input: inputs[i], Analysis: a}
					done[i] = true
				}
			}(i)
		}
		wg.Wait()

		if end < len(inputs) {
			delay := e.opts.BatchDelay
			if throttled.Load() {
				delay += e.opts.RateLimitDelay
			}
			if err := sleepCtx(ctx, delay); err != nil {
				return
			}
		}
	}
}

// analyzeWithRetry retries only on rate limiting; other failures go straight to fallback
func (e *Enricher) analyzeWithRetry(ctx context.Context, in Input) (models.Analysis, bool, bool) {
	limited := false
	for attempt := 0; attempt <= e.opts.MaxRetries; attempt++ {
		if err := e.limiter.Wait(ctx); err != nil {
			return models.Analysis{}, limited, false
		}

		a, err := e.analyzeOnce(ctx, in)
		if err == nil {
			return a, limited, true
		}

		if !errors.Is(err, ErrRateLimited) {
			logrus.Debugf("AI analysis failed for %s %s: %v", in.Kind, in.ID, err)
			return models.Analysis{}, limited, false
		}

		limited = true
		if attempt == e.opts.MaxRetries {
			break
		}
		delay := e.opts.RateLimitDelay * time.Duration(attempt+1)
		logrus.Warnf("AI service rate limited on %s %s, retrying in %s", in.Kind, in.ID, delay)
		if err := sleepCtx(ctx, delay); err != nil {
			break
		}
	}
	return models.Analysis{}, limited, false
}

// analyzeOnce races a single analyzer call against the per-item timeout
func (e *Enricher) analyzeOnce(ctx context.Context, in Input) (models.Analysis, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.opts.ItemTimeout)
	defer cancel()

	type outcome struct {
		analysis models.Analysis
		err      error
	}
	ch := make(chan outcome, 1)
	started := time.Now()

	go func() {
		a, err := e.analyzer.Analyze(callCtx, in)
		ch <- outcome{analysis: a, err: err}
	}()

	select {
	case o := <-ch:
		observability.AIRequestDuration.Observe(time.Since(started).Seconds())
		if o.err != nil {
			return models.Analysis{}, o.err
		}
		o.analysis.Method = models.MethodAI
		o.analysis.Normalize()
		return o.analysis, nil
	case <-callCtx.Done():
		return models.Analysis{}, fmt.Errorf("analysis of %s %s timed out after %s: %w", in.Kind, in.ID, e.opts.ItemTimeout, callCtx.Err())
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
