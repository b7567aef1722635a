// Package controller drives one generation task from its current on-disk
// state to completion: an explicit state machine over repeated completion
// exchanges, with bounded retries and durable partial progress.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/clarigen/clarigen/internal/api"
	"github.com/clarigen/clarigen/internal/budget"
	"github.com/clarigen/clarigen/internal/config"
	"github.com/clarigen/clarigen/internal/extract"
	"github.com/clarigen/clarigen/internal/metrics"
	"github.com/clarigen/clarigen/internal/plan"
	"github.com/clarigen/clarigen/internal/session"
	"github.com/clarigen/clarigen/pkg/models"
)

// State is one phase of the task lifecycle.
type State string

const (
	StateNotStarted  State = "NOT_STARTED"
	StateGenerating  State = "GENERATING"
	StateBackfilling State = "BACKFILLING"
	StateComplete    State = "COMPLETE"
	StateFailed      State = "FAILED"
)

// Driver performs one completion exchange against the endpoint.
type Driver interface {
	Exchange(ctx context.Context, sess *session.Session, instruction string, maxTokens int) (string, api.Usage, error)
}

// Store is the durable side of a task: record counts, appends, and the
// failure artifacts.
type Store interface {
	Count(task models.Task) (int, error)
	Append(task models.Task, records []models.Record) (int, error)
	CaptureRaw(task models.Task, raw string) error
	LogIncomplete(task models.Task, finalCount int) error
}

// Controller runs the per-task state machine. One controller serves the
// whole batch; all per-task state lives in Run's locals so runs stay
// independent.
type Controller struct {
	driver    Driver
	store     Store
	estimator *budget.Estimator
	cfg       *config.Config
	collector *metrics.Collector
	logger    *slog.Logger
}

// New creates a task controller.
func New(driver Driver, store Store, estimator *budget.Estimator, cfg *config.Config, collector *metrics.Collector, logger *slog.Logger) *Controller {
	return &Controller{
		driver:    driver,
		store:     store,
		estimator: estimator,
		cfg:       cfg,
		collector: collector,
		logger:    logger,
	}
}

// Run drives one task until its on-disk count reaches target or retries are
// exhausted. Already-complete tasks return immediately without touching the
// endpoint. Partial progress is durable at every step: records are appended
// as soon as they validate, so interruption never loses accepted records.
func (c *Controller) Run(ctx context.Context, task models.Task, systemPrompt string) (models.RunStats, error) {
	start := time.Now()
	stats := models.RunStats{Task: task, Status: models.TaskIncomplete}
	state := StateNotStarted
	logger := c.logger.With("task", task.ID())

	count, err := c.store.Count(task)
	if err != nil {
		return stats, fmt.Errorf("failed to read on-disk count: %w", err)
	}
	stats.FinalCount = count

	if count >= task.Target {
		state = StateComplete
		stats.Status = models.TaskComplete
		stats.Duration = time.Since(start)
		logger.Info("Task already at target, skipping", "count", count, "target", task.Target)
		return stats, nil
	}

	// A fresh session per task; history never leaks across tasks.
	sess := session.New(systemPrompt, c.cfg.Model.ContextSize)
	state = StateGenerating
	retries := 0

	for count < task.Target {
		if err := ctx.Err(); err != nil {
			stats.Duration = time.Since(start)
			return stats, err
		}

		needed := task.Target - count
		reqCount := needed
		if !c.estimator.Fits(task.Rounds, needed) {
			if fit := c.estimator.FitCount(task.Rounds); fit < reqCount {
				logger.Info("Requested batch exceeds output ceiling, shrinking",
					"needed", needed, "adjusted", fit)
				reqCount = fit
			}
		}
		maxTokens := c.estimator.Budget(task.Rounds, reqCount)

		// A session that lost its history (fresh start or headroom reset)
		// must receive the full instruction; the short backfill message only
		// makes sense when the model has seen the task description.
		if !sess.HasHeadroom(session.EstimateTokens(plan.GenerationInstruction(task, reqCount)) + maxTokens) {
			logger.Info("Context headroom exhausted, starting fresh session",
				"estimated_tokens", sess.EstimatedTokens())
			sess.Reset()
		}
		var instruction string
		if sess.Len() == 1 {
			instruction = plan.GenerationInstruction(task, reqCount)
		} else {
			instruction = plan.BackfillInstruction(count, reqCount)
		}

		logger.Info("Requesting records",
			"state", string(state),
			"have", count,
			"requesting", reqCount,
			"max_tokens", maxTokens)

		raw, usage, err := c.driver.Exchange(ctx, sess, instruction, maxTokens)
		stats.Exchanges++
		stats.Usage.Add(models.UsageTotals{
			PromptTokens:     usage.PromptTokens,
			CacheHitTokens:   usage.PromptCacheHitTokens,
			CacheMissTokens:  usage.PromptCacheMissTokens,
			CompletionTokens: usage.CompletionTokens,
			ReasoningTokens:  usage.CompletionTokensDetails.ReasoningTokens,
		})
		if err != nil {
			if ctx.Err() != nil {
				stats.Duration = time.Since(start)
				return stats, ctx.Err()
			}
			if !api.IsRetryable(err) {
				logger.Error("Non-retryable exchange error", "error", err)
				return c.fail(task, &stats, count, start, logger)
			}
			logger.Warn("Exchange failed", "error", err, "retry", retries+1, "max_retries", c.cfg.Generation.MaxRetries)
			if done, ferr := c.retry(ctx, task, &stats, &retries, count, start, logger); done {
				return stats, ferr
			}
			continue
		}

		candidates, truncated := extract.Records(raw)
		if truncated {
			logger.Warn("Response appeared truncated, keeping parseable prefix",
				"recovered", len(candidates))
		}

		var accepted []models.Record
		for _, rec := range candidates {
			ok, reason := extract.Validate(rec, task.Rounds, c.cfg.Generation.SummaryMarker)
			if !ok {
				stats.Rejected++
				if c.collector != nil {
					c.collector.RecordRejected(string(reason))
				}
				logger.Debug("Record rejected", "reason", string(reason))
				continue
			}
			accepted = append(accepted, rec)
		}

		if len(accepted) == 0 {
			// Extraction failure: keep the raw text for inspection and
			// treat the exchange as zero records produced.
			if cerr := c.store.CaptureRaw(task, raw); cerr != nil {
				logger.Warn("Failed to capture raw response", "error", cerr)
			}
			logger.Warn("No records accepted from response",
				"candidates", len(candidates), "raw_len", len(raw))
			if done, ferr := c.retry(ctx, task, &stats, &retries, count, start, logger); done {
				return stats, ferr
			}
			continue
		}

		total, err := c.store.Append(task, accepted)
		if err != nil {
			stats.Duration = time.Since(start)
			return stats, fmt.Errorf("failed to persist records: %w", err)
		}
		count = total
		stats.FinalCount = count
		stats.Accepted += len(accepted)
		retries = 0
		if c.collector != nil {
			c.collector.RecordAccepted(len(accepted))
		}
		if count < task.Target {
			state = StateBackfilling
		}
		logger.Info("Records persisted", "accepted", len(accepted), "count", count, "target", task.Target)
	}

	stats.Status = models.TaskComplete
	stats.Duration = time.Since(start)
	if c.collector != nil {
		c.collector.RecordTaskOutcome("complete")
	}
	logger.Info("Task complete", "count", count, "exchanges", stats.Exchanges)
	return stats, nil
}

// retry counts one failure against the retry bound. It returns done=true
// when the bound is exhausted and the task has transitioned to FAILED.
func (c *Controller) retry(ctx context.Context, task models.Task, stats *models.RunStats, retries *int, count int, start time.Time, logger *slog.Logger) (bool, error) {
	*retries++
	stats.Retries++
	if c.collector != nil {
		c.collector.RecordRetry()
	}
	if *retries >= c.cfg.Generation.MaxRetries {
		_, err := c.fail(task, stats, count, start, logger)
		return true, err
	}

	delay := time.Duration(c.cfg.Generation.RetryDelaySeconds) * time.Second
	select {
	case <-ctx.Done():
		stats.Duration = time.Since(start)
		return true, ctx.Err()
	case <-time.After(delay):
	}
	return false, nil
}

// fail transitions the task to FAILED, appending it to the incomplete-task
// log. Records persisted before the failure stay on disk.
func (c *Controller) fail(task models.Task, stats *models.RunStats, count int, start time.Time, logger *slog.Logger) (models.RunStats, error) {
	stats.Status = models.TaskFailed
	stats.FinalCount = count
	stats.Duration = time.Since(start)
	if c.collector != nil {
		c.collector.RecordTaskOutcome("failed")
	}
	if err := c.store.LogIncomplete(task, count); err != nil {
		logger.Warn("Failed to record incomplete task", "error", err)
	}
	logger.Error("Task failed, retries exhausted", "count", count, "target", task.Target)
	return *stats, nil
}
