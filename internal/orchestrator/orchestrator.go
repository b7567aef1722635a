// Package orchestrator walks the expanded task list and runs the task
// controller over each entry in order. Tasks are strictly sequential: each
// backfill depends on the previous exchange's on-disk count, and the
// endpoint's prefix cache rewards one conversation at a time.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"

	"github.com/clarigen/clarigen/internal/config"
	"github.com/clarigen/clarigen/internal/controller"
	"github.com/clarigen/clarigen/internal/writer"
	"github.com/clarigen/clarigen/pkg/models"
)

// Orchestrator runs the batch.
type Orchestrator struct {
	cfg       *config.Config
	ctrl      *controller.Controller
	store     *writer.TaskStore
	logger    *slog.Logger
	taskDelay time.Duration
	hideBar   bool
	sleep     func(ctx context.Context, d time.Duration)
}

// New creates a batch orchestrator.
func New(cfg *config.Config, ctrl *controller.Controller, store *writer.TaskStore, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		ctrl:      ctrl,
		store:     store,
		logger:    logger,
		taskDelay: time.Duration(cfg.Generation.TaskDelaySeconds) * time.Second,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// Run processes every task in order and returns the aggregated batch
// statistics. A failed task is logged and counted, never fatal; only
// storage errors and context cancellation abort the batch.
func (o *Orchestrator) Run(ctx context.Context, tasks []models.Task, systemPrompt string) (models.BatchStats, error) {
	stats := models.BatchStats{
		RunID:      uuid.New().String(),
		StartTime:  time.Now(),
		TotalTasks: len(tasks),
	}
	logger := o.logger.With("run_id", stats.RunID)

	if err := o.store.EnsureIncompleteLog(); err != nil {
		return stats, err
	}

	logger.Info("Starting batch run", "tasks", len(tasks), "target_per_task", o.cfg.Generation.TargetPerTask)

	var bar *progressbar.ProgressBar
	if !o.hideBar {
		bar = progressbar.Default(int64(len(tasks)), "Generating")
	}

	for i, task := range tasks {
		if err := ctx.Err(); err != nil {
			logger.Warn("Batch interrupted", "completed_tasks", i)
			stats.EndTime = time.Now()
			return stats, err
		}

		if err := writer.ValidateTaskCodes(task); err != nil {
			logger.Error("Skipping task with invalid codes", "task", task.ID(), "error", err)
			stats.Failed++
			continue
		}

		run, err := o.ctrl.Run(ctx, task, systemPrompt)
		stats.Usage.Add(run.Usage)
		if err != nil {
			stats.EndTime = time.Now()
			return stats, err
		}

		switch run.Status {
		case models.TaskComplete:
			if run.Exchanges == 0 {
				stats.SkippedAtFull++
			} else {
				stats.Completed++
			}
		case models.TaskFailed:
			stats.Failed++
		}

		if bar != nil {
			_ = bar.Add(1)
		}

		// Pace only after tasks that actually hit the endpoint.
		if run.Exchanges > 0 && i < len(tasks)-1 {
			o.sleep(ctx, o.taskDelay)
		}
	}

	stats.EndTime = time.Now()
	logger.Info("Batch run finished",
		"completed", stats.Completed,
		"skipped_at_full", stats.SkippedAtFull,
		"failed", stats.Failed,
		"duration", stats.EndTime.Sub(stats.StartTime).Round(time.Second).String(),
		"prompt_tokens", stats.Usage.PromptTokens,
		"completion_tokens", stats.Usage.CompletionTokens,
		"reasoning_tokens", stats.Usage.ReasoningTokens,
		"cache_hit_tokens", stats.Usage.CacheHitTokens)
	return stats, nil
}
