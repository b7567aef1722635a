package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/clarigen/clarigen/internal/api"
	"github.com/clarigen/clarigen/internal/budget"
	"github.com/clarigen/clarigen/internal/config"
	"github.com/clarigen/clarigen/internal/controller"
	"github.com/clarigen/clarigen/internal/metrics"
	"github.com/clarigen/clarigen/internal/orchestrator"
	"github.com/clarigen/clarigen/internal/plan"
	"github.com/clarigen/clarigen/internal/writer"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	configPath  string
	envFile     string
	metricsAddr string
	verbose     bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clarigen",
		Short: "Clarigen - Clarification Dialogue Corpus Generator",
		Long: `Clarigen generates a corpus of multi-round clarification dialogues in
ShareGPT format by driving a reasoning-capable completion endpoint over a
declarative generation plan.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the corpus generation batch",
		Long: `Run the full generation batch:
1. Parse the generation plan into (domain, ambiguity type, rounds) tasks
2. For each task, generate records until the target count is on disk
3. Validate every record structurally before it is persisted
4. Record tasks that exhaust their retries in the incomplete-task log

The batch is resumable: tasks already at their target are skipped, and a
partially filled task only requests the records it is still missing.`,
		RunE: runGeneration,
	}
	runCmd.Flags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")
	runCmd.Flags().StringVar(&envFile, "env-file", ".env", "Path to environment file")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Address to serve Prometheus metrics on (e.g. :9090), disabled when empty")
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Re-validate the corpus and remove malformed records",
		Long: `Walk every corpus file, re-run structural validation on each record,
rewrite files with the invalid records removed, and write removal
statistics to check_stats.json under the corpus root.`,
		RunE: runCheck,
	}
	checkCmd.Flags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")
	checkCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print corpus statistics",
		Long:  "Print per-domain, per-type, and per-round record counts plus the incomplete-task history.",
		RunE:  runStats,
	}
	statsCmd.Flags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")

	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "List the expanded task list with on-disk progress",
		RunE:  runPlan,
	}
	planCmd.Flags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(planCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runGeneration(cmd *cobra.Command, args []string) error {
	if envFile != "" {
		if err := loadEnvFile(envFile); err != nil {
			if !os.IsNotExist(err) {
				fmt.Fprintf(os.Stderr, "Warning: failed to load env file: %v\n", err)
			}
		} else if verbose {
			fmt.Fprintf(os.Stderr, "Loaded env file: %s\n", envFile)
		}
	}

	cfg, secrets, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger, logFile, err := writer.SetupLogger(cfg.Generation.OutputDir, logLevel)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer func() {
		if logFile != nil {
			_ = logFile.Sync()
			_ = logFile.Close()
		}
	}()

	logger.Info("Clarigen starting",
		"version", Version,
		"config", configPath,
		"model", cfg.Model.ModelName,
		"output_dir", cfg.Generation.OutputDir)

	generationPlan, err := plan.Load(cfg.Generation.PlanFile)
	if err != nil {
		return fmt.Errorf("failed to load generation plan: %w", err)
	}
	tasks, err := generationPlan.Tasks(cfg.Generation.TargetPerTask)
	if err != nil {
		return fmt.Errorf("failed to expand generation plan: %w", err)
	}
	logger.Info("Generation plan expanded",
		"domains", len(generationPlan.Domains),
		"types", len(generationPlan.Types),
		"rounds", len(generationPlan.Rounds),
		"tasks", len(tasks))

	promptData, err := os.ReadFile(cfg.Generation.PromptFile)
	if err != nil {
		return fmt.Errorf("failed to read system prompt: %w", err)
	}
	systemPrompt := string(promptData)

	collector := metrics.NewCollector(logger)
	if metricsAddr != "" {
		go serveMetrics(metricsAddr, logger)
	}

	apiClient := api.NewClient(cfg.Model, secrets.APIKey, logger)
	driver := controller.NewCompletionDriver(apiClient, collector, cfg.Model.ModelName)
	store := writer.NewTaskStore(cfg.Generation.OutputDir)
	estimator := budget.NewEstimator(cfg)
	ctrl := controller.New(driver, store, estimator, cfg, collector, logger)
	orch := orchestrator.New(cfg, ctrl, store, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats, err := orch.Run(ctx, tasks, systemPrompt)
	if err != nil {
		if err == context.Canceled {
			logger.Warn("Generation interrupted - completed tasks are durable, rerun to resume",
				"completed", stats.Completed,
				"failed", stats.Failed)
			return fmt.Errorf("generation interrupted (rerun the same command to resume)")
		}
		return fmt.Errorf("generation failed: %w", err)
	}

	logger.Info("Generation complete",
		"run_id", stats.RunID,
		"tasks", stats.TotalTasks,
		"completed", stats.Completed,
		"skipped_at_full", stats.SkippedAtFull,
		"failed", stats.Failed,
		"duration", stats.EndTime.Sub(stats.StartTime).Round(time.Second).String())

	if stats.Failed > 0 {
		logger.Warn("Some tasks did not reach their target",
			"failed", stats.Failed,
			"incomplete_log", store.IncompleteLogPath())
	}
	return nil
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("Serving Prometheus metrics", "addr", addr)
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Metrics server stopped", "error", err)
	}
}
