package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/agentstation/screenflow"
	"github.com/agentstation/screenflow/checkpoint"
	"github.com/agentstation/screenflow/internal/config"
	"github.com/agentstation/screenflow/middleware"
	"github.com/agentstation/screenflow/screening"
)

// runFlags holds the flags of the run command.
type runFlags struct {
	job         string
	pipeline    string
	runID       string
	concurrency int
	backend     string
	redisAddr   string
	ttl         string
	metrics     bool
}

func newRunCmd(global *globalFlags) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run --job <job.txt> <resume>...",
		Short: "Screen resumes against a job description",
		Long: `Run the screening pipeline over the given resume files and print the report.

A custom pipeline definition may be given with --pipeline; it must declare
the job_description, resumes and resume_filenames fields.`,
		Example: `  # Screen two resumes and print the markdown report
  screenflow run --job job.txt ada.txt bob.txt

  # Full result as JSON, checkpointing every step to redis
  screenflow run --job job.txt resumes/*.txt -o json --checkpoint redis --redis-addr localhost:6379`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, global)
			if err != nil {
				return err
			}
			applyRunFlags(cmd, flags, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runScreening(cmd, cfg, flags, args)
		},
	}

	cmd.Flags().StringVar(&flags.job, "job", "", "Job description file")
	cmd.Flags().StringVar(&flags.pipeline, "pipeline", "", "Pipeline definition file (default: embedded pipeline)")
	cmd.Flags().StringVar(&flags.runID, "run-id", "", "Run identifier (default: random UUID)")
	cmd.Flags().IntVar(&flags.concurrency, "concurrency", 4, "Candidates processed in parallel within a stage")
	cmd.Flags().StringVar(&flags.backend, "checkpoint", config.BackendNone, "Checkpoint backend (none, memory, redis)")
	cmd.Flags().StringVar(&flags.redisAddr, "redis-addr", "localhost:6379", "Redis address for checkpoints")
	cmd.Flags().StringVar(&flags.ttl, "checkpoint-ttl", "", "Expiry of redis checkpoints, e.g. 24h")
	cmd.Flags().BoolVar(&flags.metrics, "metrics", false, "Print stage metrics to stderr after the run")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}

func applyRunFlags(cmd *cobra.Command, flags *runFlags, cfg *config.Config) {
	set := cmd.Flags().Changed
	if set("pipeline") {
		cfg.Pipeline = flags.pipeline
	}
	if set("concurrency") {
		cfg.Concurrency = flags.concurrency
	}
	if set("checkpoint") {
		cfg.Checkpoint.Backend = flags.backend
	}
	if set("redis-addr") {
		cfg.Checkpoint.Address = flags.redisAddr
	}
	if set("checkpoint-ttl") {
		cfg.Checkpoint.TTL = flags.ttl
	}
	if set("metrics") {
		cfg.Metrics = flags.metrics
	}
}

func runScreening(cmd *cobra.Command, cfg *config.Config, flags *runFlags, resumes []string) error {
	ctx := cmd.Context()
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}

	job, err := os.ReadFile(flags.job) // #nosec G304 - user-provided job description
	if err != nil {
		return fmt.Errorf("read job description: %w", err)
	}
	docs, err := readDocuments(resumes)
	if err != nil {
		return err
	}

	mws := []middleware.Middleware{middleware.Logging(logger)}
	observers := screenflow.MultiObserver{&screenflow.LogObserver{Logger: logger}}
	var registry *prometheus.Registry
	if cfg.Metrics {
		registry = prometheus.NewRegistry()
		metrics, err := middleware.NewMetrics(registry)
		if err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		mws = append(mws, metrics.Middleware())
		observers = append(observers, metrics)
	}

	g, err := loadGraph(newLoader(cfg, mws...), cfg.Pipeline)
	if err != nil {
		return err
	}

	runID := flags.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	opts := []screenflow.EngineOption{
		screenflow.WithLogger(logger),
		screenflow.WithObserver(observers),
		screenflow.WithRunID(func() string { return runID }),
	}
	store, err := openCheckpoints(ctx, cfg)
	if err != nil {
		return err
	}
	if store != nil {
		defer closeStore(store, logger)
		opts = append(opts, screenflow.WithCheckpointer(store))
	}

	initial, err := screening.Input(g.Schema(), string(job), docs)
	if err != nil {
		return fmt.Errorf("prepare input: %w", err)
	}
	start := time.Now()
	final, err := screenflow.NewEngine(g, opts...).Execute(ctx, initial)
	if err != nil {
		return fmt.Errorf("screening failed: %w", err)
	}
	logger.Info("screening finished", "run_id", runID, "candidates", final.Len(screening.FieldCandidates), "elapsed", time.Since(start))

	if store != nil {
		if saved, err := store.Load(ctx, runID); err == nil {
			logger.Info("checkpoints saved", "run_id", runID, "backend", cfg.Checkpoint.Backend, "steps", len(saved))
		}
	}
	if err := writeResult(cmd.OutOrStdout(), cfg.Output, final); err != nil {
		return err
	}
	if registry != nil {
		return writeMetrics(cmd.ErrOrStderr(), registry)
	}
	return nil
}

func readDocuments(paths []string) ([]screening.Document, error) {
	docs := make([]screening.Document, 0, len(paths))
	for _, path := range paths {
		content, err := os.ReadFile(path) // #nosec G304 - user-provided resume files
		if err != nil {
			return nil, fmt.Errorf("read resume: %w", err)
		}
		docs = append(docs, screening.Document{Name: filepath.Base(path), Content: content})
	}
	return docs, nil
}

// openCheckpoints returns the configured checkpoint store, or nil when
// checkpointing is off.
func openCheckpoints(ctx context.Context, cfg *config.Config) (checkpoint.Store, error) {
	cp := cfg.Checkpoint
	switch cp.Backend {
	case config.BackendMemory:
		return checkpoint.NewMemoryStore(checkpoint.WithMaxRuns(cp.MaxRuns)), nil
	case config.BackendRedis:
		ttl, err := cfg.CheckpointTTL()
		if err != nil {
			return nil, err
		}
		opts := []checkpoint.RedisOption{checkpoint.WithTTL(ttl)}
		if cp.Prefix != "" {
			opts = append(opts, checkpoint.WithPrefix(cp.Prefix))
		}
		store := checkpoint.NewRedisStore(cp.Address, cp.Password, cp.DB, opts...)
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cp.Address, err)
		}
		return store, nil
	default:
		return nil, nil
	}
}

func closeStore(store checkpoint.Store, logger *slog.Logger) {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return
	}
	if err := closer.Close(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("close checkpoint store", "error", err)
	}
}
