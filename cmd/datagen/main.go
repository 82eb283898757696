package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"impact-datagen/cmd"
	"impact-datagen/internal/config"
	"impact-datagen/internal/database"
	"impact-datagen/internal/geo"
	"impact-datagen/internal/jobs"
	"impact-datagen/internal/metrics"
	"impact-datagen/internal/orchestrator"
	"impact-datagen/internal/sampling"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	experimentNo = 1
	baseDir      = "./data"
)

var (
	assetClasses = []string{
		sampling.PowerGeneratingAsset,
		sampling.ThermalPowerGeneratingAsset,
		sampling.RealEstateAsset,
		sampling.IndustrialActivity,
	}
	nosOfRows = []int{10, 500}
)

func loadPlan(cfg *config.Config) config.Plan {
	plan := config.Plan{
		Experiment:   experimentNo,
		BaseDir:      baseDir,
		AssetClasses: assetClasses,
		Rows:         nosOfRows,
	}

	if cfg.PlanFile == "" {
		return plan
	}

	plan, err := config.LoadPlan(cfg.PlanFile, plan)
	if err != nil {
		log.Fatalf("error loading plan: %v", err)
	}
	return plan
}

// run executes the plan and returns the number of failed tasks. Every
// resource it opens is released before it returns.
func run(ctx context.Context, cfg *config.Config, plan config.Plan, logger *slog.Logger) int {
	logger.Info("starting the process", "experiment", plan.Experiment, "base_dir", plan.BaseDir, "asset_classes", plan.AssetClasses, "rows", plan.Rows)

	db, err := database.NewDatabase(cfg.DatabaseURLFor(plan.BaseDir))
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	assets, err := geo.CreateAssetTable(cfg.AssetsCSV, cfg.ContinentsPath, logger)
	if err != nil {
		log.Fatalf("error creating asset table: %v", err)
	}

	user, password, err := cfg.Credentials()
	if err != nil {
		log.Fatalf("error parsing credentials: %v", err)
	}

	client := jobs.NewClient(jobs.Config{
		ExecutionURL:       jobs.ExecutionURL(cfg.AdesEndpoint, cfg.AdesUser, cfg.ProcessName),
		ResultsURLTemplate: cfg.ResultsURLTemplate,
		Username:           user,
		Password:           password,
		ResultsToken:       cfg.ResultsToken,
		InsecureSkipVerify: cfg.AdesInsecureSkipVerify,
		PollInterval:       cfg.PollInterval,
		MaxPollAttempts:    cfg.MaxPollAttempts,
	}, logger)

	archive := cmd.CreateArchive(ctx, cfg)

	publisher := cmd.CreatePublisher(cfg)
	if publisher != nil {
		defer publisher.Close()
	}

	var runMetrics *metrics.RunMetrics
	if cfg.MetricsAddr != "" {
		runMetrics = metrics.NewRunMetrics(prometheus.DefaultRegisterer)
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, prometheus.DefaultGatherer, logger); err != nil {
				logger.Error("metrics server failed", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
	}

	proc := orchestrator.NewProcessor(db, client, archive, publisher, assets, orchestrator.Options{
		BaseDir:        plan.BaseDir,
		Workspace:      cfg.Workspace,
		Resample:       cfg.Resample,
		Seed:           cfg.Seed,
		Concurrency:    cfg.Concurrency,
		ProgressOutput: os.Stderr,
		Metrics:        runMetrics,
	}, logger)

	results := proc.Run(ctx, orchestrator.Tasks(plan))

	failed := 0
	for _, result := range results {
		if result.Error != nil {
			failed++
		}
	}

	logger.Info("finished the process", "tasks", len(results), "failed", failed)
	return failed
}

func main() {
	cmd.LoadEnvFile()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	plan := loadPlan(cfg)

	logger, closeLog := cmd.NewLogger(filepath.Join(plan.BaseDir, "datagen.log"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	failed := run(ctx, cfg, plan, logger)
	stop()
	closeLog()

	if failed > 0 {
		os.Exit(1)
	}
}
