package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"impact-datagen/internal/database"
	"impact-datagen/internal/geo"
	"impact-datagen/internal/jobs"
	"impact-datagen/internal/messaging"
	"impact-datagen/internal/metrics"
	"impact-datagen/internal/request"
	"impact-datagen/internal/sampling"
	"impact-datagen/internal/storage"
	"impact-datagen/internal/utils"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"gorm.io/gorm"
)

// JobRunner submits a request envelope and blocks until its result has been
// written. *jobs.Client implements it.
type JobRunner interface {
	Run(ctx context.Context, envelope request.Envelope, resultFile, jobIDFile string, onSubmitted func(jobs.Submission)) (string, error)
}

var _ JobRunner = (*jobs.Client)(nil)

type TaskResult struct {
	Task        Task
	JobId       uuid.UUID
	RemoteJobId string
	OutputDir   string
	Error       error
}

type Options struct {
	BaseDir   string
	Workspace string
	Resample  bool
	// Seed makes every task's draw reproducible. Nil draws a random seed per
	// task.
	Seed        *uint64
	Concurrency int
	// ProgressOutput receives the progress bar. Nil hides it.
	ProgressOutput io.Writer
	Metrics        *metrics.RunMetrics
}

type Processor struct {
	db        *gorm.DB
	client    JobRunner
	archive   storage.ObjectStore
	publisher messaging.Publisher
	logger    *slog.Logger

	assets  []geo.Asset
	builder request.Builder
	opts    Options
}

// NewProcessor wires the pipeline stages together. archive and publisher are
// optional and may be nil.
func NewProcessor(db *gorm.DB, client JobRunner, archive storage.ObjectStore, publisher messaging.Publisher, assets []geo.Asset, opts Options, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency()
	}
	return &Processor{
		db:        db,
		client:    client,
		archive:   archive,
		publisher: publisher,
		logger:    logger,
		assets:    assets,
		builder:   request.Builder{Workspace: opts.Workspace, Resample: opts.Resample},
		opts:      opts,
	}
}

func DefaultConcurrency() int {
	return min(32, runtime.NumCPU()+4)
}

func (proc *Processor) rngFor(task Task) *rand.Rand {
	if proc.opts.Seed == nil {
		return sampling.NewRand(nil)
	}
	seed := *proc.opts.Seed + uint64(task.Index)
	return sampling.NewRand(&seed)
}

// Run executes every task on a bounded pool and returns the results in the
// order the tasks finished. A failing task never stops its siblings; its error
// is reported in its TaskResult.
func (proc *Processor) Run(ctx context.Context, tasks []Task) []TaskResult {
	queue := make(chan Task, len(tasks))
	for _, task := range tasks {
		queue <- task
	}
	close(queue)

	completed := make(chan utils.CompletedTask[Task, TaskResult], len(tasks))

	worker := func(task Task) (TaskResult, error) {
		return proc.processTask(ctx, task)
	}

	utils.RunInPool(worker, queue, completed, proc.opts.Concurrency)

	bar := proc.newProgressBar(len(tasks))

	results := make([]TaskResult, 0, len(tasks))
	for c := range completed {
		result := c.Result
		result.Task = c.Task
		result.Error = c.Error

		if result.Error != nil {
			proc.logger.Error("task failed", "task", c.Task.Name(), "job_id", result.JobId, "remote_job_id", result.RemoteJobId, "error", result.Error)
		} else {
			proc.logger.Info("task completed", "task", c.Task.Name(), "job_id", result.JobId, "remote_job_id", result.RemoteJobId)
		}

		_ = bar.Add(1)
		results = append(results, result)
	}
	_ = bar.Finish()

	return results
}

func (proc *Processor) newProgressBar(total int) *progressbar.ProgressBar {
	if proc.opts.ProgressOutput == nil {
		return progressbar.DefaultSilent(int64(total))
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription("⏳ waiting for remote jobs"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetWriter(proc.opts.ProgressOutput),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

func (proc *Processor) processTask(ctx context.Context, task Task) (TaskResult, error) {
	result := TaskResult{Task: task, OutputDir: task.Dir(proc.opts.BaseDir)}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	// The ledger is read by other processes, so it stores absolute paths.
	outputDir, err := filepath.Abs(result.OutputDir)
	if err != nil {
		return result, fmt.Errorf("error resolving output directory %s: %w", result.OutputDir, err)
	}
	result.OutputDir = outputDir

	proc.logger.Info("running experiment", "experiment", task.Experiment, "asset_class", task.AssetClass, "rows", task.Rows)

	start := time.Now()
	proc.opts.Metrics.TaskStarted()
	status := database.JobFailed
	defer func() {
		proc.opts.Metrics.TaskFinished(task.AssetClass, status, time.Since(start))
	}()

	if err := os.MkdirAll(result.OutputDir, os.ModePerm); err != nil {
		return result, fmt.Errorf("error creating output directory %s: %w", result.OutputDir, err)
	}

	job, err := database.CreateJob(ctx, proc.db, task.Experiment, task.AssetClass, task.Rows, result.OutputDir, request.DefaultParameters())
	if err != nil {
		return result, err
	}
	result.JobId = job.Id

	remoteJobId, runErr := proc.runTask(ctx, task, job.Id)
	result.RemoteJobId = remoteJobId

	// The ledger is updated with a fresh context so a cancelled run still
	// records why each task stopped.
	ledgerCtx := context.WithoutCancel(ctx)

	status = database.JobCompleted
	if runErr != nil {
		status = database.JobFailed
		database.SaveJobError(ledgerCtx, proc.db, job.Id, runErr.Error())
	}
	if err := database.UpdateJobStatus(ledgerCtx, proc.db, job.Id, status); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("error updating job status: %w", err))
	}

	proc.archiveTask(ledgerCtx, task, result.OutputDir, job.Id)
	proc.publishCompletion(ledgerCtx, task, result, status, runErr)

	return result, runErr
}

func (proc *Processor) runTask(ctx context.Context, task Task, jobId uuid.UUID) (string, error) {
	rng := proc.rngFor(task)

	sample, err := sampling.Sample(proc.assets, task.Rows, task.AssetClass, rng)
	if err != nil {
		return "", fmt.Errorf("error sampling assets: %w", err)
	}

	envelope, err := proc.builder.Build(sample, rng, task.InputFile(proc.opts.BaseDir))
	if err != nil {
		return "", fmt.Errorf("error building request: %w", err)
	}

	onSubmitted := func(submission jobs.Submission) {
		proc.logger.Info("request submitted", "task", task.Name(), "job_id", jobId, "remote_job_id", submission.JobID, "status_url", submission.StatusURL)
		if err := database.MarkJobSubmitted(ctx, proc.db, jobId, submission.JobID, submission.StatusURL); err != nil {
			proc.logger.Warn("unable to record job submission", "job_id", jobId, "error", err)
		}
	}

	remoteJobId, err := proc.client.Run(ctx, envelope, task.OutputFile(proc.opts.BaseDir), task.JobIDFile(proc.opts.BaseDir), onSubmitted)
	if err != nil {
		return remoteJobId, fmt.Errorf("error running remote job: %w", err)
	}
	return remoteJobId, nil
}

func (proc *Processor) archiveTask(ctx context.Context, task Task, outputDir string, jobId uuid.UUID) {
	if proc.archive == nil {
		return
	}
	if err := proc.archive.UploadDir(ctx, task.ArchivePrefix(), outputDir); err != nil {
		proc.logger.Error("error archiving task outputs", "task", task.Name(), "job_id", jobId, "error", err)
		database.SaveJobError(ctx, proc.db, jobId, fmt.Sprintf("archive upload failed: %s", err.Error()))
		return
	}
	proc.logger.Debug("archived task outputs", "task", task.Name(), "prefix", task.ArchivePrefix())
}

func (proc *Processor) publishCompletion(ctx context.Context, task Task, result TaskResult, status string, runErr error) {
	if proc.publisher == nil {
		return
	}

	payload := messaging.CompletionPayload{
		JobId:       result.JobId,
		RemoteJobId: result.RemoteJobId,
		Experiment:  task.Experiment,
		AssetClass:  task.AssetClass,
		Rows:        task.Rows,
		Status:      status,
		OutputDir:   result.OutputDir,
		Timestamp:   time.Now().UTC(),
	}
	if runErr != nil {
		payload.Error = runErr.Error()
	}

	if err := proc.publisher.PublishCompletion(ctx, payload); err != nil {
		proc.logger.Error("error publishing completion", "task", task.Name(), "job_id", result.JobId, "error", err)
	}
}
