package orchestrator_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"impact-datagen/internal/config"
	"impact-datagen/internal/database"
	"impact-datagen/internal/geo"
	"impact-datagen/internal/jobs"
	"impact-datagen/internal/messaging"
	"impact-datagen/internal/metrics"
	"impact-datagen/internal/orchestrator"
	"impact-datagen/internal/request"
	"impact-datagen/internal/sampling"
	"impact-datagen/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls int
	fail  map[string]error
}

func (f *fakeRunner) Run(ctx context.Context, envelope request.Envelope, resultFile, jobIDFile string, onSubmitted func(jobs.Submission)) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	task := filepath.Base(filepath.Dir(resultFile))
	remoteId := "remote-" + task

	if err := os.WriteFile(jobIDFile, []byte(remoteId), 0o644); err != nil {
		return "", err
	}
	if onSubmitted != nil {
		onSubmitted(jobs.Submission{JobID: remoteId, StatusURL: "https://ades.example.com/jobs/" + remoteId})
	}

	if err, ok := f.fail[task]; ok {
		return remoteId, err
	}

	return remoteId, os.WriteFile(resultFile, []byte(`{"task":"`+task+`"}`), 0o644)
}

func testAssets(n int) []geo.Asset {
	assets := make([]geo.Asset, 0, n)
	for i := 0; i < n; i++ {
		assets = append(assets, geo.Asset{
			Index:      i,
			Longitude:  float64(i),
			Latitude:   float64(i) / 2,
			Attributes: map[string]string{geo.FuelColumn: "Solar"},
			Continent:  "Global",
		})
	}
	return assets
}

func testPlan(baseDir string) config.Plan {
	return config.Plan{
		Experiment:   1,
		BaseDir:      baseDir,
		AssetClasses: []string{sampling.PowerGeneratingAsset, sampling.RealEstateAsset},
		Rows:         []int{3, 5},
	}
}

func createDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.NewDatabase(":memory:")
	require.NoError(t, err)
	return db
}

func uint64Ptr(v uint64) *uint64 {
	return &v
}

func TestTasks(t *testing.T) {
	tasks := orchestrator.Tasks(testPlan("data"))
	require.Len(t, tasks, 4)

	assert.Equal(t, orchestrator.Task{Index: 0, Experiment: 1, AssetClass: sampling.PowerGeneratingAsset, Rows: 3}, tasks[0])
	assert.Equal(t, orchestrator.Task{Index: 1, Experiment: 1, AssetClass: sampling.PowerGeneratingAsset, Rows: 5}, tasks[1])
	assert.Equal(t, orchestrator.Task{Index: 3, Experiment: 1, AssetClass: sampling.RealEstateAsset, Rows: 5}, tasks[3])

	task := tasks[2]
	assert.Equal(t, "e1_RealEstateAsset_3", task.Name())
	assert.Equal(t, filepath.Join("data", "RealEstateAsset", "e1_RealEstateAsset_3"), task.Dir("data"))
	assert.Equal(t, filepath.Join("data", "RealEstateAsset", "e1_RealEstateAsset_3", "input.json"), task.InputFile("data"))
	assert.Equal(t, filepath.Join("data", "RealEstateAsset", "e1_RealEstateAsset_3", "job_id.txt"), task.JobIDFile("data"))
	assert.Equal(t, filepath.Join("data", "RealEstateAsset", "e1_RealEstateAsset_3", "output_RealEstateAsset_3.json"), task.OutputFile("data"))
	assert.Equal(t, "RealEstateAsset/e1_RealEstateAsset_3", task.ArchivePrefix())
}

func TestRunWritesOutputsLedgerArchiveAndNotifications(t *testing.T) {
	baseDir := t.TempDir()
	archiveDir := t.TempDir()
	db := createDB(t)

	archive, err := storage.NewLocalObjectStore(archiveDir)
	require.NoError(t, err)

	queue := messaging.NewInMemoryQueue(4)
	defer queue.Close()

	runner := &fakeRunner{}
	proc := orchestrator.NewProcessor(db, runner, archive, queue, testAssets(20), orchestrator.Options{
		BaseDir:     baseDir,
		Workspace:   "alice-workspace",
		Resample:    true,
		Concurrency: 2,
	}, nil)

	tasks := orchestrator.Tasks(testPlan(baseDir))
	results := proc.Run(context.Background(), tasks)
	require.Len(t, results, len(tasks))
	assert.Equal(t, len(tasks), runner.calls)

	for _, result := range results {
		require.NoError(t, result.Error)
		task := result.Task
		assert.Equal(t, "remote-"+task.Name(), result.RemoteJobId)
		assert.Equal(t, task.Dir(baseDir), result.OutputDir)

		envelope, err := request.ReadEnvelope(task.InputFile(baseDir))
		require.NoError(t, err)
		assert.Equal(t, "alice-workspace", envelope.Inputs.Workspace)
		fc, err := envelope.FeatureCollection()
		require.NoError(t, err)
		assert.Len(t, fc.Features, task.Rows)
		for _, f := range fc.Features {
			assert.Equal(t, task.AssetClass, f.Properties["asset_class"])
		}

		jobId, err := os.ReadFile(task.JobIDFile(baseDir))
		require.NoError(t, err)
		assert.Equal(t, result.RemoteJobId, string(jobId))
		assert.FileExists(t, task.OutputFile(baseDir))

		job, err := database.GetJob(context.Background(), db, result.JobId)
		require.NoError(t, err)
		assert.Equal(t, database.JobCompleted, job.Status)
		assert.Equal(t, result.RemoteJobId, job.RemoteJobId.String)
		assert.True(t, job.CompletionTime.Valid)
		assert.Empty(t, job.Errors)

		for _, name := range []string{"input.json", "job_id.txt", fmt.Sprintf("output_%s_%d.json", task.AssetClass, task.Rows)} {
			assert.FileExists(t, filepath.Join(archiveDir, filepath.FromSlash(task.ArchivePrefix()), name))
		}
	}

	notified := map[string]bool{}
	for i := 0; i < len(tasks); i++ {
		select {
		case payload := <-queue.Completions():
			assert.Equal(t, database.JobCompleted, payload.Status)
			assert.Empty(t, payload.Error)
			notified[payload.RemoteJobId] = true
		case <-time.After(time.Second):
			t.Fatal("missing completion notification")
		}
	}
	assert.Len(t, notified, len(tasks))
}

func TestRunIsolatesFailures(t *testing.T) {
	baseDir := t.TempDir()
	db := createDB(t)

	runner := &fakeRunner{fail: map[string]error{
		"e1_PowerGeneratingAsset_5": fmt.Errorf("%w: out of memory", jobs.ErrJobFailed),
	}}

	queue := messaging.NewInMemoryQueue(4)
	defer queue.Close()

	reg := prometheus.NewRegistry()
	proc := orchestrator.NewProcessor(db, runner, nil, queue, testAssets(20), orchestrator.Options{
		BaseDir:     baseDir,
		Concurrency: 4,
		Metrics:     metrics.NewRunMetrics(reg),
	}, nil)
	results := proc.Run(context.Background(), orchestrator.Tasks(testPlan(baseDir)))
	require.Len(t, results, 4)

	series, err := testutil.GatherAndCount(reg, "impact_datagen_tasks_total")
	require.NoError(t, err)
	assert.Equal(t, 3, series)

	failed := 0
	for _, result := range results {
		job, err := database.GetJob(context.Background(), db, result.JobId)
		require.NoError(t, err)

		if result.Task.Name() == "e1_PowerGeneratingAsset_5" {
			failed++
			assert.ErrorIs(t, result.Error, jobs.ErrJobFailed)
			assert.Equal(t, database.JobFailed, job.Status)
			require.Len(t, job.Errors, 1)
			assert.Contains(t, job.Errors[0].Error, "out of memory")
			assert.Equal(t, "remote-e1_PowerGeneratingAsset_5", job.RemoteJobId.String)
		} else {
			assert.NoError(t, result.Error)
			assert.Equal(t, database.JobCompleted, job.Status)
		}
	}
	assert.Equal(t, 1, failed)

	statuses := map[string]int{}
	for i := 0; i < 4; i++ {
		payload := <-queue.Completions()
		statuses[payload.Status]++
		if payload.Status == database.JobFailed {
			assert.Contains(t, payload.Error, "out of memory")
		}
	}
	assert.Equal(t, map[string]int{database.JobCompleted: 3, database.JobFailed: 1}, statuses)
}

func TestRunSampleLargerThanTable(t *testing.T) {
	baseDir := t.TempDir()
	db := createDB(t)

	runner := &fakeRunner{}
	proc := orchestrator.NewProcessor(db, runner, nil, nil, testAssets(4), orchestrator.Options{BaseDir: baseDir}, nil)

	plan := testPlan(baseDir)
	plan.AssetClasses = []string{sampling.IndustrialActivity}
	results := proc.Run(context.Background(), orchestrator.Tasks(plan))
	require.Len(t, results, 2)

	for _, result := range results {
		if result.Task.Rows == 5 {
			assert.ErrorIs(t, result.Error, sampling.ErrSampleSize)
			job, err := database.GetJob(context.Background(), db, result.JobId)
			require.NoError(t, err)
			assert.Equal(t, database.JobFailed, job.Status)
			assert.False(t, job.RemoteJobId.Valid)
		} else {
			assert.NoError(t, result.Error)
		}
	}
	assert.Equal(t, 1, runner.calls)
}

func TestRunRecordsAbsoluteOutputDir(t *testing.T) {
	workDir := t.TempDir()
	prevDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(workDir))
	t.Cleanup(func() { _ = os.Chdir(prevDir) })
	workDir, err = os.Getwd()
	require.NoError(t, err)

	db := createDB(t)
	proc := orchestrator.NewProcessor(db, &fakeRunner{}, nil, nil, testAssets(20), orchestrator.Options{BaseDir: "data"}, nil)

	plan := testPlan("data")
	plan.AssetClasses = []string{sampling.RealEstateAsset}
	plan.Rows = []int{3}

	results := proc.Run(context.Background(), orchestrator.Tasks(plan))
	require.Len(t, results, 1)
	require.NoError(t, results[0].Error)

	expected := filepath.Join(workDir, "data", "RealEstateAsset", "e1_RealEstateAsset_3")
	assert.Equal(t, expected, results[0].OutputDir)

	job, err := database.GetJob(context.Background(), db, results[0].JobId)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(job.OutputDir))
	assert.Equal(t, expected, job.OutputDir)
	assert.FileExists(t, filepath.Join(job.OutputDir, "output_RealEstateAsset_3.json"))
}

func TestRunSeededIsReproducible(t *testing.T) {
	run := func() (string, map[string][]byte) {
		baseDir := t.TempDir()
		proc := orchestrator.NewProcessor(createDB(t), &fakeRunner{}, nil, nil, testAssets(50), orchestrator.Options{
			BaseDir:  baseDir,
			Resample: true,
			Seed:     uint64Ptr(7),
		}, nil)

		tasks := orchestrator.Tasks(testPlan(baseDir))
		for _, result := range proc.Run(context.Background(), tasks) {
			require.NoError(t, result.Error)
		}

		inputs := map[string][]byte{}
		for _, task := range tasks {
			data, err := os.ReadFile(task.InputFile(baseDir))
			require.NoError(t, err)
			inputs[task.Name()] = data
		}
		return baseDir, inputs
	}

	_, first := run()
	_, second := run()
	assert.Equal(t, first, second)
	assert.NotEqual(t, first["e1_PowerGeneratingAsset_5"], first["e1_RealEstateAsset_5"])
}

func TestRunCancelledContext(t *testing.T) {
	baseDir := t.TempDir()
	runner := &fakeRunner{}
	proc := orchestrator.NewProcessor(createDB(t), runner, nil, nil, testAssets(20), orchestrator.Options{BaseDir: baseDir}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := proc.Run(ctx, orchestrator.Tasks(testPlan(baseDir)))
	require.Len(t, results, 4)
	for _, result := range results {
		assert.True(t, errors.Is(result.Error, context.Canceled))
	}
	assert.Equal(t, 0, runner.calls)
}

func TestRunAgainstRemoteService(t *testing.T) {
	var nextId atomic.Int32
	var polls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("POST /alice/ogc-api/processes/impact/execution", func(w http.ResponseWriter, r *http.Request) {
		var envelope request.Envelope
		if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil || envelope.Inputs.JSONString == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		id := fmt.Sprintf("job-%d", nextId.Add(1))
		w.Header().Set("Location", "/alice/ogc-api/jobs/"+id)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"jobID": id, "status": jobs.StatusAccepted})
	})
	mux.HandleFunc("GET /alice/ogc-api/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		status := jobs.StatusRunning
		if polls.Add(1)%2 == 0 {
			status = jobs.StatusSuccessful
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"jobID": r.PathValue("id"), "status": status})
	})
	mux.HandleFunc("GET /results/{file}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"file":"` + r.PathValue("file") + `"}`))
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	client := jobs.NewClient(jobs.Config{
		ExecutionURL:       jobs.ExecutionURL(server.URL, "alice", "impact"),
		ResultsURLTemplate: server.URL + "/results/cat_" + jobs.JobIDPlaceholder + ".json",
		Username:           "alice",
		Password:           "secret",
		ResultsToken:       "token",
		PollInterval:       time.Millisecond,
		MaxPollAttempts:    50,
	}, nil)

	baseDir := t.TempDir()
	db := createDB(t)
	proc := orchestrator.NewProcessor(db, client, nil, nil, testAssets(20), orchestrator.Options{BaseDir: baseDir, Concurrency: 2}, nil)

	tasks := orchestrator.Tasks(testPlan(baseDir))
	results := proc.Run(context.Background(), tasks)
	require.Len(t, results, len(tasks))

	seen := map[string]bool{}
	for _, result := range results {
		require.NoError(t, result.Error)
		seen[result.RemoteJobId] = true

		output, err := os.ReadFile(result.Task.OutputFile(baseDir))
		require.NoError(t, err)
		assert.JSONEq(t, `{"file":"cat_`+result.RemoteJobId+`.json"}`, string(output))

		job, err := database.GetJob(context.Background(), db, result.JobId)
		require.NoError(t, err)
		assert.Equal(t, database.JobCompleted, job.Status)
		assert.Equal(t, server.URL+"/alice/ogc-api/jobs/"+result.RemoteJobId, job.StatusURL.String)
	}
	assert.Len(t, seen, len(tasks))
}
