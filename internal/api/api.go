package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"impact-datagen/internal/database"
	"impact-datagen/internal/orchestrator"
	"impact-datagen/pkg/api"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

type BackendService struct {
	db *gorm.DB
}

func NewBackendService(db *gorm.DB) *BackendService {
	return &BackendService{db: db}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(s.Health))
	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", RestHandler(s.ListJobs))
		r.Get("/{job_id}", RestHandler(s.GetJob))
		r.Get("/{job_id}/result", RestHandler(s.GetJobResult))
	})
}

func (s *BackendService) Health(r *http.Request) (any, error) {
	sqlDB, err := s.db.DB()
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "error accessing database: %v", err)
	}
	if err := sqlDB.PingContext(r.Context()); err != nil {
		return nil, CodedErrorf(http.StatusServiceUnavailable, "database unavailable: %v", err)
	}
	return api.HealthResponse{Status: "ok"}, nil
}

func validJobStatus(status string) bool {
	switch status {
	case "", database.JobQueued, database.JobRunning, database.JobCompleted, database.JobFailed:
		return true
	default:
		return false
	}
}

func (s *BackendService) ListJobs(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[api.ListJobsParams](r)
	if err != nil {
		return nil, err
	}

	if !validJobStatus(params.Status) {
		return nil, CodedErrorf(http.StatusBadRequest, "invalid status '%s'", params.Status)
	}

	jobs, err := database.ListJobs(r.Context(), s.db, database.JobFilter{
		Experiment: params.Experiment,
		AssetClass: params.AssetClass,
		Status:     params.Status,
	})
	if err != nil {
		slog.Error("error listing jobs", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving job records")
	}

	return convertJobs(jobs), nil
}

func (s *BackendService) getJob(r *http.Request) (database.ImpactJob, error) {
	jobId, err := URLParamUUID(r, "job_id")
	if err != nil {
		return database.ImpactJob{}, err
	}

	job, err := database.GetJob(r.Context(), s.db, jobId)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return database.ImpactJob{}, CodedErrorf(http.StatusNotFound, "job not found")
		}
		slog.Error("error getting job", "job_id", jobId, "error", err)
		return database.ImpactJob{}, CodedErrorf(http.StatusInternalServerError, "error retrieving job record")
	}
	return job, nil
}

func (s *BackendService) GetJob(r *http.Request) (any, error) {
	job, err := s.getJob(r)
	if err != nil {
		return nil, err
	}
	return convertJob(job), nil
}

func (s *BackendService) GetJobResult(r *http.Request) (any, error) {
	job, err := s.getJob(r)
	if err != nil {
		return nil, err
	}

	if job.Status != database.JobCompleted {
		return nil, CodedErrorf(http.StatusConflict, "job has status %s, results are only available for completed jobs", job.Status)
	}

	path := filepath.Join(job.OutputDir, orchestrator.ResultFileName(job.AssetClass, job.RowCount))
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, CodedErrorf(http.StatusNotFound, "result file for job %s not found", job.Id)
		}
		slog.Error("error reading job result", "job_id", job.Id, "path", path, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error reading job result")
	}

	if !json.Valid(data) {
		return nil, CodedErrorf(http.StatusInternalServerError, "stored result for job %s is not valid json", job.Id)
	}

	return json.RawMessage(data), nil
}
