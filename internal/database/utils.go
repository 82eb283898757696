package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func CreateJob(ctx context.Context, txn *gorm.DB, experiment int, assetClass string, rows int, outputDir string, parameters any) (ImpactJob, error) {
	params, err := json.Marshal(parameters)
	if err != nil {
		return ImpactJob{}, fmt.Errorf("error encoding job parameters: %w", err)
	}

	job := ImpactJob{
		Id:           uuid.New(),
		Experiment:   experiment,
		AssetClass:   assetClass,
		RowCount:     rows,
		Status:       JobQueued,
		OutputDir:    outputDir,
		Parameters:   params,
		CreationTime: time.Now().UTC(),
	}

	if err := txn.WithContext(ctx).Create(&job).Error; err != nil {
		slog.Error("error creating job record", "asset_class", assetClass, "rows", rows, "error", err)
		return ImpactJob{}, fmt.Errorf("error creating job record: %w", err)
	}
	return job, nil
}

func MarkJobSubmitted(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, remoteJobId, statusURL string) error {
	updates := map[string]any{
		"status":        JobRunning,
		"remote_job_id": sql.NullString{String: remoteJobId, Valid: true},
		"status_url":    sql.NullString{String: statusURL, Valid: true},
		"start_time":    time.Now().UTC(),
	}

	if err := txn.WithContext(ctx).Model(&ImpactJob{Id: jobId}).Updates(updates).Error; err != nil {
		slog.Error("error marking job submitted", "job_id", jobId, "remote_job_id", remoteJobId, "error", err)
		return err
	}
	return nil
}

func UpdateJobStatus(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	if status == JobCompleted || status == JobFailed {
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&ImpactJob{Id: jobId}).Updates(updates).Error; err != nil {
		slog.Error("error updating job status", "job_id", jobId, "status", status, "error", err)
		return err
	}
	return nil
}

func SaveJobError(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, errorMessage string) {
	jobError := JobError{
		JobId:     jobId,
		ErrorId:   uuid.New(),
		Error:     errorMessage,
		Timestamp: time.Now().UTC(),
	}

	if err := txn.WithContext(ctx).Create(&jobError).Error; err != nil {
		slog.Error("error saving job error", "job_id", jobId, "error", err)
	}
}

type JobFilter struct {
	Experiment *int
	AssetClass string
	Status     string
}

func ListJobs(ctx context.Context, txn *gorm.DB, filter JobFilter) ([]ImpactJob, error) {
	query := txn.WithContext(ctx).Model(&ImpactJob{})
	if filter.Experiment != nil {
		query = query.Where("experiment = ?", *filter.Experiment)
	}
	if filter.AssetClass != "" {
		query = query.Where("asset_class = ?", filter.AssetClass)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var jobs []ImpactJob
	if err := query.Order("creation_time ASC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("error listing jobs: %w", err)
	}
	return jobs, nil
}

func GetJob(ctx context.Context, txn *gorm.DB, jobId uuid.UUID) (ImpactJob, error) {
	var job ImpactJob
	if err := txn.WithContext(ctx).Preload("Errors").First(&job, "id = ?", jobId).Error; err != nil {
		return ImpactJob{}, err
	}
	return job, nil
}
