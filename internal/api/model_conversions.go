package api

import (
	"encoding/json"

	"impact-datagen/internal/database"
	"impact-datagen/pkg/api"
)

func convertJob(j database.ImpactJob) api.Job {
	job := api.Job{
		Id:           j.Id,
		Experiment:   j.Experiment,
		AssetClass:   j.AssetClass,
		Rows:         j.RowCount,
		Status:       j.Status,
		RemoteJobId:  j.RemoteJobId.String,
		StatusURL:    j.StatusURL.String,
		OutputDir:    j.OutputDir,
		CreationTime: j.CreationTime,
	}

	if len(j.Parameters) > 0 {
		job.Parameters = json.RawMessage(j.Parameters)
	}
	if j.StartTime.Valid {
		job.StartTime = &j.StartTime.Time
	}
	if j.CompletionTime.Valid {
		job.CompletionTime = &j.CompletionTime.Time
	}

	for _, e := range j.Errors {
		job.Errors = append(job.Errors, api.JobError{Error: e.Error, Timestamp: e.Timestamp})
	}

	return job
}

func convertJobs(js []database.ImpactJob) []api.Job {
	jobs := make([]api.Job, 0, len(js))
	for _, j := range js {
		jobs = append(jobs, convertJob(j))
	}
	return jobs
}
