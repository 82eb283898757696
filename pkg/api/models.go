package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobError struct {
	Error     string
	Timestamp time.Time
}

type Job struct {
	Id uuid.UUID

	Experiment int
	AssetClass string
	Rows       int

	Status      string
	RemoteJobId string `json:"RemoteJobId,omitempty"`
	StatusURL   string `json:"StatusURL,omitempty"`
	OutputDir   string

	Parameters json.RawMessage `json:"Parameters,omitempty"`

	CreationTime   time.Time
	StartTime      *time.Time `json:"StartTime,omitempty"`
	CompletionTime *time.Time `json:"CompletionTime,omitempty"`

	Errors []JobError `json:"Errors,omitempty"`
}

type ListJobsParams struct {
	Experiment *int   `schema:"experiment"`
	AssetClass string `schema:"asset_class"`
	Status     string `schema:"status"`
}

type HealthResponse struct {
	Status string
}
