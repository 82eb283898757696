package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	CompletionQueue = "impact_job_completions"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

var ErrQueueClosed = errors.New("queue is closed")

// CompletionPayload announces that one task of an experiment has finished,
// successfully or not.
type CompletionPayload struct {
	JobId       uuid.UUID `json:"job_id"`
	RemoteJobId string    `json:"remote_job_id,omitempty"`
	Experiment  int       `json:"experiment"`
	AssetClass  string    `json:"asset_class"`
	Rows        int       `json:"rows"`
	Status      string    `json:"status"`
	OutputDir   string    `json:"output_dir"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

type Publisher interface {
	PublishCompletion(ctx context.Context, payload CompletionPayload) error

	Close()
}
