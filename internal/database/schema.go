package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobQueued    string = "QUEUED"
	JobRunning   string = "RUNNING"
	JobCompleted string = "COMPLETED"
	JobFailed    string = "FAILED"
)

// ImpactJob is one (asset class, row count) unit of work of an experiment and
// the remote job it was submitted as.
type ImpactJob struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Experiment int    `gorm:"not null;index"`
	AssetClass string `gorm:"size:64;not null;index"`
	RowCount   int    `gorm:"not null"`

	Status      string `gorm:"size:20;not null;index"`
	RemoteJobId sql.NullString
	StatusURL   sql.NullString
	OutputDir   string

	Parameters datatypes.JSON

	CreationTime   time.Time
	StartTime      sql.NullTime
	CompletionTime sql.NullTime

	Errors []JobError `gorm:"foreignKey:JobId;constraint:OnDelete:CASCADE"`
}

type JobError struct {
	JobId     uuid.UUID `gorm:"type:uuid;primaryKey"`
	ErrorId   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Error     string
	Timestamp time.Time
}
