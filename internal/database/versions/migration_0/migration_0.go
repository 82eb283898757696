package migration_0

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

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
}

func Migration(db *gorm.DB) error {
	return db.AutoMigrate(&ImpactJob{})
}
