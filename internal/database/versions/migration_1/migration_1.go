package migration_1

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type JobError struct {
	JobId     uuid.UUID `gorm:"type:uuid;primaryKey"`
	ErrorId   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Error     string
	Timestamp time.Time
}

func Migration(db *gorm.DB) error {
	if err := db.Migrator().CreateTable(&JobError{}); err != nil {
		return fmt.Errorf("error creating job_errors table: %w", err)
	}
	return nil
}

func Rollback(db *gorm.DB) error {
	if err := db.Migrator().DropTable(&JobError{}); err != nil {
		return fmt.Errorf("error dropping job_errors table: %w", err)
	}
	return nil
}
