package database

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func isPostgresURL(url string) bool {
	return strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://")
}

// NewDatabase opens the job ledger and brings its schema up to date. Postgres
// URLs use the postgres driver, anything else is treated as a sqlite path.
func NewDatabase(url string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}

	var (
		db  *gorm.DB
		err error
	)
	if isPostgresURL(url) {
		slog.Info("connecting to postgres job ledger")
		db, err = gorm.Open(postgres.Open(url), cfg)
	} else {
		if url != ":memory:" && !strings.HasPrefix(url, "file:") {
			if err := os.MkdirAll(filepath.Dir(url), os.ModePerm); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		slog.Info("opening sqlite job ledger", "path", url)
		db, err = gorm.Open(sqlite.Open(url+sqliteOptions(url)), cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if !isPostgresURL(url) {
		// Workers write concurrently; a single connection serializes writes
		// and keeps in-memory databases on one connection.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := GetMigrator(db).Migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

func sqliteOptions(url string) string {
	if strings.Contains(url, "?") {
		return "&_busy_timeout=5000"
	}
	return "?_busy_timeout=5000"
}
