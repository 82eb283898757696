package cmd

import (
	"context"
	"flag"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"impact-datagen/internal/config"
	"impact-datagen/internal/messaging"
	"impact-datagen/internal/storage"

	"github.com/joho/godotenv"
)

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	err := godotenv.Load(configPath)
	if err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

// NewLogger writes text logs to stderr and to logFile. The returned function
// closes the log file.
func NewLogger(logFile string) (*slog.Logger, func()) {
	if err := os.MkdirAll(filepath.Dir(logFile), os.ModePerm); err != nil {
		log.Fatalf("error creating directory for log file: %v", err)
	}

	f, err := os.OpenFile(logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}

	out := io.MultiWriter(f, os.Stderr)
	log.SetOutput(out)

	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	return logger, func() { f.Close() }
}

// CreateArchive returns the object store task directories are uploaded to, or
// nil when archiving is disabled.
func CreateArchive(ctx context.Context, cfg *config.Config) storage.ObjectStore {
	switch cfg.ArchiveBackend {
	case config.ArchiveLocal:
		store, err := storage.NewLocalObjectStore(cfg.ArchiveDir)
		if err != nil {
			log.Fatalf("Failed to create local archive: %v", err)
		}
		return store
	case config.ArchiveS3:
		store, err := storage.NewS3ObjectStore(storage.S3ClientConfig{
			Endpoint:        cfg.S3EndpointURL,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		}, cfg.ArchiveBucketName)
		if err != nil {
			log.Fatalf("Failed to create s3 archive: %v", err)
		}
		if err := store.CreateBucket(ctx); err != nil {
			log.Fatalf("Failed to create archive bucket %s: %v", cfg.ArchiveBucketName, err)
		}
		return store
	default:
		return nil
	}
}

// CreatePublisher returns a RabbitMQ completion publisher, or nil when
// RABBITMQ_URL is not set.
func CreatePublisher(cfg *config.Config) messaging.Publisher {
	if cfg.RabbitMQURL == "" {
		return nil
	}

	publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	return publisher
}
