package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

var ErrInvalidLoginDetails = errors.New("LOGIN_DETAILS must have the form user:password")

type Config struct {
	AssetsCSV      string `env:"ASSETS_CSV" envDefault:"./global_power_plant_database.csv"`
	ContinentsPath string `env:"CONTINENTS_PATH" envDefault:"./World_Continents.gpkg"`
	PlanFile       string `env:"PLAN_FILE"`

	LoginDetails           string        `env:"LOGIN_DETAILS,notEmpty,required"`
	ResultsToken           string        `env:"RESULTS_TOKEN,notEmpty,required"`
	AdesUser               string        `env:"ADES_USER,notEmpty,required"`
	Workspace              string        `env:"WORKSPACE,notEmpty,required"`
	ResultsURLTemplate     string        `env:"RESULTS_URL_TEMPLATE,notEmpty,required"`
	AdesEndpoint           string        `env:"ADES_ENDPOINT" envDefault:"test.eodatahub.org.uk/ades"`
	ProcessName            string        `env:"PROCESS_NAME" envDefault:"get-asset-impact-workflow-batch"`
	AdesInsecureSkipVerify bool          `env:"ADES_INSECURE_SKIP_VERIFY" envDefault:"false"`
	PollInterval           time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
	MaxPollAttempts        int           `env:"MAX_POLL_ATTEMPTS" envDefault:"720"`

	// Concurrency of 0 picks a size from the number of CPUs.
	Concurrency int     `env:"CONCURRENCY" envDefault:"0"`
	Seed        *uint64 `env:"SEED"`
	Resample    bool    `env:"RESAMPLE" envDefault:"true"`

	// DatabaseURL defaults to a sqlite file in the output base directory.
	DatabaseURL string `env:"DATABASE_URL"`

	ArchiveBackend    string `env:"ARCHIVE_BACKEND"`
	ArchiveDir        string `env:"ARCHIVE_DIR" envDefault:"./archive"`
	S3EndpointURL     string `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	S3Region          string `env:"AWS_REGION" envDefault:"us-east-1"`
	ArchiveBucketName string `env:"ARCHIVE_BUCKET_NAME" envDefault:"impact-requests"`

	RabbitMQURL string `env:"RABBITMQ_URL"`

	// MetricsAddr, when set, serves Prometheus metrics for the duration of
	// the run.
	MetricsAddr string `env:"METRICS_ADDR"`
}

const (
	ArchiveNone  = ""
	ArchiveLocal = "local"
	ArchiveS3    = "s3"
)

func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	switch cfg.ArchiveBackend {
	case ArchiveNone, ArchiveLocal, ArchiveS3:
	default:
		return nil, fmt.Errorf("invalid ARCHIVE_BACKEND '%s': expected 'local' or 's3'", cfg.ArchiveBackend)
	}

	if cfg.MaxPollAttempts <= 0 {
		return nil, fmt.Errorf("MAX_POLL_ATTEMPTS must be positive, got %d", cfg.MaxPollAttempts)
	}

	if _, _, err := cfg.Credentials(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Credentials splits LOGIN_DETAILS into the basic auth user and password.
func (c *Config) Credentials() (string, string, error) {
	user, password, ok := strings.Cut(c.LoginDetails, ":")
	if !ok || user == "" {
		return "", "", ErrInvalidLoginDetails
	}
	return user, password, nil
}

func (c *Config) DatabaseURLFor(baseDir string) string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return filepath.Join(baseDir, "datagen.db")
}
