package jobs

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"impact-datagen/internal/request"

	"github.com/go-resty/resty/v2"
)

const (
	StatusAccepted   = "accepted"
	StatusRunning    = "running"
	StatusSuccessful = "successful"
	StatusFailed     = "failed"
	StatusDismissed  = "dismissed"

	DefaultPollInterval    = 5 * time.Second
	DefaultMaxPollAttempts = 720

	JobIDPlaceholder = "{job_id}"
)

var (
	ErrUnexpectedStatus = errors.New("unexpected response status")
	ErrMissingLocation  = errors.New("response is missing the Location header")
	ErrMissingJobID     = errors.New("response is missing jobID")
	ErrJobFailed        = errors.New("remote job failed")
	ErrPollTimeout      = errors.New("timed out waiting for remote job")
	ErrInvalidResult    = errors.New("result is not valid json")
)

type Config struct {
	ExecutionURL       string
	ResultsURLTemplate string

	Username     string
	Password     string
	ResultsToken string

	// InsecureSkipVerify disables TLS certificate checks for the execution
	// and status endpoints only.
	InsecureSkipVerify bool

	PollInterval    time.Duration
	MaxPollAttempts int
}

func ExecutionURL(endpoint, user, process string) string {
	endpoint = strings.TrimSuffix(endpoint, "/")
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	return fmt.Sprintf("%s/%s/ogc-api/processes/%s/execution", endpoint, user, process)
}

type Submission struct {
	JobID     string
	StatusURL string
}

type StatusInfo struct {
	JobID    string `json:"jobID"`
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Progress int    `json:"progress,omitempty"`
}

type Client struct {
	ades    *resty.Client
	results *resty.Client
	cfg     Config
	logger  *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxPollAttempts <= 0 {
		cfg.MaxPollAttempts = DefaultMaxPollAttempts
	}

	ades := resty.New().
		SetHeader("Accept", "application/json").
		SetBasicAuth(cfg.Username, cfg.Password)
	if cfg.InsecureSkipVerify {
		logger.Warn("TLS certificate verification is disabled for the execution endpoint", "url", cfg.ExecutionURL)
		ades.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}) //nolint:gosec
	}

	results := resty.New().
		SetHeader("Accept", "application/json").
		SetAuthToken(cfg.ResultsToken)

	return &Client{ades: ades, results: results, cfg: cfg, logger: logger}
}

func (c *Client) Submit(ctx context.Context, envelope request.Envelope) (Submission, error) {
	c.logger.Info("sending request to asset impact workflow", "url", c.cfg.ExecutionURL)

	res, err := c.ades.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Prefer", "respond-async").
		SetBody(envelope).
		Post(c.cfg.ExecutionURL)
	if err != nil {
		return Submission{}, fmt.Errorf("error submitting job: %w", err)
	}
	if !res.IsSuccess() {
		return Submission{}, fmt.Errorf("%w: execution returned %d: %s", ErrUnexpectedStatus, res.StatusCode(), res.String())
	}

	location := res.Header().Get("Location")
	if location == "" {
		return Submission{}, ErrMissingLocation
	}
	statusURL, err := resolveURL(c.cfg.ExecutionURL, location)
	if err != nil {
		return Submission{}, err
	}

	var body StatusInfo
	if err := json.Unmarshal(res.Body(), &body); err != nil {
		return Submission{}, fmt.Errorf("error parsing execution response: %w", err)
	}
	if body.JobID == "" {
		return Submission{}, ErrMissingJobID
	}

	c.logger.Info("job submitted", "job_id", body.JobID, "status_url", statusURL)
	return Submission{JobID: body.JobID, StatusURL: statusURL}, nil
}

func resolveURL(base, ref string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid execution url %q: %w", base, err)
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid Location header %q: %w", ref, err)
	}
	return baseURL.ResolveReference(refURL).String(), nil
}

func (c *Client) Status(ctx context.Context, statusURL string) (StatusInfo, error) {
	res, err := c.ades.R().SetContext(ctx).Get(statusURL)
	if err != nil {
		return StatusInfo{}, fmt.Errorf("error getting job status: %w", err)
	}
	if !res.IsSuccess() {
		return StatusInfo{}, fmt.Errorf("%w: status returned %d: %s", ErrUnexpectedStatus, res.StatusCode(), res.String())
	}

	var info StatusInfo
	if err := json.Unmarshal(res.Body(), &info); err != nil {
		return StatusInfo{}, fmt.Errorf("error parsing status response: %w", err)
	}
	return info, nil
}

// Wait polls statusURL until the job succeeds. It gives up with ErrJobFailed
// on a failed or dismissed job and with ErrPollTimeout once MaxPollAttempts
// polls have not seen success.
func (c *Client) Wait(ctx context.Context, statusURL string) error {
	c.logger.Info("waiting for job to complete", "status_url", statusURL)

	for attempt := 1; attempt <= c.cfg.MaxPollAttempts; attempt++ {
		info, err := c.Status(ctx, statusURL)
		if err != nil {
			return err
		}
		c.logger.Debug("polled job status", "attempt", attempt, "status", info.Status, "progress", info.Progress)

		switch info.Status {
		case StatusSuccessful:
			return nil
		case StatusFailed, StatusDismissed:
			return fmt.Errorf("%w: status %s: %s", ErrJobFailed, info.Status, info.Message)
		}

		if attempt == c.cfg.MaxPollAttempts {
			break
		}

		timer := time.NewTimer(c.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("%w: no success after %d polls of %s", ErrPollTimeout, c.cfg.MaxPollAttempts, statusURL)
}

func (c *Client) ResultsURL(jobID string) string {
	return strings.ReplaceAll(c.cfg.ResultsURLTemplate, JobIDPlaceholder, url.PathEscape(jobID))
}

func (c *Client) FetchResult(ctx context.Context, jobID string) ([]byte, error) {
	resultsURL := c.ResultsURL(jobID)
	c.logger.Info("getting results", "job_id", jobID, "url", resultsURL)

	res, err := c.results.R().SetContext(ctx).Get(resultsURL)
	if err != nil {
		return nil, fmt.Errorf("error getting results: %w", err)
	}
	if !res.IsSuccess() {
		return nil, fmt.Errorf("%w: results returned %d: %s", ErrUnexpectedStatus, res.StatusCode(), res.String())
	}

	body := res.Body()
	if !json.Valid(body) {
		return nil, ErrInvalidResult
	}
	return body, nil
}

// Run submits envelope, records the job id in jobIDFile before polling, waits
// for the job and writes the result to resultFile. onSubmitted, when set, is
// called once the job is accepted.
func (c *Client) Run(ctx context.Context, envelope request.Envelope, resultFile, jobIDFile string, onSubmitted func(Submission)) (string, error) {
	sub, err := c.Submit(ctx, envelope)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(jobIDFile, []byte(sub.JobID), 0o644); err != nil {
		return sub.JobID, fmt.Errorf("error writing job id to %s: %w", jobIDFile, err)
	}
	if onSubmitted != nil {
		onSubmitted(sub)
	}

	if err := c.Wait(ctx, sub.StatusURL); err != nil {
		return sub.JobID, err
	}

	result, err := c.FetchResult(ctx, sub.JobID)
	if err != nil {
		return sub.JobID, err
	}

	if err := os.WriteFile(resultFile, result, 0o644); err != nil {
		return sub.JobID, fmt.Errorf("error writing result to %s: %w", resultFile, err)
	}

	c.logger.Info("job completed", "job_id", sub.JobID, "result", resultFile)
	return sub.JobID, nil
}
