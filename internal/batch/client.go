// Package batch talks to the Message Batches API: it submits a job, polls
// it to a terminal status within a deadline, and demultiplexes the results.
package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/feichai0017/prp-orchestrator/internal/models"
	"github.com/feichai0017/prp-orchestrator/pkg/clock"
	"github.com/feichai0017/prp-orchestrator/pkg/logger"
)

const (
	DefaultBaseURL    = "https://api.anthropic.com"
	DefaultAPIVersion = "2023-06-01"
	batchesPath       = "/v1/messages/batches"
)

var (
	// ErrSubmission means the API rejected the submission or returned no job id.
	ErrSubmission = errors.New("batch submission failed")
	// ErrTimeout means the job did not end before the poll deadline.
	ErrTimeout = errors.New("batch poll timed out")
	// ErrJobTerminal means the job expired or was canceled remotely.
	ErrJobTerminal = errors.New("batch job ended without results")
	// ErrAPI covers failed status and result queries.
	ErrAPI = errors.New("batch api request failed")
)

// Config configures the HTTP side of the client.
type Config struct {
	BaseURL     string
	APIKey      string
	APIVersion  string
	HTTPTimeout time.Duration
}

// Client is a BatchClient over HTTP.
type Client struct {
	http   *resty.Client
	clock  clock.Clock
	logger logger.Logger
}

// NewClient builds a client. A nil clock means the real clock.
func NewClient(cfg Config, clk clock.Clock, log logger.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 2 * time.Minute
	}
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = logger.NewNop()
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.HTTPTimeout).
		SetHeader("x-api-key", cfg.APIKey).
		SetHeader("anthropic-version", cfg.APIVersion).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		clock:  clk,
		logger: log.Named("batch"),
	}
}

type submitRequest struct {
	Requests []models.RequestEntry `json:"requests"`
}

type wireBatch struct {
	ID               string               `json:"id"`
	ProcessingStatus string               `json:"processing_status"`
	RequestCounts    models.RequestCounts `json:"request_counts"`
	ResultsURL       *string              `json:"results_url"`
	EndedAt          *time.Time           `json:"ended_at"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Submit sends all entries as one job. It makes exactly one call.
func (c *Client) Submit(ctx context.Context, stage models.Stage, entries []models.RequestEntry) (models.BatchJob, error) {
	if len(entries) == 0 {
		return models.BatchJob{}, fmt.Errorf("%w: no request entries", ErrSubmission)
	}

	var out wireBatch
	var apiErr apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(submitRequest{Requests: entries}).
		SetResult(&out).
		SetError(&apiErr).
		Post(batchesPath)
	if err != nil {
		return models.BatchJob{}, fmt.Errorf("%w: %w", ErrSubmission, err)
	}
	if resp.IsError() {
		return models.BatchJob{}, fmt.Errorf("%w: %s", ErrSubmission, describe(resp, apiErr))
	}
	if out.ID == "" {
		return models.BatchJob{}, fmt.Errorf("%w: response carried no job id", ErrSubmission)
	}

	job := toJob(out)
	job.Stage = stage
	job.SubmittedAt = c.clock.Now()
	if job.Status == "" {
		job.Status = models.JobSubmitted
	}

	c.logger.Info("Batch submitted",
		logger.JobID(job.ID),
		logger.String("stage", string(stage)),
		logger.Int("entries", len(entries)),
		logger.String("status", string(job.Status)))
	return job, nil
}

// Status fetches the current state of a job.
func (c *Client) Status(ctx context.Context, jobID string) (models.BatchJob, error) {
	var out wireBatch
	var apiErr apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", jobID).
		SetResult(&out).
		SetError(&apiErr).
		Get(batchesPath + "/{id}")
	if err != nil {
		return models.BatchJob{}, fmt.Errorf("%w: status of %s: %w", ErrAPI, jobID, err)
	}
	if resp.IsError() {
		return models.BatchJob{}, fmt.Errorf("%w: status of %s: %s", ErrAPI, jobID, describe(resp, apiErr))
	}
	if out.ID == "" {
		out.ID = jobID
	}
	return toJob(out), nil
}

// Poll queries the job every interval until it reaches a terminal status or
// timeout elapses on the client's clock. An ended job is returned as is;
// expired and canceled jobs yield ErrJobTerminal.
func (c *Client) Poll(ctx context.Context, jobID string, interval, timeout time.Duration) (models.BatchJob, error) {
	deadline := c.clock.Now().Add(timeout)
	for {
		job, err := c.Status(ctx, jobID)
		if err != nil {
			return models.BatchJob{}, err
		}

		switch job.Status {
		case models.JobEnded:
			c.logger.Info("Batch ended",
				logger.JobID(jobID),
				logger.Int("succeeded", job.Counts.Succeeded),
				logger.Int("errored", job.Counts.Errored))
			return job, nil
		case models.JobExpired, models.JobCanceled:
			return job, fmt.Errorf("%w: job %s is %s", ErrJobTerminal, jobID, job.Status)
		}

		c.logger.Info("Batch in progress",
			logger.JobID(jobID),
			logger.Int("processing", job.Counts.Processing),
			logger.Int("succeeded", job.Counts.Succeeded),
			logger.Int("errored", job.Counts.Errored))

		now := c.clock.Now()
		if !now.Before(deadline) {
			return job, fmt.Errorf("%w: job %s still %s after %s", ErrTimeout, jobID, job.Status, timeout)
		}
		wait := interval
		if remaining := deadline.Sub(now); remaining < wait {
			wait = remaining
		}
		if err := c.clock.Sleep(ctx, wait); err != nil {
			return job, err
		}
	}
}

type wireResult struct {
	CustomID string `json:"custom_id"`
	Result   struct {
		Type    string `json:"type"`
		Message *struct {
			Content []models.ContentBlock `json:"content"`
		} `json:"message"`
		Error json.RawMessage `json:"error"`
	} `json:"result"`
}

// FetchResults downloads the JSON Lines result stream of an ended job and
// returns one entry per correlation id, in stream order.
func (c *Client) FetchResults(ctx context.Context, jobID string) ([]models.ResultEntry, error) {
	job, err := c.Status(ctx, jobID)
	if err != nil {
		return nil, err
	}
	url := job.ResultsURL
	if url == "" {
		url = batchesPath + "/" + jobID + "/results"
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("%w: results of %s: %w", ErrAPI, jobID, err)
	}
	body := resp.RawBody()
	defer body.Close()
	if resp.StatusCode() != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(body, 4096))
		return nil, fmt.Errorf("%w: results of %s: status %d: %s", ErrAPI, jobID, resp.StatusCode(), strings.TrimSpace(string(data)))
	}

	return decodeResults(body)
}

func decodeResults(r io.Reader) ([]models.ResultEntry, error) {
	dec := json.NewDecoder(r)
	var entries []models.ResultEntry
	for {
		var line wireResult
		err := dec.Decode(&line)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: malformed result line %d: %v", ErrAPI, len(entries)+1, err)
		}
		entries = append(entries, toEntry(line))
	}
	return entries, nil
}

func toEntry(line wireResult) models.ResultEntry {
	entry := models.ResultEntry{
		CorrelationID: line.CustomID,
		Type:          models.ResultType(line.Result.Type),
	}
	if entry.Type == models.ResultSucceeded {
		var texts []string
		if line.Result.Message != nil {
			for _, block := range line.Result.Message.Content {
				if block.Type == "text" {
					texts = append(texts, block.Text)
				}
			}
		}
		entry.Payload = strings.Join(texts, "\n\n")
		return entry
	}

	entry.Error = errorDetail(line.Result.Error)
	if entry.Error == "" {
		entry.Error = "result " + line.Result.Type
	}
	return entry
}

// errorDetail flattens the nested {"error":{"type","message"}} shape the API
// uses, falling back to the raw JSON.
func errorDetail(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var nested struct {
		Type  string `json:"type"`
		Error *struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil {
		if nested.Error != nil && nested.Error.Message != "" {
			return nested.Error.Type + ": " + nested.Error.Message
		}
		if nested.Message != "" {
			return nested.Type + ": " + nested.Message
		}
	}
	return string(raw)
}

func toJob(w wireBatch) models.BatchJob {
	job := models.BatchJob{
		ID:      w.ID,
		Status:  mapStatus(w.ProcessingStatus),
		Counts:  w.RequestCounts,
		EndedAt: w.EndedAt,
	}
	if w.ResultsURL != nil {
		job.ResultsURL = *w.ResultsURL
	}
	return job
}

func mapStatus(s string) models.JobStatus {
	switch s {
	case "in_progress", "canceling":
		// A canceling job still ends with results for what completed.
		return models.JobInProgress
	case "canceled", "failed":
		return models.JobCanceled
	case "expired":
		return models.JobExpired
	case "ended":
		return models.JobEnded
	case "":
		return ""
	}
	return models.JobInProgress
}

func describe(resp *resty.Response, apiErr apiError) string {
	if apiErr.Error.Message != "" {
		return fmt.Sprintf("status %d: %s: %s", resp.StatusCode(), apiErr.Error.Type, apiErr.Error.Message)
	}
	return fmt.Sprintf("status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
}
