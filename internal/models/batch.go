package models

import "time"

// JobStatus is the remote state of a batch job.
type JobStatus string

const (
	JobSubmitted  JobStatus = "submitted"
	JobInProgress JobStatus = "in_progress"
	JobEnded      JobStatus = "ended"
	JobExpired    JobStatus = "expired"
	JobCanceled   JobStatus = "canceled"
)

// Terminal reports whether polling can stop at this status.
func (s JobStatus) Terminal() bool {
	return s == JobEnded || s == JobExpired || s == JobCanceled
}

// RequestCounts are the per-entry progress counters reported while a job runs.
type RequestCounts struct {
	Processing int `json:"processing"`
	Succeeded  int `json:"succeeded"`
	Errored    int `json:"errored"`
	Canceled   int `json:"canceled"`
	Expired    int `json:"expired"`
}

// BatchJob is one submitted asynchronous job.
type BatchJob struct {
	ID          string        `json:"id"`
	Stage       Stage         `json:"stage"`
	Status      JobStatus     `json:"status"`
	Counts      RequestCounts `json:"requestCounts"`
	ResultsURL  string        `json:"resultsUrl,omitempty"`
	SubmittedAt time.Time     `json:"submittedAt"`
	EndedAt     *time.Time    `json:"endedAt,omitempty"`
}

// RequestEntry is one element of a batch submission. CorrelationID travels
// as custom_id on the wire.
type RequestEntry struct {
	CorrelationID string        `json:"custom_id"`
	Params        MessageParams `json:"params"`
}

// MessageParams are the generation parameters of a single request entry.
type MessageParams struct {
	Model       string         `json:"model"`
	MaxTokens   int            `json:"max_tokens"`
	Temperature float64        `json:"temperature"`
	System      []ContentBlock `json:"system,omitempty"`
	Messages    []Message      `json:"messages"`
}

type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

type ContentBlock struct {
	Type         string        `json:"type"`
	Text         string        `json:"text,omitempty"`
	CacheControl *CacheControl `json:"cache_control,omitempty"`
}

type CacheControl struct {
	Type string `json:"type"`
	TTL  string `json:"ttl,omitempty"`
}

// ResultType is the outcome of one entry of a finished job.
type ResultType string

const (
	ResultSucceeded ResultType = "succeeded"
	ResultErrored   ResultType = "errored"
	ResultCanceled  ResultType = "canceled"
	ResultExpired   ResultType = "expired"
)

// ResultEntry is the demultiplexed result for one correlation id. Exactly
// one of Payload or Error is meaningful, depending on Type.
type ResultEntry struct {
	CorrelationID string     `json:"correlationId"`
	Type          ResultType `json:"type"`
	Payload       string     `json:"payload,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// Succeeded reports whether the entry carries a usable payload.
func (r ResultEntry) Succeeded() bool {
	return r.Type == ResultSucceeded
}

// Document is one logical document extracted from a success payload.
type Document struct {
	Name          string `json:"name"`
	CorrelationID string `json:"correlationId"`
	Content       string `json:"content"`
}
