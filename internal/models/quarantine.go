package models

import "time"

// FailureKind is the machine-readable class of a quarantined failure.
type FailureKind string

const (
	FailureSubmission        FailureKind = "submission_error"
	FailureTimeout           FailureKind = "timeout"
	FailureJobTerminal       FailureKind = "job_terminal_failure"
	FailureAPI               FailureKind = "api_error"
	FailureEmptyResult       FailureKind = "empty_result"
	FailurePartialEntry      FailureKind = "partial_entry_failure"
	FailureInvalidDefinition FailureKind = "invalid_definition"
	FailureCollaborator      FailureKind = "collaborator_error"
	FailureExecution         FailureKind = "execution_failure"
	FailureInternal          FailureKind = "internal_error"
)

// QuarantineRecord is written next to every quarantined item or entry for
// operator triage.
type QuarantineRecord struct {
	ID            string      `json:"id"`
	Item          string      `json:"item"`
	Kind          FailureKind `json:"kind"`
	Phase         string      `json:"phase,omitempty"`
	JobID         string      `json:"jobId,omitempty"`
	CorrelationID string      `json:"correlationId,omitempty"`
	Artifact      string      `json:"artifact,omitempty"`
	Timestamp     time.Time   `json:"timestamp"`
	Detail        string      `json:"detail"`
}

// ExecutionResult is what the external execution tool reports for one
// artifact.
type ExecutionResult struct {
	Success     bool   `json:"success"`
	Diagnostics string `json:"diagnostics,omitempty"`
}
