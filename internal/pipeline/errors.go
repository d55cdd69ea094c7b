package pipeline

import (
	"context"
	"errors"

	"github.com/feichai0017/prp-orchestrator/internal/batch"
	"github.com/feichai0017/prp-orchestrator/internal/models"
)

var (
	// ErrEmptyResult means a job ended but produced no usable document.
	ErrEmptyResult = errors.New("batch produced no usable documents")
	// ErrInvalidDefinition marks a definition rejected before processing.
	ErrInvalidDefinition = errors.New("invalid definition")
	// ErrCollaborator wraps failures of the collector, builder or executor.
	ErrCollaborator = errors.New("collaborator failed")
)

// Classify maps an error to the failure kind recorded in quarantine.
func Classify(err error) models.FailureKind {
	switch {
	case errors.Is(err, batch.ErrSubmission):
		return models.FailureSubmission
	case errors.Is(err, batch.ErrTimeout):
		return models.FailureTimeout
	case errors.Is(err, batch.ErrJobTerminal):
		return models.FailureJobTerminal
	case errors.Is(err, batch.ErrAPI):
		return models.FailureAPI
	case errors.Is(err, ErrEmptyResult):
		return models.FailureEmptyResult
	case errors.Is(err, ErrInvalidDefinition):
		return models.FailureInvalidDefinition
	case errors.Is(err, ErrCollaborator):
		return models.FailureCollaborator
	}
	return models.FailureInternal
}

// interrupted reports whether err comes from the caller giving up rather
// than from the item itself.
func interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
