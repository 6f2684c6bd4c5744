package rag

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

var (
	// ErrInvalidDocument indicates a document that cannot be ingested.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrInvalidQuery indicates an empty or oversized query.
	ErrInvalidQuery = errors.New("invalid query")
)

// Step names the pipeline stage that failed.
type Step string

// Pipeline steps.
const (
	StepValidate        Step = "validate"
	StepChunk           Step = "chunk"
	StepEmbed           Step = "embed"
	StepEnsureNamespace Step = "ensure_namespace"
	StepDeleteStale     Step = "delete_stale"
	StepUpsert          Step = "upsert"
	StepSearch          Step = "search"
	StepRerank          Step = "rerank"
	StepDelete          Step = "delete"
)

// StepError annotates an error with the step it came from. The wrapped
// error keeps its kind for errors.Is and errors.As.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the operation may succeed.
func (e *StepError) Retryable() bool { return IsRetryable(e.Err) }

// IsRetryable reports whether err is a transient provider or index failure.
// Validation and chunking errors are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *embeddings.ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	var ie *vectorstore.IndexError
	if errors.As(err, &ie) {
		return ie.Retryable()
	}
	return false
}

func stepError(step Step, err error) error {
	return &StepError{Step: step, Err: err}
}
