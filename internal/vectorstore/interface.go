package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/ragd/internal/tenant"
)

// Index is a namespaced vector index.
//
// Implementations must be safe for concurrent use.
type Index interface {
	// EnsureNamespace creates the collection for scope if it does not exist.
	// Calling it for an existing namespace is a no-op.
	EnsureNamespace(ctx context.Context, scope tenant.Scope) error

	// Upsert writes entries into the namespace, overwriting entries that
	// share an ID. The namespace must already exist.
	Upsert(ctx context.Context, scope tenant.Scope, entries []Entry) error

	// Search returns up to limit hits ordered by descending score.
	// A namespace that does not exist yields no hits and no error.
	Search(ctx context.Context, scope tenant.Scope, vector []float32, limit int) ([]Hit, error)

	// DeleteByDocID removes every entry whose payload carries docID.
	DeleteByDocID(ctx context.Context, scope tenant.Scope, docID string) error

	// DeleteStale removes the entries of docID whose chunk index is keep or
	// greater, leaving the first keep chunks in place.
	DeleteStale(ctx context.Context, scope tenant.Scope, docID string, keep int) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Dimension is the vector length every entry and query must have.
	Dimension() int

	Close() error
}

var (
	// ErrIndex is matched by every error returned from a backend call.
	ErrIndex = errors.New("vector index error")

	// ErrInvalidConfig indicates invalid index configuration.
	ErrInvalidConfig = errors.New("invalid vector index configuration")

	// ErrConnectionFailed indicates the backend could not be reached.
	ErrConnectionFailed = errors.New("vector index connection failed")

	// ErrDimensionMismatch indicates a vector whose length differs from the
	// configured dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrMalformedPayload indicates a stored entry whose payload is missing
	// required fields.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrInvalidEntry indicates an entry that cannot be written.
	ErrInvalidEntry = errors.New("invalid entry")

	// ErrCircuitOpen is returned while the backend circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker open")
)

// IndexError describes a failed index operation.
type IndexError struct {
	Op        string
	Namespace string
	Err       error
}

func (e *IndexError) Error() string {
	if e.Namespace == "" {
		return fmt.Sprintf("vectorstore %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("vectorstore %s %s: %v", e.Op, e.Namespace, e.Err)
}

func (e *IndexError) Unwrap() error { return e.Err }

// Is reports ErrIndex for every IndexError so callers can classify failures
// without knowing the operation.
func (e *IndexError) Is(target error) bool {
	return target == ErrIndex
}

// Retryable reports whether repeating the operation may succeed.
func (e *IndexError) Retryable() bool {
	if errors.Is(e.Err, ErrCircuitOpen) || errors.Is(e.Err, ErrConnectionFailed) {
		return true
	}
	return IsTransientError(e.Err)
}

func newIndexError(op string, scope tenant.Scope, err error) error {
	var ie *IndexError
	if errors.As(err, &ie) {
		return err
	}
	return &IndexError{Op: op, Namespace: scope.Namespace(), Err: err}
}

func checkDimension(dim int, vector []float32) error {
	if len(vector) != dim {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, dim, len(vector))
	}
	return nil
}

func validateEntries(dim int, entries []Entry) error {
	for i, e := range entries {
		if e.ID == "" {
			return fmt.Errorf("%w: entry %d has empty id", ErrInvalidEntry, i)
		}
		if err := e.Payload.Validate(); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		if err := checkDimension(dim, e.Vector); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
	}
	return nil
}
