// Package errs defines the typed error taxonomy shared by the retrieval and
// ingestion pipelines. Collaborator failures keep their cause reachable via
// errors.As / errors.Is so callers can distinguish validation problems (fail
// fast) from transient collaborator problems (retryable for upserts only).
package errs

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed query or ingestion parameters. It is
// never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// EmbeddingError wraps a failure of the embedding collaborator.
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string { return fmt.Sprintf("embedding failed: %v", e.Err) }
func (e *EmbeddingError) Unwrap() error { return e.Err }

// IndexQueryError wraps a failure of the vector index during a similarity
// query. Queries are latency-sensitive and user-facing, so these surface
// immediately instead of being retried.
type IndexQueryError struct {
	Err error
}

func (e *IndexQueryError) Error() string { return fmt.Sprintf("index query failed: %v", e.Err) }
func (e *IndexQueryError) Unwrap() error { return e.Err }

// IndexUpsertError wraps a failure of the vector index during an upsert.
// Upserts are retried with bounded exponential backoff by the ingestion
// pipeline.
type IndexUpsertError struct {
	Err error
}

func (e *IndexUpsertError) Error() string { return fmt.Sprintf("index upsert failed: %v", e.Err) }
func (e *IndexUpsertError) Unwrap() error { return e.Err }

// ErrPayloadTooLarge marks an upsert batch that exceeds the index's request
// size limit. The ingestion pipeline reacts by halving the sub-batch size
// rather than by a generic retry.
var ErrPayloadTooLarge = errors.New("upsert payload exceeds index size limit")

// TimeoutError marks a collaborator call that exceeded its deadline.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("%s timed out: %v", e.Op, e.Err) }
func (e *TimeoutError) Unwrap() error { return e.Err }

// IsPayloadTooLarge reports whether err is (or wraps) ErrPayloadTooLarge.
func IsPayloadTooLarge(err error) bool {
	return errors.Is(err, ErrPayloadTooLarge)
}
