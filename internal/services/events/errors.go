package events

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for the extraction pipeline.
// Use errors.Is() to check for these in calling code.
var (
	// ErrInvalidInput means the caller supplied neither text nor image,
	// or an image without a MIME type. Raised before any network call.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNoEventFound means the model answered but found nothing extractable.
	ErrNoEventFound = errors.New("no event found")

	// ErrBatchLimitExceeded means the model returned more events than allowed.
	ErrBatchLimitExceeded = errors.New("batch limit exceeded")

	// ErrNoExtractableContent means the combined input was empty after URL expansion.
	ErrNoExtractableContent = errors.New("no extractable content")

	// ErrNotFound means the requested event does not exist in the store.
	ErrNotFound = errors.New("event not found")
)

// TransportError wraps a network or API failure talking to the model or a
// scrape target. The message of the underlying failure is passed through.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// StorageError reports a failure of the persistence collaborator.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// RateLimitError reports an exhausted daily quota.
type RateLimitError struct {
	Limit   int
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("daily limit of %d extractions reached, resets at %s",
		e.Limit, e.ResetAt.UTC().Format(time.RFC3339))
}

// FieldError is a single validation failure on one event.
type FieldError struct {
	EventID string   `json:"eventId"`
	Title   string   `json:"title"`
	Reasons []string `json:"reasons"`
}

// ValidationError aggregates validation failures, one entry per invalid event.
type ValidationError struct {
	Events []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Events))
	for _, fe := range e.Events {
		name := fe.Title
		if name == "" {
			name = fe.EventID
		}
		parts = append(parts, fmt.Sprintf("%s: %s", name, strings.Join(fe.Reasons, ", ")))
	}
	return fmt.Sprintf("%d invalid event(s): %s", len(e.Events), strings.Join(parts, "; "))
}
