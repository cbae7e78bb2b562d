// Package ingesterr defines the failure taxonomy of an ingestion run.
package ingesterr

import (
	"errors"
	"fmt"
)

// ValidationError rejects a document before extraction. Never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ExtractionError reports a format-specific parse failure, or a document
// whose every page/sheet yielded nothing.
type ExtractionError struct {
	Format string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Format, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Extraction wraps err as an ExtractionError for the given format.
func Extraction(format string, err error) error {
	return &ExtractionError{Format: format, Err: err}
}

// ChunkingError reports that no chunks were produced.
type ChunkingError struct {
	Reason string
}

func (e *ChunkingError) Error() string {
	return "chunking: " + e.Reason
}

// TransientStoreError is an embedding or vector-store transport failure.
// Attempts is the number of tries made before giving up; zero means the
// error has not been through the retry loop yet.
type TransientStoreError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransientStoreError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable transport failure.
func Transient(op string, err error) error {
	return &TransientStoreError{Op: op, Err: err}
}

func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

func IsExtraction(err error) bool {
	var e *ExtractionError
	return errors.As(err, &e)
}

func IsChunking(err error) bool {
	var e *ChunkingError
	return errors.As(err, &e)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var e *TransientStoreError
	return errors.As(err, &e)
}
