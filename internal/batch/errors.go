package batch

import (
	"fmt"
	"strings"

	"emperror.dev/errors"
)

var (
	ErrBatchNotFound     = errors.Sentinel("batch not found")
	ErrInvalidBatchState = errors.Sentinel("batch is not pending")
	ErrEmptyBatch        = errors.Sentinel("batch has no operations")
	ErrValidationFailure = errors.Sentinel("batch is invalid")
	// ErrConcurrencyConflict means the branch moved between reading its head
	// and writing the commit. The caller may retry with a new batch.
	ErrConcurrencyConflict = errors.Sentinel("concurrency conflict")
	// ErrRemoteFailure covers network, authentication and any other error
	// reported by the remote.
	ErrRemoteFailure = errors.Sentinel("remote failure")
)

// ValidationError is returned by CommitBatch if the batch does not pass
// validation. It matches ErrValidationFailure.
type ValidationError struct {
	BatchID  string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("batch %s is invalid: %s", e.BatchID, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailure
}

// CommitError is returned by CommitBatch when the commit was attempted and
// failed. Kind is either ErrConcurrencyConflict or ErrRemoteFailure; Reason is
// the same text that was recorded on the batch and every operation.
type CommitError struct {
	BatchID string
	Kind    error
	Reason  string
	Err     error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("failed to commit batch %s: %s", e.BatchID, e.Reason)
}

func (e *CommitError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}
