package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors shared across the pipeline.
var (
	// ErrNotFound signals an absent day file.
	ErrNotFound = errors.New("day file not found")
	// ErrSkipEmpty signals a day fully redundant with history. It is a valid
	// no-op outcome, not a failure.
	ErrSkipEmpty = errors.New("no new records for day")
	// ErrNotSubmitted signals a reconcile attempt for a day without a marker.
	ErrNotSubmitted = errors.New("day has no submitted job")
	// ErrJobFailed signals a batch job that ended in failed/expired/cancelled.
	ErrJobFailed = errors.New("batch job reached a failed terminal state")
	// ErrTimeout signals a job still running when the wait budget ran out,
	// or a remote API unreachable through the transient-retry budget. The day
	// stays submitted; a later invocation may still reconcile it.
	ErrTimeout = errors.New("batch job not terminal within wait budget")
)

// APIError is a non-success HTTP response from the remote batch API. The
// status code drives retry classification.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("api error %s: %s", status, e.Message)
}

// Transient reports whether a retry can plausibly succeed. Rate limits and
// server-side errors are transient; auth failures, malformed requests, and
// missing resources are not.
func (e *APIError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// NotFound reports a definitive missing-resource response.
func (e *APIError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// SubmissionError wraps a failure while uploading or creating a batch job.
// It is fatal for the day and aborts remaining days in a range.
type SubmissionError struct {
	Day  string
	Step string
	Err  error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit %s: %s: %v", e.Day, e.Step, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// ReconciliationError wraps a failure while downloading, parsing, or merging
// batch output. Fatal for the day only; sibling days proceed.
type ReconciliationError struct {
	Day    string
	Reason string
	Err    error
}

func (e *ReconciliationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("reconcile %s: %s", e.Day, e.Reason)
	}
	return fmt.Sprintf("reconcile %s: %s: %v", e.Day, e.Reason, e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }
