package orchestrate

import (
	"errors"
	"fmt"
)

// ErrJobInFlight is returned when a submission is attempted while another
// job started by the same orchestrator has not yet reached a terminal state.
var ErrJobInFlight = errors.New("a revalidation job is already in flight")

// ErrPollInProgress is returned when Start is called on a poller that
// already owns an active polling session.
var ErrPollInProgress = errors.New("polling session already in progress")

// SubmissionError indicates the job-creation call failed (network or non-2xx).
// The job was never started; the caller must resubmit manually.
type SubmissionError struct {
	StatusCode int // 0 when the failure was a transport error
	Err        error
}

func (e *SubmissionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("job submission failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("job submission failed: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// PollingFailure indicates a status-check call failed mid-poll. Polling stops
// immediately; the job may still be running server-side with no further
// client visibility.
type PollingFailure struct {
	JobID      string
	StatusCode int // 0 when the failure was a transport error
	Err        error
}

func (e *PollingFailure) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("lost connection to job status for %s: status %d: %v", e.JobID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("lost connection to job status for %s: %v", e.JobID, e.Err)
}

func (e *PollingFailure) Unwrap() error {
	return e.Err
}

// ValidationError indicates a schedule or request failed one of the ordered
// business checks. Field names the offending input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}
