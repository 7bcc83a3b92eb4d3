package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/domain"
)

var (
	// ErrBusy is returned when a submission or poll loop is already active.
	ErrBusy = errors.New("generation already in progress")
	// ErrNoPreviousRequest is returned by Regenerate before any submission.
	ErrNoPreviousRequest = errors.New("no previous generation request to repeat")
	// ErrCancelled is returned when CancelPolling interrupts a submission.
	ErrCancelled = errors.New("generation request cancelled")
)

// NotReadyError means the readiness gate was closed; nothing was sent.
type NotReadyError struct {
	Blocking []domain.ValidationDomain
}

func (e *NotReadyError) Error() string {
	if len(e.Blocking) == 0 {
		return "validation incomplete: generation is not ready"
	}
	names := make([]string, len(e.Blocking))
	for i, d := range e.Blocking {
		names[i] = string(d)
	}
	return fmt.Sprintf("validation incomplete: resolve %s before generating", strings.Join(names, ", "))
}

// SubmissionError wraps a transport or server rejection of the generation
// request. Its message is the underlying message, unmodified.
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string { return e.Err.Error() }
func (e *SubmissionError) Unwrap() error { return e.Err }

// PollingTransportError is a failed status fetch. The loop stops on the first one.
type PollingTransportError struct {
	JobID string
	Err   error
}

func (e *PollingTransportError) Error() string {
	return fmt.Sprintf("checking job %s: %v", e.JobID, e.Err)
}

func (e *PollingTransportError) Unwrap() error { return e.Err }

// JobFailedError means the service reported a terminal non-success status.
type JobFailedError struct {
	JobID   string
	Status  domain.JobStatus
	Message string
}

func (e *JobFailedError) Error() string {
	msg := fmt.Sprintf("job %s ended with status %s", e.JobID, e.Status)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// TimeoutError means polling gave up before the job reached a terminal state.
type TimeoutError struct {
	JobID string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job %s did not finish within %s", e.JobID, e.After)
}

// UnknownStatusError means the service reported a status the client does not
// recognise. Polling stops rather than waiting on it.
type UnknownStatusError struct {
	JobID  string
	Status domain.JobStatus
}

func (e *UnknownStatusError) Error() string {
	if e.Status == "" {
		return fmt.Sprintf("job %s returned no status", e.JobID)
	}
	return fmt.Sprintf("job %s returned unrecognised status %q", e.JobID, e.Status)
}
