package process

import (
	"errors"
	"fmt"
)

var (
	// ErrTimedOut means polling ran out of attempts before the job settled.
	// The remote job may still finish later.
	ErrTimedOut = errors.New("job timed out")

	// ErrNoValidSegments means assembly had nothing playable to concatenate.
	ErrNoValidSegments = errors.New("no valid segments")

	// ErrUnsupported is returned when a backend or mode cannot serve a request.
	ErrUnsupported = errors.New("unsupported")
)

// SubmissionError is a request the remote service rejected outright.
type SubmissionError struct {
	Backend string
	Err     error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit to %s: %v", e.Backend, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// FailedError is a job the remote service reported as failed.
type FailedError struct {
	JobID  string
	Reason string
}

func (e *FailedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("job %s failed", e.JobID)
	}
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Reason)
}

// ExtractionError is a frame that could not be pulled out of a finished clip.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract frame from %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// AssemblyError wraps a failure while concatenating segments.
type AssemblyError struct {
	Stage string
	Err   error
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("assemble (%s): %v", e.Stage, e.Err)
}

func (e *AssemblyError) Unwrap() error { return e.Err }

// ValidationError is a request that was malformed before anything was submitted.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }

func (e *ValidationError) Unwrap() error { return e.Err }

// Unsupported builds an ErrUnsupported for the given backend and capability.
func Unsupported(backend string, what any) error {
	return fmt.Errorf("%s: %v: %w", backend, what, ErrUnsupported)
}
