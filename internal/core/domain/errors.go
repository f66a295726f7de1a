package domain

import (
	"errors"
	"fmt"
)

// Submission error kinds. They never reach the queue.
var (
	ErrPhotoMissing = errors.New("photo missing")
	ErrPhotoTooBig  = errors.New("photo too big")
	ErrSaveFailed   = errors.New("photo could not be saved")
	ErrJobExists    = errors.New("job already exists")
	ErrInvalidJobID = errors.New("invalid job id")
)

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrResultExpired = errors.New("result expired")

	// ErrInvariant marks a job that left the dispatch loop without a published result.
	ErrInvariant = errors.New("job released without a result")
)

// SubmissionError is returned by submit when the input is rejected before enqueue.
// Kind is one of the submission error kinds above.
type SubmissionError struct {
	JobID JobID
	Kind  error
	Err   error
}

func NewSubmissionError(id JobID, kind error, err error) *SubmissionError {
	return &SubmissionError{JobID: id, Kind: kind, Err: err}
}

func (e *SubmissionError) Error() string {
	if e.Err != nil && !errors.Is(e.Err, e.Kind) {
		return fmt.Sprintf("submit job %s: %v: %v", e.JobID, e.Kind, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("submit job %s: %v", e.JobID, e.Err)
	}
	return fmt.Sprintf("submit job %s: %v", e.JobID, e.Kind)
}

func (e *SubmissionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// BackendError is the failure recorded when the translation call fails,
// times out or panics.
type BackendError struct {
	JobID JobID
	Err   error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("translate job %s: %v", e.JobID, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }
