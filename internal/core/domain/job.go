package domain

import (
	"fmt"
	"regexp"
	"time"
)

// JobID is the caller-chosen key of one translation request.
// It must be unique while the job is queued, in flight or resulted.
type JobID string

// BackendTaskID is the identifier the translation backend hands out on submit.
type BackendTaskID string

var jobIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Validate checks the ID is usable as a storage key.
func (id JobID) Validate() error {
	if !jobIDPattern.MatchString(string(id)) {
		return fmt.Errorf("%w: %q", ErrInvalidJobID, string(id))
	}
	return nil
}

type OutcomeStatus string

const (
	OutcomePending   OutcomeStatus = "PENDING"
	OutcomeSucceeded OutcomeStatus = "SUCCEEDED"
	OutcomeFailed    OutcomeStatus = "FAILED"
)

// Outcome is the terminal state of a job: an output artifact reference or an error.
type Outcome struct {
	Status OutcomeStatus `json:"status"`
	Output string        `json:"output,omitempty"`
	Err    error         `json:"-"`
}

func Success(output string) Outcome {
	return Outcome{Status: OutcomeSucceeded, Output: output}
}

func Failure(err error) Outcome {
	return Outcome{Status: OutcomeFailed, Err: err}
}

func (o Outcome) Succeeded() bool { return o.Status == OutcomeSucceeded }

// ResultEntry is what the dispatch loop publishes once a job finishes.
type ResultEntry struct {
	JobID       JobID     `json:"job_id"`
	Outcome     Outcome   `json:"outcome"`
	CompletedAt time.Time `json:"completed_at"`
}

// Expired reports whether the entry has outlived ttl at now.
// An entry published at T lives in [T, T+ttl).
func (e ResultEntry) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.CompletedAt) >= ttl
}

// TranslateOptions are passed through to the translation backend.
type TranslateOptions struct {
	Translator string `json:"translator"`
	Size       string `json:"size"`
}

// Artifact is a stored image, either a submitted source or a translated output.
type Artifact struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// HistoryRecord is the audit row written for every published outcome.
type HistoryRecord struct {
	ID           string        `json:"id"`
	JobID        JobID         `json:"job_id"`
	Status       OutcomeStatus `json:"status"`
	Output       string        `json:"output,omitempty"`
	Error        string        `json:"error,omitempty"`
	DispatchedAt time.Time     `json:"dispatched_at"`
	CompletedAt  time.Time     `json:"completed_at"`
	DurationMs   int64         `json:"duration_ms"`
}
