package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/manthysbr/mangaqueue/internal/core/domain"
	"github.com/manthysbr/mangaqueue/internal/core/ports"
)

// JobState is a job's lifecycle state as seen from outside the dispatch loop.
type JobState string

const (
	JobStatePending    JobState = "pending"
	JobStateProcessing JobState = "processing"
	JobStateSucceeded  JobState = "succeeded"
	JobStateFailed     JobState = "failed"
	JobStateUnknown    JobState = "unknown"
)

type JobStatus struct {
	JobID    domain.JobID
	State    JobState
	Position int
	Entry    *domain.ResultEntry
}

// ServiceConfig defines caller-side limits.
type ServiceConfig struct {
	PollInterval  time.Duration
	MaxImageBytes int64
}

// SubmitRequest is one image handed over by the messaging front end.
type SubmitRequest struct {
	JobID domain.JobID
	Image io.Reader // nil when the message carried no image
}

// TranslationService owns the queue and the result store and is the only
// entry point callers use. It is built once at startup and shared.
type TranslationService struct {
	logger    *slog.Logger
	queue     *PendingQueue
	store     *ResultStore
	artifacts ports.ArtifactStore
	eventBus  *EventBus
	cfg       ServiceConfig
}

func NewTranslationService(
	logger *slog.Logger,
	queue *PendingQueue,
	store *ResultStore,
	artifacts ports.ArtifactStore,
	eventBus *EventBus,
	cfg ServiceConfig,
) *TranslationService {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = 1024 * 1024
	}

	svc := &TranslationService{
		logger:    logger,
		queue:     queue,
		store:     store,
		artifacts: artifacts,
		eventBus:  eventBus,
		cfg:       cfg,
	}

	// A resulted job keeps its ID until reaped.
	queue.SetAdmission(func(id domain.JobID) error {
		if store.Has(id) {
			return domain.ErrJobExists
		}
		return nil
	})

	return svc
}

// MaxImageBytes is the largest accepted source image.
func (s *TranslationService) MaxImageBytes() int64 { return s.cfg.MaxImageBytes }

// Submit validates and stores the image, then enqueues the job.
// Input problems come back as *domain.SubmissionError and never reach the queue.
func (s *TranslationService) Submit(ctx context.Context, req SubmitRequest) (*JobHandle, error) {
	if err := req.JobID.Validate(); err != nil {
		return nil, domain.NewSubmissionError(req.JobID, domain.ErrInvalidJobID, err)
	}
	if req.Image == nil {
		return nil, domain.NewSubmissionError(req.JobID, domain.ErrPhotoMissing, nil)
	}
	// The ID is claimed before storage is touched, so a concurrent duplicate
	// is rejected without writing over the accepted job's source.
	if err := s.queue.Reserve(req.JobID); err != nil {
		return nil, domain.NewSubmissionError(req.JobID, submissionKind(err), err)
	}

	if _, err := s.artifacts.SaveSource(ctx, req.JobID, req.Image, s.cfg.MaxImageBytes); err != nil {
		s.queue.Cancel(req.JobID)
		return nil, domain.NewSubmissionError(req.JobID, submissionKind(err), err)
	}

	pos, err := s.queue.Commit(req.JobID)
	if err != nil {
		return nil, domain.NewSubmissionError(req.JobID, submissionKind(err), err)
	}

	s.logger.Info("job queued", "job_id", req.JobID, "position", pos)
	if s.eventBus != nil {
		s.eventBus.Publish(Event{
			JobID:     req.JobID,
			Type:      EventTypeQueued,
			Data:      fmt.Sprintf(`{"position": %d}`, pos),
			Timestamp: time.Now().Unix(),
		})
	}

	return s.newHandle(req.JobID, pos, false), nil
}

// Attach returns a handle for a job submitted earlier, e.g. by another request.
func (s *TranslationService) Attach(id domain.JobID) (*JobHandle, error) {
	st := s.Status(id)
	switch st.State {
	case JobStatePending:
		return s.newHandle(id, st.Position, false), nil
	case JobStateProcessing, JobStateSucceeded, JobStateFailed:
		return s.newHandle(id, 0, true), nil
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
}

// Status looks the job up in the queue first and the store second. That
// order matters: the dispatch loop publishes before it releases a job.
func (s *TranslationService) Status(id domain.JobID) JobStatus {
	pos, inflight, found := s.queue.Locate(id)
	if found && !inflight {
		return JobStatus{JobID: id, State: JobStatePending, Position: pos}
	}
	if found {
		return JobStatus{JobID: id, State: JobStateProcessing}
	}

	entry, ok := s.store.Get(id)
	if !ok {
		return JobStatus{JobID: id, State: JobStateUnknown}
	}
	state := JobStateSucceeded
	if !entry.Outcome.Succeeded() {
		state = JobStateFailed
	}
	return JobStatus{JobID: id, State: state, Entry: &entry}
}

// OpenResult opens the translated image of a succeeded job.
func (s *TranslationService) OpenResult(id domain.JobID) (io.ReadCloser, domain.ResultEntry, error) {
	entry, ok := s.store.Get(id)
	if !ok {
		return nil, domain.ResultEntry{}, fmt.Errorf("%w: %s", domain.ErrResultExpired, id)
	}
	if !entry.Outcome.Succeeded() {
		return nil, entry, entry.Outcome.Err
	}

	rc, err := s.artifacts.OpenTranslated(entry.Outcome.Output)
	if err != nil {
		return nil, entry, fmt.Errorf("open translated image: %w", err)
	}
	return rc, entry, nil
}

// QueueLen is the number of jobs waiting for dispatch.
func (s *TranslationService) QueueLen() int { return s.queue.Len() }

func (s *TranslationService) newHandle(id domain.JobID, pos int, dispatched bool) *JobHandle {
	return &JobHandle{
		id:         id,
		position:   pos,
		dispatched: dispatched,
		svc:        s,
		interval:   s.cfg.PollInterval,
	}
}

func submissionKind(err error) error {
	for _, kind := range []error{
		domain.ErrPhotoMissing,
		domain.ErrPhotoTooBig,
		domain.ErrJobExists,
		domain.ErrInvalidJobID,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return domain.ErrSaveFailed
}
