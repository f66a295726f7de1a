package ports

import (
	"context"
	"io"

	"github.com/manthysbr/mangaqueue/internal/core/domain"
)

// TranslationBackend abstracts the remote translation service.
// The core relies on exactly one Submit and one FetchResult per job.
type TranslationBackend interface {
	// Submit uploads the source image and returns the backend's task ID.
	Submit(ctx context.Context, src domain.Artifact, opts domain.TranslateOptions) (domain.BackendTaskID, error)

	// FetchResult blocks until the backend has the translated image or fails.
	FetchResult(ctx context.Context, task domain.BackendTaskID) ([]byte, error)
}

// Translator runs one job end to end and returns the output artifact reference.
// Only the dispatch loop calls it.
type Translator interface {
	Translate(ctx context.Context, id domain.JobID) (string, error)
}

// ArtifactStore keeps source and translated images on disk.
type ArtifactStore interface {
	// SaveSource stores the submitted image. It fails with domain.ErrPhotoMissing,
	// domain.ErrPhotoTooBig or domain.ErrSaveFailed.
	SaveSource(ctx context.Context, id domain.JobID, r io.Reader, limit int64) (domain.Artifact, error)

	// Source returns the stored source image of a job.
	Source(id domain.JobID) (domain.Artifact, error)

	// SaveTranslated stores the backend output for a job.
	SaveTranslated(ctx context.Context, id domain.JobID, data []byte) (domain.Artifact, error)

	// OpenTranslated opens a translated image by the reference held in a Success outcome.
	OpenTranslated(name string) (io.ReadCloser, error)

	// Discard removes every file belonging to a job.
	Discard(id domain.JobID) error
}

// HistoryRecorder persists an audit trail of published outcomes.
type HistoryRecorder interface {
	Record(ctx context.Context, rec domain.HistoryRecord) error
	List(ctx context.Context, limit int) ([]domain.HistoryRecord, error)
}

// Replier is the messaging front end's view of one conversation thread.
type Replier interface {
	// Reply sends a new text message.
	Reply(ctx context.Context, text string) error

	// EditOrReply edits the last text message, or sends one if there is none.
	EditOrReply(ctx context.Context, text string) error

	// DeleteLast removes the last text message, if any.
	DeleteLast(ctx context.Context) error

	// ReplyImage sends an image.
	ReplyImage(ctx context.Context, name string, r io.Reader) error
}

// BackendRuntime manages the process hosting the translation backend.
type BackendRuntime interface {
	EnsureRunning(ctx context.Context) error
}
