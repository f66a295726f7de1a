package services

import (
	"context"
	"time"

	"github.com/manthysbr/mangaqueue/internal/core/domain"
)

type ProgressKind string

const (
	ProgressQueued     ProgressKind = "queued"
	ProgressMoved      ProgressKind = "moved"
	ProgressProcessing ProgressKind = "processing"
)

// Progress is one notification emitted while a caller waits.
// Position is meaningful for queued and moved.
type Progress struct {
	Kind     ProgressKind
	Position int
}

// JobHandle lets the submitting caller follow its own job:
// Pending(position) -> Dispatched -> Resulted -> Retrieved | Expired.
type JobHandle struct {
	id         domain.JobID
	position   int
	dispatched bool
	svc        *TranslationService
	interval   time.Duration
}

func (h *JobHandle) ID() domain.JobID { return h.id }

// Position is the queue position observed when the handle was created.
func (h *JobHandle) Position() int { return h.position }

// Wait polls until the job has a result. onProgress may be nil.
//
// It returns the entry and nil on success, the entry and its
// *domain.BackendError on failure, and domain.ErrResultExpired when the
// result was reaped before it was observed.
func (h *JobHandle) Wait(ctx context.Context, onProgress func(Progress)) (domain.ResultEntry, error) {
	notify := func(p Progress) {
		if onProgress != nil {
			onProgress(p)
		}
	}

	last := h.position
	dispatched := h.dispatched
	if !dispatched {
		notify(Progress{Kind: ProgressQueued, Position: last})
	}

	timer := time.NewTimer(h.interval)
	defer timer.Stop()

	for {
		changed := h.svc.queue.Changed()
		st := h.svc.Status(h.id)

		switch st.State {
		case JobStatePending:
			if st.Position < last {
				last = st.Position
				notify(Progress{Kind: ProgressMoved, Position: last})
			}
		case JobStateProcessing:
			if !dispatched {
				dispatched = true
				notify(Progress{Kind: ProgressProcessing})
			}
		case JobStateSucceeded, JobStateFailed:
			if !dispatched {
				notify(Progress{Kind: ProgressProcessing})
			}
			entry := *st.Entry
			if st.State == JobStateFailed {
				return entry, entry.Outcome.Err
			}
			return entry, nil
		default:
			return domain.ResultEntry{}, domain.ErrResultExpired
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(h.interval)

		select {
		case <-ctx.Done():
			return domain.ResultEntry{}, ctx.Err()
		case <-changed:
		case <-timer.C:
		}
	}
}
