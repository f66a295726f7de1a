package services

import (
	"fmt"
	"slices"
	"sync"

	"github.com/manthysbr/mangaqueue/internal/core/domain"
)

// AdmissionFunc rejects an ID that may not be enqueued. It runs under the
// queue lock, so it must not call back into the queue.
type AdmissionFunc func(id domain.JobID) error

// PendingQueue is the FIFO of jobs waiting for the dispatch loop.
// A dequeued job stays tracked as in flight until Release, so observers
// never see a job vanish before its result is published.
type PendingQueue struct {
	mu       sync.Mutex
	items    []domain.JobID
	inflight map[domain.JobID]struct{}
	reserved map[domain.JobID]struct{}
	changed  chan struct{}
	admit    AdmissionFunc
}

func NewPendingQueue() *PendingQueue {
	return &PendingQueue{
		inflight: make(map[domain.JobID]struct{}),
		reserved: make(map[domain.JobID]struct{}),
		changed:  make(chan struct{}),
	}
}

// SetAdmission installs an extra uniqueness check run on every Enqueue.
func (q *PendingQueue) SetAdmission(fn AdmissionFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.admit = fn
}

// Enqueue appends id and returns its 0-based position at insertion time.
func (q *PendingQueue) Enqueue(id domain.JobID) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.admitLocked(id); err != nil {
		return 0, err
	}
	return q.appendLocked(id), nil
}

// Reserve claims id ahead of Enqueue while its source is being stored.
// A reserved ID is rejected by Enqueue and by other Reserve calls until
// Commit or Cancel.
func (q *PendingQueue) Reserve(id domain.JobID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.admitLocked(id); err != nil {
		return err
	}
	q.reserved[id] = struct{}{}
	return nil
}

// Commit turns a reservation into a queued job.
func (q *PendingQueue) Commit(id domain.JobID) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.reserved[id]; !ok {
		return 0, fmt.Errorf("job %s was not reserved", id)
	}
	delete(q.reserved, id)
	return q.appendLocked(id), nil
}

// Cancel drops a reservation without enqueueing.
func (q *PendingQueue) Cancel(id domain.JobID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.reserved, id)
}

func (q *PendingQueue) admitLocked(id domain.JobID) error {
	if slices.Contains(q.items, id) {
		return domain.ErrJobExists
	}
	if _, ok := q.inflight[id]; ok {
		return domain.ErrJobExists
	}
	if _, ok := q.reserved[id]; ok {
		return domain.ErrJobExists
	}
	if q.admit != nil {
		return q.admit(id)
	}
	return nil
}

func (q *PendingQueue) appendLocked(id domain.JobID) int {
	q.items = append(q.items, id)
	q.notifyLocked()
	return len(q.items) - 1
}

// PositionOf returns the current index of id, or false once it was dequeued.
func (q *PendingQueue) PositionOf(id domain.JobID) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pos := slices.Index(q.items, id)
	if pos < 0 {
		return 0, false
	}
	return pos, true
}

// Locate reports the position of id, or whether it is in flight, in one atomic read.
func (q *PendingQueue) Locate(id domain.JobID) (pos int, inflight bool, found bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if pos = slices.Index(q.items, id); pos >= 0 {
		return pos, false, true
	}
	if _, ok := q.inflight[id]; ok {
		return 0, true, true
	}
	return 0, false, false
}

// Dequeue removes the head and marks it in flight. Only the dispatch loop calls it.
func (q *PendingQueue) Dequeue() (domain.JobID, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return "", false
	}
	id := q.items[0]
	q.items[0] = ""
	q.items = q.items[1:]
	q.inflight[id] = struct{}{}
	q.notifyLocked()
	return id, true
}

// Release ends the in-flight window of id. The result must already be published.
func (q *PendingQueue) Release(id domain.JobID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.inflight, id)
	q.notifyLocked()
}

// InFlight reports whether id was dequeued and not yet released.
func (q *PendingQueue) InFlight(id domain.JobID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.inflight[id]
	return ok
}

func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns the waiting IDs in dispatch order.
func (q *PendingQueue) Snapshot() []domain.JobID {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.items)
}

// Changed returns a channel closed on the next mutation of the queue.
// Fetch it before inspecting the queue to avoid missing a wake-up.
func (q *PendingQueue) Changed() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.changed
}

func (q *PendingQueue) notifyLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}
