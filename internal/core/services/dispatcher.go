package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/manthysbr/mangaqueue/internal/core/domain"
	"github.com/manthysbr/mangaqueue/internal/core/ports"
	"golang.org/x/sync/semaphore"
)

// DispatcherConfig defines the loop cadence and the backend call budget.
type DispatcherConfig struct {
	IdlePoll    time.Duration
	CallTimeout time.Duration
}

// Dispatcher is the single worker draining the pending queue against the
// translation backend. Jobs run strictly one at a time in arrival order.
type Dispatcher struct {
	logger     *slog.Logger
	queue      *PendingQueue
	store      *ResultStore
	reaper     *Reaper
	translator ports.Translator
	history    ports.HistoryRecorder
	eventBus   *EventBus
	cfg        DispatcherConfig

	// One slot: at most one backend call outstanding.
	inflight *semaphore.Weighted
	now      func() time.Time
}

func NewDispatcher(
	logger *slog.Logger,
	queue *PendingQueue,
	store *ResultStore,
	reaper *Reaper,
	translator ports.Translator,
	cfg DispatcherConfig,
) *Dispatcher {
	if cfg.IdlePoll <= 0 {
		cfg.IdlePoll = 10 * time.Millisecond
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 120 * time.Second
	}

	return &Dispatcher{
		logger:     logger,
		queue:      queue,
		store:      store,
		reaper:     reaper,
		translator: translator,
		cfg:        cfg,
		inflight:   semaphore.NewWeighted(1),
		now:        time.Now,
	}
}

// SetHistory wires the audit trail. Optional.
func (d *Dispatcher) SetHistory(h ports.HistoryRecorder) {
	d.history = h
}

// SetEventBus wires activity notifications. Optional.
func (d *Dispatcher) SetEventBus(bus *EventBus) {
	d.eventBus = bus
}

// Run drains the queue until ctx is cancelled. Jobs still waiting at
// shutdown are dropped with the process.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started", "idle_poll", d.cfg.IdlePoll, "call_timeout", d.cfg.CallTimeout)

	idle := time.NewTicker(d.cfg.IdlePoll)
	defer idle.Stop()

	for {
		// Grab the wake-up channel before looking so an enqueue in between is not missed.
		changed := d.queue.Changed()

		if id, ok := d.queue.Dequeue(); ok {
			d.dispatch(ctx, id)
			continue
		}

		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopped", "pending", d.queue.Len())
			return nil
		case <-changed:
		case <-idle.C:
		}
	}
}

// dispatch runs one job and publishes its outcome. It never returns
// without publishing, whatever the translator does.
func (d *Dispatcher) dispatch(ctx context.Context, id domain.JobID) {
	dispatchedAt := d.now()
	published := false
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		d.logger.Error("dispatch invariant violated", "job_id", id, "panic", r, "error", domain.ErrInvariant)
		if !published {
			d.store.Publish(id, domain.Failure(&domain.BackendError{JobID: id, Err: fmt.Errorf("%w: %v", domain.ErrInvariant, r)}))
			d.queue.Release(id)
		}
	}()

	d.logger.Info("dispatching job", "job_id", id, "pending", d.queue.Len())
	d.publishEvent(id, EventTypeDispatched, nil)

	var outcome domain.Outcome
	if err := d.inflight.Acquire(ctx, 1); err != nil {
		outcome = domain.Failure(&domain.BackendError{JobID: id, Err: fmt.Errorf("dispatcher stopping: %w", err)})
	} else {
		output, err := d.invoke(ctx, id)
		d.inflight.Release(1)
		if err != nil {
			outcome = domain.Failure(&domain.BackendError{JobID: id, Err: err})
		} else {
			outcome = domain.Success(output)
		}
	}

	// Publish before release: the job is never absent from both queue and store.
	entry := d.store.Publish(id, outcome)
	d.queue.Release(id)
	published = true

	if entry.Outcome.Succeeded() {
		d.logger.Info("job succeeded", "job_id", id, "output", entry.Outcome.Output,
			"duration", entry.CompletedAt.Sub(dispatchedAt))
		d.publishEvent(id, EventTypeSucceeded, map[string]string{"output": entry.Outcome.Output})
	} else {
		d.logger.Error("job failed", "job_id", id, "error", entry.Outcome.Err)
		d.publishEvent(id, EventTypeFailed, map[string]string{"error": entry.Outcome.Err.Error()})
	}

	d.record(ctx, entry, dispatchedAt)

	if d.reaper != nil {
		d.reaper.Sweep()
	}
}

// invoke calls the translator under the call-level timeout and turns a
// panic into an error.
func (d *Dispatcher) invoke(ctx context.Context, id domain.JobID) (output string, err error) {
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("translator panicked: %v", r)
		}
	}()

	output, err = d.translator.Translate(callCtx, id)
	if err == nil && callCtx.Err() != nil {
		err = fmt.Errorf("translation exceeded %s: %w", d.cfg.CallTimeout, callCtx.Err())
	}
	return output, err
}

func (d *Dispatcher) record(ctx context.Context, entry domain.ResultEntry, dispatchedAt time.Time) {
	if d.history == nil {
		return
	}

	rec := domain.HistoryRecord{
		ID:           uuid.New().String(),
		JobID:        entry.JobID,
		Status:       entry.Outcome.Status,
		Output:       entry.Outcome.Output,
		DispatchedAt: dispatchedAt,
		CompletedAt:  entry.CompletedAt,
		DurationMs:   entry.CompletedAt.Sub(dispatchedAt).Milliseconds(),
	}
	if entry.Outcome.Err != nil {
		rec.Error = entry.Outcome.Err.Error()
	}

	// History must outlive a cancelled loop context.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.history.Record(recordCtx, rec); err != nil {
		d.logger.Error("failed to record job history", "job_id", entry.JobID, "error", err)
	}
}

func (d *Dispatcher) publishEvent(id domain.JobID, typ EventType, payload map[string]string) {
	if d.eventBus == nil {
		return
	}

	data := ""
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			raw = []byte(fmt.Sprintf(`{"job_id": "%s"}`, id))
		}
		data = string(raw)
	}

	d.eventBus.Publish(Event{
		JobID:     id,
		Type:      typ,
		Data:      data,
		Timestamp: d.now().Unix(),
	})
}
