package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/manthysbr/mangaqueue/internal/core/domain"
	"github.com/robfig/cron/v3"
)

// EvictFunc is called with the IDs the reaper removed from the store.
type EvictFunc func(ids []domain.JobID)

// Reaper evicts results older than the TTL. The dispatch loop sweeps after
// every publish; Run adds a wall-clock schedule so entries age out even
// when no new jobs arrive.
type Reaper struct {
	logger   *slog.Logger
	store    *ResultStore
	ttl      time.Duration
	schedule cron.Schedule
	spec     string
	eventBus *EventBus
	now      func() time.Time

	mu      sync.Mutex
	onEvict []EvictFunc
}

// NewReaper parses spec as a standard cron expression or descriptor ("@every 1m").
func NewReaper(logger *slog.Logger, store *ResultStore, ttl time.Duration, spec string) (*Reaper, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid reap schedule %q: %w", spec, err)
	}
	return &Reaper{
		logger:   logger,
		store:    store,
		ttl:      ttl,
		schedule: schedule,
		spec:     spec,
		now:      time.Now,
	}, nil
}

// SetEventBus wires reaped notifications.
func (r *Reaper) SetEventBus(bus *EventBus) {
	r.eventBus = bus
}

// OnEvict registers a callback run after each sweep that removed entries.
func (r *Reaper) OnEvict(fn EvictFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEvict = append(r.onEvict, fn)
}

// Sweep evicts aged entries now and returns their IDs.
func (r *Reaper) Sweep() []domain.JobID {
	now := r.now()
	evicted := r.store.Reap(now, r.ttl)
	if len(evicted) == 0 {
		return nil
	}

	r.logger.Info("reaped expired results", "count", len(evicted))
	if r.eventBus != nil {
		for _, id := range evicted {
			r.eventBus.Publish(Event{JobID: id, Type: EventTypeReaped, Timestamp: now.Unix()})
		}
	}

	r.mu.Lock()
	callbacks := append([]EvictFunc(nil), r.onEvict...)
	r.mu.Unlock()
	for _, fn := range callbacks {
		fn(evicted)
	}
	return evicted
}

// Run sweeps on the configured schedule until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	c := cron.New()
	c.Schedule(r.schedule, cron.FuncJob(func() { r.Sweep() }))

	r.logger.Info("result reaper started", "schedule", r.spec, "ttl", r.ttl)
	c.Start()

	<-ctx.Done()
	stopped := c.Stop()
	<-stopped.Done()
	r.logger.Info("result reaper stopped")
	return nil
}
