package services

import (
	"log/slog"
	"sync"

	"github.com/manthysbr/mangaqueue/internal/core/domain"
)

type EventType string

const (
	EventTypeQueued     EventType = "queued"
	EventTypeDispatched EventType = "dispatched"
	EventTypeSucceeded  EventType = "succeeded"
	EventTypeFailed     EventType = "failed"
	EventTypeReaped     EventType = "reaped"
)

// BroadcastKey subscribes to the events of every job.
const BroadcastKey domain.JobID = "*"

type Event struct {
	JobID     domain.JobID `json:"job_id"`
	Type      EventType    `json:"type"`
	Data      string       `json:"data,omitempty"` // JSON payload or raw text
	Timestamp int64        `json:"timestamp"`
}

// EventBus fans dispatcher activity out to subscribers. Delivery is best
// effort: a full subscriber channel drops the event.
type EventBus struct {
	logger *slog.Logger
	mu     sync.RWMutex
	subs   map[domain.JobID][]chan Event
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		logger: logger,
		subs:   make(map[domain.JobID][]chan Event),
	}
}

// Subscribe returns a channel that receives events for one job, or for
// every job when key is BroadcastKey.
func (b *EventBus) Subscribe(key domain.JobID) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 100)
	b.subs[key] = append(b.subs[key], ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			subscribers := b.subs[key]
			for i, sub := range subscribers {
				if sub == ch {
					close(ch)
					b.subs[key] = append(subscribers[:i], subscribers[i+1:]...)
					break
				}
			}
			if len(b.subs[key]) == 0 {
				delete(b.subs, key)
			}
		})
	}

	return ch, unsub
}

// Publish sends e to the job's subscribers and to broadcast subscribers.
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.deliverLocked(b.subs[e.JobID], e)
	if e.JobID != BroadcastKey {
		b.deliverLocked(b.subs[BroadcastKey], e)
	}
}

func (b *EventBus) deliverLocked(subscribers []chan Event, e Event) {
	for _, ch := range subscribers {
		select {
		case ch <- e:
		default:
			b.logger.Warn("event bus channel full, dropping event", "job_id", e.JobID, "type", e.Type)
		}
	}
}

// SubscriberCount returns the number of live subscriptions for key.
func (b *EventBus) SubscriberCount(key domain.JobID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[key])
}
