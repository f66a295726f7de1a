package services

import (
	"sync"
	"time"

	"github.com/manthysbr/mangaqueue/internal/core/domain"
)

// ResultStore holds published outcomes until they age past the TTL.
// Reads never consume an entry; only Reap removes it.
type ResultStore struct {
	mu      sync.RWMutex
	entries map[domain.JobID]domain.ResultEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewResultStore(ttl time.Duration) *ResultStore {
	return &ResultStore{
		entries: make(map[domain.JobID]domain.ResultEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// TTL is the lifetime of a published entry.
func (s *ResultStore) TTL() time.Duration { return s.ttl }

// Publish upserts the outcome of id stamped with the current time.
func (s *ResultStore) Publish(id domain.JobID, outcome domain.Outcome) domain.ResultEntry {
	entry := domain.ResultEntry{
		JobID:       id,
		Outcome:     outcome,
		CompletedAt: s.now(),
	}

	s.mu.Lock()
	s.entries[id] = entry
	s.mu.Unlock()

	return entry
}

// Get returns the entry of id. An entry past its TTL is reported absent
// even if the reaper has not removed it yet.
func (s *ResultStore) Get(id domain.JobID) (domain.ResultEntry, bool) {
	s.mu.RLock()
	entry, ok := s.entries[id]
	s.mu.RUnlock()

	if !ok || entry.Expired(s.now(), s.ttl) {
		return domain.ResultEntry{}, false
	}
	return entry, true
}

// Has reports whether a live entry exists for id.
func (s *ResultStore) Has(id domain.JobID) bool {
	_, ok := s.Get(id)
	return ok
}

// Reap removes every entry older than ttl at now and returns the evicted IDs.
func (s *ResultStore) Reap(now time.Time, ttl time.Duration) []domain.JobID {
	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []domain.JobID
	for id, entry := range s.entries {
		if entry.Expired(now, ttl) {
			delete(s.entries, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

func (s *ResultStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
