package services

import (
	"errors"
	"testing"
	"time"

	"github.com/manthysbr/mangaqueue/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultStore_ReadsAreNonDestructive(t *testing.T) {
	s := NewResultStore(time.Minute)

	s.Publish("j1", domain.Success("j1.jpg"))
	for i := 0; i < 3; i++ {
		entry, ok := s.Get("j1")
		require.True(t, ok)
		assert.Equal(t, domain.OutcomeSucceeded, entry.Outcome.Status)
		assert.Equal(t, "j1.jpg", entry.Outcome.Output)
	}
	assert.Equal(t, 1, s.Len())

	_, ok := s.Get("missing")
	assert.False(t, ok)
}

func TestResultStore_PublishUpserts(t *testing.T) {
	s := NewResultStore(time.Minute)

	s.Publish("j1", domain.Failure(errors.New("first")))
	s.Publish("j1", domain.Success("j1.jpg"))

	entry, ok := s.Get("j1")
	require.True(t, ok)
	assert.True(t, entry.Outcome.Succeeded())
	assert.Equal(t, 1, s.Len())
}

func TestResultStore_EvictionBoundary(t *testing.T) {
	clock := newFakeClock()
	ttl := 10 * time.Minute
	s := NewResultStore(ttl)
	s.now = clock.Now

	published := s.Publish("j1", domain.Success("j1.jpg"))
	assert.Equal(t, clock.Now(), published.CompletedAt)

	// Present strictly before T+ttl.
	clock.Advance(ttl - time.Nanosecond)
	assert.True(t, s.Has("j1"))
	assert.Empty(t, s.Reap(clock.Now(), ttl))

	// Absent at T+ttl, even before the reaper runs.
	clock.Advance(time.Nanosecond)
	assert.False(t, s.Has("j1"))
	assert.Equal(t, 1, s.Len())

	evicted := s.Reap(clock.Now(), ttl)
	assert.Equal(t, []domain.JobID{"j1"}, evicted)
	assert.Equal(t, 0, s.Len())
}

func TestResultStore_ReapKeepsFreshEntries(t *testing.T) {
	clock := newFakeClock()
	s := NewResultStore(time.Minute)
	s.now = clock.Now

	s.Publish("old", domain.Success("old.jpg"))
	clock.Advance(30 * time.Second)
	s.Publish("new", domain.Success("new.jpg"))
	clock.Advance(30 * time.Second)

	evicted := s.Reap(clock.Now(), time.Minute)
	assert.Equal(t, []domain.JobID{"old"}, evicted)
	assert.True(t, s.Has("new"))
}
