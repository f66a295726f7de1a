package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/manthysbr/mangaqueue/internal/core/domain"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memArtifacts is an in-memory ArtifactStore.
type memArtifacts struct {
	mu         sync.Mutex
	sources    map[domain.JobID][]byte
	translated map[string][]byte
}

func newMemArtifacts() *memArtifacts {
	return &memArtifacts{
		sources:    make(map[domain.JobID][]byte),
		translated: make(map[string][]byte),
	}
}

func (m *memArtifacts) SaveSource(ctx context.Context, id domain.JobID, r io.Reader, limit int64) (domain.Artifact, error) {
	if r == nil {
		return domain.Artifact{}, domain.ErrPhotoMissing
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("%w: %v", domain.ErrSaveFailed, err)
	}
	switch {
	case len(data) == 0:
		return domain.Artifact{}, domain.ErrPhotoMissing
	case int64(len(data)) > limit:
		return domain.Artifact{}, domain.ErrPhotoTooBig
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[id] = data
	return domain.Artifact{Name: string(id) + ".jpg", Size: int64(len(data))}, nil
}

func (m *memArtifacts) Source(id domain.JobID) (domain.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.sources[id]
	if !ok {
		return domain.Artifact{}, fmt.Errorf("no source for %s", id)
	}
	return domain.Artifact{Name: string(id) + ".jpg", Size: int64(len(data))}, nil
}

func (m *memArtifacts) SaveTranslated(ctx context.Context, id domain.JobID, data []byte) (domain.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := string(id) + ".jpg"
	m.translated[name] = data
	return domain.Artifact{Name: name, Size: int64(len(data))}, nil
}

func (m *memArtifacts) OpenTranslated(name string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.translated[name]
	if !ok {
		return nil, fmt.Errorf("translated image %s not found", name)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memArtifacts) Discard(id domain.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sources, id)
	delete(m.translated, string(id)+".jpg")
	return nil
}

func (m *memArtifacts) hasSource(id domain.JobID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sources[id]
	return ok
}

// recordingTranslator runs fn for every job and records call order and
// the peak number of concurrent calls.
type recordingTranslator struct {
	fn func(ctx context.Context, id domain.JobID) (string, error)

	mu      sync.Mutex
	calls   []domain.JobID
	running atomic.Int32
	peak    atomic.Int32
}

func (r *recordingTranslator) Translate(ctx context.Context, id domain.JobID) (string, error) {
	current := r.running.Add(1)
	defer r.running.Add(-1)
	for {
		peak := r.peak.Load()
		if current <= peak || r.peak.CompareAndSwap(peak, current) {
			break
		}
	}

	r.mu.Lock()
	r.calls = append(r.calls, id)
	r.mu.Unlock()

	if r.fn == nil {
		return "out-" + string(id), nil
	}
	return r.fn(ctx, id)
}

func (r *recordingTranslator) Calls() []domain.JobID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.JobID(nil), r.calls...)
}

// testCore wires queue, store, reaper, dispatcher and service the way main does.
type testCore struct {
	clock      *fakeClock
	queue      *PendingQueue
	store      *ResultStore
	reaper     *Reaper
	bus        *EventBus
	artifacts  *memArtifacts
	svc        *TranslationService
	dispatcher *Dispatcher
}

func newTestCore(t *testing.T, translator *recordingTranslator, ttl time.Duration) *testCore {
	t.Helper()
	logger := testLogger()

	clock := newFakeClock()
	queue := NewPendingQueue()
	store := NewResultStore(ttl)
	store.now = clock.Now
	bus := NewEventBus(logger)
	artifacts := newMemArtifacts()

	reaper, err := NewReaper(logger, store, ttl, "@every 1m")
	require.NoError(t, err)
	reaper.now = clock.Now
	reaper.SetEventBus(bus)

	dispatcher := NewDispatcher(logger, queue, store, reaper, translator, DispatcherConfig{
		IdlePoll:    time.Millisecond,
		CallTimeout: time.Second,
	})
	dispatcher.SetEventBus(bus)

	svc := NewTranslationService(logger, queue, store, artifacts, bus, ServiceConfig{
		PollInterval:  time.Millisecond,
		MaxImageBytes: 64,
	})

	return &testCore{
		clock:      clock,
		queue:      queue,
		store:      store,
		reaper:     reaper,
		bus:        bus,
		artifacts:  artifacts,
		svc:        svc,
		dispatcher: dispatcher,
	}
}

// start runs the dispatch loop until the test ends.
func (c *testCore) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.dispatcher.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (c *testCore) submit(t *testing.T, id domain.JobID) *JobHandle {
	t.Helper()
	h, err := c.svc.Submit(context.Background(), SubmitRequest{JobID: id, Image: bytes.NewReader([]byte("img-" + id))})
	require.NoError(t, err)
	return h
}
