package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/manthysbr/mangaqueue/internal/core/domain"
	"github.com/manthysbr/mangaqueue/internal/core/services"
)

// sseStream writes server-sent events. Safe for use from several goroutines.
type sseStream struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

// startSSE sends the SSE headers. It fails if the writer cannot flush.
func startSSE(w http.ResponseWriter) (*sseStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &sseStream{w: w, flusher: flusher}, nil
}

func (s *sseStream) send(event string, payload any) error {
	data, ok := payload.(string)
	if !ok {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode %s event: %w", event, err)
		}
		data = string(raw)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

type progressEvent struct {
	JobID    string `json:"job_id"`
	Position int    `json:"position"`
}

type terminalEvent struct {
	JobID  string `json:"job_id"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// handleJobSSE follows one job with the waiter protocol until it has a
// terminal outcome: succeeded, failed or expired.
func (s *Server) handleJobSSE(w http.ResponseWriter, r *http.Request) {
	id, err := bindJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	handle, err := s.svc.Attach(id)
	if errors.Is(err, domain.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	stream, err := startSSE(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	entry, err := handle.Wait(r.Context(), func(p services.Progress) {
		_ = stream.send(string(p.Kind), progressEvent{JobID: string(id), Position: p.Position})
	})
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return
	case errors.Is(err, domain.ErrResultExpired):
		_ = stream.send("expired", terminalEvent{JobID: string(id)})
	case err != nil:
		_ = stream.send(string(services.EventTypeFailed), terminalEvent{JobID: string(id), Error: err.Error()})
	default:
		_ = stream.send(string(services.EventTypeSucceeded), terminalEvent{JobID: string(id), Output: entry.Outcome.Output})
	}
}

// handleBroadcastSSE streams the activity of every job from the event bus.
func (s *Server) handleBroadcastSSE(w http.ResponseWriter, r *http.Request) {
	stream, err := startSSE(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ch, unsub := s.eventBus.Subscribe(services.BroadcastKey)
	defer unsub()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := stream.send(string(evt.Type), evt); err != nil {
				return
			}
		}
	}
}
