package kernel

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/manthysbr/mangaqueue/internal/core/ports"
	"github.com/manthysbr/mangaqueue/internal/core/services"
)

// sseReplier renders a chat thread as SSE events. Message IDs are
// sequential so a client can apply edits and deletes.
type sseReplier struct {
	stream *sseStream

	mu     sync.Mutex
	nextID int
	lastID int // 0 when there is no text message to edit
}

var _ ports.Replier = (*sseReplier)(nil)

type chatMessage struct {
	ID   int    `json:"id"`
	Text string `json:"text,omitempty"`
}

type chatImage struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

func (r *sseReplier) Reply(ctx context.Context, text string) error {
	r.mu.Lock()
	r.nextID++
	r.lastID = r.nextID
	id := r.lastID
	r.mu.Unlock()

	return r.stream.send("message", chatMessage{ID: id, Text: text})
}

func (r *sseReplier) EditOrReply(ctx context.Context, text string) error {
	r.mu.Lock()
	id := r.lastID
	r.mu.Unlock()

	if id == 0 {
		return r.Reply(ctx, text)
	}
	return r.stream.send("status", chatMessage{ID: id, Text: text})
}

func (r *sseReplier) DeleteLast(ctx context.Context) error {
	r.mu.Lock()
	id := r.lastID
	r.lastID = 0
	r.mu.Unlock()

	if id == 0 {
		return nil
	}
	return r.stream.send("delete", chatMessage{ID: id})
}

func (r *sseReplier) ReplyImage(ctx context.Context, name string, img io.Reader) error {
	data, err := io.ReadAll(img)
	if err != nil {
		return fmt.Errorf("failed to read image %s: %w", name, err)
	}
	return r.stream.send("image", chatImage{Name: name, Data: base64.StdEncoding.EncodeToString(data)})
}

// handleTranslate runs the chat flow for one upload and streams the
// replies. The stream ends with a done event.
func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	up, status, err := s.readUpload(w, r)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	defer up.close()

	stream, err := startSSE(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	replier := &sseReplier{stream: stream}
	err = s.chat.Handle(r.Context(), services.ChatRequest{JobID: up.jobID, Image: up.image}, replier)
	if errors.Is(err, context.Canceled) {
		s.logger.Info("client left before the translation finished", "job_id", up.jobID)
		return
	}
	if err != nil {
		s.logger.Error("chat flow failed", "job_id", up.jobID, "error", err)
	}
	_ = stream.send("done", chatMessage{})
}
