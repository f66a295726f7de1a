package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/manthysbr/mangaqueue/internal/core/domain"
	"github.com/manthysbr/mangaqueue/internal/core/ports"
)

// Replies sent to the chat. Kept together so front ends can match on them.
const (
	MsgGreeting      = "Hi! I translate manga pages. Send me a picture to get started."
	MsgPhotoMissing  = "I can't see a picture in that message."
	MsgPhotoTooBig   = "That picture is too big."
	MsgSaveFailed    = "Something went wrong and the picture could not be saved."
	MsgAlreadyQueued = "That picture is already being translated."
	MsgInvalidJob    = "That message can't be used as a translation request."
	MsgProcessing    = "Started processing."
	MsgFailed        = "Translation failed."
	MsgExpired       = "The translation expired before it could be delivered."
)

func msgQueued(ahead int) string { return fmt.Sprintf("Added to the queue, %d jobs ahead.", ahead) }
func msgMoved(ahead int) string  { return fmt.Sprintf("Now %d jobs ahead.", ahead) }

// ChatRequest is one incoming message with an optional image.
type ChatRequest struct {
	JobID domain.JobID
	Image io.Reader
}

// ChatHandler drives one chat request from upload to the final reply.
// Every path ends with exactly one terminal reply: the image or an error text.
type ChatHandler struct {
	logger *slog.Logger
	svc    *TranslationService
}

func NewChatHandler(logger *slog.Logger, svc *TranslationService) *ChatHandler {
	return &ChatHandler{logger: logger, svc: svc}
}

// Handle returns an error only when talking to the replier or reading the
// result fails; job failures are reported to the chat.
func (h *ChatHandler) Handle(ctx context.Context, req ChatRequest, replier ports.Replier) error {
	// Messages without a picture are answered with the greeting.
	if req.Image == nil {
		return replier.Reply(ctx, MsgGreeting)
	}

	handle, err := h.svc.Submit(ctx, SubmitRequest{JobID: req.JobID, Image: req.Image})
	if err != nil {
		h.logger.Warn("submission rejected", "job_id", req.JobID, "error", err)
		return replier.Reply(ctx, submissionMessage(err))
	}

	saidProcessing := false
	var replyErr error
	onProgress := func(p Progress) {
		if replyErr != nil {
			return
		}
		switch p.Kind {
		case ProgressQueued:
			if p.Position == 0 {
				saidProcessing = true
				replyErr = replier.EditOrReply(ctx, MsgProcessing)
				return
			}
			replyErr = replier.EditOrReply(ctx, msgQueued(p.Position))
		case ProgressMoved:
			replyErr = replier.EditOrReply(ctx, msgMoved(p.Position))
		case ProgressProcessing:
			if !saidProcessing {
				saidProcessing = true
				replyErr = replier.EditOrReply(ctx, MsgProcessing)
			}
		}
	}

	entry, waitErr := handle.Wait(ctx, onProgress)
	if replyErr != nil {
		return fmt.Errorf("send progress: %w", replyErr)
	}
	if errors.Is(waitErr, context.Canceled) || errors.Is(waitErr, context.DeadlineExceeded) {
		return waitErr
	}

	if err := replier.DeleteLast(ctx); err != nil {
		h.logger.Warn("failed to delete status message", "job_id", req.JobID, "error", err)
	}

	switch {
	case errors.Is(waitErr, domain.ErrResultExpired):
		return replier.Reply(ctx, MsgExpired)
	case waitErr != nil:
		h.logger.Error("translation failed", "job_id", req.JobID, "error", waitErr)
		return replier.Reply(ctx, MsgFailed)
	}

	rc, _, err := h.svc.OpenResult(handle.ID())
	if errors.Is(err, domain.ErrResultExpired) {
		return replier.Reply(ctx, MsgExpired)
	}
	if err != nil {
		h.logger.Error("failed to open translated image", "job_id", req.JobID, "error", err)
		return replier.Reply(ctx, MsgFailed)
	}
	defer rc.Close()

	return replier.ReplyImage(ctx, filepath.Base(entry.Outcome.Output), rc)
}

func submissionMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrPhotoMissing):
		return MsgPhotoMissing
	case errors.Is(err, domain.ErrPhotoTooBig):
		return MsgPhotoTooBig
	case errors.Is(err, domain.ErrJobExists):
		return MsgAlreadyQueued
	case errors.Is(err, domain.ErrInvalidJobID):
		return MsgInvalidJob
	default:
		return MsgSaveFailed
	}
}
