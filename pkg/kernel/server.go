package kernel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/manthysbr/mangaqueue/internal/core/domain"
	"github.com/manthysbr/mangaqueue/internal/core/ports"
	"github.com/manthysbr/mangaqueue/internal/core/services"
	"github.com/oapi-codegen/runtime"
)

// Room for the non-file multipart fields on top of the image limit.
const uploadOverhead = 64 * 1024

type Server struct {
	logger    *slog.Logger
	svc       *services.TranslationService
	chat      *services.ChatHandler
	eventBus  *services.EventBus
	history   ports.HistoryRecorder
	validator *requestValidator
}

// NewServer loads the embedded OpenAPI document used to validate requests.
func NewServer(
	ctx context.Context,
	logger *slog.Logger,
	svc *services.TranslationService,
	chat *services.ChatHandler,
	eventBus *services.EventBus,
) (*Server, error) {
	doc, err := LoadSpec(ctx)
	if err != nil {
		return nil, err
	}
	validator, err := newRequestValidator(doc)
	if err != nil {
		return nil, err
	}

	return &Server{
		logger:    logger,
		svc:       svc,
		chat:      chat,
		eventBus:  eventBus,
		validator: validator,
	}, nil
}

// SetHistory enables GET /v1/history.
func (s *Server) SetHistory(h ports.HistoryRecorder) {
	s.history = h
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/jobs", s.handleSubmitJob)
	mux.HandleFunc("POST /v1/translate", s.handleTranslate)
	mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("GET /v1/jobs/{id}/events", s.handleJobSSE)
	mux.HandleFunc("GET /v1/jobs/{id}/result", s.handleGetResult)
	mux.HandleFunc("GET /v1/events", s.handleBroadcastSSE)
	mux.HandleFunc("GET /v1/history", s.handleListHistory)

	return s.validator.middleware(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Pending: s.svc.QueueLen()})
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	up, status, err := s.readUpload(w, r)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	defer up.close()

	handle, err := s.svc.Submit(r.Context(), services.SubmitRequest{JobID: up.jobID, Image: up.image})
	if err != nil {
		s.logger.Warn("submission rejected", "job_id", up.jobID, "error", err)
		writeError(w, submissionStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, submitResponse{JobID: string(handle.ID()), Position: handle.Position()})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := bindJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toJobStatusResponse(s.svc.Status(id)))
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	id, err := bindJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch st := s.svc.Status(id); st.State {
	case services.JobStatePending, services.JobStateProcessing:
		writeError(w, http.StatusConflict, fmt.Sprintf("job %s is %s", id, st.State))
		return
	case services.JobStateUnknown:
		writeError(w, http.StatusNotFound, fmt.Sprintf("no result for job %s", id))
		return
	}

	rc, entry, err := s.svc.OpenResult(id)
	switch {
	case errors.Is(err, domain.ErrResultExpired):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil && !entry.Outcome.Succeeded():
		writeError(w, http.StatusBadGateway, err.Error())
		return
	case err != nil:
		s.logger.Error("failed to open result", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "result unavailable")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "image/jpeg")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn("failed to stream result", "job_id", id, "error", err)
	}
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history is disabled")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	records, err := s.history.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list history", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

type upload struct {
	jobID domain.JobID
	image io.Reader
	form  *multipart.Form
	file  multipart.File
}

func (u *upload) close() {
	if u.file != nil {
		u.file.Close()
	}
	if u.form != nil {
		_ = u.form.RemoveAll()
	}
}

// readUpload parses the multipart form. A missing image is not an error
// here; Submit reports it.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (*upload, int, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.svc.MaxImageBytes()+uploadOverhead)
	if err := r.ParseMultipartForm(32 << 10); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, http.StatusRequestEntityTooLarge, domain.ErrPhotoTooBig
		}
		return nil, http.StatusBadRequest, fmt.Errorf("expected multipart/form-data: %w", err)
	}

	up := &upload{form: r.MultipartForm, jobID: jobIDFromForm(r.MultipartForm)}
	file, _, err := r.FormFile("image")
	switch {
	case err == nil:
		up.file = file
		up.image = file
	case !errors.Is(err, http.ErrMissingFile):
		up.close()
		return nil, http.StatusBadRequest, fmt.Errorf("invalid image field: %w", err)
	}
	return up, http.StatusOK, nil
}

// jobIDFromForm derives user_chat_message when the caller names the chat
// message the image came from, so a resent message maps to the same job.
func jobIDFromForm(form *multipart.Form) domain.JobID {
	field := func(name string) string {
		if vs := form.Value[name]; len(vs) > 0 {
			return vs[0]
		}
		return ""
	}
	user, chat, message := field("user"), field("chat"), field("message")
	if user != "" && chat != "" && message != "" {
		return domain.JobID(fmt.Sprintf("%s_%s_%s", user, chat, message))
	}
	return domain.JobID(uuid.New().String())
}

func bindJobID(r *http.Request) (domain.JobID, error) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "id", r.PathValue("id"), &id, runtime.BindStyledParameterOptions{
		ParamLocation: runtime.ParamLocationPath,
		Explode:       false,
		Required:      true,
	})
	if err != nil {
		return "", fmt.Errorf("invalid format for parameter id: %w", err)
	}
	return domain.JobID(id), nil
}

func submissionStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrJobExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPhotoTooBig):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrPhotoMissing), errors.Is(err, domain.ErrInvalidJobID):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
