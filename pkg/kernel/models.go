package kernel

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/manthysbr/mangaqueue/internal/core/services"
)

type errorResponse struct {
	Error string `json:"error"`
}

type submitResponse struct {
	JobID    string `json:"job_id"`
	Position int    `json:"position"`
}

type jobStatusResponse struct {
	JobID       string     `json:"job_id"`
	State       string     `json:"state"`
	Position    *int       `json:"position,omitempty"`
	Output      string     `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Pending int    `json:"pending"`
}

func toJobStatusResponse(st services.JobStatus) jobStatusResponse {
	resp := jobStatusResponse{JobID: string(st.JobID), State: string(st.State)}
	if st.State == services.JobStatePending {
		pos := st.Position
		resp.Position = &pos
	}
	if st.Entry != nil {
		completed := st.Entry.CompletedAt.UTC()
		resp.CompletedAt = &completed
		resp.Output = st.Entry.Outcome.Output
		if st.Entry.Outcome.Err != nil {
			resp.Error = st.Entry.Outcome.Err.Error()
		}
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
