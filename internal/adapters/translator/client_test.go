package translator

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/manthysbr/mangaqueue/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSource(t *testing.T, content string) domain.Artifact {
	t.Helper()
	path := filepath.Join(t.TempDir(), "page.jpg")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return domain.Artifact{Name: "page.jpg", Path: path, Size: int64(len(content))}
}

func TestClient_SubmitAndFetch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /run", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, DefaultTranslator, r.FormValue("translator"))
		assert.Equal(t, "M", r.FormValue("size"))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		body, _ := io.ReadAll(f)
		assert.Equal(t, "page.jpg", hdr.Filename)
		assert.Equal(t, "raw-page", string(body))

		_ = json.NewEncoder(w).Encode(map[string]string{"task_id": "task-42"})
	})
	mux.HandleFunc("GET /result/{task}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "task-42", r.PathValue("task"))
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("translated-page"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL+"/", 5*time.Second, 0)
	ctx := context.Background()

	task, err := c.Submit(ctx, writeSource(t, "raw-page"), domain.TranslateOptions{Size: "M"})
	require.NoError(t, err)
	assert.Equal(t, domain.BackendTaskID("task-42"), task)

	data, err := c.FetchResult(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, "translated-page", string(data))
}

func TestClient_BackendErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /run", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	})
	mux.HandleFunc("GET /result/{task}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, 0)
	ctx := context.Background()

	_, err := c.Submit(ctx, writeSource(t, "x"), domain.TranslateOptions{})
	assert.ErrorContains(t, err, "status 500")

	_, err = c.FetchResult(ctx, "task-1")
	assert.ErrorContains(t, err, "empty image")

	_, err = c.Submit(ctx, domain.Artifact{Name: "gone.jpg", Path: filepath.Join(t.TempDir(), "gone.jpg")}, domain.TranslateOptions{})
	assert.ErrorContains(t, err, "open source image")
}

func TestClient_MissingTaskID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, 0)
	_, err := c.Submit(context.Background(), writeSource(t, "x"), domain.TranslateOptions{})
	assert.ErrorContains(t, err, "no task_id")
}

func TestClient_HonoursContext(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	c := NewClient(srv.URL, 5*time.Second, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.FetchResult(ctx, "slow")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_RateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"task_id":"t"}`))
	}))
	defer srv.Close()

	// One call per minute: the second submit has to wait and runs out of time.
	c := NewClient(srv.URL, 5*time.Second, 1)
	src := writeSource(t, "x")

	_, err := c.Submit(context.Background(), src, domain.TranslateOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Submit(ctx, src, domain.TranslateOptions{})
	assert.ErrorContains(t, err, "rate limit")
}
