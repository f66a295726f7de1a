package translator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/manthysbr/mangaqueue/internal/core/domain"
	"github.com/manthysbr/mangaqueue/internal/core/ports"
	"golang.org/x/time/rate"
)

const (
	DefaultTranslator = "gpt3.5-evil"
	DefaultSize       = "S"
)

// Client talks to a manga-image-translator HTTP API:
// POST /run uploads an image, GET /result/{task_id} returns the translation.
type Client struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

var _ ports.TranslationBackend = (*Client)(nil)

// NewClient builds a client with a per-call timeout. ratePerMinute > 0
// throttles submissions to the backend.
func NewClient(baseURL string, timeout time.Duration, ratePerMinute int) *Client {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:5003"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if ratePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(ratePerMinute)), 1)
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
	}
}

// Submit uploads the source image with the translator and size options.
func (c *Client) Submit(ctx context.Context, src domain.Artifact, opts domain.TranslateOptions) (domain.BackendTaskID, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for backend rate limit: %w", err)
	}

	body, contentType, err := buildRunForm(src, opts)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/run", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call translator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("translator returned status %d: %s", resp.StatusCode, string(raw))
	}

	var result struct {
		TaskID string `json:"task_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if result.TaskID == "" {
		return "", fmt.Errorf("no task_id returned")
	}

	return domain.BackendTaskID(result.TaskID), nil
}

// FetchResult downloads the translated image. The backend holds the
// request open until the task is done.
func (c *Client) FetchResult(ctx context.Context, task domain.BackendTaskID) ([]byte, error) {
	url := fmt.Sprintf("%s/result/%s", c.baseURL, task)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch result: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("translator result %s returned status %d: %s", task, resp.StatusCode, string(raw))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed reading result body: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("translator returned an empty image for %s", task)
	}
	return data, nil
}

func buildRunForm(src domain.Artifact, opts domain.TranslateOptions) (io.Reader, string, error) {
	f, err := os.Open(src.Path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open source image: %w", err)
	}
	defer f.Close()

	translatorName := opts.Translator
	if translatorName == "" {
		translatorName = DefaultTranslator
	}
	size := opts.Size
	if size == "" {
		size = DefaultSize
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", src.Name)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("failed to read source image: %w", err)
	}
	if err := w.WriteField("translator", translatorName); err != nil {
		return nil, "", fmt.Errorf("failed to build form: %w", err)
	}
	if err := w.WriteField("size", size); err != nil {
		return nil, "", fmt.Errorf("failed to build form: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to build form: %w", err)
	}

	return &buf, w.FormDataContentType(), nil
}
