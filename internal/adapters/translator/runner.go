package translator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/manthysbr/mangaqueue/internal/core/domain"
	"github.com/manthysbr/mangaqueue/internal/core/ports"
)

// Runner is the dispatcher's translator: one submit and one fetch per job,
// with the output written back through the artifact store.
type Runner struct {
	logger    *slog.Logger
	backend   ports.TranslationBackend
	artifacts ports.ArtifactStore
	opts      domain.TranslateOptions
}

var _ ports.Translator = (*Runner)(nil)

func NewRunner(logger *slog.Logger, backend ports.TranslationBackend, artifacts ports.ArtifactStore, opts domain.TranslateOptions) *Runner {
	return &Runner{
		logger:    logger,
		backend:   backend,
		artifacts: artifacts,
		opts:      opts,
	}
}

// Translate returns the name of the translated artifact.
func (r *Runner) Translate(ctx context.Context, id domain.JobID) (string, error) {
	src, err := r.artifacts.Source(id)
	if err != nil {
		return "", fmt.Errorf("load source: %w", err)
	}

	task, err := r.backend.Submit(ctx, src, r.opts)
	if err != nil {
		return "", fmt.Errorf("submit to backend: %w", err)
	}
	r.logger.Info("backend task created", "job_id", id, "task_id", task)

	data, err := r.backend.FetchResult(ctx, task)
	if err != nil {
		return "", fmt.Errorf("fetch backend result: %w", err)
	}

	out, err := r.artifacts.SaveTranslated(ctx, id, data)
	if err != nil {
		return "", fmt.Errorf("store translated image: %w", err)
	}
	return out.Name, nil
}
