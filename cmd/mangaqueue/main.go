package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/manthysbr/mangaqueue/internal/adapters/docker"
	"github.com/manthysbr/mangaqueue/internal/adapters/duckdb"
	"github.com/manthysbr/mangaqueue/internal/adapters/storage"
	"github.com/manthysbr/mangaqueue/internal/adapters/translator"
	"github.com/manthysbr/mangaqueue/internal/config"
	"github.com/manthysbr/mangaqueue/internal/core/domain"
	"github.com/manthysbr/mangaqueue/internal/core/services"
	"github.com/manthysbr/mangaqueue/pkg/kernel"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger.Info("starting mangaqueue")

	if err := run(logger); err != nil {
		logger.Error("mangaqueue failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		cancel()
	}()

	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Adapters
	artifacts, err := storage.NewFileStore(cfg.Storage.SaveDir, cfg.Storage.TranslatedDir)
	if err != nil {
		return fmt.Errorf("failed to init file store: %w", err)
	}

	if cfg.Backend.Container.Name != "" {
		container, err := docker.NewBackendContainer(logger, cfg.Backend.Container.Name, cfg.Backend.Container.Image)
		if err != nil {
			return err
		}
		defer container.Close()
		if err := container.EnsureRunning(ctx); err != nil {
			return fmt.Errorf("failed to start translator container: %w", err)
		}
	}

	client := translator.NewClient(cfg.Backend.URL, cfg.Backend.Timeout, cfg.Backend.RatePerMinute)
	runner := translator.NewRunner(logger, client, artifacts, domain.TranslateOptions{
		Translator: cfg.Backend.Translator,
		Size:       cfg.Backend.Size,
	})

	// Core
	eventBus := services.NewEventBus(logger)
	queue := services.NewPendingQueue()
	store := services.NewResultStore(cfg.TTL)

	reaper, err := services.NewReaper(logger, store, cfg.TTL, cfg.ReapSchedule)
	if err != nil {
		return err
	}
	reaper.SetEventBus(eventBus)
	reaper.OnEvict(func(ids []domain.JobID) {
		for _, id := range ids {
			if err := artifacts.Discard(id); err != nil {
				logger.Warn("failed to discard job files", "job_id", id, "error", err)
			}
		}
	})

	dispatcher := services.NewDispatcher(logger, queue, store, reaper, runner, services.DispatcherConfig{
		IdlePoll:    cfg.IdlePoll,
		CallTimeout: cfg.Backend.Timeout,
	})
	dispatcher.SetEventBus(eventBus)

	svc := services.NewTranslationService(logger, queue, store, artifacts, eventBus, services.ServiceConfig{
		PollInterval:  cfg.PollInterval,
		MaxImageBytes: cfg.Storage.MaxImageBytes,
	})
	chat := services.NewChatHandler(logger, svc)

	apiServer, err := kernel.NewServer(ctx, logger, svc, chat, eventBus)
	if err != nil {
		return fmt.Errorf("failed to init api server: %w", err)
	}

	if cfg.History.DBPath != "" {
		repo, err := duckdb.NewRepository(cfg.History.DBPath)
		if err != nil {
			return fmt.Errorf("failed to init history repository: %w", err)
		}
		defer repo.Close()
		dispatcher.SetHistory(repo)
		apiServer.SetHistory(repo)
	} else {
		logger.Info("job history disabled")
	}

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           c.Handler(apiServer.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	// Streams end with the process instead of holding Shutdown open.
	httpServer.BaseContext = func(net.Listener) context.Context { return gCtx }

	// 1. Dispatch loop
	g.Go(func() error {
		return dispatcher.Run(gCtx)
	})

	// 2. Wall-clock reaper
	g.Go(func() error {
		return reaper.Run(gCtx)
	})

	// 3. API server
	g.Go(func() error {
		logger.Info("starting api server", "addr", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	// 4. Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
