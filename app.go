package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/afero"

	"valuesweep/internal/config"
	"valuesweep/internal/directory"
	"valuesweep/internal/fetcher"
	"valuesweep/internal/fundamentals"
	"valuesweep/internal/krx"
	"valuesweep/internal/ratelimit"
	"valuesweep/internal/scheduler"
	"valuesweep/internal/service"
	"valuesweep/internal/snapshot"
	"valuesweep/internal/storage"
)

// app holds the wired components of one process.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *storage.Store
	service   *service.Service
	scheduler *scheduler.Scheduler
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel()}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// newApp builds every component from cfg. The caller closes the app.
func newApp(cfg *config.Config, fsys afero.Fs, logger *slog.Logger) (*app, error) {
	limiter := ratelimit.New(cfg.Rates())

	pageHTTP := fetcher.NewHTTPClient(fetcher.ClientOptions{
		Timeout:    cfg.HTTP.Timeout,
		UserAgent:  cfg.HTTP.UserAgent,
		RetryCount: cfg.HTTP.RetryCount,
	})
	listingHTTP := fetcher.NewHTTPClient(fetcher.ClientOptions{
		Timeout:    cfg.HTTP.Timeout,
		UserAgent:  cfg.HTTP.UserAgent,
		RetryCount: cfg.HTTP.RetryCount,
		Headers:    map[string]string{"Referer": cfg.Sources.ListingReferer},
	})
	pages := fetcher.New(pageHTTP, limiter, ratelimit.SourcePages)
	listing := fetcher.New(listingHTTP, limiter, ratelimit.SourceListing)

	source, err := fundamentals.NewPageSource(pages, cfg.PagePatterns())
	if err != nil {
		return nil, fmt.Errorf("failed to configure page source: %w", err)
	}

	store, err := storage.Open(storage.Options{
		Path:      cfg.Storage.Path,
		InMemory:  cfg.Storage.InMemory,
		OpTimeout: cfg.Storage.OpTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	syncer := directory.New(krx.NewClient(listing, cfg.Sources.ListingURL), store, directory.Options{
		Markets:  cfg.Markets(),
		MinRows:  cfg.Directory.MinRows,
		Location: cfg.Location(),
	}, logger)

	jobOpts := fundamentals.Options{Window: cfg.Job.Window, Delay: cfg.Job.Delay}
	liveOpts := jobOpts
	liveOpts.LiveQuote = true

	svc := service.New(service.Config{
		Directory:       syncer,
		Fundamentals:    fundamentals.NewJob(source, store, jobOpts, logger),
		Valuation:       fundamentals.NewJob(source, store, liveOpts, logger),
		Store:           store,
		Snapshots:       snapshot.New(fsys, cfg.Snapshot.Path),
		LockTTL:         cfg.Lock.TTL,
		MaxFailureRatio: cfg.Snapshot.MaxFailureRatio,
		Logger:          logger,
	})

	sched := scheduler.New(cfg.Location(), logger)
	err = svc.Register(sched, service.Schedules{
		Directory:    cfg.Schedule.Directory,
		Fundamentals: cfg.Schedule.Fundamentals,
		Valuation:    cfg.Schedule.Valuation,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to register schedules: %w", err)
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		service:   svc,
		scheduler: sched,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
