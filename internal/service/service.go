// Package service is the trigger and query surface over the directory sync,
// the sweeps and the snapshot file.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"valuesweep/internal/directory"
	"valuesweep/internal/fundamentals"
	"valuesweep/internal/model"
)

var (
	// ErrEmptyUniverse is returned when a sweep has no instruments to visit.
	ErrEmptyUniverse = errors.New("no instruments to sweep")
	// ErrSystemicFailure is returned when too many items of a sweep failed
	// for its results to replace the snapshot.
	ErrSystemicFailure = errors.New("sweep failed systemically")
)

const (
	defaultLockTTL         = 2 * time.Hour
	defaultMaxFailureRatio = 0.5
)

// Store is the part of the persistence gateway the service reads and locks.
type Store interface {
	ListInstruments(ctx context.Context) ([]model.Instrument, error)
	AcquireLock(ctx context.Context, kind model.JobKind, ttl time.Duration) (model.JobLock, error)
	ReleaseLock(ctx context.Context, lock model.JobLock) error
}

// DirectorySyncer refreshes the instrument universe.
type DirectorySyncer interface {
	Refresh(ctx context.Context, full bool) (directory.Summary, error)
}

// Sweeper runs one fundamentals sweep.
type Sweeper interface {
	Run(ctx context.Context, instruments []model.Instrument) (fundamentals.Report, error)
}

// SnapshotStore holds the latest full valuation sweep.
type SnapshotStore interface {
	Write(results []model.ValuationResult) error
	Latest() ([]model.ValuationResult, error)
	Top(n int) ([]model.ValuationResult, error)
}

// Config wires a Service.
type Config struct {
	Directory       DirectorySyncer
	Fundamentals    Sweeper
	Valuation       Sweeper
	Store           Store
	Snapshots       SnapshotStore
	LockTTL         time.Duration
	// MaxFailureRatio is the largest share of failed items a full valuation
	// sweep may have and still replace the snapshot. Zero means 0.5.
	MaxFailureRatio float64
	Logger          *slog.Logger
}

// Service runs the jobs under their advisory locks.
type Service struct {
	directory    DirectorySyncer
	fundamentals Sweeper
	valuation    Sweeper
	store        Store
	snapshots    SnapshotStore
	lockTTL      time.Duration
	maxFailures  float64
	logger       *slog.Logger
}

// New creates a Service.
func New(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.MaxFailureRatio <= 0 {
		cfg.MaxFailureRatio = defaultMaxFailureRatio
	}

	return &Service{
		directory:    cfg.Directory,
		fundamentals: cfg.Fundamentals,
		valuation:    cfg.Valuation,
		store:        cfg.Store,
		snapshots:    cfg.Snapshots,
		lockTTL:      cfg.LockTTL,
		maxFailures:  cfg.MaxFailureRatio,
		logger:       cfg.Logger,
	}
}

// Summary is the count report returned by every manual trigger.
type Summary struct {
	Job        model.JobKind `json:"job"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Incomplete int           `json:"incomplete"`
	Duration   time.Duration `json:"duration"`
}

// SummarizeDirectory reports a directory refresh as counts. Dropped rows are
// the refresh's failures.
func SummarizeDirectory(s directory.Summary) Summary {
	sum := Summary{Job: model.JobDirectory, Succeeded: s.Written, Duration: s.Duration}
	for _, seg := range s.Segments {
		sum.Failed += seg.Dropped
	}
	return sum
}

// SummarizeSweep reports a sweep as counts.
func SummarizeSweep(kind model.JobKind, r fundamentals.Report) Summary {
	return Summary{
		Job:        kind,
		Succeeded:  r.Succeeded,
		Failed:     r.Failed,
		Incomplete: r.Incomplete,
		Duration:   r.Duration,
	}
}

// withLock runs fn while holding kind's advisory lock.
func (s *Service) withLock(ctx context.Context, kind model.JobKind, fn func(ctx context.Context) error) error {
	lock, err := s.store.AcquireLock(ctx, kind, s.lockTTL)
	if err != nil {
		return err
	}
	defer func() {
		// Release even when the run was canceled.
		if err := s.store.ReleaseLock(context.WithoutCancel(ctx), lock); err != nil {
			s.logger.Error("failed to release job lock", "kind", kind, "owner", lock.Owner, "error", err)
		}
	}()

	return fn(ctx)
}

// RefreshDirectory resyncs the instrument universe. A full refresh clears
// the set before writing.
func (s *Service) RefreshDirectory(ctx context.Context, full bool) (directory.Summary, error) {
	var summary directory.Summary
	err := s.withLock(ctx, model.JobDirectory, func(ctx context.Context) error {
		var err error
		summary, err = s.directory.Refresh(ctx, full)
		return err
	})
	return summary, err
}

// RefreshFundamentals sweeps the universe, or just codes when given, using
// the directory close as the price.
func (s *Service) RefreshFundamentals(ctx context.Context, codes []string) (fundamentals.Report, error) {
	var report fundamentals.Report
	err := s.withLock(ctx, model.JobFundamentals, func(ctx context.Context) error {
		instruments, err := s.universe(ctx, codes)
		if err != nil {
			return err
		}
		report, err = s.fundamentals.Run(ctx, instruments)
		return err
	})
	return report, err
}

// RunValuationSweep sweeps with live quotes. Only a complete sweep over the
// whole universe replaces the snapshot file, and only when enough of its
// items succeeded; otherwise ErrSystemicFailure keeps the last good one.
func (s *Service) RunValuationSweep(ctx context.Context, codes []string) (fundamentals.Report, error) {
	var report fundamentals.Report
	err := s.withLock(ctx, model.JobValuation, func(ctx context.Context) error {
		instruments, err := s.universe(ctx, codes)
		if err != nil {
			return err
		}

		report, err = s.valuation.Run(ctx, instruments)
		if err != nil {
			s.logger.Warn("valuation sweep incomplete, snapshot kept", "kind", "systemic", "error", err)
			return err
		}

		if len(codes) > 0 {
			return nil
		}
		if err := s.checkSystemic(report); err != nil {
			s.logger.Error("valuation sweep failed, snapshot kept",
				"kind", "systemic",
				"succeeded", report.Succeeded,
				"failed", report.Failed,
				"error", err,
			)
			return err
		}
		if err := s.snapshots.Write(report.Results); err != nil {
			s.logger.Error("failed to write snapshot", "kind", "persistence", "error", err)
			return fmt.Errorf("failed to write snapshot: %w", err)
		}
		s.logger.Info("snapshot written", "records", len(report.Results))
		return nil
	})
	return report, err
}

// checkSystemic reports a sweep in which nothing succeeded, or whose failed
// share exceeds the configured ratio.
func (s *Service) checkSystemic(r fundamentals.Report) error {
	attempted := r.Succeeded + r.Failed
	if r.Succeeded == 0 {
		return fmt.Errorf("%w: all %d instruments failed", ErrSystemicFailure, attempted)
	}
	if ratio := float64(r.Failed) / float64(attempted); ratio > s.maxFailures {
		return fmt.Errorf("%w: %d of %d instruments failed, above %.0f%%",
			ErrSystemicFailure, r.Failed, attempted, s.maxFailures*100)
	}
	return nil
}

// LatestSnapshot returns the full latest valuation snapshot.
func (s *Service) LatestSnapshot() ([]model.ValuationResult, error) {
	return s.snapshots.Latest()
}

// TopUndervalued returns at most n snapshot records with a positive safety
// margin, highest first.
func (s *Service) TopUndervalued(n int) ([]model.ValuationResult, error) {
	return s.snapshots.Top(n)
}

// universe returns the instruments to sweep: every stored instrument not
// flagged excluded, ordered by code, narrowed to codes when given.
func (s *Service) universe(ctx context.Context, codes []string) ([]model.Instrument, error) {
	all, err := s.store.ListInstruments(ctx)
	if err != nil {
		return nil, err
	}

	var wanted map[string]bool
	if len(codes) > 0 {
		wanted = make(map[string]bool, len(codes))
		for _, c := range codes {
			wanted[c] = true
		}
	}

	var out []model.Instrument
	for _, inst := range all {
		if inst.Excluded {
			continue
		}
		if wanted != nil {
			if !wanted[inst.Code] {
				continue
			}
			delete(wanted, inst.Code)
		}
		out = append(out, inst)
	}

	for code := range wanted {
		s.logger.Warn("requested instrument not in directory", "code", code)
	}
	if len(out) == 0 {
		return nil, ErrEmptyUniverse
	}
	return out, nil
}
