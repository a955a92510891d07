package service

import (
	"context"
	"errors"
	"fmt"

	"valuesweep/internal/model"
	"valuesweep/internal/scheduler"
	"valuesweep/internal/storage"
)

// Schedules holds the cron expression of each recurring job.
type Schedules struct {
	Directory    string
	Fundamentals string
	Valuation    string
}

// Register adds the three recurring jobs to sched. A run that finds its lock
// held is reported as skipped.
func (s *Service) Register(sched *scheduler.Scheduler, specs Schedules) error {
	jobs := []struct {
		kind model.JobKind
		spec string
		run  func(ctx context.Context) (Summary, error)
	}{
		{model.JobDirectory, specs.Directory, func(ctx context.Context) (Summary, error) {
			sum, err := s.RefreshDirectory(ctx, false)
			return SummarizeDirectory(sum), err
		}},
		{model.JobFundamentals, specs.Fundamentals, func(ctx context.Context) (Summary, error) {
			r, err := s.RefreshFundamentals(ctx, nil)
			return SummarizeSweep(model.JobFundamentals, r), err
		}},
		{model.JobValuation, specs.Valuation, func(ctx context.Context) (Summary, error) {
			r, err := s.RunValuationSweep(ctx, nil)
			return SummarizeSweep(model.JobValuation, r), err
		}},
	}

	for _, job := range jobs {
		job := job // per-iteration copy (pre-Go 1.22 loop semantics)
		err := sched.Register(string(job.kind), job.spec, func(ctx context.Context) error {
			sum, err := job.run(ctx)
			if errors.Is(err, storage.ErrLockHeld) {
				return fmt.Errorf("%w: %w", scheduler.ErrSkipped, err)
			}
			if err != nil {
				return err
			}
			s.logger.Info("job summary",
				"job", sum.Job,
				"succeeded", sum.Succeeded,
				"failed", sum.Failed,
				"incomplete", sum.Incomplete,
				"duration", sum.Duration,
			)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
