// Package scheduler fires the recurring jobs on their cron cadences.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrSkipped may be returned by a job to report that it chose not to run,
// for example because another run still holds its lock.
var ErrSkipped = errors.New("run skipped")

// JobFunc is one scheduled unit of work.
type JobFunc func(ctx context.Context) error

// Entry describes a registered job.
type Entry struct {
	Name     string
	Schedule string
	Next     time.Time
	Prev     time.Time
}

// Scheduler wraps a cron runner. Every job receives a context derived from
// the one passed to Start, so stopping the scheduler cancels running jobs.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	entries map[string]cron.EntryID
	specs   map[string]string
}

// New creates a Scheduler evaluating schedules in loc.
func New(loc *time.Location, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.Local
	}

	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelWarn))
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger)),
		),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]cron.EntryID),
		specs:   make(map[string]string),
	}
}

// Validate reports whether spec is a standard five-field cron expression.
func Validate(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return nil
}

// Register adds job under name on schedule spec.
func (s *Scheduler) Register(name, spec string, job JobFunc) error {
	if err := Validate(spec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	id, err := s.cron.AddFunc(spec, func() { s.run(name, job) })
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	s.entries[name] = id
	s.specs[name] = spec

	s.logger.Info("job scheduled", "job", name, "schedule", spec)
	return nil
}

func (s *Scheduler) run(name string, job JobFunc) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	start := time.Now()
	s.logger.Info("scheduled job started", "job", name)

	err := job(ctx)
	switch {
	case errors.Is(err, ErrSkipped):
		s.logger.Info("scheduled job skipped", "job", name, "reason", err)
	case err != nil:
		s.logger.Error("scheduled job failed", "job", name, "error", err, "duration", time.Since(start))
	default:
		s.logger.Info("scheduled job finished", "job", name, "duration", time.Since(start))
	}
}

// Start begins firing jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops firing new jobs, cancels running ones and waits for them to
// return or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()

	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// Entries lists the registered jobs with their next and previous fire times.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.entries))
	for name, id := range s.entries {
		e := s.cron.Entry(id)
		out = append(out, Entry{Name: name, Schedule: s.specs[name], Next: e.Next, Prev: e.Prev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Trigger runs the named job once, synchronously, outside its schedule.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s not registered", name)
	}

	s.cron.Entry(id).WrappedJob.Run()
	return nil
}
