// Package coordinator runs indexed tasks in fixed-size concurrent windows.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
)

var (
	// ErrPanic wraps a panic recovered from a task.
	ErrPanic = errors.New("task panicked")
	// ErrNotRun marks tasks that were never started because the run stopped.
	ErrNotRun = errors.New("task not run")
)

const (
	DefaultWindow = 10
	DefaultDelay  = 500 * time.Millisecond
)

// Task processes the item at index.
type Task func(ctx context.Context, index int) error

// Coordinator executes tasks window by window. Window N+1 starts only after
// every task of window N has returned and the inter-window delay has passed.
type Coordinator struct {
	window int
	delay  time.Duration
	logger *slog.Logger
}

// New creates a Coordinator. A non-positive window or a negative delay falls
// back to the defaults.
func New(window int, delay time.Duration, logger *slog.Logger) *Coordinator {
	if window <= 0 {
		window = DefaultWindow
	}
	if delay < 0 {
		delay = DefaultDelay
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		window: window,
		delay:  delay,
		logger: logger,
	}
}

// Window returns the configured window size.
func (c *Coordinator) Window() int {
	return c.window
}

// Run executes task for every index in [0, count) and returns one error slot
// per index. A failing or panicking task only fills its own slot.
//
// The context is checked between windows, never inside one: once a window
// has started it always drains. When the run stops early the remaining slots
// hold ErrNotRun and the context's error is returned.
func (c *Coordinator) Run(ctx context.Context, count int, task Task) ([]error, error) {
	errs := make([]error, count)

	for start := 0; start < count; start += c.window {
		if start > 0 {
			if err := c.pause(ctx); err != nil {
				markNotRun(errs[start:])
				return errs, err
			}
		}
		if err := ctx.Err(); err != nil {
			markNotRun(errs[start:])
			return errs, err
		}

		end := min(start+c.window, count)
		c.runWindow(ctx, start, end, task, errs)

		failed := 0
		for _, err := range errs[start:end] {
			if err != nil {
				failed++
			}
		}
		c.logger.Debug("window complete",
			"window", start/c.window+1,
			"items", end-start,
			"failed", failed,
		)
	}

	return errs, nil
}

func (c *Coordinator) runWindow(ctx context.Context, start, end int, task Task, errs []error) {
	p := pool.New().WithMaxGoroutines(c.window)
	for i := start; i < end; i++ {
		i := i // per-iteration copy (pre-Go 1.22 loop semantics)
		p.Go(func() {
			var err error
			recovered := panics.Try(func() {
				err = task(ctx, i)
			})
			if recovered != nil {
				err = fmt.Errorf("%w: %w", ErrPanic, recovered.AsError())
			}
			errs[i] = err
		})
	}
	p.Wait()
}

func (c *Coordinator) pause(ctx context.Context) error {
	if c.delay == 0 {
		return nil
	}

	timer := time.NewTimer(c.delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func markNotRun(errs []error) {
	for i := range errs {
		errs[i] = ErrNotRun
	}
}
