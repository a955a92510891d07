package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		spec    string
		wantErr bool
	}{
		{"0 0-8,16-23 * * *", false},
		{"0 */3 * * *", false},
		{"0 17 * * 1-5", false},
		{"0 17 * *", true},
		{"every day", true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			err := Validate(tt.spec)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%q) error = %v, wantErr %v", tt.spec, err, tt.wantErr)
			}
		})
	}
}

func TestRegister(t *testing.T) {
	s := New(time.UTC, nil)
	noop := func(ctx context.Context) error { return nil }

	if err := s.Register("directory", "0 * * * *", noop); err != nil {
		t.Fatalf("Register() returned unexpected error: %v", err)
	}
	if err := s.Register("directory", "0 * * * *", noop); err == nil {
		t.Error("Register() expected error for duplicate name, got nil")
	}
	if err := s.Register("valuation", "bad spec", noop); err == nil {
		t.Error("Register() expected error for invalid spec, got nil")
	}
	if err := s.Register("fundamentals", "0 */3 * * *", noop); err != nil {
		t.Fatalf("Register() returned unexpected error: %v", err)
	}

	entries := s.Entries()
	if len(entries) != 2 || entries[0].Name != "directory" || entries[1].Name != "fundamentals" {
		t.Errorf("Entries() = %+v, want directory and fundamentals", entries)
	}
}

func TestTrigger(t *testing.T) {
	s := New(time.UTC, nil)

	calls := 0
	if err := s.Register("valuation", "0 17 * * 1-5", func(ctx context.Context) error {
		calls++
		return errors.New("sweep failed")
	}); err != nil {
		t.Fatalf("Register() returned unexpected error: %v", err)
	}

	// A failing job is logged, not propagated.
	if err := s.Trigger("valuation"); err != nil {
		t.Fatalf("Trigger() returned unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("job calls = %d, want 1", calls)
	}

	if err := s.Trigger("missing"); err == nil {
		t.Error("Trigger() expected error for unknown job, got nil")
	}
}

func TestStop_CancelsRunningJob(t *testing.T) {
	s := New(time.UTC, nil)

	started := make(chan struct{})
	finished := make(chan error, 1)
	if err := s.Register("fundamentals", "0 */3 * * *", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		finished <- ctx.Err()
		return ctx.Err()
	}); err != nil {
		t.Fatalf("Register() returned unexpected error: %v", err)
	}

	s.Start()
	go s.Trigger("fundamentals")
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop() returned unexpected error: %v", err)
	}

	select {
	case err := <-finished:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("job context error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("running job was not canceled by Stop()")
	}
}

func TestRun_SkippedIsNotAFailure(t *testing.T) {
	s := New(time.UTC, nil)
	if err := s.Register("directory", "0 * * * *", func(ctx context.Context) error {
		return ErrSkipped
	}); err != nil {
		t.Fatalf("Register() returned unexpected error: %v", err)
	}
	if err := s.Trigger("directory"); err != nil {
		t.Errorf("Trigger() returned unexpected error: %v", err)
	}
}

func TestEntries_NextKnownOnceStarted(t *testing.T) {
	s := New(time.UTC, nil)
	if err := s.Register("valuation", "0 17 * * 1-5", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("Register() returned unexpected error: %v", err)
	}

	if next := s.Entries()[0].Next; !next.IsZero() {
		t.Errorf("Next before Start() = %v, want zero", next)
	}

	s.Start()
	defer s.Stop(context.Background())

	next := s.Entries()[0].Next
	if next.IsZero() {
		t.Fatal("Next after Start() is zero")
	}
	if next.Hour() != 17 || next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		t.Errorf("Next = %v, want a weekday at 17:00", next)
	}
}
