package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"valuesweep/internal/config"
	"valuesweep/internal/model"
	"valuesweep/internal/service"
)

const usage = `usage: valuesweep <command> [flags]

commands:
  serve         run the directory, fundamentals and valuation jobs on their schedules
  directory     refresh the instrument directory once (--full clears it first)
  fundamentals  run one fundamentals sweep (--codes narrows it)
  valuation     run one valuation sweep with live quotes (--codes narrows it)
  snapshot      print the latest valuation snapshot
  top           print the most undervalued snapshot records (--top N)
`

const shutdownTimeout = 30 * time.Second

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err := run(os.Args[1], os.Args[2:], os.Stdout); err != nil {
		log.Fatalf("%s: %v", os.Args[1], err)
	}
}

func run(command string, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet(command, pflag.ContinueOnError)
	config.RegisterFlags(fs)
	full := fs.Bool("full", false, "clear the directory before writing (directory)")
	codes := fs.StringSlice("codes", nil, "instrument codes to sweep (fundamentals, valuation)")
	top := fs.Int("top", 20, "number of records to print (top)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := newLogger(cfg, os.Stderr)

	a, err := newApp(cfg, afero.NewOsFs(), logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle interrupt signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			logger.Info("received interrupt signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	svc := a.service
	switch command {
	case "serve":
		return a.serve(ctx)
	case "directory":
		sum, err := svc.RefreshDirectory(ctx, *full)
		if err != nil {
			return err
		}
		return writeJSON(out, service.SummarizeDirectory(sum))
	case "fundamentals":
		report, err := svc.RefreshFundamentals(ctx, trimCodes(*codes))
		if err != nil {
			return err
		}
		return writeJSON(out, service.SummarizeSweep(model.JobFundamentals, report))
	case "valuation":
		report, err := svc.RunValuationSweep(ctx, trimCodes(*codes))
		if err != nil {
			return err
		}
		return writeJSON(out, service.SummarizeSweep(model.JobValuation, report))
	case "snapshot":
		results, err := svc.LatestSnapshot()
		if err != nil {
			return err
		}
		return writeJSON(out, results)
	case "top":
		results, err := svc.TopUndervalued(*top)
		if err != nil {
			return err
		}
		return writeJSON(out, results)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

// serve runs the scheduler until ctx is canceled, then waits for running
// jobs to stop.
func (a *app) serve(ctx context.Context) error {
	a.scheduler.Start()
	a.logSchedule()

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.scheduler.Stop(stopCtx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	a.logger.Info("scheduler stopped")
	return nil
}

// logSchedule reports every job's next fire time. Next is only known once the
// scheduler is running.
func (a *app) logSchedule() {
	for _, e := range a.scheduler.Entries() {
		a.logger.Info("job scheduled", "job", e.Name, "schedule", e.Schedule, "next", e.Next)
	}
}

func trimCodes(codes []string) []string {
	var out []string
	for _, c := range codes {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
