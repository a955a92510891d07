// Package fundamentals runs the windowed scrape, value and persist sweep over
// the instrument universe.
package fundamentals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"valuesweep/internal/coordinator"
	"valuesweep/internal/extract"
	"valuesweep/internal/model"
	"valuesweep/internal/numeric"
	"valuesweep/internal/storage"
	"valuesweep/internal/valuation"
)

// pricePlaces is the rounding applied to every published derived figure.
const pricePlaces = 2

// Store persists one swept instrument.
type Store interface {
	SaveSweepRecord(ctx context.Context, rec storage.SweepRecord) error
}

// Options configures a Job.
type Options struct {
	// Window is the number of instruments processed concurrently.
	Window int
	// Delay is the pause between windows.
	Delay time.Duration
	// LiveQuote fetches the market summary page for the current price
	// instead of using the directory's last close.
	LiveQuote bool
}

// Report is the outcome of one sweep.
type Report struct {
	// Results holds every instrument processed without error, sorted by
	// safety margin with unvalued entries last.
	Results []model.ValuationResult
	// Succeeded counts items processed without error, incomplete ones included.
	Succeeded int
	Failed    int
	// Incomplete counts succeeded items that yielded no valuation.
	Incomplete int
	Failures   []Failure
	// NotRun counts items skipped because the sweep was stopped.
	NotRun    int
	StartedAt time.Time
	Duration  time.Duration
}

// Job is the fundamentals sweep.
type Job struct {
	source Source
	store  Store
	opts   Options
	now    func() time.Time
	logger *slog.Logger
}

// NewJob creates a Job.
func NewJob(source Source, store Store, opts Options, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{
		source: source,
		store:  store,
		opts:   opts,
		now:    time.Now,
		logger: logger,
	}
}

// WithClock replaces the clock used for the sweep timestamp.
func (j *Job) WithClock(now func() time.Time) *Job {
	j.now = now
	return j
}

type outcome struct {
	result model.ValuationResult
	valued bool
}

// Run sweeps instruments. Item failures are recorded in the report and never
// abort the sweep. The returned error is non-nil only when ctx stopped the
// sweep between windows; the report then covers the windows that ran.
func (j *Job) Run(ctx context.Context, instruments []model.Instrument) (Report, error) {
	sweptAt := j.now()
	report := Report{StartedAt: sweptAt}

	outcomes := make([]outcome, len(instruments))
	pool := coordinator.New(j.opts.Window, j.opts.Delay, j.logger)

	j.logger.Info("fundamentals sweep started",
		"instruments", len(instruments),
		"window", pool.Window(),
		"live_quote", j.opts.LiveQuote,
	)

	errs, runErr := pool.Run(ctx, len(instruments), func(ctx context.Context, i int) error {
		res, valued, err := j.process(ctx, instruments[i], sweptAt)
		if err != nil {
			return err
		}
		outcomes[i] = outcome{result: res, valued: valued}
		return nil
	})

	for i, err := range errs {
		switch {
		case err == nil:
			report.Succeeded++
			if !outcomes[i].valued {
				report.Incomplete++
			}
			report.Results = append(report.Results, outcomes[i].result)
		case errors.Is(err, coordinator.ErrNotRun):
			report.NotRun++
		default:
			f := asFailure(instruments[i].Code, err)
			report.Failed++
			report.Failures = append(report.Failures, f)
			j.logger.Warn("instrument failed", "code", f.Code, "kind", f.Kind, "error", f.Err)
		}
	}

	model.SortBySafetyMargin(report.Results)
	report.Duration = j.now().Sub(sweptAt)

	j.logger.Info("fundamentals sweep complete",
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"incomplete", report.Incomplete,
		"not_run", report.NotRun,
		"duration", report.Duration,
	)

	if runErr != nil {
		return report, fmt.Errorf("sweep stopped after %d of %d instruments: %w",
			len(instruments)-report.NotRun, len(instruments), runErr)
	}
	return report, nil
}

// pages holds the parsed documents fetched for one instrument.
type pages struct {
	overview *extract.Document
	investor *extract.Document
	summary  *extract.Document
}

func (j *Job) fetch(ctx context.Context, code string) (pages, error) {
	templates := []extract.Template{extract.TemplateCompanyOverview, extract.TemplateInvestorMetrics}
	if j.opts.LiveQuote {
		templates = append(templates, extract.TemplateMarketSummary)
	}

	var p pages
	for _, t := range templates {
		text, err := j.source.Fetch(ctx, code, t)
		if err != nil {
			return pages{}, &Failure{Code: code, Kind: FailureTransport, Err: fmt.Errorf("%s page: %w", t, err)}
		}

		doc, err := extract.Parse(t, text)
		if err != nil {
			return pages{}, &Failure{Code: code, Kind: FailureExtraction, Err: fmt.Errorf("%s page: %w", t, err)}
		}

		switch t {
		case extract.TemplateCompanyOverview:
			p.overview = doc
		case extract.TemplateInvestorMetrics:
			p.investor = doc
		case extract.TemplateMarketSummary:
			p.summary = doc
		}
	}
	return p, nil
}

// process fetches, values and persists one instrument. valued is false when
// the engine declined to value it.
func (j *Job) process(ctx context.Context, inst model.Instrument, sweptAt time.Time) (model.ValuationResult, bool, error) {
	p, err := j.fetch(ctx, inst.Code)
	if err != nil {
		return model.ValuationResult{}, false, err
	}

	f := gather(p)
	price := j.price(inst, p)
	ratios := valuation.ComputeRatios(price, f.eps, f.bps)

	result := model.ValuationResult{
		Code:          inst.Code,
		Name:          inst.Name,
		CurrentPrice:  price,
		TreasuryRatio: f.treasuryRatio,
		DividendYield: f.dividendYield,
		UpdatedAt:     sweptAt,
	}
	if result.Name == "" {
		result.Name = f.name
	}

	v, err := valuation.Evaluate(valuation.Input{
		EPS:           f.epsHistory,
		BPS:           deref(f.bps),
		TreasuryRatio: deref(f.treasuryRatio),
		Price:         price,
	})
	valued := err == nil
	switch {
	case valued:
		result.IntrinsicValue = numeric.Of(numeric.Round(v.IntrinsicValue, pricePlaces))
		result.SafetyMargin = numeric.Of(numeric.Round(v.SafetyMargin, pricePlaces))
		result.Recommendation = string(v.Recommendation)
	case errors.Is(err, valuation.ErrNoValuation):
		j.logger.Debug("instrument not valued", "code", inst.Code, "kind", "validation", "reason", err)
	default:
		return model.ValuationResult{}, false, &Failure{Code: inst.Code, Kind: FailureExtraction, Err: err}
	}

	rec := storage.SweepRecord{
		Code: inst.Code,
		Fundamentals: model.Fundamentals{
			EPS:           f.eps,
			EPSHistory:    f.epsHistory,
			BPS:           f.bps,
			ROE:           numeric.RoundPtr(ratios.ROE, pricePlaces),
			PER:           numeric.RoundPtr(ratios.PER, pricePlaces),
			PBR:           numeric.RoundPtr(ratios.PBR, pricePlaces),
			DividendYield: f.dividendYield,
			UpdatedAt:     &sweptAt,
		},
		TreasuryShares: f.treasuryShares,
		TreasuryRatio:  f.treasuryRatio,
		Valuation:      result,
	}
	if err := j.store.SaveSweepRecord(ctx, rec); err != nil {
		return model.ValuationResult{}, false, &Failure{Code: inst.Code, Kind: FailurePersistence, Err: err}
	}

	return result, valued, nil
}

// price picks the current price: the live quote when fetched, otherwise the
// directory close, otherwise the overview page headline.
func (j *Job) price(inst model.Instrument, p pages) float64 {
	if p.summary != nil {
		if v := p.summary.Number(extract.MetricPrice); v != nil && *v > 0 {
			return *v
		}
	}
	if inst.LastClose > 0 {
		return inst.LastClose
	}
	return deref(p.overview.Number(extract.MetricPrice))
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
