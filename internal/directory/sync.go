// Package directory keeps the stored instrument universe in step with the
// exchange's bulk listing.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"valuesweep/internal/krx"
	"valuesweep/internal/model"
	"valuesweep/internal/numeric"
)

var (
	// ErrImplausibleDirectory aborts a refresh whose listing is too small to
	// be trusted. Nothing is written when it is returned.
	ErrImplausibleDirectory = errors.New("implausible directory")
	// ErrNoRows is returned when no row of a segment could be mapped.
	ErrNoRows = errors.New("no mappable listing rows")
)

// DefaultMinRows is the smallest segment size accepted as a real listing.
const DefaultMinRows = 100

// ListingSource returns the raw listing rows of one market segment.
type ListingSource interface {
	FetchListing(ctx context.Context, market model.Market, day time.Time) ([]krx.ListingRow, error)
}

// Store persists mapped instruments.
type Store interface {
	WriteListings(ctx context.Context, rows []model.Instrument, replace bool) error
}

// Options configures a Syncer.
type Options struct {
	Markets  []model.Market
	MinRows  int
	Location *time.Location
}

// Syncer maps listing rows to instruments and writes them.
type Syncer struct {
	source  ListingSource
	store   Store
	markets []model.Market
	minRows int
	loc     *time.Location
	now     func() time.Time
	logger  *slog.Logger
}

// SegmentResult describes one fetched segment.
type SegmentResult struct {
	Market  model.Market
	Mapped  int
	Dropped int
}

// Summary is the outcome of a Refresh.
type Summary struct {
	Full     bool
	Day      time.Time
	Segments []SegmentResult
	Written  int
	Duration time.Duration
}

// New creates a Syncer.
func New(source ListingSource, store Store, opts Options, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	if len(opts.Markets) == 0 {
		opts.Markets = model.Markets
	}
	if opts.MinRows <= 0 {
		opts.MinRows = DefaultMinRows
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}

	return &Syncer{
		source:  source,
		store:   store,
		markets: opts.Markets,
		minRows: opts.MinRows,
		loc:     opts.Location,
		now:     time.Now,
		logger:  logger,
	}
}

// SyncMarket fetches market's listing and maps it. Rows that cannot be mapped
// are dropped and counted. Fundamental fields are left absent.
func (s *Syncer) SyncMarket(ctx context.Context, market model.Market) ([]model.Instrument, int, error) {
	return s.syncMarket(ctx, market, s.now().In(s.loc))
}

func (s *Syncer) syncMarket(ctx context.Context, market model.Market, now time.Time) ([]model.Instrument, int, error) {
	listingID, err := market.ListingID()
	if err != nil {
		return nil, 0, err
	}

	day := krx.LatestTradingDay(now)
	rows, err := s.source.FetchListing(ctx, market, day)
	if err != nil {
		return nil, 0, err
	}

	snapshotDate := day.Format(time.DateOnly)
	instruments := make([]model.Instrument, 0, len(rows))
	dropped := 0
	for _, row := range rows {
		inst, err := mapRow(row, market, listingID, snapshotDate, now)
		if err != nil {
			dropped++
			s.logger.Debug("dropped listing row", "market", market, "code", row.Code, "error", err)
			continue
		}
		instruments = append(instruments, inst)
	}

	if len(instruments) == 0 {
		return nil, dropped, fmt.Errorf("%s: %w (%d dropped)", market, ErrNoRows, dropped)
	}
	return instruments, dropped, nil
}

// Refresh fetches every configured segment and writes them together. If any
// segment maps fewer than the minimum row count the refresh is abandoned
// before anything is written. A full refresh clears the instrument set first.
func (s *Syncer) Refresh(ctx context.Context, full bool) (Summary, error) {
	start := s.now()
	now := start.In(s.loc)
	summary := Summary{Full: full, Day: krx.LatestTradingDay(now)}

	var all []model.Instrument
	for _, market := range s.markets {
		instruments, dropped, err := s.syncMarket(ctx, market, now)
		if err != nil {
			if errors.Is(err, ErrNoRows) {
				err = fmt.Errorf("%w: %w", ErrImplausibleDirectory, err)
			}
			s.logger.Error("directory refresh aborted", "kind", "systemic", "market", market, "error", err)
			return summary, fmt.Errorf("failed to sync %s: %w", market, err)
		}

		summary.Segments = append(summary.Segments, SegmentResult{
			Market:  market,
			Mapped:  len(instruments),
			Dropped: dropped,
		})

		if len(instruments) < s.minRows {
			err := fmt.Errorf("%w: %s mapped %d rows, want at least %d",
				ErrImplausibleDirectory, market, len(instruments), s.minRows)
			s.logger.Error("directory refresh aborted", "kind", "systemic", "market", market, "error", err)
			return summary, err
		}
		all = append(all, instruments...)
	}

	if err := s.store.WriteListings(ctx, all, full); err != nil {
		s.logger.Error("directory write failed", "kind", "persistence", "error", err)
		return summary, err
	}

	summary.Written = len(all)
	summary.Duration = s.now().Sub(start)

	s.logger.Info("directory refresh complete",
		"full", full,
		"day", summary.Day.Format(time.DateOnly),
		"written", summary.Written,
		"duration", summary.Duration,
	)
	return summary, nil
}

func mapRow(row krx.ListingRow, market model.Market, listingID, snapshotDate string, now time.Time) (model.Instrument, error) {
	code := strings.TrimSpace(row.Code)
	if !model.ValidCode(code) {
		return model.Instrument{}, fmt.Errorf("invalid code %q", row.Code)
	}

	name := strings.TrimSpace(row.Name)
	if name == "" {
		return model.Instrument{}, fmt.Errorf("missing name")
	}

	closePrice, ok := numeric.Parse(row.Close)
	if !ok || closePrice < 0 {
		return model.Instrument{}, fmt.Errorf("unparseable close %q", row.Close)
	}

	inst := model.Instrument{
		Code:         code,
		Name:         name,
		Market:       market,
		ListingID:    listingID,
		LastClose:    closePrice,
		SnapshotDate: snapshotDate,
		UpdatedAt:    now,
	}

	// Secondary trading fields default to zero when the row leaves them blank.
	inst.Change, _ = numeric.Parse(row.Change)
	inst.ChangeRate, _ = numeric.Parse(row.ChangeRate)
	inst.Volume, _ = numeric.ParseInt(row.Volume)
	inst.TradedValue, _ = numeric.ParseInt(row.TradedValue)
	inst.MarketCap, _ = numeric.ParseInt(row.MarketCap)
	inst.SharesOutstanding, _ = numeric.ParseInt(row.Shares)

	return inst, nil
}
