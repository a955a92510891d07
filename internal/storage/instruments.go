package storage

import (
	"context"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"valuesweep/internal/model"
)

// SweepRecord is everything one fundamentals sweep writes for an instrument.
type SweepRecord struct {
	Code           string
	Fundamentals   model.Fundamentals
	TreasuryShares *int64
	TreasuryRatio  *float64
	Valuation      model.ValuationResult
}

// GetInstrument returns the instrument stored under code.
func (s *Store) GetInstrument(ctx context.Context, code string) (model.Instrument, error) {
	var inst model.Instrument
	err := s.do(ctx, "get instrument", func() error {
		return s.store.Get(code, &inst)
	})
	if notFound(err) {
		return model.Instrument{}, fmt.Errorf("instrument %s: %w", code, ErrNotFound)
	}
	if err != nil {
		return model.Instrument{}, fmt.Errorf("failed to get instrument %s: %w", code, err)
	}
	return inst, nil
}

// ListInstruments returns every stored instrument ordered by code.
func (s *Store) ListInstruments(ctx context.Context) ([]model.Instrument, error) {
	var out []model.Instrument
	err := s.do(ctx, "list instruments", func() error {
		return s.store.Find(&out, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list instruments: %w", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// CountInstruments returns the size of the instrument set.
func (s *Store) CountInstruments(ctx context.Context) (int, error) {
	var n uint64
	err := s.do(ctx, "count instruments", func() error {
		var err error
		n, err = s.store.Count(&model.Instrument{}, nil)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count instruments: %w", err)
	}
	return int(n), nil
}

// WriteListings upserts the directory rows in one transaction. Existing rows
// keep their fundamentals, tags and flags. With replace set the instrument
// set is cleared first, so instruments missing from rows disappear together
// with their valuation results.
func (s *Store) WriteListings(ctx context.Context, rows []model.Instrument, replace bool) error {
	err := s.do(ctx, "write listings", func() error {
		return s.update(func(tx *badger.Txn) error {
			if replace {
				if err := s.store.TxDeleteMatching(tx, &model.Instrument{}, nil); err != nil {
					return fmt.Errorf("failed to clear instruments: %w", err)
				}
				if err := s.dropDelistedValuations(tx, rows); err != nil {
					return err
				}
			}

			for _, fresh := range rows {
				var existing model.Instrument
				err := s.store.TxGet(tx, fresh.Code, &existing)
				switch {
				case notFound(err):
					existing = fresh
				case err != nil:
					return fmt.Errorf("failed to read instrument %s: %w", fresh.Code, err)
				default:
					existing.MergeListing(fresh)
				}

				if err := s.store.TxUpsert(tx, fresh.Code, &existing); err != nil {
					return fmt.Errorf("failed to upsert instrument %s: %w", fresh.Code, err)
				}
			}
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("failed to write listings: %w", err)
	}
	return nil
}

// dropDelistedValuations deletes the valuation results of codes absent from
// rows. Results of codes still listed survive until the next sweep.
func (s *Store) dropDelistedValuations(tx *badger.Txn, rows []model.Instrument) error {
	listed := make(map[string]bool, len(rows))
	for _, r := range rows {
		listed[r.Code] = true
	}

	var results []model.ValuationResult
	if err := s.store.TxFind(tx, &results, nil); err != nil {
		return fmt.Errorf("failed to read valuations: %w", err)
	}
	for _, r := range results {
		if listed[r.Code] {
			continue
		}
		if err := s.store.TxDelete(tx, r.Code, &model.ValuationResult{}); err != nil {
			return fmt.Errorf("failed to delete valuation %s: %w", r.Code, err)
		}
	}
	return nil
}

// SaveSweepRecord overwrites an instrument's fundamentals and treasury fields
// and its valuation result in one transaction.
func (s *Store) SaveSweepRecord(ctx context.Context, rec SweepRecord) error {
	err := s.do(ctx, "save sweep record", func() error {
		return s.update(func(tx *badger.Txn) error {
			var inst model.Instrument
			if err := s.store.TxGet(tx, rec.Code, &inst); err != nil {
				if notFound(err) {
					return fmt.Errorf("instrument %s: %w", rec.Code, ErrNotFound)
				}
				return err
			}

			inst.Fundamentals = rec.Fundamentals
			inst.TreasuryShares = rec.TreasuryShares
			inst.TreasuryRatio = rec.TreasuryRatio

			if err := s.store.TxUpsert(tx, rec.Code, &inst); err != nil {
				return err
			}
			return s.store.TxUpsert(tx, rec.Code, &rec.Valuation)
		})
	})
	if err != nil {
		return fmt.Errorf("failed to save sweep record for %s: %w", rec.Code, err)
	}
	return nil
}

// ListValuations returns every stored valuation result ordered by code.
func (s *Store) ListValuations(ctx context.Context) ([]model.ValuationResult, error) {
	var out []model.ValuationResult
	err := s.do(ctx, "list valuations", func() error {
		return s.store.Find(&out, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list valuations: %w", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}
