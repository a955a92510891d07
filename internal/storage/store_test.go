package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"valuesweep/internal/model"
	"valuesweep/internal/numeric"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(Options{InMemory: true}, nil)
	if err != nil {
		t.Fatalf("Open() returned unexpected error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func listing(code, name string, price float64) model.Instrument {
	return model.Instrument{
		Code:      code,
		Name:      name,
		Market:    model.MarketKOSPI,
		ListingID: "STK",
		LastClose: price,
	}
}

func TestWriteListings_InsertAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rows := []model.Instrument{
		listing("035420", "NAVER", 182000),
		listing("005930", "삼성전자", 71000),
	}
	if err := s.WriteListings(ctx, rows, false); err != nil {
		t.Fatalf("WriteListings() returned unexpected error: %v", err)
	}

	got, err := s.ListInstruments(ctx)
	if err != nil {
		t.Fatalf("ListInstruments() returned unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(ListInstruments()) = %d, want 2", len(got))
	}
	if got[0].Code != "005930" || got[1].Code != "035420" {
		t.Errorf("ListInstruments() order = [%s %s], want [005930 035420]", got[0].Code, got[1].Code)
	}

	n, err := s.CountInstruments(ctx)
	if err != nil {
		t.Fatalf("CountInstruments() returned unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("CountInstruments() = %d, want 2", n)
	}
}

func TestWriteListings_MergePreservesOwnedFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := listing("005930", "삼성전자", 70000)
	first.Favorite = true
	first.Tags = []string{"semis"}
	first.Fundamentals.EPS = numeric.Of(5777)
	if err := s.WriteListings(ctx, []model.Instrument{first}, false); err != nil {
		t.Fatalf("WriteListings() returned unexpected error: %v", err)
	}

	if err := s.WriteListings(ctx, []model.Instrument{listing("005930", "삼성전자", 71000)}, false); err != nil {
		t.Fatalf("WriteListings() returned unexpected error: %v", err)
	}

	got, err := s.GetInstrument(ctx, "005930")
	if err != nil {
		t.Fatalf("GetInstrument() returned unexpected error: %v", err)
	}
	if got.LastClose != 71000 {
		t.Errorf("LastClose = %v, want 71000", got.LastClose)
	}
	if !got.Favorite || len(got.Tags) != 1 {
		t.Errorf("flags/tags were not preserved: favorite=%v tags=%v", got.Favorite, got.Tags)
	}
	if got.Fundamentals.EPS == nil || *got.Fundamentals.EPS != 5777 {
		t.Errorf("Fundamentals.EPS = %v, want 5777", got.Fundamentals.EPS)
	}
}

func TestWriteListings_ReplaceClearsSet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := []model.Instrument{listing("000660", "SK하이닉스", 180000), listing("005930", "삼성전자", 70000)}
	if err := s.WriteListings(ctx, old, false); err != nil {
		t.Fatalf("WriteListings() returned unexpected error: %v", err)
	}

	if err := s.WriteListings(ctx, []model.Instrument{listing("005930", "삼성전자", 71000)}, true); err != nil {
		t.Fatalf("WriteListings(replace) returned unexpected error: %v", err)
	}

	if _, err := s.GetInstrument(ctx, "000660"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetInstrument(000660) error = %v, want ErrNotFound", err)
	}
	if n, _ := s.CountInstruments(ctx); n != 1 {
		t.Errorf("CountInstruments() = %d, want 1", n)
	}
}

func TestGetInstrument_NotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetInstrument(context.Background(), "999999"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetInstrument() error = %v, want ErrNotFound", err)
	}
}

func TestSaveSweepRecord(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.WriteListings(ctx, []model.Instrument{listing("005930", "삼성전자", 71000)}, false); err != nil {
		t.Fatalf("WriteListings() returned unexpected error: %v", err)
	}

	sweptAt := time.Date(2026, 10, 14, 17, 0, 0, 0, time.UTC)
	rec := SweepRecord{
		Code: "005930",
		Fundamentals: model.Fundamentals{
			EPS:           numeric.Of(5777),
			BPS:           numeric.Of(60100),
			DividendYield: numeric.Of(0),
			UpdatedAt:     &sweptAt,
		},
		TreasuryRatio: numeric.Of(1),
		Valuation: model.ValuationResult{
			Code:           "005930",
			Name:           "삼성전자",
			CurrentPrice:   71000,
			IntrinsicValue: numeric.Of(58935.83),
			SafetyMargin:   numeric.Of(-16.99),
			Recommendation: "mildly overvalued",
			UpdatedAt:      sweptAt,
		},
	}
	if err := s.SaveSweepRecord(ctx, rec); err != nil {
		t.Fatalf("SaveSweepRecord() returned unexpected error: %v", err)
	}

	inst, err := s.GetInstrument(ctx, "005930")
	if err != nil {
		t.Fatalf("GetInstrument() returned unexpected error: %v", err)
	}
	if inst.LastClose != 71000 {
		t.Errorf("LastClose = %v, want 71000 (listing fields must survive)", inst.LastClose)
	}
	// A present zero must come back as zero, not as absent.
	if inst.Fundamentals.DividendYield == nil || *inst.Fundamentals.DividendYield != 0 {
		t.Errorf("DividendYield = %v, want present 0", inst.Fundamentals.DividendYield)
	}
	if inst.Fundamentals.ROE != nil {
		t.Errorf("ROE = %v, want absent", *inst.Fundamentals.ROE)
	}

	results, err := s.ListValuations(ctx)
	if err != nil {
		t.Fatalf("ListValuations() returned unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].SafetyMargin == nil || *results[0].SafetyMargin != -16.99 {
		t.Errorf("ListValuations() = %+v", results)
	}
	if !results[0].UpdatedAt.Equal(sweptAt) {
		t.Errorf("UpdatedAt = %v, want %v", results[0].UpdatedAt, sweptAt)
	}
}

func TestSaveSweepRecord_UnknownInstrument(t *testing.T) {
	s := openTestStore(t)

	err := s.SaveSweepRecord(context.Background(), SweepRecord{Code: "123456"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("SaveSweepRecord() error = %v, want ErrNotFound", err)
	}
}

func TestDo_Timeout(t *testing.T) {
	s := openTestStore(t)
	s.opTimeout = 10 * time.Millisecond

	release := make(chan struct{})
	defer close(release)

	err := s.do(context.Background(), "slow op", func() error {
		<-release
		return nil
	})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("do() error = %v, want ErrTimeout", err)
	}
}

func TestDo_Canceled(t *testing.T) {
	s := openTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	release := make(chan struct{})
	defer close(release)

	err := s.do(ctx, "op", func() error {
		<-release
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("do() error = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("do() reported a timeout for a canceled context")
	}
}

func TestWriteListings_ReplaceDropsDelistedValuations(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.WriteListings(ctx, []model.Instrument{listing("005930", "삼성전자", 71000), listing("000660", "SK하이닉스", 120000)}, false); err != nil {
		t.Fatalf("WriteListings() returned unexpected error: %v", err)
	}
	for _, code := range []string{"005930", "000660"} {
		rec := SweepRecord{Code: code, Valuation: model.ValuationResult{Code: code, SafetyMargin: numeric.Of(10), IntrinsicValue: numeric.Of(1)}}
		if err := s.SaveSweepRecord(ctx, rec); err != nil {
			t.Fatalf("SaveSweepRecord(%s) returned unexpected error: %v", code, err)
		}
	}

	// 000660 is delisted.
	if err := s.WriteListings(ctx, []model.Instrument{listing("005930", "삼성전자", 72000)}, true); err != nil {
		t.Fatalf("WriteListings() returned unexpected error: %v", err)
	}

	got, err := s.ListValuations(ctx)
	if err != nil {
		t.Fatalf("ListValuations() returned unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Code != "005930" {
		t.Errorf("ListValuations() = %+v, want only 005930", got)
	}
}

func TestWriteListings_MergeKeepsValuations(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.WriteListings(ctx, []model.Instrument{listing("005930", "삼성전자", 71000)}, false); err != nil {
		t.Fatalf("WriteListings() returned unexpected error: %v", err)
	}
	rec := SweepRecord{Code: "005930", Valuation: model.ValuationResult{Code: "005930"}}
	if err := s.SaveSweepRecord(ctx, rec); err != nil {
		t.Fatalf("SaveSweepRecord() returned unexpected error: %v", err)
	}
	if err := s.WriteListings(ctx, []model.Instrument{listing("000660", "SK하이닉스", 120000)}, false); err != nil {
		t.Fatalf("WriteListings() returned unexpected error: %v", err)
	}

	got, err := s.ListValuations(ctx)
	if err != nil {
		t.Fatalf("ListValuations() returned unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("len(ListValuations()) = %d, want 1 after a merging refresh", len(got))
	}
}

func TestWriteListings_ConcurrentWithSweep(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	const codes = 200
	seed := make([]model.Instrument, codes)
	fresh := make([]model.Instrument, codes)
	for i := range seed {
		code := fmt.Sprintf("%06d", i+1)
		seed[i] = listing(code, "종목"+code, 1)
		fresh[i] = listing(code, "종목"+code, 2)
	}
	if err := s.WriteListings(ctx, seed, false); err != nil {
		t.Fatalf("WriteListings() returned unexpected error: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, codes+3*5)

	// A directory refresh rereads every key while sweep items commit on
	// the same keys.
	for w := 0; w < 3; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				errs <- s.WriteListings(ctx, fresh, false)
			}
		}()
	}
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < codes; i += 8 {
				code := seed[i].Code
				errs <- s.SaveSweepRecord(ctx, SweepRecord{
					Code:         code,
					Fundamentals: model.Fundamentals{EPS: numeric.Of(100)},
					Valuation:    model.ValuationResult{Code: code},
				})
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("concurrent write returned unexpected error: %v", err)
		}
	}

	got, err := s.ListInstruments(ctx)
	if err != nil {
		t.Fatalf("ListInstruments() returned unexpected error: %v", err)
	}
	if len(got) != codes {
		t.Fatalf("len(ListInstruments()) = %d, want %d", len(got), codes)
	}
	for _, inst := range got {
		if inst.LastClose != 2 {
			t.Errorf("%s LastClose = %v, want 2 from the refresh", inst.Code, inst.LastClose)
		}
		if inst.Fundamentals.EPS == nil || *inst.Fundamentals.EPS != 100 {
			t.Errorf("%s EPS = %v, want 100 from the sweep", inst.Code, inst.Fundamentals.EPS)
		}
	}
}
