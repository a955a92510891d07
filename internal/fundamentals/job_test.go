package fundamentals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"valuesweep/internal/extract"
	"valuesweep/internal/fetcher"
	"valuesweep/internal/model"
	"valuesweep/internal/storage"
	"valuesweep/internal/testutil"
)

var sweepTime = time.Date(2026, 10, 14, 17, 0, 0, 0, time.UTC)

type fakeStore struct {
	mu      sync.Mutex
	records map[string]storage.SweepRecord
	fail    map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records: make(map[string]storage.SweepRecord),
		fail:    make(map[string]error),
	}
}

func (s *fakeStore) SaveSweepRecord(ctx context.Context, rec storage.SweepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[rec.Code]; err != nil {
		return err
	}
	s.records[rec.Code] = rec
	return nil
}

func newTestJob(pages Source, store Store, opts Options) *Job {
	return NewJob(pages, store, opts, nil).WithClock(testutil.FixedClock(sweepTime))
}

func instrument(code string, price float64) model.Instrument {
	return model.Instrument{Code: code, Name: "종목" + code, Market: model.MarketKOSPI, LastClose: price}
}

func TestRun_ValuesAndSorts(t *testing.T) {
	pages := testutil.NewFakePages()
	pages.AddCompany(testutil.Company{Code: "000010", Name: "고평가", EPS: []float64{500}, BPS: 5000, Price: 10000})
	pages.AddCompany(testutil.Company{
		Code: "000020", Name: "저평가", EPS: []float64{800, 900, 1000}, BPS: 10000,
		TreasuryRatio: 20, TreasuryShares: 2000000, Price: 8000,
	})
	pages.AddCompany(testutil.Company{Code: "000030", Name: "무자산", EPS: []float64{1000}, BPS: 0, Price: 5000})

	store := newFakeStore()
	job := newTestJob(pages, store, Options{Window: 2})

	report, err := job.Run(context.Background(), []model.Instrument{
		instrument("000010", 10000),
		instrument("000020", 8000),
		instrument("000030", 5000),
	})
	if err != nil {
		t.Fatalf("Run() returned unexpected error: %v", err)
	}

	if report.Succeeded != 3 || report.Failed != 0 || report.Incomplete != 1 {
		t.Errorf("counts = (%d, %d, %d), want (3, 0, 1)", report.Succeeded, report.Failed, report.Incomplete)
	}

	var order []string
	for _, r := range report.Results {
		order = append(order, r.Code)
	}
	if fmt.Sprint(order) != "[000020 000010 000030]" {
		t.Errorf("result order = %v, want [000020 000010 000030]", order)
	}

	best := report.Results[0]
	if best.IntrinsicValue == nil || *best.IntrinsicValue != 12083.33 {
		t.Errorf("IntrinsicValue = %v, want 12083.33", best.IntrinsicValue)
	}
	if best.SafetyMargin == nil || *best.SafetyMargin != 51.04 {
		t.Errorf("SafetyMargin = %v, want 51.04", best.SafetyMargin)
	}
	if best.Recommendation != "strongly undervalued" {
		t.Errorf("Recommendation = %q, want %q", best.Recommendation, "strongly undervalued")
	}
	if !best.UpdatedAt.Equal(sweepTime) {
		t.Errorf("UpdatedAt = %v, want %v", best.UpdatedAt, sweepTime)
	}

	unvalued := report.Results[2]
	if unvalued.IntrinsicValue != nil || unvalued.SafetyMargin != nil || unvalued.Recommendation != "" {
		t.Errorf("unvalued result carries a valuation: %+v", unvalued)
	}

	rec := store.records["000020"]
	f := rec.Fundamentals
	if f.PER == nil || *f.PER != 8 || f.PBR == nil || *f.PBR != 0.8 || f.ROE == nil || *f.ROE != 10 {
		t.Errorf("ratios = PER %v PBR %v ROE %v, want 8 0.8 10", f.PER, f.PBR, f.ROE)
	}
	if rec.TreasuryShares == nil || *rec.TreasuryShares != 2000000 {
		t.Errorf("TreasuryShares = %v, want 2000000", rec.TreasuryShares)
	}
	if len(f.EPSHistory) != 3 || f.EPS == nil || *f.EPS != 1000 {
		t.Errorf("EPS = %v history %v, want 1000 [800 900 1000]", f.EPS, f.EPSHistory)
	}
	if store.records["000030"].Fundamentals.BPS != nil {
		t.Error("absent BPS was stored as a value")
	}
}

func TestRun_FairValueExample(t *testing.T) {
	pages := testutil.NewFakePages()
	pages.AddCompany(testutil.Company{Code: "005930", Name: "삼성전자", EPS: []float64{1000}, BPS: 10000, Price: 10000})

	report, err := newTestJob(pages, newFakeStore(), Options{}).Run(context.Background(),
		[]model.Instrument{instrument("005930", 10000)})
	if err != nil {
		t.Fatalf("Run() returned unexpected error: %v", err)
	}

	r := report.Results[0]
	if r.SafetyMargin == nil || *r.SafetyMargin != 0 {
		t.Errorf("SafetyMargin = %v, want 0", r.SafetyMargin)
	}
	if r.Recommendation != "near fair value" {
		t.Errorf("Recommendation = %q, want %q", r.Recommendation, "near fair value")
	}
}

func tenCompanies(pages *testutil.FakePages) []model.Instrument {
	var instruments []model.Instrument
	for i := 1; i <= 10; i++ {
		code := fmt.Sprintf("%06d", i*10)
		pages.AddCompany(testutil.Company{Code: code, Name: code, EPS: []float64{float64(100 * i)}, BPS: 10000, Price: 10000})
		instruments = append(instruments, instrument(code, 10000))
	}
	return instruments
}

func TestRun_PartialFailureIsolation(t *testing.T) {
	pages := testutil.NewFakePages()
	instruments := tenCompanies(pages)

	baseline, err := newTestJob(pages, newFakeStore(), Options{Window: 10}).Run(context.Background(), instruments)
	if err != nil {
		t.Fatalf("Run() returned unexpected error: %v", err)
	}

	faulty := instruments[4].Code
	pages.Fail(faulty, extract.TemplateCompanyOverview, fetcher.NewNetworkError(errors.New("connection reset")))

	report, err := newTestJob(pages, newFakeStore(), Options{Window: 10}).Run(context.Background(), instruments)
	if err != nil {
		t.Fatalf("Run() returned unexpected error: %v", err)
	}

	if report.Failed != baseline.Failed+1 {
		t.Errorf("Failed = %d, want %d", report.Failed, baseline.Failed+1)
	}
	if report.Succeeded != 9 || len(report.Results) != 9 {
		t.Errorf("Succeeded = %d results = %d, want 9 and 9", report.Succeeded, len(report.Results))
	}
	for _, r := range report.Results {
		if r.Code == faulty {
			t.Errorf("failed instrument %s appears in results", faulty)
		}
	}

	if len(report.Failures) != 1 {
		t.Fatalf("len(Failures) = %d, want 1", len(report.Failures))
	}
	f := report.Failures[0]
	if f.Code != faulty || f.Kind != FailureTransport {
		t.Errorf("Failure = %+v, want %s transport", f, faulty)
	}
	var fe *fetcher.FetchError
	if !errors.As(f.Err, &fe) || fe.Type != fetcher.ErrorTypeNetwork {
		t.Errorf("Failure.Err = %v, want network FetchError", f.Err)
	}
}

func TestRun_PanicIsolated(t *testing.T) {
	pages := testutil.NewFakePages()
	instruments := tenCompanies(pages)
	pages.Panics[instruments[2].Code] = true

	report, err := newTestJob(pages, newFakeStore(), Options{Window: 5}).Run(context.Background(), instruments)
	if err != nil {
		t.Fatalf("Run() returned unexpected error: %v", err)
	}
	if report.Failed != 1 || report.Succeeded != 9 {
		t.Errorf("counts = (%d, %d), want (9, 1)", report.Succeeded, report.Failed)
	}
	if report.Failures[0].Kind != FailurePanic {
		t.Errorf("Failure.Kind = %s, want %s", report.Failures[0].Kind, FailurePanic)
	}
}

func TestRun_PersistenceFailure(t *testing.T) {
	pages := testutil.NewFakePages()
	instruments := tenCompanies(pages)

	store := newFakeStore()
	store.fail[instruments[0].Code] = fmt.Errorf("save: %w", storage.ErrTimeout)

	report, err := newTestJob(pages, store, Options{Window: 3}).Run(context.Background(), instruments)
	if err != nil {
		t.Fatalf("Run() returned unexpected error: %v", err)
	}
	if report.Failed != 1 {
		t.Fatalf("Failed = %d, want 1", report.Failed)
	}
	f := report.Failures[0]
	if f.Kind != FailurePersistence || !errors.Is(f.Err, storage.ErrTimeout) {
		t.Errorf("Failure = %+v, want persistence timeout", f)
	}
	if len(store.records) != 9 {
		t.Errorf("stored records = %d, want 9 (siblings must not roll back)", len(store.records))
	}
}

func TestRun_Idempotent(t *testing.T) {
	pages := testutil.NewFakePages()
	instruments := tenCompanies(pages)

	var encoded []string
	for i := 0; i < 2; i++ {
		report, err := newTestJob(pages, newFakeStore(), Options{Window: 4}).Run(context.Background(), instruments)
		if err != nil {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
		b, err := json.Marshal(report.Results)
		if err != nil {
			t.Fatalf("json.Marshal() returned unexpected error: %v", err)
		}
		encoded = append(encoded, string(b))
	}

	if encoded[0] != encoded[1] {
		t.Errorf("two sweeps over identical pages differ:\n%s\n%s", encoded[0], encoded[1])
	}
}

func TestRun_LiveQuote(t *testing.T) {
	pages := testutil.NewFakePages()
	pages.AddCompany(testutil.Company{Code: "000660", Name: "SK하이닉스", EPS: []float64{1000}, BPS: 10000, Price: 12500})

	// The directory close is stale; the market summary page carries the live price.
	inst := instrument("000660", 10000)

	report, err := newTestJob(pages, newFakeStore(), Options{LiveQuote: true}).Run(context.Background(), []model.Instrument{inst})
	if err != nil {
		t.Fatalf("Run() returned unexpected error: %v", err)
	}
	r := report.Results[0]
	if r.CurrentPrice != 12500 {
		t.Errorf("CurrentPrice = %v, want 12500", r.CurrentPrice)
	}
	if r.SafetyMargin == nil || *r.SafetyMargin != -20 {
		t.Errorf("SafetyMargin = %v, want -20", r.SafetyMargin)
	}
}

func TestRun_LiveQuotePageMissing(t *testing.T) {
	pages := testutil.NewFakePages()
	pages.Set("000660", extract.TemplateCompanyOverview, testutil.OverviewPage(testutil.Company{EPS: []float64{1000}, BPS: 10000}))
	pages.Set("000660", extract.TemplateInvestorMetrics, testutil.InvestorPage(testutil.Company{}))

	report, err := newTestJob(pages, newFakeStore(), Options{LiveQuote: true}).Run(context.Background(),
		[]model.Instrument{instrument("000660", 10000)})
	if err != nil {
		t.Fatalf("Run() returned unexpected error: %v", err)
	}
	if report.Failed != 1 || report.Failures[0].Kind != FailureTransport {
		t.Errorf("report = %+v, want one transport failure", report)
	}
}

func TestRun_InvalidTreasuryRatioIsIncomplete(t *testing.T) {
	pages := testutil.NewFakePages()
	pages.AddCompany(testutil.Company{
		Code: "123450", Name: "전량자사주", EPS: []float64{1000}, BPS: 10000,
		TreasuryRatio: 100, TreasuryShares: 1000, Price: 10000,
	})

	report, err := newTestJob(pages, newFakeStore(), Options{}).Run(context.Background(),
		[]model.Instrument{instrument("123450", 10000)})
	if err != nil {
		t.Fatalf("Run() returned unexpected error: %v", err)
	}
	if report.Failed != 0 || report.Incomplete != 1 {
		t.Errorf("counts = failed %d incomplete %d, want 0 and 1", report.Failed, report.Incomplete)
	}
	if report.Results[0].Valued() {
		t.Error("treasury ratio of 100 produced a valuation")
	}
}

func TestRun_StoppedBeforeStart(t *testing.T) {
	pages := testutil.NewFakePages()
	instruments := tenCompanies(pages)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := newTestJob(pages, newFakeStore(), Options{Window: 5}).Run(ctx, instruments)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if report.NotRun != 10 || report.Succeeded != 0 || report.Failed != 0 {
		t.Errorf("report counts = succeeded %d failed %d not run %d, want 0 0 10",
			report.Succeeded, report.Failed, report.NotRun)
	}
	if pages.Calls() != 0 {
		t.Errorf("page fetches = %d, want 0", pages.Calls())
	}
}
