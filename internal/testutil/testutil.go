// Package testutil holds fakes and page builders shared by the package tests.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"valuesweep/internal/extract"
	"valuesweep/internal/fetcher"
	"valuesweep/internal/krx"
	"valuesweep/internal/model"
)

// FakeListing is an in-memory listing source keyed by market.
type FakeListing struct {
	mu    sync.Mutex
	Rows  map[model.Market][]krx.ListingRow
	Err   map[model.Market]error
	Calls []model.Market
}

// FetchListing implements directory.ListingSource.
func (f *FakeListing) FetchListing(ctx context.Context, market model.Market, day time.Time) ([]krx.ListingRow, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, market)
	f.mu.Unlock()

	if err := f.Err[market]; err != nil {
		return nil, err
	}
	return f.Rows[market], nil
}

// ListingRows builds n valid listing rows with consecutive codes from first.
func ListingRows(market model.Market, first, n int) []krx.ListingRow {
	rows := make([]krx.ListingRow, n)
	for i := range rows {
		code := fmt.Sprintf("%06d", first+i)
		rows[i] = krx.ListingRow{
			Code:       code,
			Name:       "종목" + code,
			MarketName: string(market),
			Close:      "10,000",
			Change:     "-100",
			ChangeRate: "-0.99",
			Volume:     "12,345",
			MarketCap:  "123,450,000,000",
			Shares:     "12,345,000",
		}
	}
	return rows
}

// PageKey identifies one fake page.
type PageKey struct {
	Code     string
	Template extract.Template
}

// FakePages is an in-memory fundamentals.Source. Pages missing from the map
// fail with a client FetchError, as a 404 would.
type FakePages struct {
	mu     sync.Mutex
	Pages  map[PageKey]string
	Errs   map[PageKey]error
	Panics map[string]bool
	calls  int
}

// NewFakePages creates an empty FakePages.
func NewFakePages() *FakePages {
	return &FakePages{
		Pages:  make(map[PageKey]string),
		Errs:   make(map[PageKey]error),
		Panics: make(map[string]bool),
	}
}

// Set registers the page text of template for code.
func (f *FakePages) Set(code string, template extract.Template, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Pages[PageKey{code, template}] = text
}

// Fail makes every fetch of template for code return err.
func (f *FakePages) Fail(code string, template extract.Template, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errs[PageKey{code, template}] = err
}

// Calls returns the number of fetches made.
func (f *FakePages) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Fetch implements fundamentals.Source.
func (f *FakePages) Fetch(ctx context.Context, code string, template extract.Template) (string, error) {
	f.mu.Lock()
	f.calls++
	key := PageKey{code, template}
	text, ok := f.Pages[key]
	err := f.Errs[key]
	boom := f.Panics[code]
	f.mu.Unlock()

	if boom {
		panic(fmt.Sprintf("fake page source panic for %s", code))
	}
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fetcher.NewClientError(404, "Not Found")
	}
	return text, nil
}

// FixedClock returns a clock that always reports t.
func FixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
