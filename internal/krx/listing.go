// Package krx talks to the exchange's bulk listing endpoint.
package krx

import (
	"context"
	"fmt"
	"time"

	"valuesweep/internal/fetcher"
	"valuesweep/internal/model"
)

// listingBuild selects the "all instruments, daily prices" report.
const listingBuild = "dbms/MDC/STAT/standard/MDCSTAT01501"

// ListingRow is one instrument of the bulk listing response. The endpoint
// returns every figure as a formatted string.
type ListingRow struct {
	Code        string `json:"ISU_SRT_CD"`
	ISIN        string `json:"ISU_CD"`
	Name        string `json:"ISU_ABBRV"`
	MarketName  string `json:"MKT_NM"`
	Section     string `json:"SECT_TP_NM"`
	Close       string `json:"TDD_CLSPRC"`
	Change      string `json:"CMPPREVDD_PRC"`
	ChangeRate  string `json:"FLUC_RT"`
	Open        string `json:"TDD_OPNPRC"`
	High        string `json:"TDD_HGPRC"`
	Low         string `json:"TDD_LWPRC"`
	Volume      string `json:"ACC_TRDVOL"`
	TradedValue string `json:"ACC_TRDVAL"`
	MarketCap   string `json:"MKTCAP"`
	Shares      string `json:"LIST_SHRS"`
	MarketID    string `json:"MKT_ID"`
}

// ListingResponse represents the listing endpoint response
type ListingResponse struct {
	Rows      []ListingRow `json:"OutBlock_1"`
	Timestamp string       `json:"CURRENT_DATETIME"`
}

// Client fetches the instrument universe one market segment at a time
type Client struct {
	fetcher fetcher.PageFetcher
	url     string
}

// NewClient creates a listing client posting to url
func NewClient(f fetcher.PageFetcher, url string) *Client {
	return &Client{
		fetcher: f,
		url:     url,
	}
}

// FetchListing retrieves every instrument of market for the given trading day
func (c *Client) FetchListing(ctx context.Context, market model.Market, day time.Time) ([]ListingRow, error) {
	marketID, err := market.ListingID()
	if err != nil {
		return nil, fetcher.NewValidationError(err.Error())
	}

	var result ListingResponse
	err = c.fetcher.PostJSON(ctx, c.url, map[string]string{
		"bld":         listingBuild,
		"locale":      "ko_KR",
		"mktId":       marketID,
		"trdDd":       day.Format("20060102"),
		"share":       "1",
		"money":       "1",
		"csvxls_isNo": "false",
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s listing: %w", market, err)
	}

	if result.Rows == nil {
		return nil, fetcher.NewValidationError(fmt.Sprintf("%s listing response has no rows block", market))
	}

	return result.Rows, nil
}

// marketOpenHour is the local hour the regular session opens. Before it the
// endpoint has no rows for the current date yet.
const marketOpenHour = 9

// LatestTradingDay returns the most recent weekday whose listing exists at
// now: today from the open onwards, otherwise the previous weekday.
// Exchange holidays are not known here; the endpoint returns an empty block
// for them and the directory sync treats that as implausible.
func LatestTradingDay(now time.Time) time.Time {
	if now.Hour() < marketOpenHour {
		now = now.AddDate(0, 0, -1)
	}
	switch now.Weekday() {
	case time.Saturday:
		now = now.AddDate(0, 0, -1)
	case time.Sunday:
		now = now.AddDate(0, 0, -2)
	}
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}
