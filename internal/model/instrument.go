// Package model holds the records shared by the directory sync, the
// fundamentals sweep, the store and the snapshot file.
package model

import (
	"fmt"
	"regexp"
	"time"
)

// Market is a listing venue.
type Market string

const (
	// MarketKOSPI is the primary venue.
	MarketKOSPI Market = "KOSPI"
	// MarketKOSDAQ is the secondary venue.
	MarketKOSDAQ Market = "KOSDAQ"
)

// Markets lists every supported venue in sweep order.
var Markets = []Market{MarketKOSPI, MarketKOSDAQ}

// ListingID returns the venue identifier the bulk listing endpoint expects.
func (m Market) ListingID() (string, error) {
	switch m {
	case MarketKOSPI:
		return "STK", nil
	case MarketKOSDAQ:
		return "KSQ", nil
	default:
		return "", fmt.Errorf("unknown market %q", string(m))
	}
}

// ParseMarket accepts a venue name case-sensitively.
func ParseMarket(s string) (Market, error) {
	m := Market(s)
	if _, err := m.ListingID(); err != nil {
		return "", err
	}
	return m, nil
}

var codePattern = regexp.MustCompile(`^[0-9A-Z]{6}$`)

// ValidCode reports whether code has the exchange's fixed six-character shape.
func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}

// Fundamentals are the scraped per-share figures. Every field is nil when the
// source page did not carry it.
type Fundamentals struct {
	EPS           *float64   `json:"eps"`
	EPSHistory    []float64  `json:"eps_history,omitempty"`
	BPS           *float64   `json:"bps"`
	ROE           *float64   `json:"roe"`
	PER           *float64   `json:"per"`
	PBR           *float64   `json:"pbr"`
	DividendYield *float64   `json:"dividend_yield"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
}

// Instrument is one listed security.
type Instrument struct {
	Code              string       `json:"code" badgerhold:"key"`
	Name              string       `json:"name"`
	Market            Market       `json:"market"`
	ListingID         string       `json:"listing_id"`
	LastClose         float64      `json:"last_close"`
	Change            float64      `json:"change"`
	ChangeRate        float64      `json:"change_rate"`
	Volume            int64        `json:"volume"`
	TradedValue       int64        `json:"traded_value"`
	MarketCap         int64        `json:"market_cap"`
	SharesOutstanding int64        `json:"shares_outstanding"`
	TreasuryShares    *int64       `json:"treasury_shares"`
	TreasuryRatio     *float64     `json:"treasury_ratio"`
	Tags              []string     `json:"tags,omitempty"`
	Excluded          bool         `json:"excluded"`
	Favorite          bool         `json:"favorite"`
	SnapshotDate      string       `json:"snapshot_date"`
	Fundamentals      Fundamentals `json:"fundamentals"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// MergeListing copies the trading fields of fresh onto i. Fundamentals, tags
// and flags are owned by other writers and are left alone.
func (i *Instrument) MergeListing(fresh Instrument) {
	i.Code = fresh.Code
	i.Name = fresh.Name
	i.Market = fresh.Market
	i.ListingID = fresh.ListingID
	i.LastClose = fresh.LastClose
	i.Change = fresh.Change
	i.ChangeRate = fresh.ChangeRate
	i.Volume = fresh.Volume
	i.TradedValue = fresh.TradedValue
	i.MarketCap = fresh.MarketCap
	i.SharesOutstanding = fresh.SharesOutstanding
	i.SnapshotDate = fresh.SnapshotDate
	i.UpdatedAt = fresh.UpdatedAt
}
