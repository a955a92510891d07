package model

import (
	"sort"
	"time"
)

// ValuationResult is the per-instrument output of a sweep. IntrinsicValue and
// SafetyMargin are either both set or both nil.
type ValuationResult struct {
	Code           string    `json:"code" badgerhold:"key"`
	Name           string    `json:"name"`
	CurrentPrice   float64   `json:"current_price"`
	IntrinsicValue *float64  `json:"intrinsic_value"`
	SafetyMargin   *float64  `json:"safety_margin"`
	Recommendation string    `json:"recommendation,omitempty"`
	TreasuryRatio  *float64  `json:"treasury_ratio"`
	DividendYield  *float64  `json:"dividend_yield"`
	UpdatedAt      time.Time `json:"last_updated"`
}

// Valued reports whether the result carries a valuation.
func (r ValuationResult) Valued() bool {
	return r.IntrinsicValue != nil && r.SafetyMargin != nil
}

// SortBySafetyMargin orders results by safety margin, highest first. Results
// without a margin go last; equal keys keep their incoming order.
func SortBySafetyMargin(results []ValuationResult) {
	sort.SliceStable(results, func(a, b int) bool {
		ma, mb := results[a].SafetyMargin, results[b].SafetyMargin
		switch {
		case ma == nil:
			return false
		case mb == nil:
			return true
		default:
			return *ma > *mb
		}
	})
}

// TopPositive returns at most n results with a strictly positive margin,
// highest first. A non-positive n means no limit.
func TopPositive(results []ValuationResult, n int) []ValuationResult {
	var out []ValuationResult
	for _, r := range results {
		if r.SafetyMargin != nil && *r.SafetyMargin > 0 {
			out = append(out, r)
		}
	}

	SortBySafetyMargin(out)
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
