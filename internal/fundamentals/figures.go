package fundamentals

import (
	"math"

	"valuesweep/internal/extract"
)

// figures are the metrics of one instrument merged across its pages.
type figures struct {
	name           string
	eps            *float64
	epsHistory     []float64
	bps            *float64
	dividendYield  *float64
	treasuryRatio  *float64
	treasuryShares *int64
}

// gather merges the pages. The overview page's annual table is preferred for
// per-share figures; the investor page fills what it lacks and is the only
// source of treasury data.
func gather(p pages) figures {
	var f figures

	f.name = p.overview.Text(extract.MetricName)
	if f.name == "" {
		f.name = p.investor.Text(extract.MetricName)
	}

	f.epsHistory = p.overview.Series(extract.MetricEPSHistory)
	if len(f.epsHistory) == 0 {
		f.epsHistory = p.investor.Series(extract.MetricEPSHistory)
	}
	if n := len(f.epsHistory); n > 0 {
		latest := f.epsHistory[n-1]
		f.eps = &latest
	}

	f.bps = firstNumber(extract.MetricBPS, p.overview, p.investor)
	f.dividendYield = firstNumber(extract.MetricDividendYield, p.overview, p.investor)
	f.treasuryRatio = p.investor.Number(extract.MetricTreasuryRatio)

	if v := p.investor.Number(extract.MetricTreasuryShares); v != nil && *v >= 0 && *v <= math.MaxInt64 {
		shares := int64(*v)
		f.treasuryShares = &shares
	}
	return f
}

func firstNumber(m extract.Metric, docs ...*extract.Document) *float64 {
	for _, d := range docs {
		if v := d.Number(m); v != nil {
			return v
		}
	}
	return nil
}
