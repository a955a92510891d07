package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"valuesweep/internal/numeric"
)

var investorStrategy = strategy{
	MetricName:          {textBySelector("#pArea dt .name")},
	MetricEPS:           {summaryFigure("EPS")},
	MetricEPSHistory:    {seriesOf(summaryFigure("EPS"))},
	MetricBPS:           {summaryFigure("BPS")},
	MetricDividendYield: {summaryFigure("현금배당수익률", "배당수익률")},
	MetricTreasuryShares: {
		treasuryColumn(func(n int) int { return 0 }),
	},
	MetricTreasuryRatio: {
		treasuryColumn(func(n int) int { return n - 1 }),
	},
	MetricSharesOutstanding: {sharesOutstanding},
}

// summaryFigure reads a "<dt>LABEL <b class="num">VALUE</b></dt>" entry whose
// caption is exactly one of captions.
func summaryFigure(captions ...string) rule {
	return func(doc *goquery.Document) (Value, bool) {
		var out Value
		var ok bool
		doc.Find("dt").EachWithBreak(func(_ int, dt *goquery.Selection) bool {
			num := dt.Find("b.num").First()
			if num.Length() == 0 {
				return true
			}
			caption := label(strings.Replace(dt.Text(), num.Text(), "", 1))
			caption = strings.TrimSuffix(caption, ":")
			for _, c := range captions {
				if caption == c {
					out, ok = numberValue(num.Text())
					return false
				}
			}
			return true
		})
		return out, ok
	}
}

// isTreasuryCaption matches the shareholder row for shares held by the issuer.
func isTreasuryCaption(caption string) bool {
	return strings.HasPrefix(caption, "자기주식") || strings.HasPrefix(caption, "자사주")
}

// treasuryColumn reads one numeric column of the treasury-stock row in the
// shareholder table. pick maps the number of numeric cells to the index read.
func treasuryColumn(pick func(n int) int) rule {
	return func(doc *goquery.Document) (Value, bool) {
		rows := doc.Find("#cTB13 tr")
		if rows.Length() == 0 {
			rows = doc.Find("tr")
		}

		row := firstMatchingRow(rows, isTreasuryCaption)
		if row == nil {
			return Value{}, false
		}

		nums := row.Find("td.num")
		if nums.Length() < 2 {
			return Value{}, false
		}
		return numberValue(nums.Eq(pick(nums.Length())).Text())
	}
}

// sharesOutstanding reads "발행주식수/유동비율" as "5,969,782,550주 / 75.71%".
func sharesOutstanding(doc *goquery.Document) (Value, bool) {
	row := firstMatchingRow(doc.Find("#cTB11 tr"), func(c string) bool {
		return strings.HasPrefix(c, "발행주식수")
	})
	if row == nil {
		return Value{}, false
	}

	count, _, _ := strings.Cut(row.Find("td").First().Text(), "/")
	v, ok := numeric.ParseInt(count)
	if !ok {
		return Value{}, false
	}
	return Value{Number: float64(v)}, true
}
