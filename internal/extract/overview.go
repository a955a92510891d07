package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"valuesweep/internal/numeric"
)

var overviewStrategy = strategy{
	MetricName:  {textBySelector("div.wrap_company h2")},
	MetricPrice: {bySelector("p.no_today .blind")},
	MetricEPS: {
		bySelector("#_eps"),
		latestOf(annualSeries("EPS")),
	},
	MetricEPSHistory: {
		annualSeries("EPS"),
		seriesOf(bySelector("#_eps")),
	},
	MetricBPS: {
		latestOf(annualSeries("BPS")),
	},
	MetricDividendYield: {
		bySelector("#_dvr"),
		latestOf(annualSeries("시가배당률")),
	},
}

// financialSummary locates the annual/quarterly results table.
func financialSummary(doc *goquery.Document) *goquery.Selection {
	table := doc.Find("div.cop_analysis table").First()
	if table.Length() == 0 {
		table = doc.Find("table.tb_type1_ifrs").First()
	}
	return table
}

// annualHeaders returns the period captions of the annual columns. The first
// header row groups columns into annual and quarterly spans; the second row
// carries one caption per column.
func annualHeaders(table *goquery.Selection) []string {
	rows := table.Find("thead tr")
	annual := 0
	rows.Eq(0).Find("th").Each(func(_ int, th *goquery.Selection) {
		if strings.Contains(th.Text(), "연간") {
			annual = colspan(th)
		}
	})

	var headers []string
	rows.Eq(1).Find("th").Each(func(_ int, th *goquery.Selection) {
		headers = append(headers, compact(th.Text()))
	})
	if annual > 0 && annual < len(headers) {
		headers = headers[:annual]
	}
	return headers
}

// isEstimate reports whether a period caption marks a consensus estimate.
func isEstimate(caption string) bool {
	return strings.Contains(caption, "(E)")
}

// annualSeries reads the reported (non-estimate) annual figures of the row
// captioned caption, oldest first. Unparseable cells are skipped.
func annualSeries(caption string) rule {
	return func(doc *goquery.Document) (Value, bool) {
		table := financialSummary(doc)
		if table.Length() == 0 {
			return Value{}, false
		}

		headers := annualHeaders(table)
		row := firstMatchingRow(table.Find("tbody tr"), func(c string) bool { return c == caption })
		if row == nil || len(headers) == 0 {
			return Value{}, false
		}

		cells := row.Find("td")
		var series []float64
		for i, h := range headers {
			if i >= cells.Length() {
				break
			}
			if isEstimate(h) {
				continue
			}
			if v, ok := numeric.Parse(cells.Eq(i).Text()); ok {
				series = append(series, v)
			}
		}
		if len(series) == 0 {
			return Value{}, false
		}
		return Value{Number: series[len(series)-1], Series: series}, true
	}
}
