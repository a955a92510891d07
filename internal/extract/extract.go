// Package extract pulls typed metrics out of the raw source pages.
//
// Each known page layout is a Template with its own strategy: an ordered list
// of rules per Metric. The first rule that yields a value wins. A metric the
// template does not carry, a rule that finds nothing, and a figure that fails
// to parse all come back as absent; extraction never fails a page.
package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Template identifies a page layout.
type Template string

const (
	// TemplateCompanyOverview is the per-company main page with headline
	// multiples and the annual financial summary table.
	TemplateCompanyOverview Template = "company_overview"
	// TemplateInvestorMetrics is the investor-information page with the
	// per-share summary, share counts and the shareholder table.
	TemplateInvestorMetrics Template = "investor_metrics"
	// TemplateMarketSummary is the quote page for the current trading day.
	TemplateMarketSummary Template = "market_summary"
)

// Templates lists every supported layout.
var Templates = []Template{TemplateCompanyOverview, TemplateInvestorMetrics, TemplateMarketSummary}

// Metric names a field that can be pulled from a page.
type Metric string

const (
	MetricName              Metric = "name"
	MetricPrice             Metric = "price"
	MetricVolume            Metric = "volume"
	MetricEPS               Metric = "eps"
	MetricEPSHistory        Metric = "eps_history"
	MetricBPS               Metric = "bps"
	MetricDividendYield     Metric = "dividend_yield"
	MetricTreasuryRatio     Metric = "treasury_ratio"
	MetricTreasuryShares    Metric = "treasury_shares"
	MetricSharesOutstanding Metric = "shares_outstanding"
)

// Value is an extracted field. Number is set for scalar metrics, Series
// (oldest first) for MetricEPSHistory, Text for MetricName.
type Value struct {
	Number float64
	Series []float64
	Text   string
}

type rule func(doc *goquery.Document) (Value, bool)

// strategy maps each metric a template carries to its ordered rules.
type strategy map[Metric][]rule

func strategyFor(t Template) (strategy, error) {
	switch t {
	case TemplateCompanyOverview:
		return overviewStrategy, nil
	case TemplateInvestorMetrics:
		return investorStrategy, nil
	case TemplateMarketSummary:
		return summaryStrategy, nil
	default:
		return nil, fmt.Errorf("unknown page template %q", string(t))
	}
}

// Document is a parsed page bound to its template.
type Document struct {
	template Template
	rules    strategy
	doc      *goquery.Document
}

// Parse binds text to template t. It only fails for an unknown template;
// malformed markup is parsed leniently and simply matches nothing.
func Parse(t Template, text string) (*Document, error) {
	rules, err := strategyFor(t)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		doc = nil
	}

	return &Document{template: t, rules: rules, doc: doc}, nil
}

// Template returns the layout the document was parsed as.
func (d *Document) Template() Template {
	return d.template
}

// Extract applies the template's rules for m in order.
func (d *Document) Extract(m Metric) (Value, bool) {
	if d.doc == nil {
		return Value{}, false
	}
	for _, r := range d.rules[m] {
		if v, ok := r(d.doc); ok {
			return v, true
		}
	}
	return Value{}, false
}

// Number returns a scalar metric, or nil when absent.
func (d *Document) Number(m Metric) *float64 {
	v, ok := d.Extract(m)
	if !ok {
		return nil
	}
	n := v.Number
	return &n
}

// Series returns a series metric, or nil when absent.
func (d *Document) Series(m Metric) []float64 {
	v, ok := d.Extract(m)
	if !ok {
		return nil
	}
	return v.Series
}

// Text returns a text metric, or "" when absent.
func (d *Document) Text(m Metric) string {
	v, _ := d.Extract(m)
	return v.Text
}

// Extract parses text as template t and extracts m. An unknown template is
// reported as absent.
func Extract(t Template, text string, m Metric) (Value, bool) {
	d, err := Parse(t, text)
	if err != nil {
		return Value{}, false
	}
	return d.Extract(m)
}
