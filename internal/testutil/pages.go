package testutil

import (
	"fmt"
	"strings"

	"valuesweep/internal/extract"
)

// Company describes the figures rendered into generated pages.
type Company struct {
	Code string
	Name string
	// Price is rendered on the overview and market summary pages.
	Price float64
	// EPS is the reported annual EPS, oldest first.
	EPS []float64
	// BPS is the latest annual book value; 0 renders an empty cell.
	BPS           float64
	DividendYield float64
	// TreasuryRatio of 0 omits the treasury row from the shareholder table.
	TreasuryRatio  float64
	TreasuryShares int64
	Shares         int64
	Volume         int64
}

func figure(v float64) string {
	if v == float64(int64(v)) {
		return group(fmt.Sprintf("%d", int64(v)))
	}
	return fmt.Sprintf("%.2f", v)
}

// group inserts thousands separators into a decimal integer string.
func group(digits string) string {
	neg := strings.HasPrefix(digits, "-")
	digits = strings.TrimPrefix(digits, "-")

	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// OverviewPage renders a company overview page with one annual column per
// EPS sample plus a trailing estimate column.
func OverviewPage(c Company) string {
	var periods, eps, bps, dvr strings.Builder
	for i, v := range c.EPS {
		fmt.Fprintf(&periods, "<th scope=\"col\">%d.12</th>", 2022+i)
		fmt.Fprintf(&eps, "<td>%s</td>", figure(v))
		if i == len(c.EPS)-1 && c.BPS > 0 {
			fmt.Fprintf(&bps, "<td>%s</td>", figure(c.BPS))
		} else {
			bps.WriteString("<td></td>")
		}
		if i == len(c.EPS)-1 {
			fmt.Fprintf(&dvr, "<td>%s</td>", figure(c.DividendYield))
		} else {
			dvr.WriteString("<td></td>")
		}
	}
	periods.WriteString("<th scope=\"col\">2026.12<br>(E)</th>")
	eps.WriteString("<td>99,999</td>")
	bps.WriteString("<td>999,999</td>")
	dvr.WriteString("<td>9.99</td>")

	return fmt.Sprintf(`<html><head><meta charset="utf-8"></head><body>
<div class="wrap_company"><h2><a href="#">%s</a></h2></div>
<p class="no_today"><em><span class="blind">%s</span></em></p>
<div class="section cop_analysis"><table class="tb_type1 tb_type1_ifrs">
<thead>
<tr><th rowspan="2">주요재무정보</th><th colspan="%d">최근 연간 실적</th><th colspan="1">최근 분기 실적</th></tr>
<tr>%s<th scope="col">2026.06</th></tr>
</thead>
<tbody>
<tr><th><strong>EPS(원)</strong></th>%s<td>1</td></tr>
<tr><th><strong>BPS(원)</strong></th>%s<td>1</td></tr>
<tr><th><strong>시가배당률(%%)</strong></th>%s<td></td></tr>
</tbody>
</table></div>
</body></html>`,
		c.Name, figure(c.Price), len(c.EPS)+1, periods.String(), eps.String(), bps.String(), dvr.String())
}

// InvestorPage renders an investor metrics page.
func InvestorPage(c Company) string {
	treasury := ""
	if c.TreasuryRatio > 0 {
		treasury = fmt.Sprintf(`<tr><td class="line txt">자기주식</td><td class="num">%s</td><td class="num">%s</td></tr>`,
			group(fmt.Sprintf("%d", c.TreasuryShares)), figure(c.TreasuryRatio))
	}

	return fmt.Sprintf(`<html><head><meta charset="utf-8"></head><body>
<div id="pArea"><dl>
<dt class="line-left"><span class="name">%s</span> <span class="code">%s</span></dt>
<dt class="line-left">현금배당수익률 <b class="num">%s%%</b></dt>
</dl></div>
<table id="cTB11"><tbody>
<tr><th class="txt">발행주식수/유동비율</th><td class="num">%s주 / 70.00%%</td></tr>
</tbody></table>
<table id="cTB13"><tbody>
<tr><td class="line txt">최대주주 외 3인</td><td class="num">1,000,000</td><td class="num">30.00</td></tr>
%s
</tbody></table>
</body></html>`,
		c.Name, c.Code, figure(c.DividendYield), group(fmt.Sprintf("%d", c.Shares)), treasury)
}

// SummaryPage renders a market summary page.
func SummaryPage(c Company) string {
	return fmt.Sprintf(`<html><head><meta charset="utf-8"></head><body>
<div class="wrap_company"><h2><a href="#">%s</a></h2></div>
<table class="type2"><tbody>
<tr><th scope="row">현재가</th><td class="num"><strong id="_nowVal">%s</strong></td>
<th scope="row">거래량</th><td class="num"><span id="_quant">%s</span></td></tr>
</tbody></table>
</body></html>`,
		c.Name, figure(c.Price), group(fmt.Sprintf("%d", c.Volume)))
}

// AddCompany registers every template page of c on pages.
func (f *FakePages) AddCompany(c Company) {
	f.Set(c.Code, extract.TemplateCompanyOverview, OverviewPage(c))
	f.Set(c.Code, extract.TemplateInvestorMetrics, InvestorPage(c))
	f.Set(c.Code, extract.TemplateMarketSummary, SummaryPage(c))
}
