package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"valuesweep/internal/numeric"
)

// unitSuffix matches a trailing unit annotation such as "(원)" or "(%)".
var unitSuffix = regexp.MustCompile(`\([^)]*\)$`)

// compact drops all whitespace so labels compare regardless of layout.
func compact(s string) string {
	return strings.Join(strings.Fields(s), "")
}

// label normalizes a row or cell caption for exact comparison.
func label(s string) string {
	return unitSuffix.ReplaceAllString(compact(s), "")
}

func numberValue(s string) (Value, bool) {
	v, ok := numeric.Parse(s)
	if !ok {
		return Value{}, false
	}
	return Value{Number: v}, true
}

// bySelector reads the first element matching sel as a number.
func bySelector(sel string) rule {
	return func(doc *goquery.Document) (Value, bool) {
		s := doc.Find(sel).First()
		if s.Length() == 0 {
			return Value{}, false
		}
		return numberValue(s.Text())
	}
}

// textBySelector reads the first element matching sel as trimmed text.
func textBySelector(sel string) rule {
	return func(doc *goquery.Document) (Value, bool) {
		text := strings.TrimSpace(doc.Find(sel).First().Text())
		if text == "" {
			return Value{}, false
		}
		return Value{Text: text}, true
	}
}

// byHeaderCell reads the cell following the first th captioned caption.
func byHeaderCell(caption string) rule {
	return func(doc *goquery.Document) (Value, bool) {
		var cell *goquery.Selection
		doc.Find("th").EachWithBreak(func(_ int, th *goquery.Selection) bool {
			if label(th.Text()) == caption {
				cell = th.Next()
				return false
			}
			return true
		})
		if cell == nil || cell.Length() == 0 {
			return Value{}, false
		}
		return numberValue(cell.Text())
	}
}

// latestOf turns a series rule into a scalar rule on its newest sample.
func latestOf(r rule) rule {
	return func(doc *goquery.Document) (Value, bool) {
		v, ok := r(doc)
		if !ok || len(v.Series) == 0 {
			return Value{}, false
		}
		return Value{Number: v.Series[len(v.Series)-1]}, true
	}
}

// seriesOf wraps a scalar rule as a one-sample series.
func seriesOf(r rule) rule {
	return func(doc *goquery.Document) (Value, bool) {
		v, ok := r(doc)
		if !ok {
			return Value{}, false
		}
		return Value{Number: v.Number, Series: []float64{v.Number}}, true
	}
}

// colspan returns an element's colspan, 1 when missing or malformed.
func colspan(s *goquery.Selection) int {
	n, err := strconv.Atoi(s.AttrOr("colspan", "1"))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// firstMatchingRow returns the first tr in rows whose leading cell carries caption.
func firstMatchingRow(rows *goquery.Selection, match func(caption string) bool) *goquery.Selection {
	var found *goquery.Selection
	rows.EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		lead := tr.Children().First()
		if lead.Length() > 0 && match(label(lead.Text())) {
			found = tr
			return false
		}
		return true
	})
	return found
}
