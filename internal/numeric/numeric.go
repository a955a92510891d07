// Package numeric turns scraped text into numbers without ever confusing
// "missing" or "malformed" with zero.
package numeric

import (
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// unitSuffixes are stripped from the end of a figure before parsing.
var unitSuffixes = []string{"%", "원", "배", "주", "KRW"}

// absentMarkers are placeholders the source pages print instead of a value.
var absentMarkers = map[string]bool{
	"":       true,
	"-":      true,
	"--":     true,
	"N/A":    true,
	"n/a":    true,
	"NA":     true,
	"\u2014": true, // em dash
}

// Parse extracts a float from s. Thousands separators, surrounding
// whitespace, a leading plus sign and common unit suffixes are removed.
// It reports false when s is a placeholder, fails to parse, or is not finite.
func Parse(s string) (float64, bool) {
	s = normalize(s)
	if absentMarkers[s] {
		return 0, false
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// ParseInt is Parse for whole quantities such as share counts and volume.
// Fractional input is rejected rather than truncated.
func ParseInt(s string) (int64, bool) {
	s = normalize(s)
	if absentMarkers[s] {
		return 0, false
	}

	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Ptr returns a pointer to the parsed value, or nil when s is absent.
func Ptr(s string) *float64 {
	v, ok := Parse(s)
	if !ok {
		return nil
	}
	return &v
}

// Of returns a pointer to v.
func Of(v float64) *float64 {
	return &v
}

// Round rounds half away from zero to the given number of decimal places.
func Round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

// RoundPtr is Round for optional values; nil stays nil.
func RoundPtr(v *float64, places int32) *float64 {
	if v == nil {
		return nil
	}
	r := Round(*v, places)
	return &r
}

func normalize(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\u00a0", " "))
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "\u2212", "-")

	for trimmed := true; trimmed; {
		trimmed = false
		for _, suffix := range unitSuffixes {
			if strings.HasSuffix(s, suffix) {
				s = strings.TrimSuffix(s, suffix)
				trimmed = true
			}
		}
	}

	return strings.TrimPrefix(s, "+")
}
