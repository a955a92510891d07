package valuation

// Ratios are the derived market multiples. Each is nil when its inputs are
// missing or its denominator is not positive.
type Ratios struct {
	PER *float64
	PBR *float64
	ROE *float64
}

// ComputeRatios derives PER, PBR and ROE from price, EPS and BPS.
func ComputeRatios(price float64, eps, bps *float64) Ratios {
	var r Ratios
	if price > 0 && eps != nil && *eps > 0 {
		v := price / *eps
		r.PER = &v
	}
	if bps != nil && *bps > 0 {
		if price > 0 {
			v := price / *bps
			r.PBR = &v
		}
		if eps != nil {
			v := *eps / *bps * 100
			r.ROE = &v
		}
	}
	return r
}
