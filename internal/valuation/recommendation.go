package valuation

// Recommendation is the bucketed label for a safety margin.
type Recommendation string

const (
	StronglyUndervalued Recommendation = "strongly undervalued"
	Undervalued         Recommendation = "undervalued"
	MildlyUndervalued   Recommendation = "mildly undervalued"
	NearFairValue       Recommendation = "near fair value"
	MildlyOvervalued    Recommendation = "mildly overvalued"
	Overvalued          Recommendation = "overvalued"
)

// buckets are inclusive lower bounds in descending order.
var buckets = []struct {
	min   float64
	label Recommendation
}{
	{50, StronglyUndervalued},
	{30, Undervalued},
	{10, MildlyUndervalued},
	{-10, NearFairValue},
	{-30, MildlyOvervalued},
}

// Classify maps a safety margin percentage to its bucket.
func Classify(margin float64) Recommendation {
	for _, b := range buckets {
		if margin >= b.min {
			return b.label
		}
	}
	return Overvalued
}
