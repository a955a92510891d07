// Package valuation computes intrinsic value and safety margin from per-share
// fundamentals. Everything here is pure: no I/O, no clocks, no randomness.
package valuation

import (
	"errors"
	"fmt"
	"math"
)

// ErrNoValuation is wrapped by every precondition failure. Callers record
// the instrument as incomplete rather than failed.
var ErrNoValuation = errors.New("no valuation")

var (
	ErrInsufficientData     = fmt.Errorf("%w: no EPS samples", ErrNoValuation)
	ErrNonPositiveBPS       = fmt.Errorf("%w: BPS must be positive", ErrNoValuation)
	ErrNonPositivePrice     = fmt.Errorf("%w: current price must be positive", ErrNoValuation)
	ErrInvalidTreasuryRatio = fmt.Errorf("%w: treasury ratio must be below 100%%", ErrNoValuation)
)

// epsWeights are applied most recent first.
var epsWeights = []float64{3, 2, 1}

// Input carries one instrument's valuation inputs.
type Input struct {
	// EPS samples ordered oldest to newest.
	EPS []float64
	// BPS is the latest book value per share.
	BPS float64
	// TreasuryRatio is the treasury-share percentage, 0 when unknown.
	TreasuryRatio float64
	// Price is the current market price.
	Price float64
}

// Valuation is the engine output.
type Valuation struct {
	WeightedEPS    float64
	BasicValue     float64
	IntrinsicValue float64
	SafetyMargin   float64
	Recommendation Recommendation
}

// WeightedEPS averages up to the three newest samples with weights 3, 2, 1.
func WeightedEPS(samples []float64) (float64, error) {
	if len(samples) == 0 {
		return 0, ErrInsufficientData
	}

	var sum, weights float64
	for i, w := range epsWeights {
		idx := len(samples) - 1 - i
		if idx < 0 {
			break
		}
		sum += samples[idx] * w
		weights += w
	}
	return sum / weights, nil
}

// BasicValue averages ten years of weighted earnings with book value.
func BasicValue(weightedEPS, bps float64) float64 {
	return (weightedEPS*10 + bps) / 2
}

// AdjustForTreasury scales value up by the share of stock not held by the
// issuer. Ratios at or below zero leave value unchanged.
func AdjustForTreasury(value, ratio float64) (float64, error) {
	if math.IsNaN(ratio) || ratio >= 100 {
		return 0, ErrInvalidTreasuryRatio
	}
	if ratio <= 0 {
		return value, nil
	}
	return value * (100 / (100 - ratio)), nil
}

// SafetyMargin is the percentage by which value exceeds price.
func SafetyMargin(value, price float64) (float64, error) {
	if !(price > 0) {
		return 0, ErrNonPositivePrice
	}
	return (value - price) / price * 100, nil
}

// Evaluate runs the full valuation. It returns an error wrapping
// ErrNoValuation when a precondition does not hold.
func Evaluate(in Input) (Valuation, error) {
	if !(in.BPS > 0) {
		return Valuation{}, ErrNonPositiveBPS
	}
	if !(in.Price > 0) {
		return Valuation{}, ErrNonPositivePrice
	}

	weighted, err := WeightedEPS(in.EPS)
	if err != nil {
		return Valuation{}, err
	}

	basic := BasicValue(weighted, in.BPS)
	adjusted, err := AdjustForTreasury(basic, in.TreasuryRatio)
	if err != nil {
		return Valuation{}, err
	}

	margin, err := SafetyMargin(adjusted, in.Price)
	if err != nil {
		return Valuation{}, err
	}

	return Valuation{
		WeightedEPS:    weighted,
		BasicValue:     basic,
		IntrinsicValue: adjusted,
		SafetyMargin:   margin,
		Recommendation: Classify(margin),
	}, nil
}
