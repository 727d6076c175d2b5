// Package postproc recomputes the exact step-function power tariff on a
// realised annual trajectory, replacing the LP's internal piecewise-linear
// surrogate in the reported cost. The surrogate is conservative (spec.md
// §4.1, §8 "Surrogate conservatism"), so reporting it directly would show
// phantom savings the operator cannot actually bank.
package postproc

import (
	"fmt"

	"github.com/devskill-org/bess-dispatch/tariff"
)

// MonthlyPeak is one calendar month's realised peak grid-import power, as
// recorded by the rolling-horizon driver's battery.State across the year.
type MonthlyPeak struct {
	MonthKey string // e.g. "2026-03", for reporting only
	PeakKW   float64
}

// AnnualCost is the exact, final accounting for a full simulation: the
// same per-step energy cost and degradation cost the LP already computed
// (those are linear, so the LP's figures are exact, not a surrogate), with
// the power-tariff contribution replaced by the exact step function.
type AnnualCost struct {
	EnergyCost      float64
	PowerFee        float64
	DegradationCost float64
	Total           float64

	// SurrogateFee is the LP's own internal (conservative) estimate of
	// the power-tariff contribution, retained only as a diagnostic.
	SurrogateFee float64
}

// Recompute replaces the surrogate power-fee accumulated across a
// trajectory's windows with the exact step function evaluated on each
// calendar month's realised peak.
func Recompute(tc *tariff.Config, peaks []MonthlyPeak, energyCost, surrogateFee, degradationCost float64) (AnnualCost, error) {
	if tc == nil {
		return AnnualCost{}, fmt.Errorf("postproc: nil tariff config")
	}
	exact := 0.0
	for _, p := range peaks {
		if p.PeakKW < 0 {
			return AnnualCost{}, fmt.Errorf("postproc: negative realised peak %v for month %s", p.PeakKW, p.MonthKey)
		}
		exact += tc.StepFee(p.PeakKW)
	}
	return AnnualCost{
		EnergyCost:      energyCost,
		PowerFee:        exact,
		DegradationCost: degradationCost,
		Total:           energyCost + exact + degradationCost,
		SurrogateFee:    surrogateFee,
	}, nil
}
