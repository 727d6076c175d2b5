// Package dispatch builds and solves the single-window linear program
// described in spec.md §4.2: given a horizon slice of exogenous series
// plus the carried-in battery state, it emits an OptimizationResult
// carrying every decision trajectory and a cost breakdown, or a
// distinguished Infeasible/SolverError status.
package dispatch

import (
	"fmt"
	"time"

	"github.com/devskill-org/bess-dispatch/battery"
	"github.com/devskill-org/bess-dispatch/tariff"
	"github.com/devskill-org/bess-dispatch/timeseries"
)

// SolveWindow assembles and solves the LP for one horizon slice. soc0KWh
// and peak0KW are the battery state carried in from the previous window
// (or the driver's initial state for the first window).
func SolveWindow(
	series *timeseries.Series,
	spec *battery.Spec,
	tc *tariff.Config,
	limits GridLimits,
	soc0KWh float64,
	peak0KW float64,
) (*OptimizationResult, error) {
	if series == nil || spec == nil || tc == nil {
		return nil, newConfigError(time.Time{}, 0, "nil series, spec, or tariff config")
	}
	if limits.ImportLimitKW <= 0 || limits.ExportLimitKW <= 0 {
		return nil, newConfigError(series.Start(), series.Len(), "grid limits must be positive")
	}

	built := buildProblem(series, spec, tc, limits, soc0KWh, peak0KW)
	sol := solveLP(built.tab)

	switch sol.outcome {
	case outcomeInfeasible:
		return &OptimizationResult{
			Status:     StatusInfeasible,
			Diagnostic: "no feasible schedule under the given grid limits and battery bounds",
		}, nil
	case outcomeFailed:
		return &OptimizationResult{
			Status:     StatusSolverError,
			Diagnostic: "simplex solver stopped without an optimal basis (numerical breakdown or iteration limit)",
		}, nil
	}

	result := extractResult(built, sol, series, spec, tc)
	if err := checkInvariants(result, series, spec, limits); err != nil {
		return nil, err
	}
	if err := checkOptimality(sol, series); err != nil {
		return nil, err
	}
	return result, nil
}

func extractResult(built builtProblem, sol solution, series *timeseries.Series, spec *battery.Spec, tc *tariff.Config) *OptimizationResult {
	T := series.Len()
	lay := built.lay
	x := sol.x

	res := &OptimizationResult{
		Status:      StatusSolved,
		PCharge:     make([]float64, T),
		PDischarge:  make([]float64, T),
		PGridImport: make([]float64, T),
		PGridExport: make([]float64, T),
		PCurtail:    make([]float64, T),
		SOCKWh:      make([]float64, T),
		Degradation: make([]float64, T),
	}

	dt := series.Step().Hours()
	windowPeak := 0.0
	importCost, exportRevenue, degradationCost := 0.0, 0.0, 0.0
	for t := 0; t < T; t++ {
		res.PCharge[t] = x[lay.idxPCharge(t)]
		res.PDischarge[t] = x[lay.idxPDischarge(t)]
		res.PGridImport[t] = x[lay.idxPGridImport(t)]
		res.PGridExport[t] = x[lay.idxPGridExport(t)]
		res.PCurtail[t] = x[lay.idxPCurtail(t)]
		res.SOCKWh[t] = x[lay.idxEBat(t)]
		if res.PGridImport[t] > windowPeak {
			windowPeak = res.PGridImport[t]
		}
		cImp := tc.ImportPrice(series.Timestamp(t), series.Price(t))
		cExp := tc.ExportPrice(series.Timestamp(t), series.Price(t))
		importCost += dt * cImp * res.PGridImport[t]
		exportRevenue += dt * cExp * res.PGridExport[t]
		if lay.degradation {
			dPlus := x[lay.idxDPlus(t)]
			dMinus := x[lay.idxDMinus(t)]
			res.Degradation[t] = dPlus + dMinus
			degradationCost += spec.CBat * spec.ENomKWh / spec.DEOL * (dPlus + dMinus)
		}
	}
	res.TerminalSOCKWh = res.SOCKWh[T-1]
	res.WindowPeakKW = windowPeak

	surrogateFee := 0.0
	for m := 0; m < lay.m; m++ {
		peak := x[lay.idxPPeak(m)]
		surrogateFee += tc.PLFee(peak)
	}

	res.Cost = CostBreakdown{
		ImportCost:      importCost,
		ExportRevenue:   exportRevenue,
		SurrogateFee:    surrogateFee,
		DegradationCost: degradationCost,
		Objective:       sol.objective,
	}
	return res
}

// checkInvariants re-derives the power-balance residual per step as a
// cheap sanity check on the solver's primal solution; anything beyond
// floating-point slop here means the LP was built or solved incorrectly.
func checkInvariants(res *OptimizationResult, series *timeseries.Series, spec *battery.Spec, limits GridLimits) error {
	const tol = 1e-6
	for t := 0; t < series.Len(); t++ {
		balance := series.PV(t) - res.PCurtail[t] + res.PGridImport[t] + res.PDischarge[t] -
			series.Load(t) - res.PGridExport[t] - res.PCharge[t]
		if abs(balance) > tol {
			return newInvariantError(series.Start(), series.Len(), fmt.Sprintf("power balance violated at step %d", t), balance)
		}
		if res.SOCKWh[t] < spec.SOCMinKWh()-tol || res.SOCKWh[t] > spec.SOCMaxKWh()+tol {
			return newInvariantError(series.Start(), series.Len(), fmt.Sprintf("SOC out of bounds at step %d", t), res.SOCKWh[t])
		}
		if res.PGridImport[t] > limits.ImportLimitKW+tol || res.PGridExport[t] > limits.ExportLimitKW+tol {
			return newInvariantError(series.Start(), series.Len(), fmt.Sprintf("grid cap exceeded at step %d", t), 0)
		}
	}
	return nil
}

// checkOptimality is the reduced-cost (dual feasibility) half of the KKT
// conditions a bounded-simplex vertex must satisfy to actually be optimal:
// a nonbasic variable sitting at its lower bound can only be optimal if
// increasing it would not reduce cost (reduced cost >= 0), and symmetrically
// at its upper bound. A violation here means runSimplex stopped before
// optimality — most likely because a structural variable was wrongly
// fixed out of the problem — so the cost breakdown cannot be trusted even
// though checkInvariants' feasibility test passed.
func checkOptimality(sol solution, series *timeseries.Series) error {
	const tol = 1e-6
	for j, st := range sol.status {
		cbar := sol.reducedCosts[j]
		switch st {
		case atLower:
			if cbar < -tol {
				return newInvariantError(series.Start(), series.Len(), fmt.Sprintf("variable %d not optimal at its lower bound", j), cbar)
			}
		case atUpper:
			if cbar > tol {
				return newInvariantError(series.Start(), series.Len(), fmt.Sprintf("variable %d not optimal at its upper bound", j), cbar)
			}
		}
	}
	return nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
