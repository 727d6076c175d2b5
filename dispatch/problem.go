package dispatch

import (
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/devskill-org/bess-dispatch/battery"
	"github.com/devskill-org/bess-dispatch/tariff"
	"github.com/devskill-org/bess-dispatch/timeseries"
)

// GridLimits bounds the symmetric point-of-connection capacity.
type GridLimits struct {
	ImportLimitKW float64
	ExportLimitKW float64
}

// monthGroup is one calendar month touched by the window: the indices of
// the steps belonging to it (always contiguous, since the window is a
// contiguous time range). The month already in progress at window start is
// always the group at index 0.
type monthGroup struct {
	steps []int
}

// layout records where each family of decision variables lives in the
// flat variable vector, so the solver's raw x can be sliced back into an
// OptimizationResult.
type layout struct {
	t int // steps in the window
	k int // bracket count
	m int // distinct calendar months touched

	pCharge, pDischarge   int // base offsets, length t
	pGridImport, pGridExp int
	pCurtail, eBat        int
	pPeak                 int // base offset, length m
	z                     int // base offset, length m*k
	dPlus, dMinus         int // base offsets, length t (only if degradation enabled)

	degradation bool
	n           int // total variable count (excluding slacks, appended separately)
}

func (l layout) idxPCharge(t int) int     { return l.pCharge + t }
func (l layout) idxPDischarge(t int) int  { return l.pDischarge + t }
func (l layout) idxPGridImport(t int) int { return l.pGridImport + t }
func (l layout) idxPGridExport(t int) int { return l.pGridExp + t }
func (l layout) idxPCurtail(t int) int    { return l.pCurtail + t }
func (l layout) idxEBat(t int) int        { return l.eBat + t }
func (l layout) idxPPeak(m int) int       { return l.pPeak + m }
func (l layout) idxZ(m, i int) int        { return l.z + m*l.k + i }
func (l layout) idxDPlus(t int) int       { return l.dPlus + t }
func (l layout) idxDMinus(t int) int      { return l.dMinus + t }

func groupByMonth(series *timeseries.Series) []monthGroup {
	var groups []monthGroup
	var cur *monthGroup
	var curYear int
	var curMonth time.Month
	for i := 0; i < series.Len(); i++ {
		ts := series.Timestamp(i)
		y, mo, _ := ts.Date()
		if cur == nil || y != curYear || mo != curMonth {
			groups = append(groups, monthGroup{})
			cur = &groups[len(groups)-1]
			curYear, curMonth = y, mo
		}
		cur.steps = append(cur.steps, i)
	}
	return groups
}

// effectiveBracketWidths caps the open-ended top bracket's width so the
// total reachable peak matches the grid import limit, per SPEC_FULL.md
// §4.2: the LP can never need to fill past the physical import cap.
func effectiveBracketWidths(widths []float64, importLimitKW float64) []float64 {
	out := append([]float64(nil), widths...)
	sum := 0.0
	for i := 0; i < len(out)-1; i++ {
		sum += out[i]
	}
	last := importLimitKW - sum
	if last < 0 {
		last = 0
	}
	out[len(out)-1] = last
	return out
}

type builtProblem struct {
	tab    tableau
	lay    layout
	groups []monthGroup
}

// buildProblem assembles the window LP described in spec.md §4.2. soc0 and
// peak0 are the carried-in battery state at window start.
func buildProblem(
	series *timeseries.Series,
	spec *battery.Spec,
	tc *tariff.Config,
	limits GridLimits,
	soc0KWh float64,
	peak0KW float64,
) builtProblem {
	T := series.Len()
	dt := series.Step().Hours()
	groups := groupByMonth(series)
	M := len(groups)
	widths := effectiveBracketWidths(tc.BracketWidths(), limits.ImportLimitKW)
	marginals := tc.MarginalFees()
	K := len(widths)
	degradation := spec.CBat > 0

	lay := layout{t: T, k: K, m: M, degradation: degradation}
	lay.pCharge = 0
	lay.pDischarge = lay.pCharge + T
	lay.pGridImport = lay.pDischarge + T
	lay.pGridExp = lay.pGridImport + T
	lay.pCurtail = lay.pGridExp + T
	lay.eBat = lay.pCurtail + T
	lay.pPeak = lay.eBat + T
	lay.z = lay.pPeak + M
	next := lay.z + M*K
	if degradation {
		lay.dPlus = next
		lay.dMinus = lay.dPlus + T
		next = lay.dMinus + T
	}
	lay.n = next

	// Slack variables are appended after lay.n: one per peak-linkage row
	// (T of them), one for the carried-in-peak row (month 0 only), and
	// one per ordering constraint (M*(K-1) of them).
	slackPeakBase := lay.n
	slackCarryBase := slackPeakBase + T
	slackOrderBase := slackCarryBase + 1
	nTotal := slackOrderBase + M*(K-1)

	lower := make([]float64, nTotal)
	upper := make([]float64, nTotal)
	cost := make([]float64, nTotal)

	etaLeg := spec.EtaLeg()

	for t := 0; t < T; t++ {
		setBounds(lower, upper, lay.idxPCharge(t), 0, spec.PMaxKW)
		setBounds(lower, upper, lay.idxPDischarge(t), 0, spec.PMaxKW)
		setBounds(lower, upper, lay.idxPGridImport(t), 0, limits.ImportLimitKW)
		setBounds(lower, upper, lay.idxPGridExport(t), 0, limits.ExportLimitKW)
		setBounds(lower, upper, lay.idxPCurtail(t), 0, series.PV(t))
		setBounds(lower, upper, lay.idxEBat(t), spec.SOCMinKWh(), spec.SOCMaxKWh())

		cImp := tc.ImportPrice(series.Timestamp(t), series.Price(t))
		cExp := tc.ExportPrice(series.Timestamp(t), series.Price(t))
		cost[lay.idxPGridImport(t)] = dt * cImp
		cost[lay.idxPGridExport(t)] = -dt * cExp

		if degradation {
			dMax := dt * spec.PMaxKW / spec.ENomKWh
			setBounds(lower, upper, lay.idxDPlus(t), 0, dMax)
			setBounds(lower, upper, lay.idxDMinus(t), 0, dMax)
			wearCoeff := spec.CBat * spec.ENomKWh / spec.DEOL
			cost[lay.idxDPlus(t)] = wearCoeff
			cost[lay.idxDMinus(t)] = wearCoeff
		}

		setBounds(lower, upper, slackPeakBase+t, 0, limits.ImportLimitKW)
	}

	for m := 0; m < M; m++ {
		setBounds(lower, upper, lay.idxPPeak(m), 0, limits.ImportLimitKW)
		for i := 0; i < K; i++ {
			setBounds(lower, upper, lay.idxZ(m, i), 0, 1)
			cost[lay.idxZ(m, i)] = marginals[i]
		}
		for i := 0; i < K-1; i++ {
			setBounds(lower, upper, slackOrderBase+m*(K-1)+i, 0, 1)
		}
	}
	setBounds(lower, upper, slackCarryBase, 0, limits.ImportLimitKW)

	// Constraint rows: T power balance + T SOC dynamics + T peak linkage
	// + 1 carried-in-peak + M bracket-fill + M*(K-1) ordering, plus 2T
	// degradation-linking rows if wear cost is enabled.
	numRows := T + T + T + 1 + M + M*(K-1)
	if degradation {
		numRows += 2 * T
	}
	A := mat.NewDense(numRows, nTotal, nil)
	b := make([]float64, numRows)
	row := 0

	// 1. Power balance.
	for t := 0; t < T; t++ {
		A.Set(row, lay.idxPCharge(t), -1)
		A.Set(row, lay.idxPDischarge(t), 1)
		A.Set(row, lay.idxPGridImport(t), 1)
		A.Set(row, lay.idxPGridExport(t), -1)
		A.Set(row, lay.idxPCurtail(t), -1)
		b[row] = series.Load(t) - series.PV(t)
		row++
	}

	// 2. SOC dynamics: E(t) - E(t-1) - dt*(etaLeg*Pcharge(t) - Pdischarge(t)/etaLeg) = 0.
	for t := 0; t < T; t++ {
		A.Set(row, lay.idxEBat(t), 1)
		if t > 0 {
			A.Set(row, lay.idxEBat(t-1), -1)
			b[row] = 0
		} else {
			b[row] = soc0KWh
		}
		A.Set(row, lay.idxPCharge(t), -dt*etaLeg)
		A.Set(row, lay.idxPDischarge(t), dt/etaLeg)
		row++
	}

	// 3. Peak linkage: Ppeak(month(t)) - Pgridimport(t) - slack = 0.
	monthOf := make([]int, T)
	for mi, g := range groups {
		for _, t := range g.steps {
			monthOf[t] = mi
		}
	}
	for t := 0; t < T; t++ {
		A.Set(row, lay.idxPPeak(monthOf[t]), 1)
		A.Set(row, lay.idxPGridImport(t), -1)
		A.Set(row, slackPeakBase+t, -1)
		b[row] = 0
		row++
	}

	// Carried-in peak: Ppeak(month 0) - slack = peak0KW.
	A.Set(row, lay.idxPPeak(0), 1)
	A.Set(row, slackCarryBase, -1)
	b[row] = peak0KW
	row++

	// 4. Bracket fill: Ppeak(m) - sum_i w_i*z(m,i) = 0.
	for m := 0; m < M; m++ {
		A.Set(row, lay.idxPPeak(m), 1)
		for i := 0; i < K; i++ {
			A.Set(row, lay.idxZ(m, i), -widths[i])
		}
		b[row] = 0
		row++
	}

	// 5. Ordering: z(m,i) - z(m,i+1) - slack = 0.
	for m := 0; m < M; m++ {
		for i := 0; i < K-1; i++ {
			A.Set(row, lay.idxZ(m, i), 1)
			A.Set(row, lay.idxZ(m, i+1), -1)
			A.Set(row, slackOrderBase+m*(K-1)+i, -1)
			b[row] = 0
			row++
		}
	}

	// 6. Degradation linking: Dplus(t) - dt/Enom*Pcharge(t) = 0; Dminus(t) - dt/Enom*Pdischarge(t) = 0.
	if degradation {
		ratio := dt / spec.ENomKWh
		for t := 0; t < T; t++ {
			A.Set(row, lay.idxDPlus(t), 1)
			A.Set(row, lay.idxPCharge(t), -ratio)
			b[row] = 0
			row++
		}
		for t := 0; t < T; t++ {
			A.Set(row, lay.idxDMinus(t), 1)
			A.Set(row, lay.idxPDischarge(t), -ratio)
			b[row] = 0
			row++
		}
	}

	return builtProblem{
		tab:    tableau{A: A, b: b, c: cost, lower: lower, upper: upper},
		lay:    lay,
		groups: groups,
	}
}

func setBounds(lower, upper []float64, idx int, lo, hi float64) {
	lower[idx] = lo
	upper[idx] = hi
}
