package dispatch

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// The corpus has no linear-programming or mixed-integer library in any
// example repository's go.mod, so this is a from-scratch bounded-variable
// revised simplex: every decision variable carries an explicit [lower,
// upper] box (rather than being split into slacks for every bound), which
// keeps the tableau small at the problem sizes spec.md §4.2 describes
// (≈6T + 11·months variables). Matrix/vector arithmetic runs on
// gonum.org/v1/gonum/mat, an existing domain dependency of the corpus
// (cepro-simt-flux's besscontroller). Bland's rule (smallest-index
// entering/leaving variable on ties) guarantees finite termination
// without needing a perturbation scheme.

const (
	simplexTol    = 1e-9
	maxIterations = 50000
)

type boundStatus int

const (
	atLower boundStatus = iota
	atUpper
	isBasic
)

// tableau is a standard-form LP: minimise c·x subject to A·x = b,
// lower <= x <= upper. A is m x n.
type tableau struct {
	A     *mat.Dense
	b     []float64
	c     []float64
	lower []float64
	upper []float64
}

func (t *tableau) m() int { return len(t.b) }
func (t *tableau) n() int { return len(t.c) }

type outcome int

const (
	outcomeOptimal outcome = iota
	outcomeInfeasible
	outcomeFailed
)

type solution struct {
	x            []float64
	objective    float64
	outcome      outcome
	status       []boundStatus // per structural variable, at the optimal vertex
	reducedCosts []float64     // per structural variable, at the optimal vertex
}

// solveLP runs the two-phase bounded simplex on t and returns the primal
// solution, or a distinguished infeasible/failed outcome. It never
// fabricates a zero-valued x for a non-optimal outcome.
func solveLP(t tableau) solution {
	m, n := t.m(), t.n()
	if m == 0 {
		return solution{outcome: outcomeFailed}
	}

	// Start every structural variable at its (finite) lower bound.
	status := make([]boundStatus, n)
	x := make([]float64, n)
	for j := 0; j < n; j++ {
		status[j] = atLower
		x[j] = t.lower[j]
	}

	// Residual each row needs from an artificial variable so the initial
	// basis (the artificials) is primal feasible.
	residual := make([]float64, m)
	for i := 0; i < m; i++ {
		row := mat.Row(nil, i, t.A)
		sum := 0.0
		for j := 0; j < n; j++ {
			sum += row[j] * x[j]
		}
		residual[i] = t.b[i] - sum
	}

	// Phase 1 tableau: append one artificial column per row, signed so
	// its required value is nonnegative, bounded [0, +Inf).
	aug := augmentWithArtificials(t.A, residual)
	phase1Lower := append(append([]float64(nil), t.lower...), zeros(m)...)
	phase1Upper := append(append([]float64(nil), t.upper...), infs(m)...)
	phase1Cost := append(zeros(n), ones(m)...)

	basis := make([]int, m)
	for i := 0; i < m; i++ {
		basis[i] = n + i
	}
	fullStatus := append(append([]boundStatus(nil), status...), make([]boundStatus, m)...)
	for i := range basis {
		fullStatus[basis[i]] = isBasic
	}
	xFull := append(append([]float64(nil), x...), absAll(residual)...)

	p1 := tableau{A: aug, b: t.b, c: phase1Cost, lower: phase1Lower, upper: phase1Upper}
	res1 := runSimplex(p1, basis, fullStatus, xFull)
	if res1.outcome != outcomeOptimal {
		return solution{outcome: outcomeFailed}
	}
	if res1.objective > 1e-6 {
		return solution{outcome: outcomeInfeasible}
	}

	// Phase 2: fix every artificial to width zero (cannot move, whether
	// still basic at ~0 on a redundant row or nonbasic) and re-minimise
	// the real objective from phase 1's basis. Structural variables keep
	// their real [lower, upper] box here; only the artificial segment
	// collapses to a fixed zero width.
	phase2Lower := append(append([]float64(nil), t.lower...), zeros(m)...)
	phase2Upper := append(append([]float64(nil), t.upper...), zeros(m)...)
	phase2Cost := append(append([]float64(nil), t.c...), zeros(m)...)

	p2 := tableau{A: aug, b: t.b, c: phase2Cost, lower: phase2Lower, upper: phase2Upper}
	res2 := runSimplex(p2, res1.basisOut, res1.statusOut, res1.xOut)
	if res2.outcome != outcomeOptimal {
		return solution{outcome: outcomeFailed}
	}
	return solution{
		x:            res2.xOut[:n],
		objective:    dotSlice(t.c, res2.xOut[:n]),
		outcome:      outcomeOptimal,
		status:       res2.statusOut[:n],
		reducedCosts: res2.reducedCosts[:n],
	}
}

type simplexRun struct {
	outcome      outcome
	objective    float64
	basisOut     []int
	statusOut    []boundStatus
	xOut         []float64
	reducedCosts []float64
}

// runSimplex performs the bounded primal simplex on t starting from the
// given basis/status/x (already primal feasible) until optimal or a
// safety iteration cap is hit.
func runSimplex(t tableau, basis []int, status []boundStatus, x []float64) simplexRun {
	m, n := t.m(), t.n()

	for iter := 0; iter < maxIterations; iter++ {
		binv, ok := invertBasis(t.A, basis)
		if !ok {
			return simplexRun{outcome: outcomeFailed}
		}

		cB := make([]float64, m)
		for i, bi := range basis {
			cB[i] = t.c[bi]
		}
		var cBVec mat.VecDense
		cBVec.SetRawVector(toRawVec(cB))
		var y mat.VecDense
		y.MulVec(binv.T(), &cBVec)

		reducedCosts := make([]float64, n)
		entering := -1
		enterDir := 1.0
		for j := 0; j < n; j++ {
			if status[j] == isBasic {
				continue
			}
			aj := mat.Col(nil, j, t.A)
			cbar := t.c[j] - mat.Dot(&y, mat.NewVecDense(m, aj))
			reducedCosts[j] = cbar
			if t.lower[j] == t.upper[j] {
				continue // fixed variable, never eligible
			}
			switch status[j] {
			case atLower:
				if cbar < -simplexTol {
					entering = j
					enterDir = 1
				}
			case atUpper:
				if cbar > simplexTol {
					entering = j
					enterDir = -1
				}
			}
			if entering == j {
				break // Bland's rule: first eligible index
			}
		}
		if entering == -1 {
			xOut := append([]float64(nil), x...)
			return simplexRun{outcome: outcomeOptimal, basisOut: basis, statusOut: status, xOut: xOut, objective: dotSlice(t.c, xOut), reducedCosts: reducedCosts}
		}

		ajCol := mat.Col(nil, entering, t.A)
		var d mat.VecDense
		d.MulVec(binv, mat.NewVecDense(m, ajCol))

		tMax := math.Inf(1)
		leavingRow := -1
		leavingTo := atLower

		if t.upper[entering]-t.lower[entering] < tMax {
			tMax = t.upper[entering] - t.lower[entering]
			leavingRow = -1 // a bound flip unless beaten below
		}

		for i := 0; i < m; i++ {
			bi := basis[i]
			rate := -enterDir * d.AtVec(i)
			if math.Abs(rate) < simplexTol {
				continue
			}
			var limit float64
			var to boundStatus
			if rate > 0 {
				if math.IsInf(t.upper[bi], 1) {
					continue
				}
				limit = (t.upper[bi] - x[bi]) / rate
				to = atUpper
			} else {
				if math.IsInf(t.lower[bi], -1) {
					continue
				}
				limit = (t.lower[bi] - x[bi]) / rate
				to = atLower
			}
			if limit < -simplexTol {
				limit = 0
			}
			if limit < tMax-simplexTol {
				tMax = limit
				leavingRow = i
				leavingTo = to
			}
		}

		if math.IsInf(tMax, 1) {
			return simplexRun{outcome: outcomeFailed}
		}

		for i := 0; i < m; i++ {
			bi := basis[i]
			x[bi] -= enterDir * tMax * d.AtVec(i)
		}
		x[entering] += enterDir * tMax

		if leavingRow == -1 {
			// Bound flip: entering variable moved to its opposite bound,
			// no basis change.
			if enterDir > 0 {
				status[entering] = atUpper
			} else {
				status[entering] = atLower
			}
			continue
		}

		leaving := basis[leavingRow]
		status[leaving] = leavingTo
		status[entering] = isBasic
		basis[leavingRow] = entering
	}

	return simplexRun{outcome: outcomeFailed}
}

func invertBasis(A *mat.Dense, basis []int) (*mat.Dense, bool) {
	m, _ := A.Dims()
	basisMat := mat.NewDense(m, m, nil)
	for col, idx := range basis {
		column := mat.Col(nil, idx, A)
		for row := 0; row < m; row++ {
			basisMat.Set(row, col, column[row])
		}
	}
	var inv mat.Dense
	if err := inv.Inverse(basisMat); err != nil {
		return nil, false
	}
	return &inv, true
}

func augmentWithArtificials(A *mat.Dense, residual []float64) *mat.Dense {
	m, n := A.Dims()
	out := mat.NewDense(m, n+m, nil)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			out.Set(i, j, A.At(i, j))
		}
		sign := 1.0
		if residual[i] < 0 {
			sign = -1.0
		}
		out.Set(i, n+i, sign)
	}
	return out
}

func zeros(n int) []float64 {
	return make([]float64, n)
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

func infs(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Inf(1)
	}
	return out
}

func absAll(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = math.Abs(x)
	}
	return out
}

func dotSlice(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func toRawVec(v []float64) mat.RawVector {
	return mat.RawVector{N: len(v), Inc: 1, Data: v}
}
