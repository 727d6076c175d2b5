package dispatch

// Status distinguishes a solved window from one the solver could not
// handle, per spec.md §9's redesign flag: callers must check Status
// rather than duck-type a zero-valued result into "feasible".
type Status int

const (
	// StatusSolved means every trajectory field and the cost breakdown
	// below are populated from the solver's primal solution.
	StatusSolved Status = iota
	// StatusInfeasible means the window has no feasible schedule under
	// the given grid limits and battery bounds; trajectories are empty.
	StatusInfeasible
	// StatusSolverError means the solver failed for a reason unrelated
	// to feasibility (numerical breakdown, iteration limit); trajectories
	// are empty. Never silently fabricated as zeros.
	StatusSolverError
)

func (s Status) String() string {
	switch s {
	case StatusSolved:
		return "solved"
	case StatusInfeasible:
		return "infeasible"
	case StatusSolverError:
		return "solver_error"
	default:
		return "unknown"
	}
}

// CostBreakdown is the scalar accounting for one solved window, in the
// LP's own terms: the surrogate power-fee is its internal view, not the
// exact figure postproc later substitutes.
type CostBreakdown struct {
	ImportCost      float64
	ExportRevenue   float64
	SurrogateFee    float64
	DegradationCost float64
	Objective       float64
}

// OptimizationResult is what solve_window returns: either a populated
// solved trajectory plus cost breakdown, or a Status explaining why there
// isn't one.
type OptimizationResult struct {
	Status Status

	// Per-step trajectories, length T. Empty unless Status == StatusSolved.
	PCharge      []float64
	PDischarge   []float64
	PGridImport  []float64
	PGridExport  []float64
	PCurtail     []float64
	SOCKWh       []float64
	Degradation  []float64 // per-step D_plus+D_minus contribution, throughput as a fraction of ENomKWh

	TerminalSOCKWh float64
	WindowPeakKW   float64 // max P_grid_import over the window, diagnostic only

	Cost CostBreakdown

	Diagnostic string // human-readable detail for Infeasible/SolverError
}
