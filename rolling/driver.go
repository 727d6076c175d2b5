// Package rolling implements the rolling-horizon driver described in
// spec.md §4.4: it chains window solves across a simulation period,
// stitches the committed portion of each window into an annual
// trajectory, and advances battery state (SOC, monthly peak) across
// windows and calendar-month boundaries.
package rolling

import (
	"fmt"
	"time"

	"github.com/devskill-org/bess-dispatch/battery"
	"github.com/devskill-org/bess-dispatch/dispatch"
	"github.com/devskill-org/bess-dispatch/postproc"
	"github.com/devskill-org/bess-dispatch/tariff"
	"github.com/devskill-org/bess-dispatch/timeseries"
)

// Mode selects how windows are sized and how much of each solved window
// is committed before the next one is solved.
type Mode int

const (
	// ModeWeeklyCommitAll solves a fixed window of Config.WeeklyWindowSteps
	// once and commits the entire thing before sliding to the next window.
	ModeWeeklyCommitAll Mode = iota
	// ModeMonthlyCommitAll solves one window per calendar month (the
	// window length varies with the month) and commits it entirely.
	ModeMonthlyCommitAll
	// ModeRollingMPC solves a window of Config.HorizonSteps but commits
	// only Config.UpdateFrequencySteps before resolving on a slid window,
	// modelling periodic reoptimisation under a fresh perfect-foresight
	// horizon each time.
	ModeRollingMPC
)

// Config selects the driver's mode and, for ModeRollingMPC, its horizon
// and update frequency.
type Config struct {
	Mode                 Mode
	HorizonSteps         int // ModeRollingMPC only
	UpdateFrequencySteps int // ModeRollingMPC only; must be <= HorizonSteps
	WeeklyWindowSteps    int // ModeWeeklyCommitAll only (e.g. 168 for hourly steps)
}

// WindowEvent is emitted after each window is solved and (if solved)
// committed, so a host can observe progress without the driver depending
// on HTTP or SQL.
type WindowEvent struct {
	WindowStart    time.Time
	HorizonSteps   int
	CommittedSteps int
	Result         *dispatch.OptimizationResult
}

// StatusSink receives a WindowEvent after every window attempt, solved or
// not.
type StatusSink interface {
	OnWindow(WindowEvent)
}

// Trajectory is the stitched-together annual result: one entry per
// committed step across every window, plus the per-month realised peaks
// postproc needs for the exact tariff figure.
type Trajectory struct {
	Timestamps  []time.Time
	PCharge     []float64
	PDischarge  []float64
	PGridImport []float64
	PGridExport []float64
	PCurtail    []float64
	SOCKWh      []float64
	Degradation []float64

	MonthlyPeaks []postproc.MonthlyPeak

	EnergyCost      float64
	SurrogateFee    float64
	DegradationCost float64
}

// FinalCost replaces Trajectory's accumulated surrogate power-fee with
// the exact step-function figure, per spec.md §4.5.
func (tr *Trajectory) FinalCost(tc *tariff.Config) (postproc.AnnualCost, error) {
	return postproc.Recompute(tc, tr.MonthlyPeaks, tr.EnergyCost, tr.SurrogateFee, tr.DegradationCost)
}

// Driver runs the rolling-horizon loop over one simulation period for one
// battery/tariff/grid scenario. Each instance owns its own State and
// carries no shared mutable state with any other Driver (spec.md §5).
type Driver struct {
	cfg    Config
	spec   *battery.Spec
	tariff *tariff.Config
	limits dispatch.GridLimits
	sink   StatusSink
}

// New constructs a Driver. sink may be nil.
func New(cfg Config, spec *battery.Spec, tc *tariff.Config, limits dispatch.GridLimits, sink StatusSink) (*Driver, error) {
	if spec == nil || tc == nil {
		return nil, fmt.Errorf("rolling: nil spec or tariff config")
	}
	if cfg.Mode == ModeRollingMPC {
		if cfg.HorizonSteps <= 0 || cfg.UpdateFrequencySteps <= 0 || cfg.UpdateFrequencySteps > cfg.HorizonSteps {
			return nil, fmt.Errorf("rolling: invalid rolling-MPC horizon=%d update_frequency=%d", cfg.HorizonSteps, cfg.UpdateFrequencySteps)
		}
	}
	if cfg.Mode == ModeWeeklyCommitAll && cfg.WeeklyWindowSteps <= 0 {
		return nil, fmt.Errorf("rolling: invalid weekly window length %d", cfg.WeeklyWindowSteps)
	}
	return &Driver{cfg: cfg, spec: spec, tariff: tc, limits: limits, sink: sink}, nil
}

// Run executes the loop described in spec.md §4.4's pseudocode: slice,
// solve, commit, advance state, repeat strictly in time order. On
// infeasibility or solver failure the driver stops and returns the
// trajectory committed so far alongside the error — earlier successful
// windows are never discarded.
func (d *Driver) Run(series *timeseries.Series, state *battery.State) (*Trajectory, error) {
	if series == nil || state == nil {
		return nil, fmt.Errorf("rolling: nil series or state")
	}
	tr := &Trajectory{}
	pos := 0

	for pos < series.Len() {
		horizon := d.horizonAt(series, pos)
		end := pos + horizon
		if end > series.Len() {
			end = series.Len()
		}
		window, err := series.Slice(pos, end)
		if err != nil {
			return tr, fmt.Errorf("rolling: slicing window [%d,%d): %w", pos, end, err)
		}

		result, err := dispatch.SolveWindow(window, d.spec, d.tariff, d.limits, state.SOCKWh(), state.MonthlyPeakKW())
		if err != nil {
			return tr, fmt.Errorf("rolling: solving window starting %s: %w", window.Start(), err)
		}

		committed := d.commitLength(end-pos, horizon)
		if d.sink != nil {
			d.sink.OnWindow(WindowEvent{
				WindowStart:    window.Start(),
				HorizonSteps:   end - pos,
				CommittedSteps: committed,
				Result:         result,
			})
		}
		if result.Status != dispatch.StatusSolved {
			return tr, fmt.Errorf("rolling: window starting %s did not solve: %s", window.Start(), result.Diagnostic)
		}

		d.appendCommitted(tr, window, result, committed)

		gridImport := result.PGridImport[:committed]
		degradation := result.Degradation[:committed]
		timestamps := make([]time.Time, committed)
		for i := 0; i < committed; i++ {
			timestamps[i] = window.Timestamp(i)
		}
		terminalSOC := result.SOCKWh[committed-1]
		err = state.UpdateFromResult(terminalSOC, gridImport, degradation, timestamps, func(monthStart time.Time, peakKW float64) {
			tr.MonthlyPeaks = append(tr.MonthlyPeaks, postproc.MonthlyPeak{
				MonthKey: monthStart.Format("2006-01"),
				PeakKW:   peakKW,
			})
		})
		if err != nil {
			return tr, fmt.Errorf("rolling: advancing state after window starting %s: %w", window.Start(), err)
		}

		pos += committed
	}

	// The final (still in-progress) calendar month is never closed by a
	// boundary crossing inside the loop; record it so postproc sees every
	// month touched by the simulation.
	tr.MonthlyPeaks = append(tr.MonthlyPeaks, postproc.MonthlyPeak{
		MonthKey: state.MonthStart().Format("2006-01"),
		PeakKW:   state.MonthlyPeakKW(),
	})

	return tr, nil
}

func (d *Driver) horizonAt(series *timeseries.Series, pos int) int {
	switch d.cfg.Mode {
	case ModeRollingMPC:
		return d.cfg.HorizonSteps
	case ModeWeeklyCommitAll:
		return d.cfg.WeeklyWindowSteps
	case ModeMonthlyCommitAll:
		return stepsToMonthEnd(series, pos)
	default:
		return series.Len() - pos
	}
}

func (d *Driver) commitLength(windowLen, requestedHorizon int) int {
	if d.cfg.Mode == ModeRollingMPC {
		if d.cfg.UpdateFrequencySteps < windowLen {
			return d.cfg.UpdateFrequencySteps
		}
	}
	return windowLen
}

// stepsToMonthEnd returns how many steps from pos belong to pos's
// calendar month (i.e. the window length a monthly-commit-all driver
// should solve).
func stepsToMonthEnd(series *timeseries.Series, pos int) int {
	y, m, _ := series.Timestamp(pos).Date()
	n := 1
	for pos+n < series.Len() {
		yy, mm, _ := series.Timestamp(pos + n).Date()
		if yy != y || mm != m {
			break
		}
		n++
	}
	return n
}

// appendCommitted stitches the committed prefix of a solved window into
// the trajectory and accumulates its share of the window's cost. Energy
// cost is recomputed directly from prices and the committed steps' own
// flows (cheap and exact); surrogate fee and degradation cost are only
// available as whole-window totals from the solver, so a rolling-MPC
// partial commit apportions them by the committed steps' share of the
// window's own degradation throughput (for degradation) or uniformly per
// step (for the surrogate fee, which is a monthly fixed charge rather
// than a per-step quantity).
func (d *Driver) appendCommitted(tr *Trajectory, window *timeseries.Series, result *dispatch.OptimizationResult, committed int) {
	step := window.Step().Hours()
	degradationTotal := 0.0
	for _, v := range result.Degradation {
		degradationTotal += v
	}
	degradationCommitted := 0.0

	for i := 0; i < committed; i++ {
		tr.Timestamps = append(tr.Timestamps, window.Timestamp(i))
		tr.PCharge = append(tr.PCharge, result.PCharge[i])
		tr.PDischarge = append(tr.PDischarge, result.PDischarge[i])
		tr.PGridImport = append(tr.PGridImport, result.PGridImport[i])
		tr.PGridExport = append(tr.PGridExport, result.PGridExport[i])
		tr.PCurtail = append(tr.PCurtail, result.PCurtail[i])
		tr.SOCKWh = append(tr.SOCKWh, result.SOCKWh[i])
		tr.Degradation = append(tr.Degradation, result.Degradation[i])

		cImp := d.tariff.ImportPrice(window.Timestamp(i), window.Price(i))
		cExp := d.tariff.ExportPrice(window.Timestamp(i), window.Price(i))
		tr.EnergyCost += step * (cImp*result.PGridImport[i] - cExp*result.PGridExport[i])
		degradationCommitted += result.Degradation[i]
	}

	tr.SurrogateFee += result.Cost.SurrogateFee * float64(committed) / float64(len(result.PGridImport))
	if degradationTotal > 0 {
		tr.DegradationCost += result.Cost.DegradationCost * degradationCommitted / degradationTotal
	}
}
