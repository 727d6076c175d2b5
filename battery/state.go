// Package battery holds the battery's static specification and the small
// mutable state the rolling-horizon driver carries across windows: state of
// charge, the running monthly peak import used by the power-tariff
// constraint, and cumulative degradation.
package battery

import (
	"fmt"
	"math"
	"time"
)

// Spec is the battery's static, immutable specification.
type Spec struct {
	ENomKWh float64 // usable energy capacity
	PMaxKW  float64 // max charge/discharge power
	Eta     float64 // round-trip efficiency, (0,1]; split symmetrically as sqrt(Eta) per leg
	SOCMin  float64 // fraction of ENomKWh, [0,1]
	SOCMax  float64 // fraction of ENomKWh, [0,1]
	CBat    float64 // wear cost, currency/kWh throughput; 0 disables degradation accounting
	DEOL    float64 // end-of-life cumulative-degradation threshold, fraction; 0 means "use default 0.20"
}

// NewSpec validates and returns a Spec, filling in DEOL's default of 0.20
// when left at zero.
func NewSpec(s Spec) (*Spec, error) {
	if s.ENomKWh <= 0 {
		return nil, fmt.Errorf("battery: ENomKWh must be positive, got %v", s.ENomKWh)
	}
	if s.PMaxKW <= 0 {
		return nil, fmt.Errorf("battery: PMaxKW must be positive, got %v", s.PMaxKW)
	}
	if s.Eta <= 0 || s.Eta > 1 {
		return nil, fmt.Errorf("battery: Eta must be in (0,1], got %v", s.Eta)
	}
	if s.SOCMin < 0 || s.SOCMax > 1 || s.SOCMin >= s.SOCMax {
		return nil, fmt.Errorf("battery: invalid SOC bounds [%v,%v]", s.SOCMin, s.SOCMax)
	}
	if s.CBat < 0 {
		return nil, fmt.Errorf("battery: CBat must not be negative, got %v", s.CBat)
	}
	if s.DEOL == 0 {
		s.DEOL = 0.20
	}
	if s.DEOL <= 0 || s.DEOL > 1 {
		return nil, fmt.Errorf("battery: DEOL must be in (0,1], got %v", s.DEOL)
	}
	return &s, nil
}

// EtaLeg returns sqrt(Eta), the per-leg (charge or discharge) efficiency
// factor the SOC recursion applies symmetrically.
func (s *Spec) EtaLeg() float64 { return math.Sqrt(s.Eta) }

// SOCMinKWh and SOCMaxKWh convert the fractional SOC bounds to kWh.
func (s *Spec) SOCMinKWh() float64 { return s.SOCMin * s.ENomKWh }
func (s *Spec) SOCMaxKWh() float64 { return s.SOCMax * s.ENomKWh }

// Debug, when set true, makes State.AssertInvariants panic on violation
// instead of being a no-op. The corpus carries no build-tag convention, so
// this mirrors that: a single runtime switch a host flips on in tests or a
// debug binary, left off in production.
var Debug = false

// State is the mutable record the driver advances after every committed
// window.
type State struct {
	spec *Spec

	socKWh                float64
	monthStart            time.Time
	monthlyPeakKW         float64
	cumulativeDegradation float64
}

// NewState constructs a State with soc = initialSOCFraction*ENomKWh,
// month_start = firstTimestamp truncated to the first of its calendar
// month, monthly_peak = 0, cumulative_degradation = 0.
func NewState(spec *Spec, initialSOCFraction float64, firstTimestamp time.Time) (*State, error) {
	if spec == nil {
		return nil, fmt.Errorf("battery: nil spec")
	}
	if initialSOCFraction < spec.SOCMin || initialSOCFraction > spec.SOCMax {
		return nil, fmt.Errorf("battery: initial SOC fraction %v outside [%v,%v]", initialSOCFraction, spec.SOCMin, spec.SOCMax)
	}
	if firstTimestamp.Location() == nil {
		return nil, fmt.Errorf("battery: first timestamp has no location")
	}
	return &State{
		spec:       spec,
		socKWh:     initialSOCFraction * spec.ENomKWh,
		monthStart: startOfMonth(firstTimestamp),
	}, nil
}

func startOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

// SOCKWh returns the current state of charge in kWh.
func (st *State) SOCKWh() float64 { return st.socKWh }

// MonthStart returns the first instant of the calendar month the running
// peak is currently being accumulated over.
func (st *State) MonthStart() time.Time { return st.monthStart }

// MonthlyPeakKW returns the running maximum grid-import power observed
// since MonthStart.
func (st *State) MonthlyPeakKW() float64 { return st.monthlyPeakKW }

// CumulativeDegradation returns the running fraction of end-of-life
// degradation consumed so far, in [0, spec.DEOL].
func (st *State) CumulativeDegradation() float64 { return st.cumulativeDegradation }

// UpdateFromResult is called by the driver after each committed window (or
// committed prefix). terminalSOCKWh is the state of charge at the end of
// the committed portion. gridImportKW and degradationDelta are per-step
// samples for exactly the committed steps, aligned with timestamps (the
// interval-start time of each step); they must be the same length.
//
// MonthlyPeakKW is updated by taking the elementwise maximum over
// gridImportKW samples falling in the current calendar month only; on
// crossing a month boundary the peak resets to zero and month_start
// advances, and scanning continues into the next month. A committed
// prefix may straddle more than one boundary (e.g. a long monthly-mode
// window), so this loops rather than checking once.
//
// onMonthClosed, if non-nil, is invoked once for every calendar month the
// scan finalizes (i.e. every month it leaves by crossing a boundary; the
// month the scan ends in stays open), with
// that month's start and its realised peak — this is how the driver
// accumulates the per-month peaks postproc later needs, without itself
// duplicating the boundary-crossing logic.
func (st *State) UpdateFromResult(terminalSOCKWh float64, gridImportKW []float64, degradationDelta []float64, timestamps []time.Time, onMonthClosed func(monthStart time.Time, peakKW float64)) error {
	if len(gridImportKW) != len(timestamps) {
		return fmt.Errorf("battery: gridImportKW length %d != timestamps length %d", len(gridImportKW), len(timestamps))
	}
	if degradationDelta != nil && len(degradationDelta) != len(timestamps) {
		return fmt.Errorf("battery: degradationDelta length %d != timestamps length %d", len(degradationDelta), len(timestamps))
	}
	for i, ts := range timestamps {
		if ts.Location() == nil {
			return fmt.Errorf("battery: timestamp %d has no location", i)
		}
		for !sameMonth(ts, st.monthStart) {
			if onMonthClosed != nil {
				onMonthClosed(st.monthStart, st.monthlyPeakKW)
			}
			st.monthStart = nextMonth(st.monthStart)
			st.monthlyPeakKW = 0
		}
		if gridImportKW[i] > st.monthlyPeakKW {
			st.monthlyPeakKW = gridImportKW[i]
		}
		if degradationDelta != nil {
			st.cumulativeDegradation += degradationDelta[i]
		}
	}
	st.socKWh = terminalSOCKWh
	if st.cumulativeDegradation > st.spec.DEOL {
		st.cumulativeDegradation = st.spec.DEOL
	}
	return nil
}

func sameMonth(t, monthStart time.Time) bool {
	y1, m1, _ := t.Date()
	y2, m2, _ := monthStart.Date()
	return y1 == y2 && m1 == m2
}

func nextMonth(monthStart time.Time) time.Time {
	return monthStart.AddDate(0, 1, 0)
}

// AssertInvariants panics if any of the state invariants documented on
// State are violated. It is a no-op unless Debug is true, matching a
// debug build's "fatal, indicates a bug" semantics without requiring a
// compiled-out production build.
func (st *State) AssertInvariants() {
	if !Debug {
		return
	}
	if st.socKWh < st.spec.SOCMinKWh()-1e-6 || st.socKWh > st.spec.SOCMaxKWh()+1e-6 {
		panic(fmt.Sprintf("battery: SOC %v outside bounds [%v,%v]", st.socKWh, st.spec.SOCMinKWh(), st.spec.SOCMaxKWh()))
	}
	if st.monthlyPeakKW < 0 {
		panic(fmt.Sprintf("battery: negative monthly peak %v", st.monthlyPeakKW))
	}
	if st.cumulativeDegradation < 0 || st.cumulativeDegradation > st.spec.DEOL+1e-9 {
		panic(fmt.Sprintf("battery: cumulative degradation %v outside [0,%v]", st.cumulativeDegradation, st.spec.DEOL))
	}
}
