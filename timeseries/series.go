// Package timeseries holds the aligned exogenous inputs a dispatch window
// is solved against: spot price, PV production and load, all sampled at a
// single fixed step over a contiguous span of time.
package timeseries

import (
	"fmt"
	"time"
)

// Step is the fixed sampling interval of a simulation. Only quarter-hour and
// hourly resolutions are supported, matching the cadences day-ahead markets
// and most inverter telemetry actually publish at.
type Step time.Duration

// Supported step durations.
const (
	Step15Min Step = Step(15 * time.Minute)
	Step60Min Step = Step(60 * time.Minute)
)

// Hours returns the step length in hours, the unit the cost model and the
// LP's energy-balance coefficients are expressed in.
func (s Step) Hours() float64 {
	return time.Duration(s).Hours()
}

func (s Step) valid() bool {
	return s == Step15Min || s == Step60Min
}

// Series holds N aligned samples of spot price, PV production and load,
// one per TimeStep starting at Start. It is immutable once built: every
// field is unexported and reached only through accessors and Slice.
type Series struct {
	start time.Time
	step  Step
	price []float64 // currency/kWh, may be negative
	pv    []float64 // kW, >= 0
	load  []float64 // kW, >= 0
}

// New validates and builds a Series whose step i starts at start plus i
// times step; price, pv and load must all have the same, non-zero length.
// PV and load must be non-negative; price may be negative (spot prices do
// go negative).
func New(start time.Time, step Step, price, pv, load []float64) (*Series, error) {
	if !step.valid() {
		return nil, fmt.Errorf("timeseries: unsupported step %s", time.Duration(step))
	}
	n := len(price)
	if len(pv) != n || len(load) != n {
		return nil, fmt.Errorf("timeseries: length mismatch: price=%d pv=%d load=%d", n, len(pv), len(load))
	}
	if n == 0 {
		return nil, fmt.Errorf("timeseries: empty series")
	}
	for i, v := range pv {
		if v < 0 {
			return nil, fmt.Errorf("timeseries: negative PV production at step %d: %.4f", i, v)
		}
	}
	for i, v := range load {
		if v < 0 {
			return nil, fmt.Errorf("timeseries: negative load at step %d: %.4f", i, v)
		}
	}
	if start.Location() == nil {
		return nil, fmt.Errorf("timeseries: start timestamp has no location")
	}

	s := &Series{
		start: start,
		step:  step,
		price: append([]float64(nil), price...),
		pv:    append([]float64(nil), pv...),
		load:  append([]float64(nil), load...),
	}
	return s, nil
}

// Len returns the number of steps N in the series.
func (s *Series) Len() int { return len(s.price) }

// Step returns the series' fixed sampling interval.
func (s *Series) Step() Step { return s.step }

// Start returns the timestamp of step 0.
func (s *Series) Start() time.Time { return s.start }

// Timestamp returns the interval-start timestamp of step i.
func (s *Series) Timestamp(i int) time.Time {
	return s.start.Add(time.Duration(s.step) * time.Duration(i))
}

// Price returns the spot price at step i, currency/kWh.
func (s *Series) Price(i int) float64 { return s.price[i] }

// PV returns the PV production at step i, kW.
func (s *Series) PV(i int) float64 { return s.pv[i] }

// Load returns the load at step i, kW.
func (s *Series) Load(i int) float64 { return s.load[i] }

// End returns the timestamp immediately after the last step.
func (s *Series) End() time.Time {
	return s.Timestamp(s.Len())
}

// Slice returns the contiguous sub-window [from, to) as a new, independent
// Series. The driver uses this to cut a rolling-horizon window out of the
// full simulation period.
func (s *Series) Slice(from, to int) (*Series, error) {
	if from < 0 || to > s.Len() || from >= to {
		return nil, fmt.Errorf("timeseries: invalid slice [%d,%d) of length %d", from, to, s.Len())
	}
	return &Series{
		start: s.Timestamp(from),
		step:  s.step,
		price: append([]float64(nil), s.price[from:to]...),
		pv:    append([]float64(nil), s.pv[from:to]...),
		load:  append([]float64(nil), s.load[from:to]...),
	}, nil
}
