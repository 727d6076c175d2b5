package rolling

import (
	"testing"
	"time"

	"github.com/devskill-org/bess-dispatch/battery"
	"github.com/devskill-org/bess-dispatch/dispatch"
	"github.com/devskill-org/bess-dispatch/tariff"
	"github.com/devskill-org/bess-dispatch/timeseries"
)

func oslo(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Oslo")
	if err != nil {
		return time.UTC
	}
	return loc
}

func testSpec(t *testing.T) *battery.Spec {
	t.Helper()
	spec, err := battery.NewSpec(battery.Spec{
		ENomKWh: 50, PMaxKW: 20, Eta: 0.9, SOCMin: 0.1, SOCMax: 0.95,
	})
	if err != nil {
		t.Fatal(err)
	}
	return spec
}

func testTariff(t *testing.T, loc *time.Location) *tariff.Config {
	t.Helper()
	cfg, err := tariff.New(tariff.Config{
		EnergyRatePeak:    0.40,
		EnergyRateOffPeak: 0.20,
		VATMultiplier:     1.25,
		PowerBrackets: []tariff.Bracket{
			{UpperKW: 5, FixedFee: 100},
			{UpperKW: 10, FixedFee: 180},
			{UpperKW: 0, FixedFee: 300},
		},
		Location: loc,
	})
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

// buildMarchSeries builds an hourly series spanning the last two days of
// March into the first day of April, so a monthly-commit-all driver must
// cross a real calendar boundary and a weekly/rolling driver's committed
// prefixes must straddle it too.
func buildMarchSeries(t *testing.T, loc *time.Location) *timeseries.Series {
	t.Helper()
	start := time.Date(2026, 3, 30, 0, 0, 0, 0, loc)
	n := 72 // 3 days hourly
	price := make([]float64, n)
	pv := make([]float64, n)
	load := make([]float64, n)
	for i := range price {
		price[i] = 0.30
		pv[i] = 0
		load[i] = 2
	}
	s, err := timeseries.New(start, timeseries.Step60Min, price, pv, load)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestDriverMonthlyCommitAllCrossesBoundary(t *testing.T) {
	loc := oslo(t)
	spec := testSpec(t)
	tc := testTariff(t, loc)
	series := buildMarchSeries(t, loc)
	limits := dispatch.GridLimits{ImportLimitKW: 15, ExportLimitKW: 15}

	state, err := battery.NewState(spec, 0.5, series.Start())
	if err != nil {
		t.Fatal(err)
	}
	driver, err := New(Config{Mode: ModeMonthlyCommitAll}, spec, tc, limits, nil)
	if err != nil {
		t.Fatal(err)
	}
	tr, err := driver.Run(series, state)
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if len(tr.Timestamps) != series.Len() {
		t.Fatalf("trajectory length: got %d want %d", len(tr.Timestamps), series.Len())
	}
	// Two calendar months are touched (March, April); exactly one closed
	// month plus the final in-progress month should be recorded.
	if len(tr.MonthlyPeaks) != 2 {
		t.Fatalf("expected 2 monthly peak records (March closed + April open), got %d", len(tr.MonthlyPeaks))
	}
	if tr.MonthlyPeaks[0].MonthKey != "2026-03" {
		t.Errorf("first monthly peak key: got %s want 2026-03", tr.MonthlyPeaks[0].MonthKey)
	}
	if tr.MonthlyPeaks[1].MonthKey != "2026-04" {
		t.Errorf("second monthly peak key: got %s want 2026-04", tr.MonthlyPeaks[1].MonthKey)
	}
}

func TestDriverRollingMPCPartialCommit(t *testing.T) {
	loc := oslo(t)
	spec := testSpec(t)
	tc := testTariff(t, loc)
	series := buildMarchSeries(t, loc)
	limits := dispatch.GridLimits{ImportLimitKW: 15, ExportLimitKW: 15}

	state, err := battery.NewState(spec, 0.5, series.Start())
	if err != nil {
		t.Fatal(err)
	}
	var events []WindowEvent
	sink := sinkFunc(func(e WindowEvent) { events = append(events, e) })
	driver, err := New(Config{Mode: ModeRollingMPC, HorizonSteps: 24, UpdateFrequencySteps: 6}, spec, tc, limits, sink)
	if err != nil {
		t.Fatal(err)
	}
	tr, err := driver.Run(series, state)
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if len(tr.Timestamps) != series.Len() {
		t.Fatalf("trajectory length: got %d want %d", len(tr.Timestamps), series.Len())
	}
	if len(events) == 0 {
		t.Fatal("expected at least one WindowEvent")
	}
	for _, e := range events[:len(events)-1] {
		if e.CommittedSteps != 6 {
			t.Errorf("expected 6-step commits except possibly the last window, got %d", e.CommittedSteps)
		}
	}
}

func TestDriverWeeklyCommitAll(t *testing.T) {
	loc := oslo(t)
	spec := testSpec(t)
	tc := testTariff(t, loc)
	series := buildMarchSeries(t, loc)
	limits := dispatch.GridLimits{ImportLimitKW: 15, ExportLimitKW: 15}

	state, err := battery.NewState(spec, 0.5, series.Start())
	if err != nil {
		t.Fatal(err)
	}
	driver, err := New(Config{Mode: ModeWeeklyCommitAll, WeeklyWindowSteps: 24}, spec, tc, limits, nil)
	if err != nil {
		t.Fatal(err)
	}
	tr, err := driver.Run(series, state)
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if len(tr.Timestamps) != series.Len() {
		t.Fatalf("trajectory length: got %d want %d", len(tr.Timestamps), series.Len())
	}
}

func TestNewRejectsBadRollingMPCConfig(t *testing.T) {
	spec := testSpec(t)
	tc := testTariff(t, time.UTC)
	limits := dispatch.GridLimits{ImportLimitKW: 10, ExportLimitKW: 10}
	_, err := New(Config{Mode: ModeRollingMPC, HorizonSteps: 4, UpdateFrequencySteps: 10}, spec, tc, limits, nil)
	if err == nil {
		t.Fatal("expected error for update frequency exceeding horizon")
	}
}

func TestTrajectoryFinalCostReplacesSurrogate(t *testing.T) {
	loc := oslo(t)
	spec := testSpec(t)
	tc := testTariff(t, loc)
	series := buildMarchSeries(t, loc)
	limits := dispatch.GridLimits{ImportLimitKW: 15, ExportLimitKW: 15}

	state, err := battery.NewState(spec, 0.5, series.Start())
	if err != nil {
		t.Fatal(err)
	}
	driver, err := New(Config{Mode: ModeMonthlyCommitAll}, spec, tc, limits, nil)
	if err != nil {
		t.Fatal(err)
	}
	tr, err := driver.Run(series, state)
	if err != nil {
		t.Fatal(err)
	}
	cost, err := tr.FinalCost(tc)
	if err != nil {
		t.Fatal(err)
	}
	if cost.PowerFee < tr.SurrogateFee-1e-6 {
		t.Errorf("exact power fee %v should be >= surrogate %v", cost.PowerFee, tr.SurrogateFee)
	}
}

type sinkFunc func(WindowEvent)

func (f sinkFunc) OnWindow(e WindowEvent) { f(e) }
