package tariff

import (
	"math"
	"testing"
	"time"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Oslo")
	if err != nil {
		loc = time.UTC
	}
	cfg, err := New(Config{
		EnergyRatePeak:    0.40,
		EnergyRateOffPeak: 0.20,
		ConsumptionTax:    map[time.Month]float64{time.January: 0.10, time.February: 0.09},
		SupplierMarkup:    0.05,
		VATMultiplier:     1.25,
		FeedInPremium:     0.02,
		PowerBrackets: []Bracket{
			{UpperKW: 5, FixedFee: 100},
			{UpperKW: 10, FixedFee: 180},
			{UpperKW: 25, FixedFee: 300},
			{UpperKW: 0, FixedFee: 500}, // open-ended top bracket
		},
		Location: loc,
	})
	if err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	return cfg
}

func TestNewRejectsEmptyBrackets(t *testing.T) {
	loc := time.UTC
	_, err := New(Config{VATMultiplier: 1, Location: loc})
	if err == nil {
		t.Fatal("expected error for empty bracket table")
	}
}

func TestNewRejectsNonMonotoneBrackets(t *testing.T) {
	loc := time.UTC
	_, err := New(Config{
		VATMultiplier: 1,
		Location:      loc,
		PowerBrackets: []Bracket{
			{UpperKW: 10, FixedFee: 100},
			{UpperKW: 5, FixedFee: 200},
			{UpperKW: 0, FixedFee: 300},
		},
	})
	if err == nil {
		t.Fatal("expected error for non-monotone bracket table")
	}
}

func TestNewRejectsSubUnityVAT(t *testing.T) {
	loc := time.UTC
	_, err := New(Config{
		VATMultiplier: 0.5,
		Location:      loc,
		PowerBrackets: []Bracket{{UpperKW: 0, FixedFee: 1}},
	})
	if err == nil {
		t.Fatal("expected error for VAT multiplier < 1")
	}
}

func TestImportPricePeakVsOffPeak(t *testing.T) {
	cfg := testConfig(t)
	offPeak := time.Date(2026, 1, 5, 3, 0, 0, 0, cfg.Location) // Monday 03:00
	peak := time.Date(2026, 1, 5, 10, 0, 0, 0, cfg.Location)   // Monday 10:00

	gotOffPeak := cfg.ImportPrice(offPeak, 0.5)
	wantOffPeak := (0.5 + 0.20 + 0.10 + 0.05) * 1.25
	if math.Abs(gotOffPeak-wantOffPeak) > 1e-9 {
		t.Fatalf("off-peak price: got %v want %v", gotOffPeak, wantOffPeak)
	}

	gotPeak := cfg.ImportPrice(peak, 0.5)
	wantPeak := (0.5 + 0.40 + 0.10 + 0.05) * 1.25
	if math.Abs(gotPeak-wantPeak) > 1e-9 {
		t.Fatalf("peak price: got %v want %v", gotPeak, wantPeak)
	}
}

func TestImportPriceWeekendIsOffPeak(t *testing.T) {
	cfg := testConfig(t)
	saturday := time.Date(2026, 1, 3, 10, 0, 0, 0, cfg.Location)
	got := cfg.ImportPrice(saturday, 0.5)
	want := (0.5 + 0.20 + 0.10 + 0.05) * 1.25
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("weekend price should use off-peak rate: got %v want %v", got, want)
	}
}

func TestExportPriceHasNoVAT(t *testing.T) {
	cfg := testConfig(t)
	got := cfg.ExportPrice(time.Now(), 0.3)
	want := 0.3 + 0.02
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("export price: got %v want %v", got, want)
	}
}

func TestStepFeeBoundaries(t *testing.T) {
	cfg := testConfig(t)
	cases := []struct {
		peak float64
		want float64
	}{
		{0, 100},
		{4.999, 100},
		{5, 180},   // right-continuous at the boundary
		{9.999, 180},
		{10, 300},
		{24.999, 300},
		{25, 500},  // falls into the open-ended top bracket
		{1000, 500},
	}
	for _, c := range cases {
		if got := cfg.StepFee(c.peak); got != c.want {
			t.Errorf("StepFee(%v) = %v, want %v", c.peak, got, c.want)
		}
	}
}

func TestPLFeeConservatism(t *testing.T) {
	cfg := testConfig(t)
	for peak := 0.0; peak <= 40; peak += 0.37 {
		pl := cfg.PLFee(peak)
		step := cfg.StepFee(peak)
		if pl > step+1e-9 {
			t.Errorf("surrogate overestimates at %v: pl=%v step=%v", peak, pl, step)
		}
	}
}

// At each bracket's own upper bound, the surrogate has just finished
// filling that bracket and so equals its own fixed fee exactly — the
// step function's right-continuous value at that same point already
// belongs to the next bracket up, so it is compared here instead against
// the bracket's own FixedFee (the step function's left-hand plateau).
func TestPLFeeEqualsOwnBracketFeeAtBoundaries(t *testing.T) {
	cfg := testConfig(t)
	for _, b := range cfg.PowerBrackets[:len(cfg.PowerBrackets)-1] {
		pl := cfg.PLFee(b.UpperKW)
		if math.Abs(pl-b.FixedFee) > 1e-9 {
			t.Errorf("at boundary %v: pl=%v, want own bracket fee %v", b.UpperKW, pl, b.FixedFee)
		}
	}
}

func TestPLFeeZeroAtZero(t *testing.T) {
	cfg := testConfig(t)
	if got := cfg.PLFee(0); got != 0 {
		t.Fatalf("PLFee(0) = %v, want 0", got)
	}
	if got := cfg.StepFee(0); got != cfg.PowerBrackets[0].FixedFee {
		t.Fatalf("StepFee(0) = %v, want first bracket fee %v", got, cfg.PowerBrackets[0].FixedFee)
	}
}
