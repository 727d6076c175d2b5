package timeseries

import (
	"testing"
	"time"
)

func mustStart(t *testing.T) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Oslo")
	if err != nil {
		loc = time.UTC
	}
	return time.Date(2026, 1, 1, 0, 0, 0, 0, loc)
}

func TestNewValidatesLengths(t *testing.T) {
	start := mustStart(t)
	_, err := New(start, Step60Min, []float64{1, 2}, []float64{0}, []float64{0, 0})
	if err == nil {
		t.Fatal("expected error for mismatched lengths")
	}
}

func TestNewRejectsNegativePVAndLoad(t *testing.T) {
	start := mustStart(t)
	if _, err := New(start, Step60Min, []float64{1}, []float64{-1}, []float64{0}); err == nil {
		t.Fatal("expected error for negative PV")
	}
	if _, err := New(start, Step60Min, []float64{1}, []float64{0}, []float64{-1}); err == nil {
		t.Fatal("expected error for negative load")
	}
}

func TestNewAllowsNegativePrice(t *testing.T) {
	start := mustStart(t)
	s, err := New(start, Step60Min, []float64{-5}, []float64{0}, []float64{0})
	if err != nil {
		t.Fatalf("negative price should be allowed: %v", err)
	}
	if s.Price(0) != -5 {
		t.Fatalf("price not preserved: got %v", s.Price(0))
	}
}

func TestRejectsUnsupportedStep(t *testing.T) {
	start := mustStart(t)
	if _, err := New(start, Step(5*time.Minute), []float64{1}, []float64{0}, []float64{0}); err == nil {
		t.Fatal("expected error for unsupported step")
	}
}

func TestTimestampMonotonic(t *testing.T) {
	start := mustStart(t)
	s, err := New(start, Step60Min, []float64{1, 2, 3}, []float64{0, 0, 0}, []float64{0, 0, 0})
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < s.Len(); i++ {
		if !s.Timestamp(i).After(s.Timestamp(i - 1)) {
			t.Fatalf("timestamps not strictly increasing at %d", i)
		}
	}
	if s.End() != s.Timestamp(3) {
		t.Fatalf("End() should equal Timestamp(N): got %v want %v", s.End(), s.Timestamp(3))
	}
}

func TestSliceIsIndependentCopy(t *testing.T) {
	start := mustStart(t)
	s, err := New(start, Step60Min, []float64{1, 2, 3, 4}, []float64{0, 0, 0, 0}, []float64{0, 0, 0, 0})
	if err != nil {
		t.Fatal(err)
	}
	window, err := s.Slice(1, 3)
	if err != nil {
		t.Fatal(err)
	}
	if window.Len() != 2 {
		t.Fatalf("expected length 2, got %d", window.Len())
	}
	if window.Price(0) != 2 || window.Price(1) != 3 {
		t.Fatalf("unexpected slice content: %v %v", window.Price(0), window.Price(1))
	}
	if window.Start() != s.Timestamp(1) {
		t.Fatalf("slice start mismatch")
	}
}

func TestSliceRejectsOutOfRange(t *testing.T) {
	start := mustStart(t)
	s, err := New(start, Step60Min, []float64{1, 2}, []float64{0, 0}, []float64{0, 0})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Slice(0, 3); err == nil {
		t.Fatal("expected error slicing past end")
	}
	if _, err := s.Slice(-1, 1); err == nil {
		t.Fatal("expected error slicing negative start")
	}
	if _, err := s.Slice(1, 1); err == nil {
		t.Fatal("expected error for empty slice")
	}
}
