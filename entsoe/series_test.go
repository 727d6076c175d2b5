package entsoe

import (
	"testing"
	"time"
)

func TestHourlyPricesFlattensSortedAcrossTimeSeries(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Oslo")
	if err != nil {
		t.Fatal(err)
	}
	day1Start := time.Date(2026, 7, 29, 22, 0, 0, 0, time.UTC) // 2026-07-30 00:00 Oslo (summer, UTC+2)
	day2Start := day1Start.Add(24 * time.Hour)

	doc := &PublicationMarketDocument{
		TimeSeries: []TimeSeries{
			{
				Period: Period{
					TimeInterval: TimeInterval{Start: day2Start},
					Resolution:   time.Hour,
					Points: []Point{
						{Position: 1, PriceAmount: 500},
						{Position: 2, PriceAmount: 510},
					},
				},
			},
			{
				Period: Period{
					TimeInterval: TimeInterval{Start: day1Start},
					Resolution:   time.Hour,
					Points: []Point{
						{Position: 1, PriceAmount: 400},
						{Position: 2, PriceAmount: 410},
					},
				},
			},
		},
	}

	start, prices, err := HourlyPrices(doc, loc)
	if err != nil {
		t.Fatal(err)
	}

	wantStart := day1Start.In(loc)
	if !start.Equal(wantStart) {
		t.Fatalf("start: got %v want %v", start, wantStart)
	}
	want := []float64{0.4, 0.41, 0.5, 0.51}
	if len(prices) != len(want) {
		t.Fatalf("prices length: got %d want %d", len(prices), len(want))
	}
	for i, w := range want {
		if diff := prices[i] - w; diff < -1e-9 || diff > 1e-9 {
			t.Fatalf("prices[%d]: got %v want %v", i, prices[i], w)
		}
	}
}

func TestHourlyPricesRejectsNilDocument(t *testing.T) {
	if _, _, err := HourlyPrices(nil, time.UTC); err == nil {
		t.Fatal("expected error for nil document")
	}
}

func TestHourlyPricesRejectsEmptyTimeSeries(t *testing.T) {
	doc := &PublicationMarketDocument{}
	if _, _, err := HourlyPrices(doc, time.UTC); err == nil {
		t.Fatal("expected error for empty TimeSeries")
	}
}

func TestHourlyPricesRejectsSubHourlyResolution(t *testing.T) {
	doc := &PublicationMarketDocument{
		TimeSeries: []TimeSeries{
			{
				Period: Period{
					TimeInterval: TimeInterval{Start: time.Now()},
					Resolution:   15 * time.Minute,
					Points:       []Point{{Position: 1, PriceAmount: 100}},
				},
			},
		},
	}
	if _, _, err := HourlyPrices(doc, time.UTC); err == nil {
		t.Fatal("expected error for sub-hourly resolution")
	}
}
