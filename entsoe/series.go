package entsoe

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// HourlyPrices flattens a decoded PublicationMarketDocument into a single
// ordered EUR/kWh spot-price slice (ENTSO-E publishes EUR/MWh) and the
// wall-clock instant its first sample covers, the shape timeseries.New
// expects for its price argument. Only TimeSeries whose Period resolution
// is exactly one hour are supported; ENTSO-E occasionally publishes
// 15-minute resolution day-ahead series, which this does not yet merge
// into hourly buckets.
func HourlyPrices(doc *PublicationMarketDocument, loc *time.Location) (time.Time, []float64, error) {
	if doc == nil {
		return time.Time{}, nil, fmt.Errorf("entsoe: nil market document")
	}
	if len(doc.TimeSeries) == 0 {
		return time.Time{}, nil, fmt.Errorf("entsoe: market document has no TimeSeries")
	}

	type sample struct {
		t     time.Time
		price float64
	}
	var samples []sample

	for _, ts := range doc.TimeSeries {
		period := ts.Period
		if period.Resolution != time.Hour {
			return time.Time{}, nil, fmt.Errorf("entsoe: unsupported resolution %s, only PT60M is supported", period.Resolution)
		}
		start := period.TimeInterval.Start.In(loc)
		for _, pt := range period.Points {
			samples = append(samples, sample{
				t:     start.Add(time.Duration(pt.Position-1) * time.Hour),
				price: pt.PriceAmount,
			})
		}
	}

	sort.Slice(samples, func(i, j int) bool { return samples[i].t.Before(samples[j].t) })

	prices := make([]float64, len(samples))
	for i, s := range samples {
		prices[i] = s.price / 1000.0 // EUR/MWh -> EUR/kWh
	}
	return samples[0].t, prices, nil
}

// BuildPriceSeries downloads the day-ahead publication document covering
// now (and tomorrow, once published) and flattens it into an hourly
// EUR/kWh spot-price series, the exogenous-series producer a rolling
// driver's timeseries.Series needs for its price input.
func BuildPriceSeries(ctx context.Context, securityToken, urlFormat string, loc *time.Location) (time.Time, []float64, error) {
	doc, err := DownloadPublicationMarketDocument(ctx, securityToken, urlFormat, loc)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("entsoe: downloading market document: %w", err)
	}
	return HourlyPrices(doc, loc)
}
