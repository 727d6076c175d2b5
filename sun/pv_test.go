package sun

import (
	"testing"
	"time"

	"github.com/devskill-org/bess-dispatch/meteo"
)

// osloSite is a small PV array near Oslo, used across these tests.
var osloSite = PanelSpec{
	Latitude:     59.91,
	Longitude:    10.75,
	InstalledKWp: 10,
}

func TestForecastSeriesNightIsZero(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Oslo")
	if err != nil {
		t.Fatal(err)
	}
	midnight := time.Date(2026, 1, 15, 0, 0, 0, 0, loc)

	out := ForecastSeries(nil, osloSite, midnight, 1)
	if len(out) != 1 {
		t.Fatalf("length: got %d want 1", len(out))
	}
	if out[0] != 0 {
		t.Fatalf("midwinter midnight power: got %v want 0", out[0])
	}
}

func TestForecastSeriesMiddayIsPositiveAndBounded(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Oslo")
	if err != nil {
		t.Fatal(err)
	}
	noon := time.Date(2026, 6, 21, 12, 0, 0, 0, loc)

	out := ForecastSeries(nil, osloSite, noon, 1)
	if out[0] <= 0 {
		t.Fatalf("midsummer noon power: got %v want > 0", out[0])
	}
	if out[0] > osloSite.InstalledKWp {
		t.Fatalf("power exceeds nameplate: got %v want <= %v", out[0], osloSite.InstalledKWp)
	}
}

func TestForecastSeriesOvercastAttenuates(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Oslo")
	if err != nil {
		t.Fatal(err)
	}
	noon := time.Date(2026, 6, 21, 12, 0, 0, 0, loc)

	clear := ForecastSeries(nil, osloSite, noon, 1)

	overcast := 100.0
	forecast := &meteo.METJSONForecast{
		Properties: &meteo.Forecast{
			Timeseries: []meteo.ForecastTimeStep{
				{
					Time: noon,
					Data: &meteo.ForecastTimeStepData{
						Instant: &meteo.ForecastInstantData{
							Details: &meteo.ForecastTimeInstant{CloudAreaFraction: &overcast},
						},
					},
				},
			},
		},
	}

	cloudy := ForecastSeries(forecast, osloSite, noon, 1)
	if cloudy[0] >= clear[0] {
		t.Fatalf("overcast power %v should be less than clear-sky power %v", cloudy[0], clear[0])
	}
	if cloudy[0] <= 0 {
		t.Fatalf("overcast power should retain some diffuse irradiance, got %v", cloudy[0])
	}
}

func TestForecastSeriesLength(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Oslo")
	if err != nil {
		t.Fatal(err)
	}
	start := time.Date(2026, 6, 21, 0, 0, 0, 0, loc)
	out := ForecastSeries(nil, osloSite, start, 24)
	if len(out) != 24 {
		t.Fatalf("length: got %d want 24", len(out))
	}
}
