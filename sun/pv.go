// Package sun turns a MET Norway weather forecast and a site's solar
// geometry into an hourly PV power forecast: a clear-sky estimate from
// sun altitude, attenuated by forecast cloud cover, scaled to the site's
// installed capacity.
package sun

import (
	"math"
	"time"

	"github.com/devskill-org/bess-dispatch/meteo"
	"github.com/sixdouglas/suncalc"
)

// PanelSpec describes the site's PV array for the clear-sky model.
type PanelSpec struct {
	Latitude         float64
	Longitude        float64
	InstalledKWp     float64 // nameplate DC capacity
	PerformanceRatio float64 // system losses (inverter, soiling, temperature); 0 means use default 0.80
}

func (p PanelSpec) performanceRatio() float64 {
	if p.PerformanceRatio <= 0 {
		return 0.80
	}
	return p.PerformanceRatio
}

// ForecastSeries produces one PV power estimate (kW) per hourly step from
// start for steps hours, using forecast's cloud-cover sample closest to
// each step's timestamp and falling back to a clear-sky estimate when
// forecast is nil or carries no cloud-cover field for that sample.
func ForecastSeries(forecast *meteo.METJSONForecast, panel PanelSpec, start time.Time, steps int) []float64 {
	out := make([]float64, steps)
	for i := range out {
		t := start.Add(time.Duration(i) * time.Hour)
		out[i] = powerAt(forecast, panel, t)
	}
	return out
}

// powerAt estimates instantaneous PV power in kW at t.
func powerAt(forecast *meteo.METJSONForecast, panel PanelSpec, t time.Time) float64 {
	pos := suncalc.GetPosition(t, panel.Latitude, panel.Longitude)
	altitude := pos.Altitude // radians, negative below horizon
	if altitude <= 0 {
		return 0
	}

	clearSkyFraction := math.Sin(altitude) // crude clear-sky irradiance proxy, peaks at 1.0 when sun is overhead
	cloudAttenuation := 1.0
	if forecast != nil {
		if step := forecast.GetWeatherAtTime(t); step != nil {
			if cc := step.GetCloudCoverage(); cc != nil {
				// Linear attenuation: fully overcast (100%) keeps ~20% of
				// clear-sky output from diffuse irradiance.
				cloudAttenuation = 1.0 - 0.8*(*cc/100.0)
			}
		}
	}

	powerKW := panel.InstalledKWp * panel.performanceRatio() * clearSkyFraction * cloudAttenuation
	if powerKW < 0 {
		return 0
	}
	if powerKW > panel.InstalledKWp {
		return panel.InstalledKWp
	}
	return powerKW
}
