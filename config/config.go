// Package config loads the dispatch engine's JSON configuration file: site
// geometry, battery specification, tariff parameters, grid limits, the
// rolling-horizon driver's mode, and the external services (ENTSO-E,
// MET Norway, Sigenergy Modbus, Postgres archive) it talks to.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/devskill-org/bess-dispatch/battery"
	"github.com/devskill-org/bess-dispatch/dispatch"
	"github.com/devskill-org/bess-dispatch/tariff"
)

// Config is the top-level, JSON-decoded configuration for one site.
type Config struct {
	// Site geometry, for the PV forecast and the tariff's local clock.
	Location  string  `json:"location"`  // IANA timezone, e.g. "Europe/Oslo"
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	// Battery specification, battery.Spec's JSON mirror.
	BatteryENomKWh float64 `json:"battery_enom_kwh"`
	BatteryPMaxKW  float64 `json:"battery_pmax_kw"`
	BatteryEta     float64 `json:"battery_eta"`
	BatterySOCMin  float64 `json:"battery_soc_min"`
	BatterySOCMax  float64 `json:"battery_soc_max"`
	BatteryCBat    float64 `json:"battery_cbat"`
	BatteryDEOL    float64 `json:"battery_deol"`

	// Grid connection limits, dispatch.GridLimits's JSON mirror.
	GridImportLimitKW float64 `json:"grid_import_limit_kw"`
	GridExportLimitKW float64 `json:"grid_export_limit_kw"`

	// Tariff parameters, tariff.Config's JSON mirror (power brackets are
	// flattened to parallel arrays for a simpler file format).
	EnergyRatePeak    float64            `json:"energy_rate_peak"`
	EnergyRateOffPeak float64            `json:"energy_rate_off_peak"`
	SupplierMarkup    float64            `json:"supplier_markup"`
	FeedInPremium     float64            `json:"feed_in_premium"`
	VATMultiplier     float64            `json:"vat_multiplier"`
	ConsumptionTax    map[string]float64 `json:"consumption_tax"` // month number ("1".."12") -> tax
	BracketUpperKW    []float64          `json:"bracket_upper_kw"`
	BracketFixedFee   []float64          `json:"bracket_fixed_fee"`

	// Rolling-horizon driver mode.
	DriverMode           string `json:"driver_mode"` // "weekly", "monthly", "rolling_mpc"
	HorizonSteps         int    `json:"horizon_steps"`          // rolling_mpc only
	UpdateFrequencySteps int    `json:"update_frequency_steps"` // rolling_mpc only
	WeeklyWindowSteps    int    `json:"weekly_window_steps"`    // weekly only

	// ENTSO-E day-ahead price API.
	SecurityToken string        `json:"security_token"`
	URLFormat     string        `json:"url_format"`
	APITimeout    time.Duration `json:"api_timeout"`

	// MET Norway weather API.
	UserAgent             string        `json:"user_agent"`
	WeatherUpdateInterval time.Duration `json:"weather_update_interval"`
	InstalledPVKWp        float64       `json:"installed_pv_kwp"`

	// Sigenergy plant Modbus actuator.
	PlantModbusAddress string `json:"plant_modbus_address"` // "IP:PORT"; empty disables actuation

	// Postgres trajectory archive.
	PostgresConnString string `json:"postgres_conn_string"` // empty disables archiving

	// SQLite price/PV forecast cache.
	CacheDBPath string `json:"cache_db_path"` // empty disables caching

	// Status server.
	HealthCheckPort int `json:"health_check_port"` // 0 disables the server

	// Load forecast, used where no metered load feed is available: a flat
	// baseline scaled by an optional 24-entry hour-of-day multiplier profile.
	LoadBaselineKW    float64     `json:"load_baseline_kw"`
	LoadHourlyProfile [24]float64 `json:"load_hourly_profile"` // multipliers; all-zero means flat (1.0 every hour)
}

// Default returns a configuration with conservative defaults; callers
// overlay a JSON file on top of it.
func Default() *Config {
	return &Config{
		Location:              "Europe/Oslo",
		VATMultiplier:         1.25,
		DriverMode:            "monthly",
		APITimeout:            30 * time.Second,
		WeatherUpdateInterval: time.Hour,
		UserAgent:             "bess-dispatch/1.0 (ops@example.com)",
		URLFormat:             "https://web-api.tp.entsoe.eu/api?documentType=A44&out_Domain=10YNO-0--------C&in_Domain=10YNO-0--------C&periodStart=%s&periodEnd=%s&securityToken=%s",
		HealthCheckPort:       0,
		CacheDBPath:           "",
		PostgresConnString:    "",
	}
}

// Load reads and validates a JSON configuration file.
func Load(filename string) (*Config, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("config: opening %s: %w", filename, err)
	}
	defer file.Close()
	return LoadFromReader(file)
}

// LoadFromReader decodes a configuration from r, overlaying it onto
// Default, and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := json.NewDecoder(r)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decoding JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Validate checks field-level invariants that must hold before any
// component (battery.NewSpec, tariff.New, dispatch.SolveWindow) is
// constructed from this configuration, so a malformed file fails fast
// with one message instead of a confusing downstream error.
func (c *Config) Validate() error {
	if c.Location == "" {
		return fmt.Errorf("location must not be empty")
	}
	if _, err := time.LoadLocation(c.Location); err != nil {
		return fmt.Errorf("invalid location %q: %w", c.Location, err)
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("latitude must be in [-90,90], got %v", c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("longitude must be in [-180,180], got %v", c.Longitude)
	}
	if c.BatteryENomKWh <= 0 {
		return fmt.Errorf("battery_enom_kwh must be positive, got %v", c.BatteryENomKWh)
	}
	if c.BatteryPMaxKW <= 0 {
		return fmt.Errorf("battery_pmax_kw must be positive, got %v", c.BatteryPMaxKW)
	}
	if c.GridImportLimitKW <= 0 || c.GridExportLimitKW <= 0 {
		return fmt.Errorf("grid import/export limits must be positive")
	}
	if len(c.BracketUpperKW) == 0 || len(c.BracketUpperKW) != len(c.BracketFixedFee) {
		return fmt.Errorf("bracket_upper_kw and bracket_fixed_fee must be non-empty and equal length")
	}
	if c.VATMultiplier < 1 {
		return fmt.Errorf("vat_multiplier must be >= 1, got %v", c.VATMultiplier)
	}
	switch c.DriverMode {
	case "weekly":
		if c.WeeklyWindowSteps <= 0 {
			return fmt.Errorf("weekly_window_steps must be positive for driver_mode=weekly")
		}
	case "monthly":
	case "rolling_mpc":
		if c.HorizonSteps <= 0 || c.UpdateFrequencySteps <= 0 || c.UpdateFrequencySteps > c.HorizonSteps {
			return fmt.Errorf("horizon_steps/update_frequency_steps invalid for driver_mode=rolling_mpc")
		}
	default:
		return fmt.Errorf("driver_mode must be one of weekly, monthly, rolling_mpc, got %q", c.DriverMode)
	}
	if c.HealthCheckPort < 0 || c.HealthCheckPort > 65535 {
		return fmt.Errorf("health_check_port must be in [0,65535], got %d", c.HealthCheckPort)
	}
	return nil
}

// MarshalJSON implements custom JSON marshaling for the time.Duration
// fields, which json.Marshal would otherwise render as raw nanosecond
// integers.
func (c *Config) MarshalJSON() ([]byte, error) {
	type Alias Config
	return json.Marshal(&struct {
		*Alias
		APITimeout            string `json:"api_timeout"`
		WeatherUpdateInterval string `json:"weather_update_interval"`
	}{
		Alias:                 (*Alias)(c),
		APITimeout:            c.APITimeout.String(),
		WeatherUpdateInterval: c.WeatherUpdateInterval.String(),
	})
}

// UnmarshalJSON implements custom JSON unmarshaling for the
// time.Duration fields, which arrive as duration strings (e.g. "30s").
func (c *Config) UnmarshalJSON(data []byte) error {
	type Alias Config
	aux := &struct {
		*Alias
		APITimeout            string `json:"api_timeout"`
		WeatherUpdateInterval string `json:"weather_update_interval"`
	}{
		Alias: (*Alias)(c),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	var err error
	if aux.APITimeout != "" {
		if c.APITimeout, err = time.ParseDuration(aux.APITimeout); err != nil {
			return fmt.Errorf("invalid api_timeout: %w", err)
		}
	}
	if aux.WeatherUpdateInterval != "" {
		if c.WeatherUpdateInterval, err = time.ParseDuration(aux.WeatherUpdateInterval); err != nil {
			return fmt.Errorf("invalid weather_update_interval: %w", err)
		}
	}
	return nil
}

// BatterySpec builds a validated battery.Spec from the JSON fields.
func (c *Config) BatterySpec() (*battery.Spec, error) {
	return battery.NewSpec(battery.Spec{
		ENomKWh: c.BatteryENomKWh,
		PMaxKW:  c.BatteryPMaxKW,
		Eta:     c.BatteryEta,
		SOCMin:  c.BatterySOCMin,
		SOCMax:  c.BatterySOCMax,
		CBat:    c.BatteryCBat,
		DEOL:    c.BatteryDEOL,
	})
}

// GridLimits builds the point-of-connection capacity bounds.
func (c *Config) GridLimits() dispatch.GridLimits {
	return dispatch.GridLimits{ImportLimitKW: c.GridImportLimitKW, ExportLimitKW: c.GridExportLimitKW}
}

// String renders the configuration as indented JSON, for startup logging.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// LoadSeries produces one load estimate (kW) per hourly step from start,
// for sites without a metered load feed: LoadBaselineKW scaled by the
// hour-of-day entry in LoadHourlyProfile, or left flat if that profile is
// all zero.
func (c *Config) LoadSeries(start time.Time, steps int) []float64 {
	flat := true
	for _, m := range c.LoadHourlyProfile {
		if m != 0 {
			flat = false
			break
		}
	}
	out := make([]float64, steps)
	for i := range out {
		if flat {
			out[i] = c.LoadBaselineKW
			continue
		}
		hour := start.Add(time.Duration(i) * time.Hour).Hour()
		out[i] = c.LoadBaselineKW * c.LoadHourlyProfile[hour]
	}
	return out
}

// TariffConfig builds a validated tariff.Config from the flattened JSON
// fields.
func (c *Config) TariffConfig() (*tariff.Config, error) {
	loc, err := time.LoadLocation(c.Location)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	brackets := make([]tariff.Bracket, len(c.BracketUpperKW))
	for i := range brackets {
		brackets[i] = tariff.Bracket{UpperKW: c.BracketUpperKW[i], FixedFee: c.BracketFixedFee[i]}
	}
	tax := make(map[time.Month]float64, len(c.ConsumptionTax))
	for k, v := range c.ConsumptionTax {
		m, err := strconv.Atoi(k)
		if err != nil || m < 1 || m > 12 {
			return nil, fmt.Errorf("config: invalid consumption_tax month key %q", k)
		}
		tax[time.Month(m)] = v
	}
	return tariff.New(tariff.Config{
		EnergyRatePeak:    c.EnergyRatePeak,
		EnergyRateOffPeak: c.EnergyRateOffPeak,
		ConsumptionTax:    tax,
		SupplierMarkup:    c.SupplierMarkup,
		VATMultiplier:     c.VATMultiplier,
		FeedInPremium:     c.FeedInPremium,
		PowerBrackets:     brackets,
		Location:          loc,
	})
}
