// Package main provides the battery dispatch engine's entry point and CLI.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devskill-org/bess-dispatch/battery"
	"github.com/devskill-org/bess-dispatch/cache"
	"github.com/devskill-org/bess-dispatch/config"
	"github.com/devskill-org/bess-dispatch/entsoe"
	"github.com/devskill-org/bess-dispatch/meteo"
	"github.com/devskill-org/bess-dispatch/persistence"
	"github.com/devskill-org/bess-dispatch/rolling"
	"github.com/devskill-org/bess-dispatch/server"
	"github.com/devskill-org/bess-dispatch/sigenergy"
	"github.com/devskill-org/bess-dispatch/sun"
	"github.com/devskill-org/bess-dispatch/timeseries"
)

func main() {
	var (
		configFile = flag.String("config", "config.json", "Configuration file path")
		info       = flag.Bool("info", false, "Show Plant Information")
		help       = flag.Bool("help", false, "Show help message")
		horizonH   = flag.Int("horizon-hours", 168, "Simulation horizon in hours")
		dryRun     = flag.Bool("dry-run", false, "Solve and print the trajectory without actuating the plant")
	)
	flag.Parse()

	if *help {
		showHelp()
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Println("Error loading configuration:", err)
		os.Exit(1)
	}

	if *info {
		if err := sigenergy.ShowPlantInfo(cfg.PlantModbusAddress); err != nil {
			fmt.Println("Error:", err)
			os.Exit(1)
		}
		return
	}

	logger := log.New(os.Stdout, "[DISPATCH] ", log.LstdFlags)
	logger.Printf("Starting battery dispatch engine with configuration:\n%s", cfg.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Printf("shutdown signal received")
		cancel()
	}()

	statusServer := server.New(cfg.HealthCheckPort)
	if err := statusServer.Start(); err != nil {
		logger.Printf("status server failed to start: %v", err)
	}
	defer statusServer.Stop(context.Background())

	var sink rolling.StatusSink
	if statusServer != nil {
		sink = statusServer
	}
	if err := run(ctx, cfg, logger, *horizonH, *dryRun, sink); err != nil {
		logger.Printf("run failed: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger, horizonHours int, dryRun bool, sink rolling.StatusSink) error {
	loc, err := time.LoadLocation(cfg.Location)
	if err != nil {
		return fmt.Errorf("loading location %q: %w", cfg.Location, err)
	}

	spec, err := cfg.BatterySpec()
	if err != nil {
		return fmt.Errorf("building battery spec: %w", err)
	}
	tc, err := cfg.TariffConfig()
	if err != nil {
		return fmt.Errorf("building tariff config: %w", err)
	}
	limits := cfg.GridLimits()

	var priceCache *cache.Store
	if cfg.CacheDBPath != "" {
		priceCache, err = cache.Open(cfg.CacheDBPath)
		if err != nil {
			return fmt.Errorf("opening cache: %w", err)
		}
		defer priceCache.Close()
	}

	priceStart, prices, err := fetchPrices(ctx, priceCache, cfg, loc)
	if err != nil {
		return fmt.Errorf("fetching day-ahead prices: %w", err)
	}

	forecast, err := fetchForecast(priceCache, cfg)
	if err != nil {
		logger.Printf("weather forecast unavailable, falling back to clear-sky PV estimate: %v", err)
		forecast = nil
	}

	steps := horizonHours
	if steps > len(prices) {
		steps = len(prices)
	}
	if steps == 0 {
		return fmt.Errorf("no price data available for the requested horizon")
	}
	prices = prices[:steps]

	panel := sun.PanelSpec{Latitude: cfg.Latitude, Longitude: cfg.Longitude, InstalledKWp: cfg.InstalledPVKWp}
	pv := sun.ForecastSeries(forecast, panel, priceStart, steps)
	load := cfg.LoadSeries(priceStart, steps)

	series, err := timeseries.New(priceStart, timeseries.Step60Min, prices, pv, load)
	if err != nil {
		return fmt.Errorf("building timeseries: %w", err)
	}

	var modbusClient *sigenergy.SigenModbusClient
	initialSOC := 0.5
	if cfg.PlantModbusAddress != "" {
		modbusClient, err = sigenergy.NewTCPClient(cfg.PlantModbusAddress, sigenergy.PlantAddress)
		if err != nil {
			logger.Printf("could not connect to plant, using default initial SOC: %v", err)
		} else {
			defer modbusClient.Close()
			if soc, err := modbusClient.InitialSOCFraction(); err == nil {
				initialSOC = soc
			} else {
				logger.Printf("reading initial SOC failed, using default: %v", err)
			}
		}
	}

	state, err := battery.NewState(spec, initialSOC, priceStart)
	if err != nil {
		return fmt.Errorf("initialising battery state: %w", err)
	}

	driverCfg := rolling.Config{
		Mode:                 driverMode(cfg.DriverMode),
		HorizonSteps:         cfg.HorizonSteps,
		UpdateFrequencySteps: cfg.UpdateFrequencySteps,
		WeeklyWindowSteps:    cfg.WeeklyWindowSteps,
	}
	driver, err := rolling.New(driverCfg, spec, tc, limits, sink)
	if err != nil {
		return fmt.Errorf("constructing driver: %w", err)
	}

	trajectory, err := driver.Run(series, state)
	if err != nil {
		logger.Printf("driver stopped early: %v", err)
		if trajectory == nil {
			return err
		}
	}

	cost, err := trajectory.FinalCost(tc)
	if err != nil {
		return fmt.Errorf("computing final cost: %w", err)
	}
	logger.Printf("trajectory complete: %d steps, energy=%.2f power_fee=%.2f degradation=%.2f total=%.2f",
		len(trajectory.Timestamps), cost.EnergyCost, cost.PowerFee, cost.DegradationCost, cost.Total)

	if cfg.PostgresConnString != "" {
		store, err := persistence.Open(cfg.PostgresConnString)
		if err != nil {
			logger.Printf("persistence unavailable: %v", err)
		} else {
			defer store.Close()
			if err := archiveTrajectory(ctx, store, trajectory); err != nil {
				logger.Printf("archiving trajectory failed: %v", err)
			}
		}
	}

	if !dryRun && modbusClient != nil && len(trajectory.PCharge) > 0 {
		if err := modbusClient.ApplyDispatch(trajectory.PCharge[0], trajectory.PDischarge[0]); err != nil {
			logger.Printf("applying first committed setpoint failed: %v", err)
		}
	}

	return nil
}

// cachedPrices is the JSON shape fetchPrices stores in the price cache.
type cachedPrices struct {
	Start  time.Time `json:"start"`
	Prices []float64 `json:"prices"`
}

// fetchPrices returns the day-ahead price series, reusing a cached copy
// fetched within the last hour if priceCache is non-nil, since ENTSO-E
// publishes once per day and re-downloading every run is wasted traffic.
func fetchPrices(ctx context.Context, priceCache *cache.Store, cfg *config.Config, loc *time.Location) (time.Time, []float64, error) {
	const key = "entsoe:prices"
	if priceCache != nil {
		if payload, ok, err := priceCache.Get(key, time.Hour); err == nil && ok {
			var cp cachedPrices
			if err := json.Unmarshal(payload, &cp); err == nil {
				return cp.Start, cp.Prices, nil
			}
		}
	}

	start, prices, err := entsoe.BuildPriceSeries(ctx, cfg.SecurityToken, cfg.URLFormat, loc)
	if err != nil {
		return time.Time{}, nil, err
	}
	if priceCache != nil {
		if payload, err := json.Marshal(cachedPrices{Start: start, Prices: prices}); err == nil {
			_ = priceCache.Set(key, payload, time.Now())
		}
	}
	return start, prices, nil
}

// fetchForecast returns the MET Norway forecast, reusing a cached copy if
// still within cfg.WeatherUpdateInterval.
func fetchForecast(forecastCache *cache.Store, cfg *config.Config) (*meteo.METJSONForecast, error) {
	const key = "meteo:forecast"
	if forecastCache != nil {
		if payload, ok, err := forecastCache.Get(key, cfg.WeatherUpdateInterval); err == nil && ok {
			var f meteo.METJSONForecast
			if err := json.Unmarshal(payload, &f); err == nil {
				return &f, nil
			}
		}
	}

	client := meteo.NewClient(cfg.UserAgent)
	forecast, err := client.GetCompact(meteo.QueryParams{Location: meteo.Location{Latitude: cfg.Latitude, Longitude: cfg.Longitude}})
	if err != nil {
		return nil, err
	}
	if forecastCache != nil {
		if payload, err := json.Marshal(forecast); err == nil {
			_ = forecastCache.Set(key, payload, time.Now())
		}
	}
	return forecast, nil
}

func archiveTrajectory(ctx context.Context, store *persistence.Store, tr *rolling.Trajectory) error {
	steps := make([]persistence.Step, len(tr.Timestamps))
	for i := range tr.Timestamps {
		steps[i] = persistence.Step{
			Timestamp:   tr.Timestamps[i],
			PCharge:     tr.PCharge[i],
			PDischarge:  tr.PDischarge[i],
			PGridImport: tr.PGridImport[i],
			PGridExport: tr.PGridExport[i],
			SOCKWh:      tr.SOCKWh[i],
			Degradation: tr.Degradation[i],
		}
	}
	return store.SaveSteps(ctx, steps)
}

func driverMode(s string) rolling.Mode {
	switch s {
	case "weekly":
		return rolling.ModeWeeklyCommitAll
	case "rolling_mpc":
		return rolling.ModeRollingMPC
	default:
		return rolling.ModeMonthlyCommitAll
	}
}

func showHelp() {
	fmt.Println("bess-dispatch - behind-the-meter battery dispatch engine")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Solves a cost-minimising charge/discharge schedule for a PV-coupled")
	fmt.Println("  battery under a commercial day-ahead tariff with monthly peak fees,")
	fmt.Println("  and optionally actuates the result on a Sigenergy plant over Modbus.")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  bess-dispatch [OPTIONS]")
	fmt.Println()
	fmt.Println("OPTIONS:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  bess-dispatch --config=config.json")
	fmt.Println("  bess-dispatch --dry-run --horizon-hours=24")
	fmt.Println("  bess-dispatch -info")
}
