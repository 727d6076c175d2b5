package config

import (
	"strings"
	"testing"
)

const validJSON = `{
	"location": "Europe/Oslo",
	"latitude": 59.91,
	"longitude": 10.75,
	"battery_enom_kwh": 50,
	"battery_pmax_kw": 20,
	"battery_eta": 0.9,
	"battery_soc_min": 0.1,
	"battery_soc_max": 0.95,
	"grid_import_limit_kw": 25,
	"grid_export_limit_kw": 25,
	"vat_multiplier": 1.25,
	"bracket_upper_kw": [5, 10, 0],
	"bracket_fixed_fee": [100, 180, 300],
	"driver_mode": "monthly",
	"security_token": "token",
	"api_timeout": "15s"
}`

func TestLoadFromReaderValid(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validJSON))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APITimeout.Seconds() != 15 {
		t.Fatalf("api_timeout: got %v want 15s", cfg.APITimeout)
	}
	if _, err := cfg.BatterySpec(); err != nil {
		t.Fatalf("BatterySpec: %v", err)
	}
	if _, err := cfg.TariffConfig(); err != nil {
		t.Fatalf("TariffConfig: %v", err)
	}
}

func TestLoadFromReaderRejectsBadDriverMode(t *testing.T) {
	bad := strings.Replace(validJSON, `"driver_mode": "monthly"`, `"driver_mode": "nonsense"`, 1)
	_, err := LoadFromReader(strings.NewReader(bad))
	if err == nil {
		t.Fatal("expected error for invalid driver_mode")
	}
}

func TestLoadFromReaderRejectsMismatchedBrackets(t *testing.T) {
	bad := strings.Replace(validJSON, `"bracket_fixed_fee": [100, 180, 300]`, `"bracket_fixed_fee": [100, 180]`, 1)
	_, err := LoadFromReader(strings.NewReader(bad))
	if err == nil {
		t.Fatal("expected error for mismatched bracket array lengths")
	}
}

func TestLoadFromReaderRejectsBadLocation(t *testing.T) {
	bad := strings.Replace(validJSON, `"Europe/Oslo"`, `"Not/AZone"`, 1)
	_, err := LoadFromReader(strings.NewReader(bad))
	if err == nil {
		t.Fatal("expected error for invalid IANA location")
	}
}
