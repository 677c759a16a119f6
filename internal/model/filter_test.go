package model

import (
	"encoding/json"
	"strings"
	"testing"
)

func rawConfig(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	return b
}

func TestValidatePriceChangeConfig(t *testing.T) {
	valid := PriceChangeConfig{
		Market:                MarketSpot,
		IntervalMinutes:       15,
		MinPriceChangePercent: 5,
		Direction:             "up",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*PriceChangeConfig)
		field  string
	}{
		{"bad market", func(c *PriceChangeConfig) { c.Market = "margin" }, "market"},
		{"bad interval", func(c *PriceChangeConfig) { c.IntervalMinutes = 7 }, "interval_minutes"},
		{"negative percent", func(c *PriceChangeConfig) { c.MinPriceChangePercent = -1 }, "min_price_change_percent"},
		{"bad direction", func(c *PriceChangeConfig) { c.Direction = "sideways" }, "direction"},
		{"negative vol period", func(c *PriceChangeConfig) { c.MinVolumePeriod = -1 }, "min_volume_period"},
		{"negative vol 24h", func(c *PriceChangeConfig) { c.MinVolume24h = -1 }, "min_volume_24h"},
		{"max below min", func(c *PriceChangeConfig) { c.MinVolume24h = 100; v := 50.0; c.MaxVolume24h = &v }, "max_volume_24h"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.HasPrefix(err.Error(), tc.field) {
				t.Fatalf("error %q does not name field %q", err, tc.field)
			}
		})
	}
}

func TestValidateVolumeSpikeConfig(t *testing.T) {
	valid := VolumeSpikeConfig{
		Market:             MarketFutures,
		ShortPeriodMinutes: 10,
		BasePeriodMinutes:  120,
		SpikeCoefficient:   5,
		PriceDirection:     "all",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*VolumeSpikeConfig)
		field  string
	}{
		{"bad short period", func(c *VolumeSpikeConfig) { c.ShortPeriodMinutes = 20 }, "short_period_minutes"},
		{"bad base period", func(c *VolumeSpikeConfig) { c.BasePeriodMinutes = 90 }, "base_period_minutes"},
		{"coefficient below one", func(c *VolumeSpikeConfig) { c.SpikeCoefficient = 0.5 }, "spike_coefficient"},
		{"bad direction", func(c *VolumeSpikeConfig) { c.PriceDirection = "any" }, "price_direction"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.HasPrefix(err.Error(), tc.field) {
				t.Fatalf("error %q does not name field %q", err, tc.field)
			}
		})
	}

	// short=30 base=60 is the tightest allowed combination.
	tight := valid
	tight.ShortPeriodMinutes = 30
	tight.BasePeriodMinutes = 60
	if err := tight.Validate(); err != nil {
		t.Fatalf("short=30 base=60 should be valid: %v", err)
	}
}

func TestValidateFilterConfigDispatch(t *testing.T) {
	raw := rawConfig(t, PriceChangeConfig{
		Market: MarketSpot, IntervalMinutes: 5, Direction: "any",
	})
	if err := ValidateFilterConfig(FilterPriceChange, raw); err != nil {
		t.Fatalf("valid price_change rejected: %v", err)
	}
	if err := ValidateFilterConfig("unknown", raw); err == nil {
		t.Fatal("unknown type accepted")
	}
	if err := ValidateFilterConfig(FilterVolumeSpike, nil); err == nil {
		t.Fatal("empty config accepted")
	}
}

func TestFilterConfigDecode(t *testing.T) {
	f := Filter{
		ID:   1,
		Type: FilterVolumeSpike,
		Config: rawConfig(t, VolumeSpikeConfig{
			Market: MarketSpot, ShortPeriodMinutes: 10, BasePeriodMinutes: 120,
			SpikeCoefficient: 5, PriceDirection: "all",
		}),
	}
	cfg, err := f.VolumeSpike()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.BasePeriodMinutes != 120 {
		t.Fatalf("base period = %d, want 120", cfg.BasePeriodMinutes)
	}
	if _, err := f.PriceChange(); err == nil {
		t.Fatal("decoding volume_spike filter as price_change should fail")
	}
	if got := f.ConfigMarket(); got != MarketSpot {
		t.Fatalf("ConfigMarket = %q, want spot", got)
	}
}

func TestExcludeCoins(t *testing.T) {
	cfg := PriceChangeConfig{ExcludeCoins: []string{"btc", "DOGE"}}
	if !cfg.Excludes("BTC/USDT") {
		t.Fatal("BTC/USDT should be excluded (case-insensitive)")
	}
	if !cfg.Excludes("DOGE/USDT:USDT") {
		t.Fatal("DOGE futures symbol should be excluded")
	}
	if cfg.Excludes("ETH/USDT") {
		t.Fatal("ETH/USDT should not be excluded")
	}
}

func TestBaseCoin(t *testing.T) {
	if got := BaseCoin("BTC/USDT"); got != "BTC" {
		t.Fatalf("BaseCoin spot = %q", got)
	}
	if got := BaseCoin("ETH/USDT:USDT"); got != "ETH" {
		t.Fatalf("BaseCoin futures = %q", got)
	}
}
