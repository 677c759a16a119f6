package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// FilterType discriminates the filter config variants.
type FilterType string

const (
	FilterPriceChange FilterType = "price_change"
	FilterVolumeSpike FilterType = "volume_spike"
)

// Filter is a named, enabled/disabled predicate with a typed config.
// The config JSON schema is determined by Type.
type Filter struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Type      FilterType      `json:"type"`
	Enabled   bool            `json:"enabled"`
	Config    json.RawMessage `json:"config"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// PriceChangeConfig configures a price_change filter: fire when the pair
// moved at least min_price_change_percent over the last interval_minutes.
type PriceChangeConfig struct {
	Market                Market   `json:"market"`
	IntervalMinutes       int      `json:"interval_minutes"`
	MinPriceChangePercent float64  `json:"min_price_change_percent"`
	Direction             string   `json:"direction"` // up | down | any
	MinVolumePeriod       float64  `json:"min_volume_period"`
	MinVolume24h          float64  `json:"min_volume_24h"`
	MaxVolume24h          *float64 `json:"max_volume_24h,omitempty"`
	ExcludeCoins          []string `json:"exclude_coins,omitempty"`
	Comment               string   `json:"comment,omitempty"`
}

// VolumeSpikeConfig configures a volume_spike filter: fire when the summed
// volume of the last short_period_minutes exceeds spike_coefficient times
// the per-minute average of the preceding history.
type VolumeSpikeConfig struct {
	Market                Market   `json:"market"`
	ShortPeriodMinutes    int      `json:"short_period_minutes"`
	BasePeriodMinutes     int      `json:"base_period_minutes"`
	SpikeCoefficient      float64  `json:"spike_coefficient"`
	PriceDirection        string   `json:"price_direction"` // up | down | all
	MinPriceChangePercent float64  `json:"min_price_change_percent"`
	MinVolume24h          float64  `json:"min_volume_24h"`
	MaxVolume24h          *float64 `json:"max_volume_24h,omitempty"`
	ExcludeCoins          []string `json:"exclude_coins,omitempty"`
	Comment               string   `json:"comment,omitempty"`
}

var (
	priceChangeIntervals = map[int]bool{5: true, 10: true, 15: true, 30: true, 60: true, 120: true, 240: true}
	spikeShortPeriods    = map[int]bool{5: true, 10: true, 15: true, 30: true}
	spikeBasePeriods     = map[int]bool{60: true, 120: true, 240: true}
)

// PriceChange decodes the filter's config as a PriceChangeConfig.
func (f *Filter) PriceChange() (*PriceChangeConfig, error) {
	if f.Type != FilterPriceChange {
		return nil, fmt.Errorf("filter %d is %s, not %s", f.ID, f.Type, FilterPriceChange)
	}
	var cfg PriceChangeConfig
	if err := json.Unmarshal(f.Config, &cfg); err != nil {
		return nil, fmt.Errorf("decode price_change config: %w", err)
	}
	return &cfg, nil
}

// VolumeSpike decodes the filter's config as a VolumeSpikeConfig.
func (f *Filter) VolumeSpike() (*VolumeSpikeConfig, error) {
	if f.Type != FilterVolumeSpike {
		return nil, fmt.Errorf("filter %d is %s, not %s", f.ID, f.Type, FilterVolumeSpike)
	}
	var cfg VolumeSpikeConfig
	if err := json.Unmarshal(f.Config, &cfg); err != nil {
		return nil, fmt.Errorf("decode volume_spike config: %w", err)
	}
	return &cfg, nil
}

// ConfigMarket returns the market the filter's config observes, or "" if
// the config cannot be decoded.
func (f *Filter) ConfigMarket() Market {
	var head struct {
		Market Market `json:"market"`
	}
	if err := json.Unmarshal(f.Config, &head); err != nil {
		return ""
	}
	return head.Market
}

// ValidateFilterConfig checks a raw config JSON against the schema for the
// given filter type. Returns a field-precise error on the first violation.
func ValidateFilterConfig(ft FilterType, raw json.RawMessage) error {
	switch ft {
	case FilterPriceChange:
		var cfg PriceChangeConfig
		if err := strictUnmarshal(raw, &cfg); err != nil {
			return err
		}
		return cfg.Validate()
	case FilterVolumeSpike:
		var cfg VolumeSpikeConfig
		if err := strictUnmarshal(raw, &cfg); err != nil {
			return err
		}
		return cfg.Validate()
	default:
		return fmt.Errorf("type: unknown filter type %q", ft)
	}
}

// Validate checks enum membership and numeric ranges.
func (c *PriceChangeConfig) Validate() error {
	if !c.Market.Valid() {
		return fmt.Errorf("market: must be %q or %q, got %q", MarketSpot, MarketFutures, c.Market)
	}
	if !priceChangeIntervals[c.IntervalMinutes] {
		return fmt.Errorf("interval_minutes: must be one of 5, 10, 15, 30, 60, 120, 240, got %d", c.IntervalMinutes)
	}
	if c.MinPriceChangePercent < 0 {
		return fmt.Errorf("min_price_change_percent: must be >= 0, got %v", c.MinPriceChangePercent)
	}
	switch c.Direction {
	case "up", "down", "any":
	default:
		return fmt.Errorf("direction: must be up, down or any, got %q", c.Direction)
	}
	if c.MinVolumePeriod < 0 {
		return fmt.Errorf("min_volume_period: must be >= 0, got %v", c.MinVolumePeriod)
	}
	if c.MinVolume24h < 0 {
		return fmt.Errorf("min_volume_24h: must be >= 0, got %v", c.MinVolume24h)
	}
	if c.MaxVolume24h != nil && *c.MaxVolume24h <= c.MinVolume24h {
		return fmt.Errorf("max_volume_24h: must be > min_volume_24h (%v), got %v", c.MinVolume24h, *c.MaxVolume24h)
	}
	return nil
}

// Validate checks enum membership, numeric ranges and the base > short
// period constraint.
func (c *VolumeSpikeConfig) Validate() error {
	if !c.Market.Valid() {
		return fmt.Errorf("market: must be %q or %q, got %q", MarketSpot, MarketFutures, c.Market)
	}
	if !spikeShortPeriods[c.ShortPeriodMinutes] {
		return fmt.Errorf("short_period_minutes: must be one of 5, 10, 15, 30, got %d", c.ShortPeriodMinutes)
	}
	if !spikeBasePeriods[c.BasePeriodMinutes] {
		return fmt.Errorf("base_period_minutes: must be one of 60, 120, 240, got %d", c.BasePeriodMinutes)
	}
	if c.BasePeriodMinutes <= c.ShortPeriodMinutes {
		return fmt.Errorf("base_period_minutes: must be > short_period_minutes (%d), got %d", c.ShortPeriodMinutes, c.BasePeriodMinutes)
	}
	if c.SpikeCoefficient < 1 {
		return fmt.Errorf("spike_coefficient: must be >= 1, got %v", c.SpikeCoefficient)
	}
	switch c.PriceDirection {
	case "up", "down", "all":
	default:
		return fmt.Errorf("price_direction: must be up, down or all, got %q", c.PriceDirection)
	}
	if c.MinPriceChangePercent < 0 {
		return fmt.Errorf("min_price_change_percent: must be >= 0, got %v", c.MinPriceChangePercent)
	}
	if c.MinVolume24h < 0 {
		return fmt.Errorf("min_volume_24h: must be >= 0, got %v", c.MinVolume24h)
	}
	if c.MaxVolume24h != nil && *c.MaxVolume24h <= c.MinVolume24h {
		return fmt.Errorf("max_volume_24h: must be > min_volume_24h (%v), got %v", c.MinVolume24h, *c.MaxVolume24h)
	}
	return nil
}

// Excludes reports whether the symbol's base coin appears in the exclude
// list. Matching is case-insensitive on the base coin ("BTC" in "BTC/USDT").
func (c *PriceChangeConfig) Excludes(symbol string) bool {
	return coinExcluded(symbol, c.ExcludeCoins)
}

// Excludes reports whether the symbol's base coin appears in the exclude list.
func (c *VolumeSpikeConfig) Excludes(symbol string) bool {
	return coinExcluded(symbol, c.ExcludeCoins)
}

func coinExcluded(symbol string, coins []string) bool {
	base := BaseCoin(symbol)
	for _, c := range coins {
		if strings.EqualFold(c, base) {
			return true
		}
	}
	return false
}

// BaseCoin extracts the base coin from an internal symbol:
// "BTC/USDT" -> "BTC", "BTC/USDT:USDT" -> "BTC".
func BaseCoin(symbol string) string {
	if i := strings.IndexByte(symbol, '/'); i >= 0 {
		return symbol[:i]
	}
	return symbol
}

func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("config: empty")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
