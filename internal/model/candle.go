// Package model defines the core data types shared across the screener:
// candles, tickers, filters and trigger events.
package model

import (
	"encoding/json"
	"time"
)

// Market selects which exchange stream a pair belongs to.
type Market string

const (
	MarketSpot    Market = "spot"
	MarketFutures Market = "futures"
)

// Valid reports whether m is a known market.
func (m Market) Valid() bool {
	return m == MarketSpot || m == MarketFutures
}

// Candle represents a closed one-minute OHLCV bar for a (symbol, market) pair.
// Volume is quote volume (USDT). Timestamp is unix seconds, minute-aligned.
type Candle struct {
	Symbol    string  `json:"symbol"`    // e.g. "BTC/USDT" (spot), "BTC/USDT:USDT" (futures)
	Market    Market  `json:"market"`
	Timestamp int64   `json:"timestamp"` // unix seconds, ts mod 60 == 0
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	TickCount int     `json:"tick_count,omitempty"` // stream-built candles only, not persisted
}

// Key returns a unique key for this candle's pair: "market:symbol".
func (c *Candle) Key() string {
	return PairKey(c.Symbol, c.Market)
}

// Time returns the candle's bucket start as a UTC time.
func (c *Candle) Time() time.Time {
	return time.Unix(c.Timestamp, 0).UTC()
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// PairKey builds the canonical map key for a (symbol, market) pair.
func PairKey(symbol string, market Market) string {
	return string(market) + ":" + symbol
}

// Ticker is the last-observed 24-hour rollup for a pair.
type Ticker struct {
	Symbol    string  `json:"symbol"`
	Market    Market  `json:"market"`
	LastPrice float64 `json:"last_price"`
	Volume24h float64 `json:"volume_24h"` // quote volume over the trailing 24h
	UpdatedAt int64   `json:"updated_at"` // unix seconds
}

// Key returns the pair key for this ticker.
func (t *Ticker) Key() string {
	return PairKey(t.Symbol, t.Market)
}
