// Package exchange defines the capability surface the screener needs from
// a market-data provider: a live ticker stream, REST OHLCV backfill and a
// REST ticker snapshot. Implementations live in subpackages (bybit).
package exchange

import (
	"context"
	"errors"
	"fmt"

	"crypto-screenerv1/internal/model"
)

// MarketData is the REST capability. All timestamps returned are unix
// seconds; millisecond values never cross this boundary.
type MarketData interface {
	// FetchOHLCV returns up to limit closed one-minute candles for the
	// pair, ascending by timestamp. The currently open minute is excluded.
	FetchOHLCV(ctx context.Context, symbol string, market model.Market, limit int) ([]model.Candle, error)

	// FetchTickers returns the 24h rollup for every USDT-quoted pair on
	// the market.
	FetchTickers(ctx context.Context, market model.Market) ([]model.Ticker, error)
}

// TickerStream delivers live ticker frames for a set of pairs on one
// market. Run blocks until the connection fails or ctx is cancelled; the
// caller owns reconnect policy. ready (optional) fires once per session
// after the subscription is accepted, never before.
type TickerStream interface {
	Run(ctx context.Context, market model.Market, symbols []string, out chan<- model.Ticker, ready func()) error
}

// ErrProtocol marks non-retryable failures: unknown symbol, malformed
// frame, API rejection. Transport errors are not wrapped with it and are
// considered retryable.
var ErrProtocol = errors.New("exchange protocol error")

// Protocolf builds a non-retryable error.
func Protocolf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrProtocol)...)
}

// Retryable reports whether the error is worth a backoff-and-retry.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrProtocol) && !errors.Is(err, context.Canceled)
}
