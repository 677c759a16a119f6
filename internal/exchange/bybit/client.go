// Package bybit implements the exchange capability against Bybit's v5
// public API: REST kline/ticker fetches and the public ticker WebSocket.
package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"crypto-screenerv1/internal/exchange"
	"crypto-screenerv1/internal/model"
	"crypto-screenerv1/internal/timeutil"
)

const (
	mainnetREST = "https://api.bybit.com"
	testnetREST = "https://api-testnet.bybit.com"

	// Bybit public endpoints allow far more, but the screener has no
	// reason to burst past this.
	restRatePerSec = 10
	restRateBurst  = 20
)

// ClientConfig configures the REST client.
type ClientConfig struct {
	Testnet        bool
	RequestTimeout time.Duration
	RetryAttempts  int           // total attempts per call, min 1
	RetryDelay     time.Duration // base delay, doubled per attempt
}

// Client is the Bybit v5 REST client. Safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	retries int
	delay   time.Duration
}

// NewClient creates a REST client with rate limiting and a circuit
// breaker in front of the HTTP round trip.
func NewClient(cfg ClientConfig) *Client {
	base := mainnetREST
	if cfg.Testnet {
		base = testnetREST
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "bybit-rest",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[bybit] circuit breaker %s: %s -> %s", name, from, to)
		},
	})

	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(rate.Limit(restRatePerSec), restRateBurst),
		breaker: breaker,
		retries: cfg.RetryAttempts,
		delay:   cfg.RetryDelay,
	}
}

// envelope is the common v5 response wrapper.
type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// FetchOHLCV returns up to limit closed 1m candles, ascending. Bybit
// returns rows newest-first including the open minute; both are fixed up
// here so millisecond timestamps and open candles never leave the package.
func (c *Client) FetchOHLCV(ctx context.Context, symbol string, market model.Market, limit int) ([]model.Candle, error) {
	q := url.Values{}
	q.Set("category", category(market))
	q.Set("symbol", ToExchange(symbol))
	q.Set("interval", "1")
	// One extra row so the excluded open minute does not eat into limit.
	q.Set("limit", strconv.Itoa(limit+1))

	var res struct {
		List [][]string `json:"list"`
	}
	if err := c.get(ctx, "/v5/market/kline", q, &res); err != nil {
		return nil, fmt.Errorf("fetch kline %s %s: %w", symbol, market, err)
	}

	currentMinute := timeutil.CurrentMinute()
	candles := make([]model.Candle, 0, len(res.List))
	for _, row := range res.List {
		// [startMs, open, high, low, close, volume, turnover]
		if len(row) < 7 {
			return nil, exchange.Protocolf("kline row has %d fields", len(row))
		}
		startMs, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return nil, exchange.Protocolf("kline start %q", row[0])
		}
		ts := startMs / 1000
		if ts >= currentMinute {
			continue // still-open minute
		}
		o, err1 := strconv.ParseFloat(row[1], 64)
		h, err2 := strconv.ParseFloat(row[2], 64)
		l, err3 := strconv.ParseFloat(row[3], 64)
		cl, err4 := strconv.ParseFloat(row[4], 64)
		turnover, err5 := strconv.ParseFloat(row[6], 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
			return nil, exchange.Protocolf("kline row for %s has malformed prices", symbol)
		}
		candles = append(candles, model.Candle{
			Symbol:    symbol,
			Market:    market,
			Timestamp: ts,
			Open:      o,
			High:      h,
			Low:       l,
			Close:     cl,
			Volume:    turnover,
		})
	}

	sort.Slice(candles, func(i, j int) bool { return candles[i].Timestamp < candles[j].Timestamp })
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

// FetchTickers returns the 24h rollup for every USDT-quoted pair.
func (c *Client) FetchTickers(ctx context.Context, market model.Market) ([]model.Ticker, error) {
	q := url.Values{}
	q.Set("category", category(market))

	var res struct {
		List []struct {
			Symbol      string `json:"symbol"`
			LastPrice   string `json:"lastPrice"`
			Turnover24h string `json:"turnover24h"`
		} `json:"list"`
	}
	if err := c.get(ctx, "/v5/market/tickers", q, &res); err != nil {
		return nil, fmt.Errorf("fetch tickers %s: %w", market, err)
	}

	now := timeutil.Now()
	tickers := make([]model.Ticker, 0, len(res.List))
	for _, row := range res.List {
		symbol := FromExchange(row.Symbol, market)
		if symbol == "" {
			continue // non-USDT quote
		}
		last, err1 := strconv.ParseFloat(row.LastPrice, 64)
		turnover, err2 := strconv.ParseFloat(row.Turnover24h, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		tickers = append(tickers, model.Ticker{
			Symbol:    symbol,
			Market:    market,
			LastPrice: last,
			Volume24h: turnover,
			UpdatedAt: now,
		})
	}
	return tickers, nil
}

// get performs a rate-limited, breaker-guarded GET with bounded retries.
func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		if attempt > 0 {
			backoff := c.delay * (1 << (attempt - 1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		_, err := c.breaker.Execute(func() (any, error) {
			return nil, c.doGet(ctx, path, q, out)
		})
		if err == nil {
			return nil
		}
		lastErr = err
		if !exchange.Retryable(err) {
			return err
		}
		log.Printf("[bybit] GET %s attempt %d/%d failed: %v", path, attempt+1, c.retries, err)
	}
	return lastErr
}

func (c *Client) doGet(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return exchange.Protocolf("GET %s: status %d", path, resp.StatusCode)
		}
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return exchange.Protocolf("GET %s: decode envelope: %v", path, err)
	}
	if env.RetCode != 0 {
		return exchange.Protocolf("GET %s: retCode %d: %s", path, env.RetCode, env.RetMsg)
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return exchange.Protocolf("GET %s: decode result: %v", path, err)
	}
	return nil
}
