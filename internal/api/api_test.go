package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"crypto-screenerv1/internal/cache"
	"crypto-screenerv1/internal/chart"
	"crypto-screenerv1/internal/model"
	"crypto-screenerv1/internal/notification"
	"crypto-screenerv1/internal/settings"
	"crypto-screenerv1/internal/store/sqlite"
	"crypto-screenerv1/internal/timeutil"
)

type testAPI struct {
	srv   *httptest.Server
	store *sqlite.Store
	cache *cache.Cache
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	c := cache.New(0)
	sm := settings.NewManager(store, settings.Settings{
		CheckIntervalSeconds: 60,
		CooldownMinutes:      15,
		ParseSpot:            true,
		ParseFutures:         true,
	})
	srv := httptest.NewServer(NewRouter(Deps{
		Store:    store,
		Cache:    c,
		Hub:      chart.NewHub(),
		Notifier: notification.NewLogNotifier(),
		Settings: sm,
	}))
	t.Cleanup(srv.Close)
	return &testAPI{srv: srv, store: store, cache: c}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, a.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func validPriceChangeBody(name string) map[string]any {
	return map[string]any{
		"name":    name,
		"type":    "price_change",
		"enabled": true,
		"config": map[string]any{
			"market":                   "spot",
			"interval_minutes":         15,
			"min_price_change_percent": 5,
			"direction":                "up",
		},
	}
}

func TestFilterCRUDOverHTTP(t *testing.T) {
	a := newTestAPI(t)

	// Create
	resp := a.do(t, http.MethodPost, "/api/filters", validPriceChangeBody("pump"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var created model.Filter
	decodeInto(t, resp, &created)
	if created.ID == 0 || created.Name != "pump" || !created.Enabled {
		t.Fatalf("created = %+v", created)
	}

	// List
	resp = a.do(t, http.MethodGet, "/api/filters", nil)
	var list []model.Filter
	decodeInto(t, resp, &list)
	if len(list) != 1 {
		t.Fatalf("list len = %d", len(list))
	}

	// Toggle
	resp = a.do(t, http.MethodPatch, fmt.Sprintf("/api/filters/%d/toggle", created.ID), nil)
	var toggled model.Filter
	decodeInto(t, resp, &toggled)
	if toggled.Enabled {
		t.Fatal("toggle did not disable the filter")
	}

	// Clone
	resp = a.do(t, http.MethodPost, fmt.Sprintf("/api/filters/%d/clone", created.ID), nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("clone status = %d", resp.StatusCode)
	}
	var clone model.Filter
	decodeInto(t, resp, &clone)
	if clone.Name != "pump (copy)" || clone.ID == created.ID {
		t.Fatalf("clone = %+v", clone)
	}

	// Update
	body := validPriceChangeBody("pump v2")
	resp = a.do(t, http.MethodPut, fmt.Sprintf("/api/filters/%d", created.ID), body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Delete, then 404 on fetch
	resp = a.do(t, http.MethodDelete, fmt.Sprintf("/api/filters/%d", created.ID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = a.do(t, http.MethodGet, fmt.Sprintf("/api/filters/%d", created.ID), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("fetch after delete status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCreateFilterRejectsBadConfig(t *testing.T) {
	a := newTestAPI(t)

	body := validPriceChangeBody("bad")
	body["config"].(map[string]any)["interval_minutes"] = 7
	resp := a.do(t, http.MethodPost, "/api/filters", body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var e map[string]string
	decodeInto(t, resp, &e)
	if e["error"] == "" {
		t.Fatal("error body missing field detail")
	}

	body = validPriceChangeBody("")
	resp = a.do(t, http.MethodPost, "/api/filters", body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty name status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCandlesAggregationAndCacheWarm(t *testing.T) {
	a := newTestAPI(t)
	ctx := context.Background()

	base := timeutil.IntervalOf(timeutil.CurrentMinute()-1200, 5)
	var seed []model.Candle
	for i := 0; i < 10; i++ {
		seed = append(seed, model.Candle{
			Symbol: "BTC/USDT", Market: model.MarketSpot,
			Timestamp: base + int64(i)*60,
			Open:      float64(100 + i), High: float64(110 + i),
			Low: float64(90 + i), Close: float64(105 + i),
			Volume: 1000,
		})
	}
	if err := a.store.SaveCandles(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	resp := a.do(t, http.MethodGet, "/api/candles?symbol=BTC/USDT&market=spot&timeframe=5m", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body candlesResponse
	decodeInto(t, resp, &body)

	if len(body.Candles) != 2 {
		t.Fatalf("aggregated to %d buckets, want 2", len(body.Candles))
	}
	first := body.Candles[0]
	if first.Timestamp != base || first.Open != 100 || first.Close != 109 || first.Volume != 5000 {
		t.Fatalf("first bucket = %+v", first)
	}
	if first.High != 114 || first.Low != 90 {
		t.Fatalf("first bucket extremes = %+v", first)
	}

	// The cold read must have warmed the cache.
	if cached := a.cache.Candles("BTC/USDT", model.MarketSpot); len(cached) != 10 {
		t.Fatalf("cache warmed with %d candles, want 10", len(cached))
	}

	resp = a.do(t, http.MethodGet, "/api/candles?symbol=BTC/USDT&market=spot&timeframe=2h", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad timeframe status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestTriggersEndpointFiltersBySymbol(t *testing.T) {
	a := newTestAPI(t)
	ctx := context.Background()

	now := timeutil.Now()
	for i, sym := range []string{"BTC/USDT", "ETH/USDT", "BTC/USDT"} {
		tr := model.Trigger{
			FilterID: 1, FilterName: "pump", FilterType: model.FilterPriceChange,
			Symbol: sym, Market: model.MarketSpot, TriggeredAt: now - int64(i*60),
		}
		if err := a.store.SaveTrigger(ctx, &tr); err != nil {
			t.Fatalf("seed trigger: %v", err)
		}
	}

	resp := a.do(t, http.MethodGet, "/api/triggers?symbol=BTC/USDT", nil)
	var triggers []model.Trigger
	decodeInto(t, resp, &triggers)
	if len(triggers) != 2 {
		t.Fatalf("got %d triggers, want 2", len(triggers))
	}
	if triggers[0].TriggeredAt < triggers[1].TriggeredAt {
		t.Fatal("triggers not newest-first")
	}

	resp = a.do(t, http.MethodGet, "/api/triggers?market=weird", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad market status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	resp = a.do(t, http.MethodGet, "/api/triggers/stats", nil)
	var stats sqlite.TriggerStats
	decodeInto(t, resp, &stats)
	if stats.Today < 1 || stats.Month != 3 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	a := newTestAPI(t)

	resp := a.do(t, http.MethodGet, "/api/settings", nil)
	var got settingsResponse
	decodeInto(t, resp, &got)
	if got.CheckIntervalSeconds != 60 || got.TelegramConfigured {
		t.Fatalf("defaults = %+v", got)
	}

	resp = a.do(t, http.MethodPut, "/api/settings", map[string]any{"cooldown_minutes": 0})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid cooldown status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	resp = a.do(t, http.MethodPut, "/api/settings", map[string]any{
		"cooldown_minutes": 30, "parse_futures": false,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d", resp.StatusCode)
	}
	decodeInto(t, resp, &got)
	if got.CooldownMinutes != 30 || got.ParseFutures {
		t.Fatalf("applied = %+v", got)
	}
}

func TestSymbolsEndpoint(t *testing.T) {
	a := newTestAPI(t)
	ctx := context.Background()

	err := a.store.SaveTickers(ctx, []model.Ticker{
		{Symbol: "BTC/USDT", Market: model.MarketSpot, LastPrice: 65000, Volume24h: 9e9, UpdatedAt: timeutil.Now()},
		{Symbol: "ETH/USDT", Market: model.MarketSpot, LastPrice: 3000, Volume24h: 4e9, UpdatedAt: timeutil.Now()},
		{Symbol: "BTC/USDT:USDT", Market: model.MarketFutures, LastPrice: 65010, Volume24h: 2e10, UpdatedAt: timeutil.Now()},
	})
	if err != nil {
		t.Fatalf("seed tickers: %v", err)
	}

	resp := a.do(t, http.MethodGet, "/api/symbols", nil)
	var body symbolsResponse
	decodeInto(t, resp, &body)
	if len(body.Spot) != 2 || body.Spot[0] != "BTC/USDT" {
		t.Fatalf("spot = %v", body.Spot)
	}
	if len(body.Futures) != 1 || body.Futures[0] != "BTC/USDT:USDT" {
		t.Fatalf("futures = %v", body.Futures)
	}
}

func TestHealthEndpoint(t *testing.T) {
	a := newTestAPI(t)
	resp := a.do(t, http.MethodGet, "/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]string
	decodeInto(t, resp, &body)
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}
