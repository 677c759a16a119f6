package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"crypto-screenerv1/internal/model"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func minuteCandle(symbol string, market model.Market, ts int64, open, close, volume float64) model.Candle {
	high, low := open, close
	if close > open {
		high = close
		low = open
	}
	return model.Candle{
		Symbol: symbol, Market: market, Timestamp: ts,
		Open: open, High: high, Low: low, Close: close, Volume: volume,
	}
}

func TestSaveCandleIdempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	c := minuteCandle("BTC/USDT", model.MarketSpot, 1700000040, 100, 101, 5000)

	if err := s.SaveCandle(ctx, &c); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveCandle(ctx, &c); err != nil {
		t.Fatalf("re-save: %v", err)
	}

	got, err := s.Candles(ctx, "BTC/USDT", model.MarketSpot, 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d rows, want 1 (upsert dedup)", len(got))
	}
	if got[0] != c {
		t.Fatalf("round trip mismatch: %+v != %+v", got[0], c)
	}
}

func TestCandlesWindowOrdering(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := int64(1700000000) - 1700000000%60

	var batch []model.Candle
	for i := 0; i < 20; i++ {
		batch = append(batch, minuteCandle("ETH/USDT", model.MarketSpot, base+int64(i)*60, 100, 101, 10))
	}
	if err := s.SaveCandles(ctx, batch); err != nil {
		t.Fatalf("batch save: %v", err)
	}

	got, err := s.Candles(ctx, "ETH/USDT", model.MarketSpot, 5)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("got %d rows, want 5", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp <= got[i-1].Timestamp {
			t.Fatal("window not ascending")
		}
	}
	if got[4].Timestamp != base+19*60 {
		t.Fatal("window should end at the newest candle")
	}

	last, err := s.LastCandleTS(ctx, "ETH/USDT", model.MarketSpot)
	if err != nil {
		t.Fatalf("last ts: %v", err)
	}
	if last != base+19*60 {
		t.Fatalf("LastCandleTS = %d, want %d", last, base+19*60)
	}
	if last, _ := s.LastCandleTS(ctx, "NOPE/USDT", model.MarketSpot); last != 0 {
		t.Fatalf("missing pair should give 0, got %d", last)
	}
}

func TestTickerUpsert(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	tk := model.Ticker{Symbol: "SOL/USDT", Market: model.MarketSpot, LastPrice: 150, Volume24h: 1e8, UpdatedAt: 1700000000}
	if err := s.SaveTicker(ctx, &tk); err != nil {
		t.Fatalf("save: %v", err)
	}
	tk.LastPrice = 151
	if err := s.SaveTicker(ctx, &tk); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.Ticker(ctx, "SOL/USDT", model.MarketSpot)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got == nil || got.LastPrice != 151 {
		t.Fatalf("upsert not applied: %+v", got)
	}

	missing, err := s.Ticker(ctx, "DOGE/USDT", model.MarketSpot)
	if err != nil || missing != nil {
		t.Fatalf("missing ticker should be (nil, nil), got (%v, %v)", missing, err)
	}
}

func TestFilterCRUD(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	cfg, _ := json.Marshal(model.PriceChangeConfig{Market: model.MarketSpot, IntervalMinutes: 15, Direction: "up", MinPriceChangePercent: 5})
	f := model.Filter{Name: "pump 15m", Type: model.FilterPriceChange, Enabled: true, Config: cfg}
	if err := s.CreateFilter(ctx, &f); err != nil {
		t.Fatalf("create: %v", err)
	}
	if f.ID == 0 {
		t.Fatal("id not assigned")
	}

	f.Name = "pump 15m spot"
	if err := s.UpdateFilter(ctx, &f); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := s.SetFilterEnabled(ctx, f.ID, false); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	got, err := s.Filter(ctx, f.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "pump 15m spot" || got.Enabled {
		t.Fatalf("updates not applied: %+v", got)
	}

	active, err := s.ActiveFilters(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 0 {
		t.Fatal("disabled filter listed as active")
	}

	if err := s.DeleteFilter(ctx, f.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Filter(ctx, f.ID); err != sql.ErrNoRows {
		t.Fatalf("expected ErrNoRows after delete, got %v", err)
	}
	if err := s.DeleteFilter(ctx, f.ID); err != sql.ErrNoRows {
		t.Fatalf("double delete should be ErrNoRows, got %v", err)
	}
}

func newTrigger(filterID int64, symbol string, at int64) model.Trigger {
	return model.Trigger{
		FilterID:    filterID,
		FilterName:  "f",
		FilterType:  model.FilterPriceChange,
		Symbol:      symbol,
		Market:      model.MarketSpot,
		TriggeredAt: at,
		Data: model.TriggerPayload{
			PriceChangePercent: model.Float(7.5),
			URL:                "https://www.bybit.com/trade/spot/SOL/USDT",
		},
	}
}

func TestCooldownBoundary(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	const cooldown = 15
	at := int64(1700000000)

	tr := newTrigger(1, "SOL/USDT", at)
	if err := s.SaveTrigger(ctx, &tr); err != nil {
		t.Fatalf("save trigger: %v", err)
	}
	if tr.ID == 0 {
		t.Fatal("trigger id not assigned")
	}

	// One second before the boundary: suppressed.
	ok, err := s.CheckCooldown(ctx, 1, "SOL/USDT", model.MarketSpot, cooldown, at+cooldown*60-1)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if ok {
		t.Fatal("attempt inside cooldown should be suppressed")
	}

	// Exactly at the boundary: allowed.
	ok, err = s.CheckCooldown(ctx, 1, "SOL/USDT", model.MarketSpot, cooldown, at+cooldown*60)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !ok {
		t.Fatal("attempt at the exact boundary should be allowed")
	}

	// Other filter or other symbol: never suppressed.
	if ok, _ := s.CheckCooldown(ctx, 2, "SOL/USDT", model.MarketSpot, cooldown, at+60); !ok {
		t.Fatal("other filter must not share cooldown")
	}
	if ok, _ := s.CheckCooldown(ctx, 1, "ETH/USDT", model.MarketSpot, cooldown, at+60); !ok {
		t.Fatal("other symbol must not share cooldown")
	}
}

func TestListTriggersAndStats(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	base := now.Add(-time.Hour).Unix()

	for i := 0; i < 5; i++ {
		tr := newTrigger(1, "SOL/USDT", base+int64(i)*60)
		if err := s.SaveTrigger(ctx, &tr); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	tr := newTrigger(2, "ETH/USDT", base)
	if err := s.SaveTrigger(ctx, &tr); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.ListTriggers(ctx, TriggerQuery{FilterID: 1, Limit: 3})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d rows, want 3", len(got))
	}
	if got[0].TriggeredAt < got[1].TriggeredAt {
		t.Fatal("list should be newest-first")
	}
	if got[0].Data.PriceChangePercent == nil || *got[0].Data.PriceChangePercent != 7.5 {
		t.Fatalf("payload not round-tripped: %+v", got[0].Data)
	}

	bySymbol, err := s.ListTriggers(ctx, TriggerQuery{Symbol: "ETH/USDT"})
	if err != nil || len(bySymbol) != 1 {
		t.Fatalf("symbol filter: %v rows=%d", err, len(bySymbol))
	}

	st, err := s.Stats(ctx, now)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Week != 6 || st.Month != 6 {
		t.Fatalf("week/month = %d/%d, want 6/6", st.Week, st.Month)
	}
	if len(st.BySymbol) != 2 || st.BySymbol[0].Key != "SOL/USDT" || st.BySymbol[0].Count != 5 {
		t.Fatalf("by_symbol = %+v", st.BySymbol)
	}
}

func TestSweeps(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().Unix()

	old := minuteCandle("BTC/USDT", model.MarketSpot, now-now%60-4*3600, 100, 101, 10)
	fresh := minuteCandle("BTC/USDT", model.MarketSpot, now-now%60-60, 100, 101, 10)
	if err := s.SaveCandles(ctx, []model.Candle{old, fresh}); err != nil {
		t.Fatalf("save: %v", err)
	}

	n, err := s.SweepCandles(ctx, 3*time.Hour)
	if err != nil {
		t.Fatalf("sweep candles: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept %d candles, want 1", n)
	}

	oldTrig := newTrigger(1, "BTC/USDT", now-40*24*3600)
	freshTrig := newTrigger(1, "BTC/USDT", now-3600)
	if err := s.SaveTrigger(ctx, &oldTrig); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveTrigger(ctx, &freshTrig); err != nil {
		t.Fatal(err)
	}
	n, err = s.SweepTriggers(ctx, 30)
	if err != nil {
		t.Fatalf("sweep triggers: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept %d triggers, want 1", n)
	}
}

func TestSettings(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if v, err := s.Setting(ctx, "cooldown_minutes"); err != nil || v != "" {
		t.Fatalf("missing setting should be empty, got (%q, %v)", v, err)
	}
	if err := s.SetSetting(ctx, "cooldown_minutes", "30"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.SetSetting(ctx, "cooldown_minutes", "45"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if v, _ := s.Setting(ctx, "cooldown_minutes"); v != "45" {
		t.Fatalf("setting = %q, want 45", v)
	}
}
