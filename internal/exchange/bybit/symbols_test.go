package bybit

import (
	"testing"

	"crypto-screenerv1/internal/model"
)

func TestToExchange(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"BTC/USDT", "BTCUSDT"},
		{"BTC/USDT:USDT", "BTCUSDT"},
		{"1000PEPE/USDT:USDT", "1000PEPEUSDT"},
	}
	for _, tc := range cases {
		if got := ToExchange(tc.in); got != tc.want {
			t.Errorf("ToExchange(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFromExchange(t *testing.T) {
	if got := FromExchange("BTCUSDT", model.MarketSpot); got != "BTC/USDT" {
		t.Errorf("spot: got %q", got)
	}
	if got := FromExchange("ETHUSDT", model.MarketFutures); got != "ETH/USDT:USDT" {
		t.Errorf("futures: got %q", got)
	}
	if got := FromExchange("BTCUSDC", model.MarketSpot); got != "" {
		t.Errorf("non-USDT quote should map to empty, got %q", got)
	}
	if got := FromExchange("USDT", model.MarketSpot); got != "" {
		t.Errorf("bare quote coin should map to empty, got %q", got)
	}
}

func TestRoundTrip(t *testing.T) {
	for _, sym := range []string{"SOL/USDT", "SOL/USDT:USDT"} {
		market := model.MarketSpot
		if sym == "SOL/USDT:USDT" {
			market = model.MarketFutures
		}
		if got := FromExchange(ToExchange(sym), market); got != sym {
			t.Errorf("round trip %q via %s = %q", sym, market, got)
		}
	}
}

func TestTradeURL(t *testing.T) {
	if got := TradeURL("BTC/USDT", model.MarketSpot); got != "https://www.bybit.com/trade/spot/BTCUSDT" {
		t.Errorf("spot URL = %q", got)
	}
	if got := TradeURL("BTC/USDT:USDT", model.MarketFutures); got != "https://www.bybit.com/trade/usdt/BTCUSDT" {
		t.Errorf("futures URL = %q", got)
	}
}
