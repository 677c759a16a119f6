package bybit

import (
	"strings"

	"crypto-screenerv1/internal/model"
)

// Symbol forms. Internally the screener carries ccxt-style symbols:
// "BTC/USDT" for spot, "BTC/USDT:USDT" for USDT-perpetual futures.
// Bybit's wire form is the bare concatenation "BTCUSDT" for both; the
// market disambiguates. Conversion happens only inside this package.

const quoteCoin = "USDT"

// ToExchange converts an internal symbol to Bybit's wire form.
func ToExchange(symbol string) string {
	s := strings.TrimSuffix(symbol, ":"+quoteCoin)
	return strings.ReplaceAll(s, "/", "")
}

// FromExchange converts a Bybit wire symbol to the internal form for the
// given market. Returns "" for non-USDT-quoted symbols.
func FromExchange(sym string, market model.Market) string {
	base := strings.TrimSuffix(sym, quoteCoin)
	if base == sym || base == "" {
		return ""
	}
	if market == model.MarketFutures {
		return base + "/" + quoteCoin + ":" + quoteCoin
	}
	return base + "/" + quoteCoin
}

// TradeURL returns the canonical Bybit trading-page URL for a pair.
func TradeURL(symbol string, market model.Market) string {
	if market == model.MarketFutures {
		return "https://www.bybit.com/trade/usdt/" + ToExchange(symbol)
	}
	return "https://www.bybit.com/trade/spot/" + ToExchange(symbol)
}

func category(market model.Market) string {
	if market == model.MarketFutures {
		return "linear"
	}
	return "spot"
}
