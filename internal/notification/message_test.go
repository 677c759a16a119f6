package notification

import (
	"strings"
	"testing"
	"time"

	"crypto-screenerv1/internal/model"
)

func TestFormatPriceChangeTrigger(t *testing.T) {
	first := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC).Unix()
	last := time.Date(2026, 3, 1, 9, 14, 0, 0, time.UTC).Unix()

	tr := &model.Trigger{
		FilterName: "pump <15m>",
		FilterType: model.FilterPriceChange,
		Symbol:     "SOL/USDT",
		Market:     model.MarketSpot,
		Data: model.TriggerPayload{
			PriceChangePercent: model.Float(7.5),
			PriceFrom:          model.Float(100),
			PriceTo:            model.Float(107.5),
			VolumePeriod:       model.Float(300000),
			Volume24h:          model.Float(1.2e9),
			URL:                "https://www.bybit.com/trade/spot/SOL/USDT",
			FirstCandleTS:      model.Int64(first),
			LastCandleTS:       model.Int64(last),
		},
	}

	msg := FormatTrigger(tr)
	for _, want := range []string{
		"Filter Triggered!",
		"pump &lt;15m&gt;", // HTML-escaped name
		"SPOT",
		"SOL/USDT",
		"+7.50%",
		"100.0000 → 107.5000",
		"$300.0K",
		"$1.20B",
		"09:00 - 09:14 UTC",
		`<a href="https://www.bybit.com/trade/spot/SOL/USDT">`,
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestFormatVolumeSpikeTrigger(t *testing.T) {
	tr := &model.Trigger{
		FilterName: "spike",
		FilterType: model.FilterVolumeSpike,
		Symbol:     "PEPE/USDT:USDT",
		Market:     model.MarketFutures,
		Data: model.TriggerPayload{
			SpikeCoefficient:   model.Float(200),
			AverageVolume:      model.Float(1000),
			VolumePeriod:       model.Float(200000),
			PriceChangePercent: model.Float(-0.8),
			URL:                "https://www.bybit.com/trade/usdt/PEPEUSDT",
		},
	}

	msg := FormatTrigger(tr)
	for _, want := range []string{
		"FUTURES",
		"200.00x",
		"$1.0K", // avg volume/min
		"-0.80%",
		"$200.0K",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
	if strings.Contains(msg, "Price:</b>") {
		t.Error("spike message should not carry a price range block")
	}
}

func TestFormatPriceSmallValues(t *testing.T) {
	if got := formatPrice(0.00001234); got != "0.00001234" {
		t.Errorf("sub-cent price = %q", got)
	}
	if got := formatPrice(65123.4); got != "65123.40" {
		t.Errorf("large price = %q", got)
	}
	if got := formatVolume(420); got != "$420" {
		t.Errorf("small volume = %q", got)
	}
}
