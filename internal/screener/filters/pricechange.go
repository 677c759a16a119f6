package filters

import (
	"context"

	"crypto-screenerv1/internal/model"
)

// evalPriceChange runs the price_change predicate. Returns nil when the
// filter does not fire; a short or stale window is a silent skip, not an
// error.
func (e *Engine) evalPriceChange(ctx context.Context, cfg *model.PriceChangeConfig, symbol string, market model.Market, closedMinute int64) (*model.TriggerPayload, error) {
	window, err := e.store.Candles(ctx, symbol, market, cfg.IntervalMinutes)
	if err != nil {
		return nil, err
	}
	if len(window) < cfg.IntervalMinutes || !windowCurrent(window, closedMinute) {
		return nil, nil // inconclusive
	}

	change, from, to, ok := priceChange(window)
	if !ok {
		return nil, nil
	}
	if !directionPass(cfg.Direction, change, cfg.MinPriceChangePercent) {
		return nil, nil
	}

	volumePeriod := sumVolume(window)
	if cfg.MinVolumePeriod > 0 && volumePeriod < cfg.MinVolumePeriod {
		return nil, nil
	}

	var volume24h *float64
	if cfg.MinVolume24h > 0 {
		ticker, err := e.store.Ticker(ctx, symbol, market)
		if err != nil {
			return nil, err
		}
		if ticker == nil {
			return nil, nil // no rollup yet, cannot verify
		}
		if ticker.Volume24h < cfg.MinVolume24h {
			return nil, nil
		}
		if cfg.MaxVolume24h != nil && ticker.Volume24h >= *cfg.MaxVolume24h {
			return nil, nil
		}
		volume24h = model.Float(ticker.Volume24h)
	}

	return &model.TriggerPayload{
		PriceChangePercent: model.Float(change),
		PriceFrom:          model.Float(from),
		PriceTo:            model.Float(to),
		VolumePeriod:       model.Float(volumePeriod),
		Volume24h:          volume24h,
		FirstCandleTS:      model.Int64(window[0].Timestamp),
		LastCandleTS:       model.Int64(window[len(window)-1].Timestamp),
	}, nil
}
