package filters

import (
	"context"

	"crypto-screenerv1/internal/model"
)

// evalVolumeSpike runs the volume_spike predicate: the summed volume of
// the short window against the per-minute average of the preceding
// history. Returns nil when the filter does not fire.
func (e *Engine) evalVolumeSpike(ctx context.Context, cfg *model.VolumeSpikeConfig, symbol string, market model.Market, closedMinute int64) (*model.TriggerPayload, error) {
	window, err := e.store.Candles(ctx, symbol, market, cfg.BasePeriodMinutes)
	if err != nil {
		return nil, err
	}
	if len(window) < cfg.BasePeriodMinutes || !windowCurrent(window, closedMinute) {
		return nil, nil // inconclusive
	}

	split := len(window) - cfg.ShortPeriodMinutes
	historical := window[:split]
	current := window[split:]
	if len(historical) == 0 {
		return nil, nil
	}

	currentVolume := sumVolume(current)
	avgVolume := sumVolume(historical) / float64(len(historical))
	if avgVolume <= 0 {
		return nil, nil
	}
	spike := currentVolume / avgVolume
	if spike < cfg.SpikeCoefficient {
		return nil, nil
	}

	// Price guard over the short sub-window.
	change, _, _, ok := priceChange(current)
	if !ok {
		return nil, nil
	}
	if !directionPass(cfg.PriceDirection, change, cfg.MinPriceChangePercent) {
		return nil, nil
	}

	var volume24h *float64
	if cfg.MinVolume24h > 0 {
		ticker, err := e.store.Ticker(ctx, symbol, market)
		if err != nil {
			return nil, err
		}
		if ticker == nil {
			return nil, nil
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
		SpikeCoefficient:   model.Float(spike),
		AverageVolume:      model.Float(avgVolume),
		VolumePeriod:       model.Float(currentVolume),
		PriceChangePercent: model.Float(change),
		Volume24h:          volume24h,
		FirstCandleTS:      model.Int64(current[0].Timestamp),
		LastCandleTS:       model.Int64(current[len(current)-1].Timestamp),
	}, nil
}
