// Package filters implements the per-minute evaluation engine: active
// filter lookup, the price_change and volume_spike predicates, cooldown
// gating and trigger emission through an injected sink.
package filters

import (
	"context"
	"log"

	"crypto-screenerv1/internal/model"
	"crypto-screenerv1/internal/timeutil"
)

// Store is the read surface the engine needs. Implemented by the sqlite
// store.
type Store interface {
	Candles(ctx context.Context, symbol string, market model.Market, windowMinutes int) ([]model.Candle, error)
	Ticker(ctx context.Context, symbol string, market model.Market) (*model.Ticker, error)
	CheckCooldown(ctx context.Context, filterID int64, symbol string, market model.Market, cooldownMinutes int, now int64) (bool, error)
}

// TriggerSink receives matches. The implementation wires persistence,
// cache marks, chart broadcast and notification behind one call; Emit
// must persist before scheduling user-visible side effects.
type TriggerSink interface {
	Emit(ctx context.Context, t *model.Trigger) error
}

// URLFunc builds the exchange trading-page URL for a pair.
type URLFunc func(symbol string, market model.Market) string

// Engine evaluates filters for one symbol at one closed minute. Stateless
// apart from its dependencies; safe for concurrent use across symbols.
type Engine struct {
	store    Store
	sink     TriggerSink
	urlFor   URLFunc
	cooldown func() int // minutes; read per evaluation so settings updates apply
}

// New creates an engine.
func New(store Store, sink TriggerSink, urlFor URLFunc, cooldown func() int) *Engine {
	return &Engine{store: store, sink: sink, urlFor: urlFor, cooldown: cooldown}
}

// EvaluateSymbol runs every given filter against one (symbol, market) at
// one closed minute; windows that do not reach closedMinute are skipped
// as inconclusive (0 leaves the window unbounded). Called once per symbol
// per evaluation tick by the scheduler fan-out; the filter list is loaded
// once per tick by the caller. Errors are recovered locally so sibling
// evaluations continue.
func (e *Engine) EvaluateSymbol(ctx context.Context, active []model.Filter, symbol string, market model.Market, closedMinute int64) {
	now := timeutil.Now()
	for i := range active {
		f := &active[i]
		if !f.Enabled {
			continue
		}
		if err := e.evaluateFilter(ctx, f, symbol, market, closedMinute, now); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[filters] filter %d (%s) on %s %s: %v", f.ID, f.Name, symbol, market, err)
		}
	}
}

func (e *Engine) evaluateFilter(ctx context.Context, f *model.Filter, symbol string, market model.Market, closedMinute, now int64) error {
	var payload *model.TriggerPayload
	var err error

	switch f.Type {
	case model.FilterPriceChange:
		var cfg *model.PriceChangeConfig
		if cfg, err = f.PriceChange(); err != nil {
			return err
		}
		if cfg.Market != market || cfg.Excludes(symbol) {
			return nil
		}
		if ok, cerr := e.inCooldown(ctx, f.ID, symbol, market, now); cerr != nil || ok {
			return cerr
		}
		payload, err = e.evalPriceChange(ctx, cfg, symbol, market, closedMinute)

	case model.FilterVolumeSpike:
		var cfg *model.VolumeSpikeConfig
		if cfg, err = f.VolumeSpike(); err != nil {
			return err
		}
		if cfg.Market != market || cfg.Excludes(symbol) {
			return nil
		}
		if ok, cerr := e.inCooldown(ctx, f.ID, symbol, market, now); cerr != nil || ok {
			return cerr
		}
		payload, err = e.evalVolumeSpike(ctx, cfg, symbol, market, closedMinute)

	default:
		log.Printf("[filters] skipping filter %d with unknown type %q", f.ID, f.Type)
		return nil
	}
	if err != nil || payload == nil {
		return err
	}

	payload.URL = e.urlFor(symbol, market)
	trigger := &model.Trigger{
		FilterID:    f.ID,
		FilterName:  f.Name,
		FilterType:  f.Type,
		Symbol:      symbol,
		Market:      market,
		TriggeredAt: now,
		Data:        *payload,
	}
	return e.sink.Emit(ctx, trigger)
}

// inCooldown returns true when the (filter, symbol) pair must stay quiet.
func (e *Engine) inCooldown(ctx context.Context, filterID int64, symbol string, market model.Market, now int64) (bool, error) {
	ok, err := e.store.CheckCooldown(ctx, filterID, symbol, market, e.cooldown(), now)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// priceChange computes the percentage move from the first candle's open
// to the last candle's close. Returns false on a non-positive start price.
func priceChange(window []model.Candle) (change, from, to float64, ok bool) {
	from = window[0].Open
	to = window[len(window)-1].Close
	if from <= 0 {
		return 0, 0, 0, false
	}
	return (to - from) / from * 100, from, to, true
}

// directionPass applies a direction constraint to a signed change.
// "any"/"all" both mean magnitude-only.
func directionPass(direction string, change, minPercent float64) bool {
	switch direction {
	case "up":
		return change >= minPercent
	case "down":
		return change <= -minPercent
	default:
		return change >= minPercent || -change >= minPercent
	}
}

func sumVolume(candles []model.Candle) float64 {
	var sum float64
	for i := range candles {
		sum += candles[i].Volume
	}
	return sum
}

// windowCurrent reports whether the window reaches the evaluated minute.
// closedMinute 0 skips the check. A window that stops short means the
// pair has a data gap; evaluating it would compare stale prices.
func windowCurrent(window []model.Candle, closedMinute int64) bool {
	if closedMinute == 0 {
		return true
	}
	return window[len(window)-1].Timestamp >= closedMinute
}
