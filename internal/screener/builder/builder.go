// Package builder reconstructs minute candles from irregular ticker
// frames. One state machine per (symbol, market) pair; the watcher feeds
// Update and the minute fan-out collects via Finalize.
package builder

import (
	"sync"

	"crypto-screenerv1/internal/model"
	"crypto-screenerv1/internal/timeutil"
)

// state is the per-pair machine: the candle being built for the open
// minute plus the candle of the minute that just rolled over.
type state struct {
	mu            sync.Mutex
	current       *model.Candle
	previous      *model.Candle
	currentMinute int64
}

// Builder owns the per-pair states. Safe for concurrent use; each pair
// has its own lock, the map itself has another.
type Builder struct {
	mu     sync.Mutex
	states map[string]*state
}

// New creates an empty builder.
func New() *Builder {
	return &Builder{states: make(map[string]*state)}
}

func (b *Builder) pair(symbol string, market model.Market) *state {
	key := model.PairKey(symbol, market)
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.states[key]
	if !ok {
		st = &state{}
		b.states[key] = st
	}
	return st
}

// Update folds one ticker frame into the pair's open-minute candle. On a
// minute rollover the finished candle moves to the previous slot, where
// Finalize picks it up. Volume stays 0 on the stream path; the REST
// backfill overwrites stored candles with exchange-reported quote volume.
func (b *Builder) Update(t model.Ticker) {
	st := b.pair(t.Symbol, t.Market)
	st.mu.Lock()
	defer st.mu.Unlock()

	m := timeutil.MinuteOf(t.UpdatedAt)
	if st.current == nil || m != st.currentMinute {
		st.previous = st.current
		st.current = &model.Candle{
			Symbol:    t.Symbol,
			Market:    t.Market,
			Timestamp: m,
			Open:      t.LastPrice,
			High:      t.LastPrice,
			Low:       t.LastPrice,
			Close:     t.LastPrice,
		}
		st.currentMinute = m
	}

	c := st.current
	if t.LastPrice > c.High {
		c.High = t.LastPrice
	}
	if t.LastPrice < c.Low {
		c.Low = t.LastPrice
	}
	c.Close = t.LastPrice
	c.TickCount++
}

// Finalize returns the pair's candle for the given closed minute, or nil
// when the builder has nothing for it. Prefers the previous slot: the
// scheduler fires at minute+10s, by which time the builder has usually
// rolled over. Falls back to current when invoked inside the same minute.
// Idempotent: a second call for the same minute returns the same candle
// value or nil, never a different one.
func (b *Builder) Finalize(symbol string, market model.Market, minute int64) *model.Candle {
	st := b.pair(symbol, market)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.previous != nil && st.previous.Timestamp == minute {
		c := *st.previous
		return &c
	}
	if st.current != nil && st.current.Timestamp == minute {
		c := *st.current
		return &c
	}
	return nil
}

// LastMinute returns the minute of the pair's open candle, or 0 when the
// pair has seen no frames. The watcher uses it for gap detection.
func (b *Builder) LastMinute(symbol string, market model.Market) int64 {
	st := b.pair(symbol, market)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.currentMinute
}

// Pairs returns the keys of all pairs with builder state.
func (b *Builder) Pairs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.states))
	for k := range b.states {
		out = append(out, k)
	}
	return out
}
