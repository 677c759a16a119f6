package screener

import (
	"context"
	"log"
	"sync"
	"time"

	"crypto-screenerv1/internal/chart"
	"crypto-screenerv1/internal/model"
	"crypto-screenerv1/internal/timeutil"
)

// schedule fires once per minute at boundary+CheckDelay, recomputed from
// the wall clock each cycle so sleep drift never accumulates.
func (m *Manager) schedule(ctx context.Context) {
	defer m.wg.Done()

	timer := time.NewTimer(time.Until(timeutil.NextFire(time.Now(), m.d.CheckDelay)))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			m.runMinute(ctx)
			timer.Reset(time.Until(timeutil.NextFire(time.Now(), m.d.CheckDelay)))
		}
	}
}

// runMinute finalizes the just-closed minute for every tracked pair,
// persists and broadcasts the candles, then fans out filter evaluation.
// Persistence strictly precedes evaluation so filters read a window that
// includes the closed minute.
func (m *Manager) runMinute(ctx context.Context) {
	closed := timeutil.LastClosedMinute()
	m.d.Metrics.CloseTicksTotal.Inc()

	if lt := m.lastTick.Load(); lt > 0 && timeutil.Now()-lt > staleAfter {
		m.d.Hub.BroadcastStatus(chart.StatusStale)
	}

	type pair struct {
		symbol string
		market model.Market
	}
	var pairs []pair
	for _, market := range m.enabledMarkets() {
		for _, sym := range m.symbolsFor(market) {
			pairs = append(pairs, pair{symbol: sym, market: market})
		}
	}

	var batch []model.Candle
	for _, p := range pairs {
		if c := m.builder.Finalize(p.symbol, p.market, closed); c != nil {
			batch = append(batch, *c)
		}
	}
	m.persistCandles(ctx, batch)

	// Stream-built candles carry no volume; the REST kline row for the
	// same minute is authoritative and overwrites them.
	for i := range batch {
		m.requestBackfill(batch[i].Symbol, batch[i].Market, volumeRepairCandles)
	}

	m.d.Metrics.CachePairs.Set(float64(m.d.Cache.Pairs()))
	m.d.Metrics.ChartClients.Set(float64(m.d.Hub.ClientCount()))

	// Evaluation runs on its own cadence; candle finalization stays
	// per-minute regardless.
	interval := int64(m.d.Settings.CheckIntervalSeconds())
	if m.lastEvalMinute != 0 && closed-m.lastEvalMinute < interval {
		return
	}
	m.lastEvalMinute = closed

	active, err := m.d.Store.ActiveFilters(ctx)
	if err != nil {
		log.Printf("[screener] loading active filters: %v", err)
		return
	}
	if len(active) == 0 {
		return
	}

	// Pairs only ever see the filters watching their market.
	byMarket := make(map[model.Market][]model.Filter, 2)
	for _, f := range active {
		mk := f.ConfigMarket()
		byMarket[mk] = append(byMarket[mk], f)
	}

	jobs := make(chan pair)
	var wg sync.WaitGroup
	for w := 0; w < evalWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				start := time.Now()
				m.engine.EvaluateSymbol(ctx, byMarket[p.market], p.symbol, p.market, closed)
				m.d.Metrics.EvalDur.Observe(time.Since(start).Seconds())
				m.d.Metrics.EvalTotal.Inc()
			}
		}()
	}
	for _, p := range pairs {
		select {
		case jobs <- p:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return
		}
	}
	close(jobs)
	wg.Wait()
}
