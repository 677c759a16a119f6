// Package screener wires the live pipeline: per-market stream watchers,
// the minute candle builder, history warm-up and gap backfill, the close
// scheduler that persists candles and fans out filter evaluation, and the
// trigger sink behind the filter engine.
package screener

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"crypto-screenerv1/internal/cache"
	"crypto-screenerv1/internal/chart"
	"crypto-screenerv1/internal/exchange"
	"crypto-screenerv1/internal/metrics"
	"crypto-screenerv1/internal/model"
	"crypto-screenerv1/internal/notification"
	"crypto-screenerv1/internal/screener/builder"
	"crypto-screenerv1/internal/screener/filters"
	"crypto-screenerv1/internal/settings"
	"crypto-screenerv1/internal/timeutil"
)

const (
	// warmupCandles is the history depth fetched per pair at startup.
	warmupCandles = 120

	// warmupBatch pairs are fetched concurrently, batches spaced by
	// warmupSpacing to stay under the exchange rate limit.
	warmupBatch   = 10
	warmupSpacing = 500 * time.Millisecond

	// Watcher reconnect policy.
	maxReconnectDelay    = 60 * time.Second
	maxConsecutiveErrors = 5

	// A stream session shorter than this counts as a failed attempt.
	healthySession = time.Minute

	// candleRetention / triggerRetentionDays bound the sqlite tables;
	// swept hourly.
	candleRetention      = 3 * time.Hour
	triggerRetentionDays = 30

	// tickerRefreshInterval re-reads the REST 24h rollups backing the
	// min_volume_24h gates.
	tickerRefreshInterval = 5 * time.Minute

	// tickerFlushInterval batches stream tickers into the store.
	tickerFlushInterval = 30 * time.Second

	// staleAfter without a single tick flips the chart status to stale.
	staleAfter = int64(120)

	// volumeRepairCandles covers the just-closed minute plus the one
	// before it, in case the previous repair raced the kline publish.
	volumeRepairCandles = 2

	evalWorkers = 8
)

// Store is the persistence surface the pipeline needs. Implemented by the
// sqlite store.
type Store interface {
	filters.Store
	SaveCandles(ctx context.Context, candles []model.Candle) error
	SaveTickers(ctx context.Context, tickers []model.Ticker) error
	SaveTrigger(ctx context.Context, t *model.Trigger) error
	SetTriggerNotified(ctx context.Context, id int64, notified bool) error
	ActiveFilters(ctx context.Context) ([]model.Filter, error)
	SweepCandles(ctx context.Context, keep time.Duration) (int64, error)
	SweepTriggers(ctx context.Context, keepDays int) (int64, error)
}

// Deps are the collaborators the manager runs on top of.
type Deps struct {
	Store    Store
	Cache    *cache.Cache
	Hub      *chart.Hub
	Market   exchange.MarketData
	Stream   exchange.TickerStream
	Notifier notification.Notifier
	Settings *settings.Manager
	Metrics  *metrics.Metrics
	Health   *metrics.HealthStatus

	// URLFor builds the exchange trading-page link embedded in triggers.
	URLFor filters.URLFunc

	// CheckDelay offsets the close tick past the minute boundary.
	CheckDelay time.Duration

	// TopSymbols caps tracked pairs per market, ranked by 24h volume.
	TopSymbols int
}

type backfillReq struct {
	symbol string
	market model.Market
	count  int
}

// Manager owns the pipeline goroutines between Start and Stop.
type Manager struct {
	d       Deps
	builder *builder.Builder
	engine  *filters.Engine

	tickCh     chan model.Ticker
	backfillCh chan backfillReq

	mu      sync.Mutex
	symbols map[model.Market][]string

	// Latest stream ticker per pair, flushed to the store in batches.
	tickerMu  sync.Mutex
	tickerBuf map[string]model.Ticker

	lastTick       atomic.Int64
	lastEvalMinute int64 // scheduler goroutine only

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a manager. Start launches the pipeline.
func New(d Deps) *Manager {
	m := &Manager{
		d:          d,
		builder:    builder.New(),
		tickCh:     make(chan model.Ticker, 10000),
		backfillCh: make(chan backfillReq, 1024),
		symbols:    make(map[model.Market][]string),
		tickerBuf:  make(map[string]model.Ticker),
	}
	m.engine = filters.New(d.Store, &triggerSink{m: m}, d.URLFor, d.Settings.CooldownMinutes)
	return m
}

// Start selects the tracked pairs and launches the watchers, warm-up,
// scheduler and maintenance loops. Returns an error only when no market
// yields symbols.
func (m *Manager) Start(ctx context.Context) error {
	m.runCtx, m.cancel = context.WithCancel(ctx)

	if err := m.selectSymbols(m.runCtx); err != nil {
		return err
	}

	m.wg.Add(1)
	go m.consumeTicks(m.runCtx)
	m.wg.Add(1)
	go m.backfillWorker(m.runCtx)

	for _, market := range m.enabledMarkets() {
		if len(m.symbolsFor(market)) == 0 {
			continue
		}
		market := market
		m.wg.Add(1)
		go m.watch(m.runCtx, market)
	}

	m.wg.Add(1)
	go m.warmup(m.runCtx)
	m.wg.Add(1)
	go m.schedule(m.runCtx)
	m.wg.Add(1)
	go m.sweepLoop(m.runCtx)
	m.wg.Add(1)
	go m.refreshTickers(m.runCtx)
	m.wg.Add(1)
	go m.flushTickers(m.runCtx)

	return nil
}

// Stop cancels the pipeline and waits for goroutines to drain, bounded by
// ctx (main gives it 5 seconds).
func (m *Manager) Stop(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// selectSymbols snapshots the top-N pairs per enabled market by 24h quote
// volume. The set is fixed for the run; new listings appear after restart.
func (m *Manager) selectSymbols(ctx context.Context) error {
	total := 0
	for _, market := range m.enabledMarkets() {
		tickers, err := m.d.Market.FetchTickers(ctx, market)
		if err != nil {
			log.Printf("[screener] ticker snapshot for %s failed: %v", market, err)
			continue
		}
		sort.Slice(tickers, func(i, j int) bool {
			return tickers[i].Volume24h > tickers[j].Volume24h
		})
		if m.d.TopSymbols > 0 && len(tickers) > m.d.TopSymbols {
			tickers = tickers[:m.d.TopSymbols]
		}
		if err := m.d.Store.SaveTickers(ctx, tickers); err != nil {
			log.Printf("[screener] persisting tickers for %s: %v", market, err)
		}

		syms := make([]string, len(tickers))
		for i := range tickers {
			syms[i] = tickers[i].Symbol
		}
		m.mu.Lock()
		m.symbols[market] = syms
		m.mu.Unlock()
		total += len(syms)
		log.Printf("[screener] tracking %d %s pairs", len(syms), market)
	}
	if total == 0 {
		return errors.New("screener: no symbols selected on any market")
	}
	m.d.Health.SetPairsTracked(total)
	return nil
}

func (m *Manager) enabledMarkets() []model.Market {
	s := m.d.Settings.Get()
	var out []model.Market
	if s.ParseSpot {
		out = append(out, model.MarketSpot)
	}
	if s.ParseFutures {
		out = append(out, model.MarketFutures)
	}
	return out
}

func (m *Manager) symbolsFor(market model.Market) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.symbols[market]
}

// watch keeps one market's stream alive: reconnect with exponential
// backoff capped at 60s, retire the market after 5 consecutive failed
// sessions.
func (m *Manager) watch(ctx context.Context, market model.Market) {
	defer m.wg.Done()

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		symbols := m.symbolsFor(market)
		start := time.Now()

		// Readiness is signalled by the stream after a successful
		// subscribe; a dead endpoint never flips health or chart status.
		up := false
		err := m.d.Stream.Run(ctx, market, symbols, m.tickCh, func() {
			up = true
			m.d.Health.SetWSConnected(string(market), true)
			m.d.Metrics.WatchersActive.Inc()
			m.d.Hub.BroadcastStatus(chart.StatusLive)
		})

		if up {
			m.d.Metrics.WatchersActive.Dec()
			m.d.Health.SetWSConnected(string(market), false)
		}
		if ctx.Err() != nil {
			return
		}
		if time.Since(start) >= healthySession {
			attempt = 0
		}
		attempt++
		m.d.Metrics.WSReconnects.WithLabelValues(string(market)).Inc()
		log.Printf("[screener] %s stream ended (attempt %d): %v", market, attempt, err)

		if attempt >= maxConsecutiveErrors {
			log.Printf("[screener] retiring %s stream after %d consecutive failures", market, attempt)
			m.d.Hub.BroadcastStatus(chart.StatusOffline)
			return
		}

		m.d.Hub.BroadcastStatus(chart.StatusReconnecting)
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay(attempt)):
		}
	}
}

// reconnectDelay returns min(2^attempt, 60) seconds.
func reconnectDelay(attempt int) time.Duration {
	d := time.Second << uint(attempt)
	if d > maxReconnectDelay || d <= 0 {
		return maxReconnectDelay
	}
	return d
}

// consumeTicks drains the stream channel into the builder and flags
// minute gaps for REST repair.
func (m *Manager) consumeTicks(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-m.tickCh:
			m.d.Metrics.TicksTotal.WithLabelValues(string(t.Market)).Inc()
			m.lastTick.Store(t.UpdatedAt)
			m.d.Health.SetLastTickTime(time.Unix(t.UpdatedAt, 0))

			prev := m.builder.LastMinute(t.Symbol, t.Market)
			m.builder.Update(t)
			if prev > 0 {
				if gap := timeutil.MinuteOf(t.UpdatedAt) - prev; gap > 60 {
					m.requestBackfill(t.Symbol, t.Market, int(gap/60)+1)
				}
			}

			m.tickerMu.Lock()
			m.tickerBuf[t.Key()] = t
			m.tickerMu.Unlock()
		}
	}
}

func (m *Manager) requestBackfill(symbol string, market model.Market, count int) {
	select {
	case m.backfillCh <- backfillReq{symbol: symbol, market: market, count: count}:
	default:
		log.Printf("[screener] backfill queue full, dropping %s %s", symbol, market)
	}
}

// backfillWorker serializes REST gap repair behind a small rate limit.
// Fetched candles overwrite any zero-volume stream candles for the same
// minutes.
func (m *Manager) backfillWorker(ctx context.Context) {
	defer m.wg.Done()
	// Every finalized minute enqueues a volume repair per pair, so the
	// drain rate must cover the tracked set within one minute.
	limiter := rate.NewLimiter(rate.Every(100*time.Millisecond), 10)
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-m.backfillCh:
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			n := req.count
			if n > warmupCandles {
				n = warmupCandles
			}
			m.d.Metrics.BackfillsTotal.Inc()
			candles, err := m.d.Market.FetchOHLCV(ctx, req.symbol, req.market, n)
			if err != nil {
				m.d.Metrics.BackfillErrors.Inc()
				log.Printf("[screener] backfill %s %s: %v", req.symbol, req.market, err)
				continue
			}
			m.persistCandles(ctx, candles)
			m.d.Metrics.BackfillCandles.Add(float64(len(candles)))
		}
	}
}

// warmup loads history for every tracked pair: batches of 10 pairs
// fetched concurrently, batches spaced ~500ms apart.
func (m *Manager) warmup(ctx context.Context) {
	defer m.wg.Done()

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

	limiter := rate.NewLimiter(rate.Every(warmupSpacing), 1)
	done := 0
	for start := 0; start < len(pairs); start += warmupBatch {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		end := start + warmupBatch
		if end > len(pairs) {
			end = len(pairs)
		}

		var wg sync.WaitGroup
		for _, p := range pairs[start:end] {
			p := p
			wg.Add(1)
			go func() {
				defer wg.Done()
				candles, err := m.d.Market.FetchOHLCV(ctx, p.symbol, p.market, warmupCandles)
				if err != nil {
					m.d.Metrics.BackfillErrors.Inc()
					log.Printf("[screener] warmup %s %s: %v", p.symbol, p.market, err)
					return
				}
				if err := m.d.Store.SaveCandles(ctx, candles); err != nil {
					log.Printf("[screener] warmup persist %s %s: %v", p.symbol, p.market, err)
					return
				}
				m.d.Cache.BulkPut(p.symbol, p.market, candles)
				m.d.Metrics.WarmupPairs.Inc()
				m.d.Metrics.BackfillCandles.Add(float64(len(candles)))
			}()
		}
		wg.Wait()
		done = end
	}
	log.Printf("[screener] warmup complete: %d pairs", done)
}

// persistCandles writes a batch through the store, cache and chart hub in
// that order.
func (m *Manager) persistCandles(ctx context.Context, candles []model.Candle) {
	if len(candles) == 0 {
		return
	}
	start := time.Now()
	if err := m.d.Store.SaveCandles(ctx, candles); err != nil {
		log.Printf("[screener] persisting %d candles: %v", len(candles), err)
		return
	}
	m.d.Metrics.SQLiteCommitDur.Observe(time.Since(start).Seconds())
	for i := range candles {
		c := candles[i]
		m.d.Cache.PutCandle(c.Symbol, c.Market, c)
		m.d.Hub.BroadcastCandle(&c)
		m.d.Metrics.CandlesTotal.WithLabelValues(string(c.Market)).Inc()
	}
}

// flushTickers persists the latest stream ticker per pair in one batch
// every 30s, keeping SQLite writes off the tick hot path.
func (m *Manager) flushTickers(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(tickerFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tickerMu.Lock()
			if len(m.tickerBuf) == 0 {
				m.tickerMu.Unlock()
				continue
			}
			batch := make([]model.Ticker, 0, len(m.tickerBuf))
			for _, t := range m.tickerBuf {
				// Deltas may not have carried a 24h turnover yet;
				// never clobber a stored rollup with zero.
				if t.Volume24h <= 0 {
					continue
				}
				batch = append(batch, t)
			}
			m.tickerBuf = make(map[string]model.Ticker)
			m.tickerMu.Unlock()

			if len(batch) == 0 {
				continue
			}
			if err := m.d.Store.SaveTickers(ctx, batch); err != nil {
				log.Printf("[screener] ticker flush (%d pairs): %v", len(batch), err)
			}
		}
	}
}

// refreshTickers re-reads the REST 24h rollups so volume gates see fresh
// numbers between restarts.
func (m *Manager) refreshTickers(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(tickerRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, market := range m.enabledMarkets() {
				tracked := make(map[string]bool)
				for _, sym := range m.symbolsFor(market) {
					tracked[sym] = true
				}
				all, err := m.d.Market.FetchTickers(ctx, market)
				if err != nil {
					log.Printf("[screener] ticker refresh %s: %v", market, err)
					continue
				}
				keep := all[:0]
				for _, t := range all {
					if tracked[t.Symbol] {
						keep = append(keep, t)
					}
				}
				if err := m.d.Store.SaveTickers(ctx, keep); err != nil {
					log.Printf("[screener] ticker refresh persist %s: %v", market, err)
				}
			}
		}
	}
}

// sweepLoop prunes old candles and triggers hourly.
func (m *Manager) sweepLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := m.d.Store.SweepCandles(ctx, candleRetention); err != nil {
				log.Printf("[screener] candle sweep: %v", err)
			} else if n > 0 {
				log.Printf("[screener] swept %d candles older than %v", n, candleRetention)
			}
			if n, err := m.d.Store.SweepTriggers(ctx, triggerRetentionDays); err != nil {
				log.Printf("[screener] trigger sweep: %v", err)
			} else if n > 0 {
				log.Printf("[screener] swept %d triggers older than %dd", n, triggerRetentionDays)
			}
		}
	}
}
