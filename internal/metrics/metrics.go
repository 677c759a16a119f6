// Package metrics exposes Prometheus metrics and the /healthz endpoint
// for the screener on a dedicated listener.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the screener.
type Metrics struct {
	TicksTotal      *prometheus.CounterVec // labels: market
	CandlesTotal    *prometheus.CounterVec // labels: market
	WSReconnects    *prometheus.CounterVec // labels: market
	DroppedTicks    prometheus.Counter
	SQLiteCommitDur prometheus.Histogram

	// Scheduler and evaluation
	CloseTicksTotal prometheus.Counter
	EvalDur         prometheus.Histogram
	EvalTotal       prometheus.Counter
	TriggersTotal   *prometheus.CounterVec // labels: filter_type
	NotifyFailures  prometheus.Counter

	// Gap repair and warm-up
	BackfillsTotal  prometheus.Counter
	BackfillErrors  prometheus.Counter
	BackfillCandles prometheus.Counter
	WarmupPairs     prometheus.Gauge
	WatchersActive  prometheus.Gauge

	// Surfaces
	ChartClients prometheus.Gauge
	CachePairs   prometheus.Gauge
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screener_ticks_total",
			Help: "Total ticker frames received from the exchange stream",
		}, []string{"market"}),
		CandlesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screener_candles_total",
			Help: "Total minute candles finalized and persisted",
		}, []string{"market"}),
		WSReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screener_ws_reconnects_total",
			Help: "Total exchange WebSocket reconnection attempts",
		}, []string{"market"}),
		DroppedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screener_dropped_ticks_total",
			Help: "Ticker frames dropped (channel full)",
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "screener_sqlite_commit_duration_seconds",
			Help:    "SQLite write latency",
			Buckets: prometheus.DefBuckets,
		}),

		CloseTicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screener_close_ticks_total",
			Help: "Minute close ticks emitted by the scheduler",
		}),
		EvalDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "screener_eval_duration_seconds",
			Help:    "Filter evaluation latency per symbol per minute",
			Buckets: prometheus.DefBuckets,
		}),
		EvalTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screener_evaluations_total",
			Help: "Per-symbol filter evaluations run",
		}),
		TriggersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screener_triggers_total",
			Help: "Filter triggers persisted (by filter type)",
		}, []string{"filter_type"}),
		NotifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screener_notify_failures_total",
			Help: "Notification sends that failed",
		}),

		BackfillsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screener_backfills_total",
			Help: "REST gap-backfill requests issued",
		}),
		BackfillErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screener_backfill_errors_total",
			Help: "Gap-backfill and warm-up fetches that failed",
		}),
		BackfillCandles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screener_backfill_candles_total",
			Help: "Candles written by gap backfill and warm-up",
		}),
		WarmupPairs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "screener_warmup_pairs",
			Help: "Pairs whose history warm-up has completed",
		}),
		WatchersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "screener_watchers_active",
			Help: "Stream watcher goroutines currently connected",
		}),

		ChartClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "screener_chart_clients",
			Help: "Connected chart WebSocket clients",
		}),
		CachePairs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "screener_cache_pairs",
			Help: "Pairs tracked by the rolling cache",
		}),
	}

	prometheus.MustRegister(
		m.TicksTotal,
		m.CandlesTotal,
		m.WSReconnects,
		m.DroppedTicks,
		m.SQLiteCommitDur,
		m.CloseTicksTotal,
		m.EvalDur,
		m.EvalTotal,
		m.TriggersTotal,
		m.NotifyFailures,
		m.BackfillsTotal,
		m.BackfillErrors,
		m.BackfillCandles,
		m.WarmupPairs,
		m.WatchersActive,
		m.ChartClients,
		m.CachePairs,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	SpotWSConnected    bool
	FuturesWSConnected bool
	LastTickTime       time.Time
	SQLiteOK           bool
	SQLiteLatencyMs    float64
	TelegramConfigured bool
	PairsTracked       int
	LastCheckAt        time.Time
	StartedAt          time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetWSConnected(market string, v bool) {
	h.mu.Lock()
	if market == "futures" {
		h.FuturesWSConnected = v
	} else {
		h.SpotWSConnected = v
	}
	h.mu.Unlock()
}

func (h *HealthStatus) WSConnected(market string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if market == "futures" {
		return h.FuturesWSConnected
	}
	return h.SpotWSConnected
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetTelegramConfigured(v bool) {
	h.mu.Lock()
	h.TelegramConfigured = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetPairsTracked(n int) {
	h.mu.Lock()
	h.PairsTracked = n
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if sqlDB != nil {
					h.CheckSQLite(checkCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	anyWS := h.SpotWSConnected || h.FuturesWSConnected
	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !anyWS || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !anyWS && !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status             string  `json:"status"`
		Uptime             string  `json:"uptime"`
		SpotWSConnected    bool    `json:"spot_ws_connected"`
		FuturesWSConnected bool    `json:"futures_ws_connected"`
		LastTickTime       string  `json:"last_tick_time"`
		TickAge            string  `json:"tick_age"`
		SQLiteOK           bool    `json:"sqlite_ok"`
		SQLiteLatencyMs    float64 `json:"sqlite_latency_ms"`
		TelegramConfigured bool    `json:"telegram_configured"`
		PairsTracked       int     `json:"pairs_tracked"`
		LastCheckAt        string  `json:"last_check_at"`
	}{
		Status:             overallStatus,
		Uptime:             time.Since(h.StartedAt).Round(time.Second).String(),
		SpotWSConnected:    h.SpotWSConnected,
		FuturesWSConnected: h.FuturesWSConnected,
		LastTickTime:       h.LastTickTime.Format(time.RFC3339),
		TickAge:            tickAge,
		SQLiteOK:           h.SQLiteOK,
		SQLiteLatencyMs:    h.SQLiteLatencyMs,
		TelegramConfigured: h.TelegramConfigured,
		PairsTracked:       h.PairsTracked,
		LastCheckAt:        h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
