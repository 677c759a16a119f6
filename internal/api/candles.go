package api

import (
	"net/http"

	"crypto-screenerv1/internal/cache"
	"crypto-screenerv1/internal/model"
	"crypto-screenerv1/internal/timeutil"
)

// timeframes maps the query value to its bucket width in minutes.
var timeframes = map[string]int{
	"1m": 1, "5m": 5, "15m": 15, "30m": 30, "1h": 60,
}

type candlesResponse struct {
	Symbol    string              `json:"symbol"`
	Market    model.Market        `json:"market"`
	Timeframe string              `json:"timeframe"`
	Candles   []model.Candle      `json:"candles"`
	Triggers  []model.TriggerMark `json:"triggers"`
}

// getCandles serves the chart history: cached minute candles aggregated
// to the requested timeframe, plus recent trigger marks. A cache miss
// falls back to the store and warms the cache on the way out.
func (h *handlers) getCandles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbol := q.Get("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol: required")
		return
	}
	market := model.Market(q.Get("market"))
	if !market.Valid() {
		writeError(w, http.StatusBadRequest, "market: must be spot or futures")
		return
	}
	tf := q.Get("timeframe")
	if tf == "" {
		tf = "1m"
	}
	minutes, ok := timeframes[tf]
	if !ok {
		writeError(w, http.StatusBadRequest, "timeframe: must be one of 1m, 5m, 15m, 30m, 1h")
		return
	}

	candles := h.d.Cache.Candles(symbol, market)
	if candles == nil {
		var err error
		candles, err = h.d.Store.Candles(r.Context(), symbol, market, cache.MaxCandles)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if len(candles) > 0 {
			h.d.Cache.BulkPut(symbol, market, candles)
		}
	}

	marks := h.d.Cache.TriggerMarks(symbol, market)
	if marks == nil {
		since := timeutil.Now() - cache.MarkRetentionSeconds
		var err error
		marks, err = h.d.Store.RecentMarks(r.Context(), symbol, market, since)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	resp := candlesResponse{
		Symbol:    symbol,
		Market:    market,
		Timeframe: tf,
		Candles:   aggregate(candles, minutes),
		Triggers:  marks,
	}
	if resp.Candles == nil {
		resp.Candles = []model.Candle{}
	}
	if resp.Triggers == nil {
		resp.Triggers = []model.TriggerMark{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// aggregate rolls ascending minute candles into N-minute buckets. The
// trailing partial bucket is included; charts render it as the forming
// candle.
func aggregate(minuteCandles []model.Candle, minutes int) []model.Candle {
	if minutes <= 1 || len(minuteCandles) == 0 {
		return minuteCandles
	}
	var out []model.Candle
	for _, c := range minuteCandles {
		bucket := timeutil.IntervalOf(c.Timestamp, minutes)
		if len(out) == 0 || out[len(out)-1].Timestamp != bucket {
			agg := c
			agg.Timestamp = bucket
			out = append(out, agg)
			continue
		}
		last := &out[len(out)-1]
		if c.High > last.High {
			last.High = c.High
		}
		if c.Low < last.Low {
			last.Low = c.Low
		}
		last.Close = c.Close
		last.Volume += c.Volume
		last.TickCount += c.TickCount
	}
	return out
}

type symbolsResponse struct {
	Spot    []string `json:"spot"`
	Futures []string `json:"futures"`
}

// getSymbols lists the tracked pairs per market, ranked by 24h volume.
func (h *handlers) getSymbols(w http.ResponseWriter, r *http.Request) {
	spot, err := h.d.Store.Symbols(r.Context(), model.MarketSpot)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	futures, err := h.d.Store.Symbols(r.Context(), model.MarketFutures)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := symbolsResponse{Spot: spot, Futures: futures}
	if resp.Spot == nil {
		resp.Spot = []string{}
	}
	if resp.Futures == nil {
		resp.Futures = []string{}
	}
	writeJSON(w, http.StatusOK, resp)
}
