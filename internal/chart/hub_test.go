package chart

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"crypto-screenerv1/internal/model"
)

func httpFunc(h *Hub) http.Handler {
	return http.HandlerFunc(h.HandleWS)
}

func dial(t *testing.T, serverURL string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(serverURL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestSubscribeReceivesCandleUpdate(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(httpFunc(h))
	defer srv.Close()

	conn := dial(t, srv.URL)
	sub := clientMsg{Action: "subscribe", Symbol: "BTC/USDT", Market: model.MarketSpot}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	waitForClients(t, h, 1)
	waitForSubscription(t, h, "spot:BTC/USDT")

	candle := &model.Candle{
		Symbol: "BTC/USDT", Market: model.MarketSpot, Timestamp: 1700000040,
		Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 1234,
	}
	h.BroadcastCandle(candle)

	var msg candleUpdateMsg
	readJSON(t, conn, &msg)
	if msg.Type != "candle_update" || msg.Symbol != "BTC/USDT" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.Candle.Time != 1700000040 || msg.Candle.Close != 100.5 {
		t.Fatalf("candle payload: %+v", msg.Candle)
	}
}

func TestUnsubscribedPairNotDelivered(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(httpFunc(h))
	defer srv.Close()

	conn := dial(t, srv.URL)
	if err := conn.WriteJSON(clientMsg{Action: "subscribe", Symbol: "ETH/USDT", Market: model.MarketSpot}); err != nil {
		t.Fatal(err)
	}
	waitForClients(t, h, 1)
	waitForSubscription(t, h, "spot:ETH/USDT")

	// Candle for another pair, then a status everyone gets.
	h.BroadcastCandle(&model.Candle{Symbol: "BTC/USDT", Market: model.MarketSpot, Timestamp: 60})
	h.BroadcastStatus(StatusLive)

	var msg statusMsg
	readJSON(t, conn, &msg)
	if msg.Type != "status" || msg.Status != StatusLive {
		t.Fatalf("expected the status message first, got %+v", msg)
	}
}

func TestTriggerMarkDelivery(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(httpFunc(h))
	defer srv.Close()

	conn := dial(t, srv.URL)
	if err := conn.WriteJSON(clientMsg{Action: "subscribe", Symbol: "SOL/USDT", Market: model.MarketSpot}); err != nil {
		t.Fatal(err)
	}
	waitForClients(t, h, 1)
	waitForSubscription(t, h, "spot:SOL/USDT")

	h.BroadcastTrigger(&model.Trigger{
		FilterName: "pump", FilterType: model.FilterPriceChange,
		Symbol: "SOL/USDT", Market: model.MarketSpot, TriggeredAt: 1700000100,
	})

	var msg triggerMarkMsg
	readJSON(t, conn, &msg)
	if msg.Type != "trigger_mark" || msg.Trigger.FilterName != "pump" || msg.Trigger.Time != 1700000100 {
		t.Fatalf("trigger mark: %+v", msg)
	}
}

func TestTriggerFeedReceivesAllTriggers(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(h.HandleTriggerWS))
	defer srv.Close()

	conn := dial(t, srv.URL)
	waitForClients(t, h, 1)

	// No subscription: the feed still gets every trigger, full payload.
	h.BroadcastTrigger(&model.Trigger{
		FilterID: 7, FilterName: "pump", FilterType: model.FilterPriceChange,
		Symbol: "SOL/USDT", Market: model.MarketSpot, TriggeredAt: 1700000100,
		Data: model.TriggerPayload{PriceChangePercent: model.Float(7.5)},
	})

	var msg triggerMsg
	readJSON(t, conn, &msg)
	if msg.Type != "trigger" || msg.FilterID != 7 || msg.Symbol != "SOL/USDT" {
		t.Fatalf("feed message: %+v", msg)
	}
	if msg.Data.PriceChangePercent == nil || *msg.Data.PriceChangePercent != 7.5 {
		t.Fatalf("feed payload: %+v", msg.Data)
	}

	// Chart-only traffic stays off the feed.
	h.BroadcastCandle(&model.Candle{Symbol: "SOL/USDT", Market: model.MarketSpot, Timestamp: 60})
	h.BroadcastStatus(StatusLive)
	h.BroadcastTrigger(&model.Trigger{
		FilterID: 8, FilterName: "spike", FilterType: model.FilterVolumeSpike,
		Symbol: "ETH/USDT", Market: model.MarketFutures, TriggeredAt: 1700000160,
	})
	readJSON(t, conn, &msg)
	if msg.Type != "trigger" || msg.FilterID != 8 {
		t.Fatalf("feed must skip candle and status messages, got %+v", msg)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(httpFunc(h))
	defer srv.Close()

	conn := dial(t, srv.URL)
	if err := conn.WriteJSON(clientMsg{Action: "subscribe", Symbol: "BTC/USDT", Market: model.MarketSpot}); err != nil {
		t.Fatal(err)
	}
	waitForClients(t, h, 1)
	waitForSubscription(t, h, "spot:BTC/USDT")
	if err := conn.WriteJSON(clientMsg{Action: "unsubscribe", Symbol: "BTC/USDT", Market: model.MarketSpot}); err != nil {
		t.Fatal(err)
	}
	waitForUnsubscription(t, h, "spot:BTC/USDT")

	h.BroadcastCandle(&model.Candle{Symbol: "BTC/USDT", Market: model.MarketSpot, Timestamp: 60})
	h.BroadcastStatus(StatusStale)

	var msg statusMsg
	readJSON(t, conn, &msg)
	if msg.Type != "status" {
		t.Fatalf("candle should not arrive after unsubscribe, got %+v", msg)
	}
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.ClientCount() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("client count never reached %d", n)
}

func waitForSubscription(t *testing.T, h *Hub, pairKey string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.mu.RLock()
		for c := range h.clients {
			if c.subscribed(pairKey) {
				h.mu.RUnlock()
				return
			}
		}
		h.mu.RUnlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("subscription %s never registered", pairKey)
}

func waitForUnsubscription(t *testing.T, h *Hub, pairKey string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		subscribed := false
		h.mu.RLock()
		for c := range h.clients {
			if c.subscribed(pairKey) {
				subscribed = true
			}
		}
		h.mu.RUnlock()
		if !subscribed {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("subscription %s never removed", pairKey)
}
