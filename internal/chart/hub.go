// Package chart implements the streaming surface for the chart UI: a
// WebSocket hub fanning candle updates, trigger marks and stream status
// to per-pair subscribers.
package chart

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"crypto-screenerv1/internal/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The UI is served from a different origin in development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// candlePoint is the wire shape of one candle in a candle_update message.
type candlePoint struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

type candleUpdateMsg struct {
	Type   string       `json:"type"` // "candle_update"
	Symbol string       `json:"symbol"`
	Market model.Market `json:"market"`
	Candle candlePoint  `json:"candle"`
}

type triggerMarkMsg struct {
	Type    string            `json:"type"` // "trigger_mark"
	Symbol  string            `json:"symbol"`
	Market  model.Market      `json:"market"`
	Trigger model.TriggerMark `json:"trigger"`
}

type statusMsg struct {
	Type   string `json:"type"` // "status"
	Status string `json:"status"`
}

// triggerMsg is the wire shape on the /ws/triggers feed: the full trigger,
// not just the chart mark, delivered to every feed client.
type triggerMsg struct {
	Type       string               `json:"type"` // "trigger"
	FilterID   int64                `json:"filter_id"`
	FilterName string               `json:"filter_name"`
	FilterType model.FilterType     `json:"filter_type"`
	Symbol     string               `json:"symbol"`
	Market     model.Market         `json:"market"`
	Data       model.TriggerPayload `json:"data"`
	Timestamp  int64                `json:"timestamp"`
}

// Stream status values.
const (
	StatusLive         = "live"
	StatusReconnecting = "reconnecting"
	StatusOffline      = "offline"
	StatusStale        = "stale"
)

// Hub tracks connected chart clients and their per-pair subscriptions.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*Client]bool)}
}

// HandleWS upgrades the HTTP request and registers a chart client.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, false)
}

// HandleTriggerWS upgrades the HTTP request and registers a trigger feed
// client. Feed clients receive every trigger regardless of subscriptions
// and nothing else.
func (h *Hub) HandleTriggerWS(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, true)
}

func (h *Hub) handle(w http.ResponseWriter, r *http.Request, feed bool) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[chart] ws upgrade failed: %v", err)
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, 64),
		hub:  h,
		subs: make(map[string]bool),
		feed: feed,
	}

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()
	log.Printf("[chart] client connected (%d total)", count)

	go client.writePump()
	go client.readPump()
}

// remove deregisters a client. Safe to call twice.
func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()
	close(c.send)
	log.Printf("[chart] client disconnected (%d total)", count)
}

// BroadcastCandle fans a finalized candle to subscribers of its pair.
func (h *Hub) BroadcastCandle(c *model.Candle) {
	msg, _ := json.Marshal(candleUpdateMsg{
		Type:   "candle_update",
		Symbol: c.Symbol,
		Market: c.Market,
		Candle: candlePoint{
			Time: c.Timestamp, Open: c.Open, High: c.High,
			Low: c.Low, Close: c.Close, Volume: c.Volume,
		},
	})
	h.fanOut(model.PairKey(c.Symbol, c.Market), msg)
}

// BroadcastTrigger fans a trigger mark to subscribers of its pair and the
// full trigger to every feed client.
func (h *Hub) BroadcastTrigger(t *model.Trigger) {
	msg, _ := json.Marshal(triggerMarkMsg{
		Type:    "trigger_mark",
		Symbol:  t.Symbol,
		Market:  t.Market,
		Trigger: t.Mark(),
	})
	h.fanOut(model.PairKey(t.Symbol, t.Market), msg)

	feed, _ := json.Marshal(triggerMsg{
		Type:       "trigger",
		FilterID:   t.FilterID,
		FilterName: t.FilterName,
		FilterType: t.FilterType,
		Symbol:     t.Symbol,
		Market:     t.Market,
		Data:       t.Data,
		Timestamp:  t.TriggeredAt,
	})
	h.fanFeed(feed)
}

// BroadcastStatus sends a stream status to every connected client.
func (h *Hub) BroadcastStatus(status string) {
	msg, _ := json.Marshal(statusMsg{Type: "status", Status: status})
	h.fanOut("", msg)
}

// fanOut delivers msg to chart clients subscribed to pairKey
// ("" = every chart client). A client whose send queue is full is
// deregistered immediately, never retried.
func (h *Hub) fanOut(pairKey string, msg []byte) {
	h.deliver(msg, func(c *Client) bool {
		if c.feed {
			return false
		}
		return pairKey == "" || c.subscribed(pairKey)
	})
}

// fanFeed delivers msg to every trigger feed client.
func (h *Hub) fanFeed(msg []byte) {
	h.deliver(msg, func(c *Client) bool { return c.feed })
}

func (h *Hub) deliver(msg []byte, want func(*Client) bool) {
	h.mu.RLock()
	var dead []*Client
	for client := range h.clients {
		if !want(client) {
			continue
		}
		select {
		case client.send <- msg:
		default:
			dead = append(dead, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range dead {
		log.Printf("[chart] dropping slow client")
		h.remove(client)
		client.conn.Close()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
