package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"crypto-screenerv1/internal/exchange"
	"crypto-screenerv1/internal/model"
)

const (
	mainnetWS = "wss://stream.bybit.com/v5/public"
	testnetWS = "wss://stream-testnet.bybit.com/v5/public"

	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 20 * time.Second

	// Bybit caps args per subscribe op.
	subscribeBatch = 10
)

// Stream consumes Bybit's public ticker WebSocket for one market. A single
// connection multiplexes all subscribed symbols. Linear tickers arrive as
// deltas, so per-symbol state is merged before frames are emitted.
type Stream struct {
	testnet bool

	// OnDrop fires when a frame is discarded because the consumer channel
	// is full. Optional metrics hook.
	OnDrop func()
}

// NewStream creates a ticker stream.
func NewStream(testnet bool) *Stream {
	return &Stream{testnet: testnet}
}

// wsURL returns the public stream endpoint for the market.
func (s *Stream) wsURL(market model.Market) string {
	base := mainnetWS
	if s.testnet {
		base = testnetWS
	}
	if market == model.MarketFutures {
		return base + "/linear"
	}
	return base + "/spot"
}

type wsOp struct {
	Op   string   `json:"op"`
	Args []string `json:"args,omitempty"`
}

type wsMessage struct {
	Op      string          `json:"op,omitempty"`
	Success *bool           `json:"success,omitempty"`
	RetMsg  string          `json:"ret_msg,omitempty"`
	Topic   string          `json:"topic,omitempty"`
	TS      int64           `json:"ts,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type tickerData struct {
	Symbol      string `json:"symbol"`
	LastPrice   string `json:"lastPrice"`
	Turnover24h string `json:"turnover24h"`
}

// Run connects, subscribes the symbols and pumps ticker frames into out
// until the connection fails or ctx is cancelled. ready fires after the
// subscribe requests are written, so a dead endpoint never looks live.
// Frames carry unix-second timestamps and internal symbol forms. The
// caller owns reconnect policy.
func (s *Stream) Run(ctx context.Context, market model.Market, symbols []string, out chan<- model.Ticker, ready func()) error {
	wsURL := s.wsURL(market)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close()
	log.Printf("[bybit-ws] connected to %s (%d symbols)", wsURL, len(symbols))

	if err := s.subscribe(conn, symbols); err != nil {
		return err
	}
	if ready != nil {
		ready()
	}

	// Close the connection when ctx is cancelled so the read loop unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	go s.pingLoop(ctx, conn)

	// Last-known ticker state per symbol; linear deltas may omit fields.
	state := make(map[string]model.Ticker)

	for {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("[bybit-ws] malformed frame: %v", err)
			continue
		}

		switch {
		case msg.Success != nil:
			if !*msg.Success {
				return exchange.Protocolf("subscribe rejected: %s", msg.RetMsg)
			}
		case msg.Op == "pong" || msg.Op == "ping":
			// keepalive echo
		case strings.HasPrefix(msg.Topic, "tickers."):
			t, ok := s.mergeTicker(state, market, &msg)
			if !ok {
				continue
			}
			// Never let a slow consumer stall the read loop.
			select {
			case out <- t:
			default:
				if s.OnDrop != nil {
					s.OnDrop()
				}
			}
		}
	}
}

// mergeTicker folds a (possibly partial) ticker payload into the
// per-symbol state and returns the frame to emit.
func (s *Stream) mergeTicker(state map[string]model.Ticker, market model.Market, msg *wsMessage) (model.Ticker, bool) {
	var data tickerData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		log.Printf("[bybit-ws] malformed ticker data on %s: %v", msg.Topic, err)
		return model.Ticker{}, false
	}
	symbol := FromExchange(data.Symbol, market)
	if symbol == "" {
		return model.Ticker{}, false
	}

	t := state[symbol]
	t.Symbol = symbol
	t.Market = market
	t.UpdatedAt = msg.TS / 1000
	if data.LastPrice != "" {
		if v, err := strconv.ParseFloat(data.LastPrice, 64); err == nil {
			t.LastPrice = v
		}
	}
	if data.Turnover24h != "" {
		if v, err := strconv.ParseFloat(data.Turnover24h, 64); err == nil {
			t.Volume24h = v
		}
	}
	state[symbol] = t

	if t.LastPrice <= 0 {
		return model.Ticker{}, false // no price seen yet for this symbol
	}
	return t, true
}

func (s *Stream) subscribe(conn *websocket.Conn, symbols []string) error {
	for start := 0; start < len(symbols); start += subscribeBatch {
		end := start + subscribeBatch
		if end > len(symbols) {
			end = len(symbols)
		}
		args := make([]string, 0, end-start)
		for _, sym := range symbols[start:end] {
			args = append(args, "tickers."+ToExchange(sym))
		}
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(wsOp{Op: "subscribe", Args: args}); err != nil {
			return fmt.Errorf("subscribe batch: %w", err)
		}
	}
	return nil
}

func (s *Stream) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(wsOp{Op: "ping"}); err != nil {
				return
			}
		}
	}
}
