package chart

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"crypto-screenerv1/internal/model"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
	maxMsgSize   = 1024
)

// Client is a single WebSocket peer: a per-pair chart subscriber, or a
// trigger feed consumer when feed is set.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
	feed bool

	subMu sync.RWMutex
	subs  map[string]bool // pair key -> subscribed
}

// clientMsg is the only message shape clients send.
type clientMsg struct {
	Action string       `json:"action"` // "subscribe" | "unsubscribe"
	Symbol string       `json:"symbol"`
	Market model.Market `json:"market"`
}

func (c *Client) subscribed(pairKey string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return c.subs[pairKey]
}

func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Symbol == "" || !msg.Market.Valid() {
			continue
		}
		key := model.PairKey(msg.Symbol, msg.Market)

		switch msg.Action {
		case "subscribe":
			c.subMu.Lock()
			c.subs[key] = true
			c.subMu.Unlock()
			log.Printf("[chart] subscribe %s", key)
		case "unsubscribe":
			c.subMu.Lock()
			delete(c.subs, key)
			c.subMu.Unlock()
			log.Printf("[chart] unsubscribe %s", key)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
