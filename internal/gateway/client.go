package gateway

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"signal-enginev1/internal/model"

	"github.com/gorilla/websocket"
)

// Client is one WebSocket peer. subs is the set of symbols the client asked
// for; an empty set means no filter, which is what the overview screen uses
// to watch everything at once.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	subMu sync.RWMutex
	subs  map[string]bool
}

// sendInitialState replays the latest payload of every channel so a fresh
// client renders without waiting for live traffic. lastTS (the client's last
// seen envelope ts) skips entries the client already has after a reconnect.
func (c *Client) sendInitialState(lastTS string) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()

	var cutoff time.Time
	if lastTS != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, lastTS); err == nil {
			cutoff = parsed
		}
	}

	for channel, entry := range c.hub.latest {
		if !cutoff.IsZero() && !entry.TS.After(cutoff) {
			continue
		}
		envelope, _ := json.Marshal(map[string]interface{}{
			"channel":     channel,
			"data":        json.RawMessage(entry.Data),
			"ts":          entry.TS.Format(time.RFC3339Nano),
			"channel_seq": entry.Seq,
			"initial":     true,
		})
		select {
		case c.send <- envelope:
		default:
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
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
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			// Write coalescing: batch queued messages into a single frame
			// with newline separators.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var base struct {
			Type string `json:"type"`
			Ping int64  `json:"ping"`
		}
		if json.Unmarshal(msg, &base) != nil {
			continue
		}

		switch base.Type {
		case "subscribe":
			var subMsg SubscribeMsg
			if err := json.Unmarshal(msg, &subMsg); err != nil {
				SendError(c, "", "invalid subscribe: "+err.Error())
				continue
			}
			c.handleSubscribe(subMsg)

		case "unsubscribe":
			var unsubMsg UnsubscribeMsg
			if err := json.Unmarshal(msg, &unsubMsg); err != nil {
				continue
			}
			c.handleUnsubscribe(unsubMsg)

		default:
			if base.Ping > 0 {
				pong, _ := json.Marshal(map[string]interface{}{
					"type":      "pong",
					"ping":      base.Ping,
					"server_ts": time.Now().UnixMilli(),
				})
				select {
				case c.send <- pong:
				default:
				}
			}
		}
	}
}

// matchesChannel reports whether this client should receive a broadcast.
// Non-data channels (metrics, watchlist updates) go to everyone.
func (c *Client) matchesChannel(channel string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	if len(c.subs) == 0 {
		return true
	}
	parsed := parseChannel(channel)
	if parsed == nil {
		return true
	}
	return c.subs[parsed.symbol]
}

// parsedChannel is the decomposed form of a data channel name.
type parsedChannel struct {
	kind   string // "bar", "conf", "sig"
	symbol string
	tf     model.Timeframe // bar channels only
}

// parseChannel splits "bar:AAPL:5m", "conf:AAPL" or "sig:AAPL". Returns nil
// for anything else.
func parseChannel(channel string) *parsedChannel {
	parts := strings.Split(channel, ":")
	switch {
	case len(parts) == 3 && parts[0] == "bar":
		tf, err := model.ParseTimeframe(parts[2])
		if err != nil {
			return nil
		}
		return &parsedChannel{kind: "bar", symbol: parts[1], tf: tf}
	case len(parts) == 2 && (parts[0] == "conf" || parts[0] == "sig"):
		return &parsedChannel{kind: parts[0], symbol: parts[1]}
	}
	return nil
}
