// Package gateway is the UI-facing surface of the engine: a WebSocket hub
// that fans engine updates out to dashboard clients and a small REST API that
// reads through the store's selectors. Updates arrive on the in-process bus;
// nothing here talks to the feed except to widen or narrow its subscription
// set on behalf of a client.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"signal-enginev1/internal/engine"
	"signal-enginev1/internal/markethours"

	goredis "github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
)

// Hub owns the WebSocket client set and everything broadcast to it: envelope
// construction, per-channel replay buffers, the latest-value cache replayed
// to newly connected clients, and the periodic metrics push.
type Hub struct {
	store *engine.Store
	feed  FeedControl
	rdb   *goredis.Client

	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry
	seq     int64

	// Per-channel monotonic sequence numbers for client gap detection.
	channelSeqs map[string]int64

	// Per-channel replay buffers backing /api/missed.
	replayBufs map[string]*ReplayBuffer

	// Smoothed recompute time in ms, fed by the engine's OnRecompute hook.
	recomputeMs float64

	// Broadcast latency tracker (payload event time to envelope build).
	Latency *LatencyTracker

	Broadcaster *Broadcaster
	Watchlist   *WatchlistStore
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
	Seq  int64 // per-channel seq for gap detection
}

// NewHub creates a Hub reading from the given store. feed may be nil (replay
// and tests feed the engine directly); rdb may be nil (watchlist then lives
// in memory only).
func NewHub(store *engine.Store, feed FeedControl, rdb *goredis.Client) *Hub {
	h := &Hub{
		store:       store,
		feed:        feed,
		rdb:         rdb,
		clients:     make(map[*Client]bool),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		replayBufs:  make(map[string]*ReplayBuffer),
		Latency:     NewLatencyTracker(4096),
	}
	h.Broadcaster = NewBroadcaster(h)
	h.Watchlist = NewWatchlistStore(h, rdb)
	return h
}

// Store exposes the underlying engine store for REST handlers.
func (h *Hub) Store() *engine.Store {
	return h.store
}

// Run consumes engine updates from the bus and turns them into channel
// broadcasts. Blocks until ctx is cancelled or the channel closes.
func (h *Hub) Run(ctx context.Context, updates <-chan engine.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			h.routeUpdate(u)
		}
	}
}

// HandleWSRequest registers an upgraded connection and starts its pumps.
// lastTS is the client's last seen envelope timestamp; initial state older
// than it is skipped.
func (h *Hub) HandleWSRequest(conn *websocket.Conn, lastTS string) {
	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
		subs: make(map[string]bool),
	}

	conn.EnableWriteCompression(true)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", count)

	go client.sendInitialState(lastTS)
	go client.writePump()
	go client.readPump()
}

// RemoveClient drops a client from the hub and closes its send channel.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	close(c.send)
}

// GetLatestAll returns a snapshot of the latest payload per channel.
func (h *Hub) GetLatestAll() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string]json.RawMessage, len(h.latest))
	for k, v := range h.latest {
		cp[k] = v.Data
	}
	return cp
}

// GetReplayRange returns buffered envelopes for a channel with channel_seq in
// [fromSeq, toSeq]. Backs the /api/missed gap-backfill endpoint.
func (h *Hub) GetReplayRange(channel string, fromSeq, toSeq int64) [][]byte {
	h.mu.RLock()
	rb, exists := h.replayBufs[channel]
	h.mu.RUnlock()
	if !exists {
		return nil
	}
	entries := rb.Range(fromSeq, toSeq)
	result := make([][]byte, len(entries))
	for i, e := range entries {
		result[i] = e.Data
	}
	return result
}

// GetChannelSeq returns the current sequence number for a channel.
func (h *Hub) GetChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Smoothing factor for the recompute-time EWMA surfaced in metrics.
const recomputeAlpha = 0.2

// RecordRecompute folds one engine recompute duration into the smoothed
// reading. Shaped to plug straight into the store's OnRecompute hook.
func (h *Hub) RecordRecompute(symbol string, elapsed time.Duration) {
	ms := float64(elapsed.Microseconds()) / 1000.0
	h.mu.Lock()
	if h.recomputeMs == 0 {
		h.recomputeMs = ms
	} else {
		h.recomputeMs = recomputeAlpha*ms + (1-recomputeAlpha)*h.recomputeMs
	}
	h.mu.Unlock()
}

// RecomputeMs returns the smoothed recompute time in milliseconds.
func (h *Hub) RecomputeMs() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.recomputeMs
}

// StartMetricsBroadcast pushes system metrics and market status to every WS
// client every 2s. Blocks until ctx is cancelled.
func (h *Hub) StartMetricsBroadcast(ctx context.Context, start time.Time) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			m := CollectMetrics(start)
			m.RecomputeMs = h.RecomputeMs()
			m.Symbols = len(h.store.Symbols())
			if h.Latency != nil {
				m.WSLatencyP50, m.WSLatencyP95, m.WSLatencyP99 = h.Latency.Percentiles()
			}
			envelope, _ := json.Marshal(map[string]interface{}{
				"type":         "metrics",
				"metrics":      m,
				"marketOpen":   markethours.IsMarketOpen(now),
				"marketStatus": markethours.StatusString(now),
			})
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- envelope:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}
