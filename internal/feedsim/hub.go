package feedsim

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"signal-enginev1/internal/model"
)

// wireFrame is the flat JSON envelope of the feed socket, the server-side
// mirror of what the engine's stream client speaks.
type wireFrame struct {
	Type string `json:"type"`

	// auth
	Token string `json:"token,omitempty"`

	// subscribe / unsubscribe
	Symbols []string `json:"symbols,omitempty"`

	// status
	State string `json:"state,omitempty"`

	// tick + bar
	Symbol string  `json:"symbol,omitempty"`
	Volume int64   `json:"volume,omitempty"`
	TS     int64   `json:"ts,omitempty"`
	Price  float64 `json:"price,omitempty"`

	// bar
	TF    string  `json:"tf,omitempty"`
	Open  float64 `json:"open,omitempty"`
	High  float64 `json:"high,omitempty"`
	Low   float64 `json:"low,omitempty"`
	Close float64 `json:"close,omitempty"`
	VWAP  float64 `json:"vwap,omitempty"`
	Start int64   `json:"start,omitempty"`
}

func tickFrame(symbol string, price float64, qty int64, tsMS int64) []byte {
	b, _ := json.Marshal(wireFrame{Type: "tick", Symbol: symbol, Price: price, Volume: qty, TS: tsMS})
	return b
}

func barFrame(symbol string, tf model.Timeframe, bar model.Bar) []byte {
	b, _ := json.Marshal(wireFrame{
		Type: "bar", Symbol: symbol, TF: tf.String(),
		Open: bar.Open, High: bar.High, Low: bar.Low, Close: bar.Close,
		Volume: bar.Volume, VWAP: bar.VWAP, Start: bar.StartMS,
	})
	return b
}

// wsClient is one authenticated feed subscriber.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte

	mu      sync.Mutex
	symbols map[string]bool
}

func (c *wsClient) wants(symbol string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.symbols[symbol]
}

func (c *wsClient) updateSubs(symbols []string, subscribe bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range symbols {
		if subscribe {
			c.symbols[s] = true
		} else {
			delete(c.symbols, s)
		}
	}
	return len(c.symbols)
}

// Hub owns the WS subscriber set and fans simulated frames out to it.
type Hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]bool

	// checkToken validates the token presented in the auth frame.
	checkToken func(string) bool
}

// NewHub creates an empty hub.
func NewHub(checkToken func(string) bool) *Hub {
	return &Hub{
		clients:    make(map[*wsClient]bool),
		checkToken: checkToken,
	}
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast sends a frame to every client subscribed to symbol.
// Slow clients drop the frame rather than stalling the generator.
func (h *Hub) Broadcast(symbol string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(symbol) {
			continue
		}
		select {
		case c.send <- payload:
		default: // slow client — drop frame
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// HandleWS upgrades the connection and runs the feed protocol: an auth frame
// must arrive first, then subscribe/unsubscribe frames adjust the symbol set
// while tick and bar frames stream out.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[feedsim] upgrade error: %v", err)
		return
	}

	// First frame must authenticate.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var auth wireFrame
	if err := conn.ReadJSON(&auth); err != nil || auth.Type != "auth" || !h.checkToken(auth.Token) {
		conn.WriteJSON(wireFrame{Type: "status", State: "unauthorized"})
		conn.Close()
		log.Printf("[feedsim] rejected client %s: bad auth", r.RemoteAddr)
		return
	}
	if err := conn.WriteJSON(wireFrame{Type: "status", State: "authenticated"}); err != nil {
		conn.Close()
		return
	}

	c := &wsClient{
		conn:    conn,
		send:    make(chan []byte, 256),
		symbols: make(map[string]bool),
	}
	h.register(c)
	log.Printf("[feedsim] client connected: %s", r.RemoteAddr)

	go c.writePump()

	defer func() {
		h.unregister(c)
		conn.Close()
		log.Printf("[feedsim] client disconnected: %s", r.RemoteAddr)
	}()

	// Clients ping between subscription changes; the handler refreshes the
	// deadline since ReadJSON only returns on data frames.
	// WriteControl is safe alongside the write pump.
	conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	// Read loop: subscription management only.
	for {
		var f wireFrame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		switch f.Type {
		case "subscribe":
			n := c.updateSubs(f.Symbols, true)
			log.Printf("[feedsim] %s subscribed %v (now %d)", r.RemoteAddr, f.Symbols, n)
		case "unsubscribe":
			n := c.updateSubs(f.Symbols, false)
			log.Printf("[feedsim] %s unsubscribed %v (now %d)", r.RemoteAddr, f.Symbols, n)
		default:
			log.Printf("[feedsim] ignoring frame type %q from %s", f.Type, r.RemoteAddr)
		}
	}
}

// writePump drains the send channel into the socket.
func (c *wsClient) writePump() {
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}
