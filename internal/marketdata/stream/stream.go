// Package stream maintains the provider WebSocket session: dial, authenticate,
// subscribe, parse, reconnect.
//
// The session loop reconnects forever with exponential backoff; a session that
// reached authentication resets the backoff, so a flapping link retries fast
// while a dead endpoint backs off to the cap. The watch set survives
// reconnects and is replayed as a subscribe frame after every successful
// authentication.
package stream

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"signal-enginev1/internal/model"
)

// Config holds the feed session configuration.
type Config struct {
	// URL of the feed WebSocket, e.g. "ws://localhost:9001/ws".
	URL string

	// Token supplies a fresh auth token for each connection attempt. Live
	// feeds re-login (TOTP) here; the simulator accepts anything non-empty.
	Token func(ctx context.Context) (string, error)

	// ReconnectDelay is the initial backoff. Defaults to 1s.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration

	HandshakeTimeout time.Duration // dial, defaults to 10s
	AuthTimeout      time.Duration // waiting for the status frame, defaults to 10s
	IdleTimeout      time.Duration // read deadline between frames, defaults to 90s
	PingInterval     time.Duration // client keepalives, defaults to 30s
}

func (c *Config) defaults() {
	if c.Token == nil {
		c.Token = func(context.Context) (string, error) { return "", nil }
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.AuthTimeout == 0 {
		c.AuthTimeout = 10 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 90 * time.Second
	}
	if c.PingInterval == 0 {
		c.PingInterval = 30 * time.Second
	}
}

// Ingest is the feed session. Wire the hooks, seed the watch set, then Start.
type Ingest struct {
	cfg Config

	mu    sync.Mutex
	conn  *websocket.Conn // nil while disconnected
	watch map[string]bool
	state model.ConnState

	// Hooks, all optional. OnTick and OnBarClose receive validated events and
	// are called from the session's read goroutine.
	OnTick      func(model.QuoteTick)
	OnBarClose  func(model.BarClose)
	OnState     func(model.ConnState)
	OnReconnect func()
}

// New creates an Ingest for the given config and initial watch set.
func New(cfg Config, symbols []string) *Ingest {
	cfg.defaults()
	ing := &Ingest{cfg: cfg, watch: make(map[string]bool)}
	for _, s := range symbols {
		if s = model.NormalizeSymbol(s); s != "" {
			ing.watch[s] = true
		}
	}
	return ing
}

// State returns the current connection state.
func (ing *Ingest) State() model.ConnState {
	ing.mu.Lock()
	defer ing.mu.Unlock()
	return ing.state
}

// Subscribe adds symbols to the watch set and, when a session is live, sends
// the subscribe frame immediately.
func (ing *Ingest) Subscribe(symbols ...string) {
	ing.updateWatch(frameSubscribe, symbols)
}

// Unsubscribe removes symbols from the watch set and notifies a live session.
func (ing *Ingest) Unsubscribe(symbols ...string) {
	ing.updateWatch(frameUnsubscribe, symbols)
}

func (ing *Ingest) updateWatch(frameType string, symbols []string) {
	var changed []string
	ing.mu.Lock()
	for _, s := range symbols {
		s = model.NormalizeSymbol(s)
		if s == "" {
			continue
		}
		if frameType == frameSubscribe && !ing.watch[s] {
			ing.watch[s] = true
			changed = append(changed, s)
		}
		if frameType == frameUnsubscribe && ing.watch[s] {
			delete(ing.watch, s)
			changed = append(changed, s)
		}
	}
	conn := ing.conn
	authed := ing.state == model.StateAuthenticated
	ing.mu.Unlock()

	if len(changed) == 0 || conn == nil || !authed {
		return
	}
	if err := ing.writeFrame(frame{Type: frameType, Symbols: changed}); err != nil {
		log.Printf("[stream] %s frame failed: %v", frameType, err)
	}
}

// watchList snapshots the watch set, sorted for stable frames.
func (ing *Ingest) watchList() []string {
	ing.mu.Lock()
	defer ing.mu.Unlock()
	out := make([]string, 0, len(ing.watch))
	for s := range ing.watch {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Start runs the session loop. Blocks until ctx is cancelled.
func (ing *Ingest) Start(ctx context.Context) error {
	delay := ing.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		authed, err := ing.runOnce(ctx)
		if ctx.Err() != nil {
			ing.setState(model.StateDisconnected)
			return nil
		}
		if authed {
			// A real session happened; start the backoff over.
			delay = ing.cfg.ReconnectDelay
		}

		log.Printf("[stream] disconnected (%v), reconnecting in %s", err, delay)
		if ing.OnReconnect != nil {
			ing.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > ing.cfg.MaxReconnectDelay {
			delay = ing.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes one connection attempt: dial, auth, subscribe, then read
// until the connection drops or ctx is cancelled. authed reports whether the
// session got past authentication.
func (ing *Ingest) runOnce(ctx context.Context) (authed bool, err error) {
	ing.setState(model.StateConnecting)

	dialer := websocket.Dialer{HandshakeTimeout: ing.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, ing.cfg.URL, nil)
	if err != nil {
		ing.setState(model.StateError)
		return false, err
	}
	defer conn.Close()
	ing.setConn(conn)
	defer ing.setConn(nil)

	ing.setState(model.StateConnected)
	log.Printf("[stream] connected to %s", ing.cfg.URL)

	token, err := ing.cfg.Token(ctx)
	if err != nil {
		ing.setState(model.StateError)
		return false, fmt.Errorf("auth token: %w", err)
	}
	if err := ing.writeFrame(frame{Type: frameAuth, Token: token}); err != nil {
		return false, err
	}

	conn.SetReadDeadline(time.Now().Add(ing.cfg.AuthTimeout))
	var status frame
	if err := conn.ReadJSON(&status); err != nil {
		return false, fmt.Errorf("auth response: %w", err)
	}
	if status.Type != frameStatus || status.State != stateAuthenticated {
		ing.setState(model.StateError)
		return false, fmt.Errorf("auth rejected: type=%q state=%q", status.Type, status.State)
	}
	ing.setState(model.StateAuthenticated)

	if symbols := ing.watchList(); len(symbols) > 0 {
		if err := ing.writeFrame(frame{Type: frameSubscribe, Symbols: symbols}); err != nil {
			return true, err
		}
		log.Printf("[stream] authenticated, watching %d symbols", len(symbols))
	}

	// Close the connection when ctx dies so the read loop unblocks, and send
	// periodic pings so a dead peer trips the idle deadline.
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go keepAlive(sessionCtx, conn, ing.cfg.PingInterval)

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(ing.cfg.IdleTimeout))
	})

	for {
		conn.SetReadDeadline(time.Now().Add(ing.cfg.IdleTimeout))
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			ing.setState(model.StateDisconnected)
			return true, err
		}
		ing.dispatch(&f)
	}
}

func keepAlive(ctx context.Context, conn *websocket.Conn, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
				time.Now().Add(time.Second))
			conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

// dispatch routes one server frame to the appropriate hook. Malformed frames
// are logged and dropped; the session keeps reading.
func (ing *Ingest) dispatch(f *frame) {
	switch f.Type {
	case frameTick:
		tick, err := f.quoteTick()
		if err != nil {
			log.Printf("[stream] dropping tick frame: %v", err)
			return
		}
		if ing.OnTick != nil {
			ing.OnTick(tick)
		}
	case frameBar:
		bc, err := f.barClose()
		if err != nil {
			log.Printf("[stream] dropping bar frame: %v", err)
			return
		}
		if ing.OnBarClose != nil {
			ing.OnBarClose(bc)
		}
	case frameStatus:
		log.Printf("[stream] server status: %s", f.State)
	default:
		log.Printf("[stream] ignoring frame type %q", f.Type)
	}
}

func (ing *Ingest) writeFrame(f frame) error {
	ing.mu.Lock()
	defer ing.mu.Unlock()
	if ing.conn == nil {
		return fmt.Errorf("not connected")
	}
	return ing.conn.WriteJSON(f)
}

func (ing *Ingest) setConn(conn *websocket.Conn) {
	ing.mu.Lock()
	ing.conn = conn
	ing.mu.Unlock()
}

func (ing *Ingest) setState(s model.ConnState) {
	ing.mu.Lock()
	changed := ing.state != s
	ing.state = s
	ing.mu.Unlock()
	if changed && ing.OnState != nil {
		ing.OnState(s)
	}
}
