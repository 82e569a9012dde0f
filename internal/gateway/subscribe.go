package gateway

import (
	"encoding/json"
	"log"

	"signal-enginev1/internal/engine"
	"signal-enginev1/internal/indicator"
	"signal-enginev1/internal/model"
)

// Client → server messages. The protocol is symbol-oriented: a subscription
// covers every timeframe and derived channel of the named symbols.
type SubscribeMsg struct {
	Type    string   `json:"type"` // "subscribe"
	ReqID   string   `json:"req_id"`
	Symbols []string `json:"symbols"`
	Candles int      `json:"candles"` // snapshot depth per timeframe
}

// UnsubscribeMsg asks to stop tracking symbols. Macro symbols are refused.
type UnsubscribeMsg struct {
	Type    string   `json:"type"` // "unsubscribe"
	ReqID   string   `json:"req_id"`
	Symbols []string `json:"symbols"`
}

// SnapshotMsg is the server → client reply to a subscribe: the store's full
// view of one symbol, one message per requested symbol.
type SnapshotMsg struct {
	Type       string                          `json:"type"` // "snapshot"
	ReqID      string                          `json:"req_id,omitempty"`
	Symbol     string                          `json:"symbol"`
	Candles    map[model.Timeframe][]model.Bar `json:"candles"`
	Indicators indicator.Snapshot              `json:"indicators"`
	Trends     model.TrendMap                  `json:"trends"`
	Confluence model.Confluence                `json:"confluence"`
	Signals    []model.Signal                  `json:"signals"`
	Stale      bool                            `json:"stale"`
	UpdatedMS  int64                           `json:"updated_ms"`
}

// ErrorMsg is the server → client error reply.
type ErrorMsg struct {
	Type  string `json:"type"` // "error"
	ReqID string `json:"req_id,omitempty"`
	Error string `json:"error"`
}

const (
	defaultSnapshotCandles = 100
	maxSnapshotCandles     = 500
)

// handleSubscribe starts tracking the requested symbols and replies with one
// snapshot each. New symbols are created in the engine and the upstream feed
// subscription is widened first, so a brand-new symbol's snapshot may be
// empty until bars arrive.
func (c *Client) handleSubscribe(msg SubscribeMsg) {
	if len(msg.Symbols) == 0 {
		SendError(c, msg.ReqID, "symbols is required")
		return
	}
	limit := msg.Candles
	if limit <= 0 {
		limit = defaultSnapshotCandles
	}
	if limit > maxSnapshotCandles {
		limit = maxSnapshotCandles
	}

	for _, raw := range msg.Symbols {
		sym := model.NormalizeSymbol(raw)
		if sym == "" {
			continue
		}
		c.hub.store.Subscribe(sym)
		if c.hub.feed != nil {
			c.hub.feed.Subscribe(sym)
		}
		c.hub.Watchlist.Add(sym)

		c.subMu.Lock()
		c.subs[sym] = true
		c.subMu.Unlock()

		snap := BuildSnapshot(c.hub.store, sym, limit)
		snap.ReqID = msg.ReqID
		SendJSON(c, snap)
	}
	log.Printf("[gateway] client subscribed: %v", msg.Symbols)
}

// handleUnsubscribe stops tracking symbols: engine state is dropped, the
// upstream feed narrowed and the watchlist updated. Requests for macro
// symbols are refused with an error; the market context they provide must
// stay warm.
func (c *Client) handleUnsubscribe(msg UnsubscribeMsg) {
	for _, raw := range msg.Symbols {
		sym := model.NormalizeSymbol(raw)
		if sym == "" {
			continue
		}
		if model.IsMacroSymbol(sym) {
			SendError(c, msg.ReqID, "macro symbol "+sym+" is always tracked")
			continue
		}

		c.subMu.Lock()
		delete(c.subs, sym)
		c.subMu.Unlock()

		c.hub.store.Unsubscribe(sym)
		if c.hub.feed != nil {
			c.hub.feed.Unsubscribe(sym)
		}
		c.hub.Watchlist.Remove(sym)
		log.Printf("[gateway] client unsubscribed %s", sym)
	}
}

// BuildSnapshot assembles the subscribe reply for one symbol from the store.
// limit caps the bars returned per timeframe; older history stays available
// through /api/candles.
func BuildSnapshot(store *engine.Store, symbol string, limit int) *SnapshotMsg {
	snap := &SnapshotMsg{
		Type:   "snapshot",
		Symbol: symbol,
		Stale:  store.Stale(symbol),
	}
	data, ok := store.Data(symbol)
	if !ok {
		snap.Candles = map[model.Timeframe][]model.Bar{}
		snap.Indicators = indicator.EmptySnapshot()
		return snap
	}
	for tf, bars := range data.Candles {
		if limit > 0 && len(bars) > limit {
			data.Candles[tf] = bars[len(bars)-limit:]
		}
	}
	snap.Candles = data.Candles
	snap.Indicators = data.Snapshot
	snap.Trends = data.Trends
	snap.Confluence = data.Confluence
	snap.Signals = data.Signals
	snap.UpdatedMS = data.LastUpdatedMS
	return snap
}

// SendJSON marshals and queues a message on the client's send channel.
// Drops rather than blocks when the client is backed up.
func SendJSON(c *Client, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[gateway] json marshal error: %v", err)
		return
	}
	select {
	case c.send <- data:
	default:
		log.Println("[gateway] client send buffer full, dropping message")
	}
}

// SendError queues an error reply on the client's send channel.
func SendError(c *Client, reqID, errMsg string) {
	SendJSON(c, ErrorMsg{
		Type:  "error",
		ReqID: reqID,
		Error: errMsg,
	})
}
