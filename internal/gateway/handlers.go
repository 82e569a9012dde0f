package gateway

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"signal-enginev1/internal/model"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// RegisterRoutes mounts the gateway's WS and REST surface on mux.
func RegisterRoutes(mux *http.ServeMux, hub *Hub, processStart time.Time) {
	store := hub.Store()

	// WebSocket endpoint. last_ts lets a reconnecting client skip initial
	// state it already has.
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[gateway] ws upgrade error: %v", err)
			return
		}
		hub.HandleWSRequest(conn, r.URL.Query().Get("last_ts"))
	})

	// REST: overview rows for every tracked symbol.
	mux.HandleFunc("/api/symbols", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		symbols := store.Symbols()
		summaries := make([]SymbolSummary, 0, len(symbols))
		for _, sym := range symbols {
			summaries = append(summaries, buildSummary(hub, sym))
		}
		json.NewEncoder(w).Encode(summaries)
	})

	// REST: full view of one symbol, /api/symbols/{symbol}.
	mux.HandleFunc("/api/symbols/", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		sym := model.NormalizeSymbol(strings.TrimPrefix(r.URL.Path, "/api/symbols/"))
		data, ok := store.Data(sym)
		if !ok {
			http.Error(w, `{"error":"unknown symbol"}`, http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(SymbolDetail{
			SymbolData: data,
			Stale:      store.Stale(sym),
		})
	})

	// REST: candle history, /api/candles?symbol=&tf=&limit=.
	mux.HandleFunc("/api/candles", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		sym := model.NormalizeSymbol(r.URL.Query().Get("symbol"))
		if sym == "" {
			http.Error(w, `{"error":"symbol is required"}`, http.StatusBadRequest)
			return
		}

		tf := model.TF1m
		if tfStr := r.URL.Query().Get("tf"); tfStr != "" {
			parsed, err := model.ParseTimeframe(tfStr)
			if err != nil {
				http.Error(w, `{"error":"unknown timeframe"}`, http.StatusBadRequest)
				return
			}
			tf = parsed
		}

		limit := 200
		if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
			if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 500 {
				limit = l
			}
		}

		candles := store.Candles(sym, tf, limit)
		if candles == nil {
			candles = []model.Bar{}
		}
		json.NewEncoder(w).Encode(candles)
	})

	// REST: retained signals, /api/signals?symbol=&limit=. Newest first.
	mux.HandleFunc("/api/signals", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		sym := model.NormalizeSymbol(r.URL.Query().Get("symbol"))
		if sym == "" {
			http.Error(w, `{"error":"symbol is required"}`, http.StatusBadRequest)
			return
		}
		limit := 0
		if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
			if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
				limit = l
			}
		}
		signals := store.Signals(sym, limit)
		if signals == nil {
			signals = []model.Signal{}
		}
		json.NewEncoder(w).Encode(signals)
	})

	// REST: gap backfill, /api/missed?channel=&from=&to=. Returns the
	// buffered envelopes with channel_seq in [from, to].
	mux.HandleFunc("/api/missed", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		channel := r.URL.Query().Get("channel")
		if channel == "" {
			http.Error(w, `{"error":"channel is required"}`, http.StatusBadRequest)
			return
		}
		from, _ := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
		to, _ := strconv.ParseInt(r.URL.Query().Get("to"), 10, 64)
		if to <= 0 {
			to = hub.GetChannelSeq(channel)
		}

		raw := hub.GetReplayRange(channel, from, to)
		envelopes := make([]json.RawMessage, len(raw))
		for i, e := range raw {
			envelopes[i] = e
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"channel":     channel,
			"from":        from,
			"to":          to,
			"current_seq": hub.GetChannelSeq(channel),
			"count":       len(envelopes),
			"envelopes":   envelopes,
		})
	})

	// REST: watchlist management. GET lists, POST adds, DELETE removes.
	// Removal of macro symbols is refused.
	mux.HandleFunc("/api/watchlist", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]interface{}{
				"symbols": hub.Watchlist.Symbols(),
				"macro":   model.MacroSymbols(),
			})

		case http.MethodPost:
			var req struct {
				Symbol string `json:"symbol"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
				return
			}
			sym := model.NormalizeSymbol(req.Symbol)
			if sym == "" {
				http.Error(w, `{"error":"symbol is required"}`, http.StatusBadRequest)
				return
			}
			store.Subscribe(sym)
			if hub.feed != nil {
				hub.feed.Subscribe(sym)
			}
			hub.Watchlist.Add(sym)
			log.Printf("[gateway] watchlist add %s", sym)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status":  "ok",
				"symbols": hub.Watchlist.Symbols(),
			})

		case http.MethodDelete:
			sym := model.NormalizeSymbol(r.URL.Query().Get("symbol"))
			if sym == "" {
				http.Error(w, `{"error":"symbol is required"}`, http.StatusBadRequest)
				return
			}
			if model.IsMacroSymbol(sym) {
				http.Error(w, `{"error":"macro symbol is always tracked"}`, http.StatusConflict)
				return
			}
			store.Unsubscribe(sym)
			if hub.feed != nil {
				hub.feed.Unsubscribe(sym)
			}
			hub.Watchlist.Remove(sym)
			log.Printf("[gateway] watchlist remove %s", sym)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status":  "ok",
				"symbols": hub.Watchlist.Symbols(),
			})

		default:
			http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		}
	})

	// REST: system metrics snapshot.
	mux.HandleFunc("/api/metrics", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		m := CollectMetrics(processStart)
		m.RecomputeMs = hub.RecomputeMs()
		m.Symbols = len(store.Symbols())
		if hub.Latency != nil {
			m.WSLatencyP50, m.WSLatencyP95, m.WSLatencyP99 = hub.Latency.Percentiles()
		}
		json.NewEncoder(w).Encode(m)
	})

	// Health endpoint.
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		redisOK := false
		if hub.rdb != nil {
			redisOK = hub.rdb.Ping(r.Context()).Err() == nil
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":     "ok",
			"redis":      redisOK,
			"ws_clients": hub.ClientCount(),
			"symbols":    len(store.Symbols()),
			"uptime_sec": int64(time.Since(processStart).Seconds()),
			"ts":         time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}

// buildSummary assembles one overview row from the store's full view.
func buildSummary(hub *Hub, symbol string) SymbolSummary {
	store := hub.Store()
	sum := SymbolSummary{
		Symbol: symbol,
		Macro:  model.IsMacroSymbol(symbol),
		Stale:  store.Stale(symbol),
		Trends: model.TrendMap{},
	}
	data, ok := store.Data(symbol)
	if !ok {
		return sum
	}
	if bars := data.Candles[model.TF1m]; len(bars) > 0 {
		sum.Price = bars[len(bars)-1].Close
	}
	sum.Confluence = data.Confluence.Overall
	sum.Trends = data.Trends
	sum.Signals = len(data.Signals)
	sum.UpdatedMS = data.LastUpdatedMS
	return sum
}
