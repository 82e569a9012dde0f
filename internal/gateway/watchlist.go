package gateway

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"signal-enginev1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const watchlistRedisKey = "gateway:watchlist"

// WatchlistStore keeps the dynamic watch set: the symbols tracked beyond the
// always-on macro trio. With redis wired the set survives restarts under one
// key; without it (sim runs, tests) the set lives in memory only.
type WatchlistStore struct {
	hub *Hub
	rdb *goredis.Client

	mu      sync.RWMutex
	symbols map[string]bool
}

// NewWatchlistStore creates a WatchlistStore. rdb may be nil.
func NewWatchlistStore(hub *Hub, rdb *goredis.Client) *WatchlistStore {
	return &WatchlistStore{
		hub:     hub,
		rdb:     rdb,
		symbols: make(map[string]bool),
	}
}

// Load restores the persisted watch set, replacing the in-memory one.
// Called once at startup; returns the restored symbols (nil when nothing was
// persisted) so the caller can subscribe the engine and feed to them.
func (ws *WatchlistStore) Load(ctx context.Context) []string {
	if ws.rdb == nil {
		return nil
	}
	data, err := ws.rdb.Get(ctx, watchlistRedisKey).Result()
	if err != nil {
		return nil
	}
	var symbols []string
	if json.Unmarshal([]byte(data), &symbols) != nil {
		return nil
	}
	ws.mu.Lock()
	ws.symbols = make(map[string]bool, len(symbols))
	for _, s := range symbols {
		ws.symbols[model.NormalizeSymbol(s)] = true
	}
	ws.mu.Unlock()
	log.Printf("[watchlist] restored %d symbols from redis", len(symbols))
	return symbols
}

// Seed installs the configured watchlist without persisting or notifying.
// Used at boot when nothing was restored from redis.
func (ws *WatchlistStore) Seed(symbols []string) {
	ws.mu.Lock()
	for _, s := range symbols {
		if sym := model.NormalizeSymbol(s); sym != "" {
			ws.symbols[sym] = true
		}
	}
	ws.mu.Unlock()
}

// Symbols returns the current watch set, sorted.
func (ws *WatchlistStore) Symbols() []string {
	ws.mu.RLock()
	out := make([]string, 0, len(ws.symbols))
	for s := range ws.symbols {
		out = append(out, s)
	}
	ws.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Contains reports whether a symbol is on the watch set.
func (ws *WatchlistStore) Contains(symbol string) bool {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.symbols[model.NormalizeSymbol(symbol)]
}

// Add puts a symbol on the watch set, persists and notifies clients.
// No-op when already present.
func (ws *WatchlistStore) Add(symbol string) {
	sym := model.NormalizeSymbol(symbol)
	if sym == "" {
		return
	}
	ws.mu.Lock()
	if ws.symbols[sym] {
		ws.mu.Unlock()
		return
	}
	ws.symbols[sym] = true
	ws.mu.Unlock()
	ws.persistAndNotify()
}

// Remove takes a symbol off the watch set, persists and notifies clients.
// No-op when absent.
func (ws *WatchlistStore) Remove(symbol string) {
	sym := model.NormalizeSymbol(symbol)
	ws.mu.Lock()
	if !ws.symbols[sym] {
		ws.mu.Unlock()
		return
	}
	delete(ws.symbols, sym)
	ws.mu.Unlock()
	ws.persistAndNotify()
}

// persistAndNotify writes the full set to redis (fire-and-forget; memory is
// the source of truth) and pushes a watchlist_update to every client.
func (ws *WatchlistStore) persistAndNotify() {
	symbols := ws.Symbols()

	if ws.rdb != nil {
		data, err := json.Marshal(symbols)
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := ws.rdb.Set(ctx, watchlistRedisKey, data, 0).Err(); err != nil {
				log.Printf("[watchlist] WARNING: failed to persist to redis: %v", err)
			}
		}
	}

	envelope, _ := json.Marshal(map[string]interface{}{
		"type":    "watchlist_update",
		"symbols": symbols,
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
	})

	ws.hub.mu.RLock()
	defer ws.hub.mu.RUnlock()
	for client := range ws.hub.clients {
		select {
		case client.send <- envelope:
		default:
		}
	}
}
