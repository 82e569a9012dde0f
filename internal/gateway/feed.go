package gateway

import (
	"encoding/json"
	"time"

	"signal-enginev1/internal/engine"
	"signal-enginev1/internal/model"
)

// FeedControl is the slice of the upstream feed the gateway drives: widening
// or narrowing the remote subscription set when clients change theirs.
// Satisfied by stream.Ingest. A nil feed means the engine is fed some other
// way (replay, tests) and subscription changes stay local.
type FeedControl interface {
	Subscribe(symbols ...string)
	Unsubscribe(symbols ...string)
}

// Channel naming. Everything broadcast to clients travels on a colon-joined
// channel name:
//
//	bar:{SYMBOL}:{tf}  newest bar of one timeframe, live or closed
//	conf:{SYMBOL}      indicators + trends + confluence after a recompute
//	sig:{SYMBOL}       one strategy signal
func barChannel(symbol string, tf model.Timeframe) string {
	return "bar:" + symbol + ":" + tf.String()
}

func confChannel(symbol string) string { return "conf:" + symbol }

func sigChannel(symbol string) string { return "sig:" + symbol }

// routeUpdate turns one engine update into channel broadcasts. Backfill
// updates are not broadcast bar-by-bar: a warm start pushes thousands of
// historical bars through the bus and clients pull history via snapshot or
// REST instead. Only the derived state that follows is surfaced.
func (h *Hub) routeUpdate(u engine.Update) {
	ts := time.Now().UTC().Format(time.RFC3339Nano)

	if u.Kind != engine.UpdateKindBackfill {
		payload, _ := json.Marshal(BarUpdate{
			Symbol: u.Symbol,
			TF:     u.TF,
			Bar:    u.Bar,
			Live:   u.Kind == engine.UpdateKindTick,
			TS:     ts,
		})
		h.Broadcaster.Broadcast(barChannel(u.Symbol, u.TF), payload)
	}

	if u.Recomputed {
		if snap, ok := h.store.Indicators(u.Symbol); ok {
			conf, _ := h.store.ConfluenceFor(u.Symbol)
			payload, _ := json.Marshal(DerivedUpdate{
				Symbol:     u.Symbol,
				Confluence: conf,
				Trends:     h.trendsFor(u.Symbol),
				Indicators: snap,
				Stale:      h.store.Stale(u.Symbol),
				TS:         ts,
			})
			h.Broadcaster.Broadcast(confChannel(u.Symbol), payload)
		}
	}

	for _, sig := range u.Signals {
		payload, _ := json.Marshal(SignalUpdate{Symbol: u.Symbol, Signal: sig, TS: ts})
		h.Broadcaster.Broadcast(sigChannel(u.Symbol), payload)
	}
}

func (h *Hub) trendsFor(symbol string) model.TrendMap {
	trends := make(model.TrendMap, len(model.AllTimeframes()))
	for _, tf := range model.AllTimeframes() {
		trends[tf] = h.store.TrendFor(symbol, tf)
	}
	return trends
}
