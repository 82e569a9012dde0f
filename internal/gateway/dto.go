package gateway

import (
	"signal-enginev1/internal/engine"
	"signal-enginev1/internal/indicator"
	"signal-enginev1/internal/model"
)

// BarUpdate is the data payload on bar:{SYMBOL}:{tf} channels. Live marks a
// tick-driven update of the forming bar; closed bars carry Live=false. TS is
// the broadcast event time and feeds the hub's latency tracker.
type BarUpdate struct {
	Symbol string          `json:"symbol"`
	TF     model.Timeframe `json:"tf"`
	Bar    model.Bar       `json:"bar"`
	Live   bool            `json:"live"`
	TS     string          `json:"ts"`
}

// DerivedUpdate is the data payload on conf:{SYMBOL} channels, sent after
// every recompute so the cockpit's derived panels never poll.
type DerivedUpdate struct {
	Symbol     string             `json:"symbol"`
	Confluence model.Confluence   `json:"confluence"`
	Trends     model.TrendMap     `json:"trends"`
	Indicators indicator.Snapshot `json:"indicators"`
	Stale      bool               `json:"stale"`
	TS         string             `json:"ts"`
}

// SignalUpdate is the data payload on sig:{SYMBOL} channels.
type SignalUpdate struct {
	Symbol string       `json:"symbol"`
	Signal model.Signal `json:"signal"`
	TS     string       `json:"ts"`
}

// SymbolSummary is one row of /api/symbols: enough for the overview table
// without shipping candle history.
type SymbolSummary struct {
	Symbol     string         `json:"symbol"`
	Price      float64        `json:"price"` // latest 1m close, 0 before the first bar
	Confluence int            `json:"confluence"`
	Trends     model.TrendMap `json:"trends"`
	Signals    int            `json:"signals"` // retained signal count
	Macro      bool           `json:"macro"`
	Stale      bool           `json:"stale"`
	UpdatedMS  int64          `json:"updated_ms"`
}

// SymbolDetail is the /api/symbols/{symbol} response: the store's full view
// plus the staleness read.
type SymbolDetail struct {
	engine.SymbolData
	Stale bool `json:"stale"`
}
