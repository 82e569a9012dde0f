package model

import "context"

// ── Storage Port Interfaces ──
// These interfaces decouple the engine from concrete storage implementations
// (SQLite history, Redis outbound). Payload-bearing methods take model types
// or raw JSON so implementations never import engine internals.

// SymbolBar pairs a merged bar with its owning series for persistence.
type SymbolBar struct {
	Symbol string
	TF     Timeframe
	Bar    Bar
}

// HistoryWriter persists merged bars for warm starts and offline replay.
type HistoryWriter interface {
	// Run reads bars from barCh and writes them in batches.
	// Blocks until ctx is cancelled or barCh is closed.
	Run(ctx context.Context, barCh <-chan SymbolBar)

	// Close releases underlying resources.
	Close() error
}

// HistoryReader reads persisted bars back for warm starts and replay.
type HistoryReader interface {
	// ReadBars returns bars for (symbol, tf) with StartMS > afterMS, ascending.
	// A positive limit keeps only the newest limit bars, still ascending.
	ReadBars(symbol string, tf Timeframe, afterMS int64, limit int) ([]Bar, error)

	// Symbols lists the distinct symbols present for a timeframe.
	Symbols(tf Timeframe) ([]string, error)

	// Close releases underlying resources.
	Close() error
}

// OutboundPublisher pushes derived state to downstream consumers
// (alert composers, dashboards) over an external bus.
type OutboundPublisher interface {
	// PublishConfluence publishes a symbol's JSON-encoded derived snapshot.
	// Using []byte keeps the engine's view types out of the port.
	PublishConfluence(ctx context.Context, symbol string, payload []byte)

	// PublishSignal publishes a newly emitted strategy signal.
	PublishSignal(ctx context.Context, sig Signal)

	// Close releases underlying resources.
	Close() error
}

// CandleFetcher fetches historical bars from the upstream vendor.
type CandleFetcher interface {
	// GetCandles returns bars for (symbol, tf) in [fromMS, toMS), ascending.
	GetCandles(ctx context.Context, symbol string, tf Timeframe, fromMS, toMS int64) ([]Bar, error)
}
