// Package engine holds the in-memory market state store and the derived-state
// pipeline that runs behind it.
//
// All writes (bar closes, quote ticks, backfill batches) are serialized
// through the Store and flow merge → gate → recompute. The recompute step
// rebuilds derived timeframes, the indicator snapshot, per-timeframe trends,
// the confluence score and strategy signals for the touched symbol; the gate
// decides whether that work happens at all.
package engine

import (
	"time"

	"signal-enginev1/internal/confluence"
	"signal-enginev1/internal/indicator"
	"signal-enginev1/internal/model"
	"signal-enginev1/internal/strategy"
)

// Thresholds that shape the pipeline. Everything tunable is named here, not
// buried in the arithmetic.
const (
	// DefaultSeriesCap bounds each intraday series; the oldest bars are
	// evicted once a series grows past it.
	DefaultSeriesCap = 500

	// DefaultTickUpdateWindowMS is how fresh the latest primary-TF bar must
	// be for a quote tick to update it in place. Older bars mean the feed's
	// bar channel stalled, so the tick synthesizes a new bar instead.
	DefaultTickUpdateWindowMS = 60_000

	// DefaultRecomputeMovePct gates recomputes on updates that stay inside
	// the current bar: the close must move more than this fraction.
	DefaultRecomputeMovePct = 0.005

	// DefaultSignalRingSize bounds the per-symbol signal history.
	DefaultSignalRingSize = 10

	// DefaultStaleAfter is how long without a recompute before a symbol's
	// derived state is reported stale.
	DefaultStaleAfter = 10 * time.Second

	// Crossover detector defaults.
	DefaultCrossoverFast = 9
	DefaultCrossoverSlow = 20
	DefaultConfluenceMin = 30
	DefaultConfidenceCap = 79
)

// Config holds all engine tuning. Zero values are not usable; start from
// DefaultConfig and override.
type Config struct {
	// PrimaryTF is the timeframe ticks land on and derived series roll up
	// from.
	PrimaryTF model.Timeframe

	SeriesCap          int
	TickUpdateWindowMS int64
	RecomputeMovePct   float64
	SignalRingSize     int
	StaleAfter         time.Duration

	Indicator  indicator.Config
	Confluence confluence.Config
	Detectors  []strategy.Detector

	// SessionStart maps a bar timestamp to its session's opening timestamp
	// (both epoch ms). Bars at or after the returned value feed the session
	// VWAP. The default floors to the UTC day; production wires the exchange
	// calendar in.
	SessionStart func(ms int64) int64

	// Now is the clock, injectable for tests.
	Now func() time.Time
}

// DefaultConfig returns the production defaults with the EMA crossover
// detector registered.
func DefaultConfig() Config {
	return Config{
		PrimaryTF:          model.TF1m,
		SeriesCap:          DefaultSeriesCap,
		TickUpdateWindowMS: DefaultTickUpdateWindowMS,
		RecomputeMovePct:   DefaultRecomputeMovePct,
		SignalRingSize:     DefaultSignalRingSize,
		StaleAfter:         DefaultStaleAfter,
		Indicator:          indicator.DefaultConfig(),
		Confluence:         confluence.DefaultConfig(),
		Detectors: []strategy.Detector{
			strategy.NewEMACrossover(DefaultCrossoverFast, DefaultCrossoverSlow, DefaultConfluenceMin, DefaultConfidenceCap),
		},
		SessionStart: UTCDayStart,
		Now:          time.Now,
	}
}

// UTCDayStart floors an epoch-ms timestamp to its UTC day.
func UTCDayStart(ms int64) int64 {
	const day = 24 * 60 * 60 * 1000
	return ms - ms%day
}

func (c *Config) normalize() {
	if c.PrimaryTF == 0 {
		c.PrimaryTF = model.TF1m
	}
	if c.SeriesCap <= 0 {
		c.SeriesCap = DefaultSeriesCap
	}
	if c.TickUpdateWindowMS <= 0 {
		c.TickUpdateWindowMS = DefaultTickUpdateWindowMS
	}
	if c.RecomputeMovePct <= 0 {
		c.RecomputeMovePct = DefaultRecomputeMovePct
	}
	if c.SignalRingSize <= 0 {
		c.SignalRingSize = DefaultSignalRingSize
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.SessionStart == nil {
		c.SessionStart = UTCDayStart
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}
