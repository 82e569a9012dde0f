package engine

import (
	"fmt"
	"sort"

	"signal-enginev1/internal/confluence"
	"signal-enginev1/internal/indicator"
	"signal-enginev1/internal/model"
	"signal-enginev1/internal/rollup"
	"signal-enginev1/internal/strategy"
)

// mergeOutcome says what a bar merge did to the target series.
type mergeOutcome int

const (
	mergeAppended mergeOutcome = iota
	mergeReplaced
	mergeRejected
)

// tickOutcome says what a quote tick did to the primary series.
type tickOutcome int

const (
	tickUpdated tickOutcome = iota
	tickSynthesized
	tickRejected
)

// symbolState is one symbol's bars plus everything derived from them. It has
// no locking of its own: the Store serializes every access.
type symbolState struct {
	symbol string

	// series holds ascending bars per timeframe. 1m and 1d are fed by the
	// provider and backfill; 5m/15m/60m are rebuilt from 1m on recompute and
	// never merged into directly.
	series map[model.Timeframe][]model.Bar

	snap       indicator.Snapshot
	trends     model.TrendMap
	confluence model.Confluence
	signals    []model.Signal // newest first, capped at SignalRingSize

	lastUpdatedMS int64 // last successful recompute
}

func newSymbolState(symbol string) *symbolState {
	return &symbolState{
		symbol: symbol,
		series: make(map[model.Timeframe][]model.Bar),
		snap:   indicator.EmptySnapshot(),
		trends: model.TrendMap{},
	}
}

// mergeBar merges one bar against the newest stored bar of tf:
// same start replaces in place, a newer start appends (evicting past the
// cap), an older start is rejected.
func (st *symbolState) mergeBar(tf model.Timeframe, bar model.Bar, cap int) mergeOutcome {
	s := st.series[tf]
	if len(s) == 0 {
		st.series[tf] = append(s, bar)
		return mergeAppended
	}
	last := s[len(s)-1]
	switch {
	case bar.StartMS == last.StartMS:
		s[len(s)-1] = bar
		return mergeReplaced
	case bar.StartMS > last.StartMS:
		s = append(s, bar)
		if len(s) > cap {
			copy(s, s[len(s)-cap:])
			s = s[:cap]
		}
		st.series[tf] = s
		return mergeAppended
	}
	return mergeRejected
}

// applyTick folds a quote into the primary series: it updates the newest bar
// in place while that bar is younger than windowMS, synthesizes a fresh
// one-point bar at the tick's own timestamp otherwise, and rejects quotes
// older than the newest bar.
func (st *symbolState) applyTick(tick model.QuoteTick, primaryTF model.Timeframe, windowMS int64, cap int) tickOutcome {
	s := st.series[primaryTF]
	if len(s) == 0 {
		st.series[primaryTF] = append(s, synthBar(tick))
		return tickSynthesized
	}
	last := &s[len(s)-1]
	delta := tick.TS - last.StartMS
	if delta < 0 {
		return tickRejected
	}
	if delta < windowMS {
		last.Close = tick.Price
		if tick.Price > last.High {
			last.High = tick.Price
		}
		if tick.Price < last.Low {
			last.Low = tick.Price
		}
		return tickUpdated
	}
	s = append(s, synthBar(tick))
	if len(s) > cap {
		copy(s, s[len(s)-cap:])
		s = s[:cap]
	}
	st.series[primaryTF] = s
	return tickSynthesized
}

// synthBar is the minimal bar a lone quote produces: one price for all four
// legs, stamped at the quote's own time rather than a floored bucket.
func synthBar(tick model.QuoteTick) model.Bar {
	return model.Bar{
		StartMS: tick.TS,
		Open:    tick.Price,
		High:    tick.Price,
		Low:     tick.Price,
		Close:   tick.Price,
		Volume:  tick.Volume,
	}
}

// mergeHistorical merges a backfill batch oldest-first through the same merge
// rules live bars use and reports how many were applied vs rejected.
func (st *symbolState) mergeHistorical(tf model.Timeframe, bars []model.Bar, cap int) (applied, rejected int) {
	sorted := make([]model.Bar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartMS < sorted[j].StartMS })
	for _, b := range sorted {
		if st.mergeBar(tf, b, cap) == mergeRejected {
			rejected++
			continue
		}
		applied++
	}
	return applied, rejected
}

// latest returns a copy of the newest bar of tf.
func (st *symbolState) latest(tf model.Timeframe) (model.Bar, bool) {
	s := st.series[tf]
	if len(s) == 0 {
		return model.Bar{}, false
	}
	return s[len(s)-1], true
}

// recompute rebuilds every piece of derived state from the stored bars:
// derived timeframes, the indicator snapshot, per-timeframe trends, the
// confluence score and strategy signals. New state is assembled in locals and
// committed at the end, so a panicking computation leaves the previous
// (stale but valid) state untouched.
func (st *symbolState) recompute(cfg *Config, nowMS int64) (emitted []model.Signal, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recompute %s: %v", st.symbol, r)
		}
	}()

	oneMin := st.series[model.TF1m]
	derived := make(map[model.Timeframe][]model.Bar, len(model.Derived()))
	for _, tf := range model.Derived() {
		derived[tf] = rollup.Roll(oneMin, tf)
	}
	seriesFor := func(tf model.Timeframe) []model.Bar {
		if bars, ok := derived[tf]; ok {
			return bars
		}
		return st.series[tf]
	}

	primary := seriesFor(cfg.PrimaryTF)
	snap := indicator.ComputeSnapshot(primary, sessionSlice(primary, cfg.SessionStart), cfg.Indicator)

	trends := make(model.TrendMap, len(model.AllTimeframes()))
	for _, tf := range model.AllTimeframes() {
		trends[tf] = confluence.Classify(model.Closes(seriesFor(tf)), cfg.Indicator)
	}

	conf := confluence.Score(confluence.Inputs{
		Bars:      primary,
		Snap:      snap,
		Trends:    trends,
		PrimaryTF: cfg.PrimaryTF,
		NowMS:     nowMS,
	}, cfg.Confluence)

	sigs := strategy.EvaluateAll(cfg.Detectors, strategy.Context{
		Symbol:     st.symbol,
		Bars:       primary,
		Snap:       snap,
		Confluence: conf,
	})

	for tf, bars := range derived {
		st.series[tf] = bars
	}
	st.snap = snap
	st.trends = trends
	st.confluence = conf
	emitted = st.pushSignals(sigs, cfg.SignalRingSize)
	st.lastUpdatedMS = nowMS
	return emitted, nil
}

// pushSignals prepends new signals (newest first), drops duplicates by ID and
// truncates the ring. Returns the signals that were actually new.
func (st *symbolState) pushSignals(sigs []model.Signal, ringSize int) []model.Signal {
	var emitted []model.Signal
	for _, sig := range sigs {
		if st.hasSignal(sig.ID) {
			continue
		}
		st.signals = append(st.signals, model.Signal{})
		copy(st.signals[1:], st.signals)
		st.signals[0] = sig
		emitted = append(emitted, sig)
	}
	if len(st.signals) > ringSize {
		st.signals = st.signals[:ringSize]
	}
	return emitted
}

func (st *symbolState) hasSignal(id string) bool {
	for _, s := range st.signals {
		if s.ID == id {
			return true
		}
	}
	return false
}

// sessionSlice trims an ascending series to the bars belonging to the latest
// bar's session; only the session VWAP consumes this.
func sessionSlice(bars []model.Bar, sessionStart func(int64) int64) []model.Bar {
	if len(bars) == 0 || sessionStart == nil {
		return bars
	}
	start := sessionStart(bars[len(bars)-1].StartMS)
	i := sort.Search(len(bars), func(i int) bool { return bars[i].StartMS >= start })
	return bars[i:]
}
