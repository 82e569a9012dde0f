package engine

import (
	"sort"

	"signal-enginev1/internal/indicator"
	"signal-enginev1/internal/model"
)

// SymbolData is a point-in-time copy of everything the store holds for one
// symbol. Callers own it outright; mutating it never touches live state.
type SymbolData struct {
	Symbol        string                          `json:"symbol"`
	Candles       map[model.Timeframe][]model.Bar `json:"candles"`
	Snapshot      indicator.Snapshot              `json:"indicators"`
	Trends        model.TrendMap                  `json:"trends"`
	Confluence    model.Confluence                `json:"confluence"`
	Signals       []model.Signal                  `json:"signals"`
	LastUpdatedMS int64                           `json:"last_updated_ms"`
}

// Symbols returns every tracked symbol, sorted.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Tracked reports whether a symbol is in the store.
func (s *Store) Tracked(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.symbols[model.NormalizeSymbol(symbol)]
	return ok
}

// Data returns the full view of one symbol.
func (s *Store) Data(symbol string) (SymbolData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.symbols[model.NormalizeSymbol(symbol)]
	if !ok {
		return SymbolData{}, false
	}
	candles := make(map[model.Timeframe][]model.Bar, len(st.series))
	for tf, bars := range st.series {
		candles[tf] = copyBars(bars)
	}
	return SymbolData{
		Symbol:        st.symbol,
		Candles:       candles,
		Snapshot:      st.snap,
		Trends:        st.trends.Clone(),
		Confluence:    st.confluence,
		Signals:       copySignals(st.signals),
		LastUpdatedMS: st.lastUpdatedMS,
	}, true
}

// Candles returns up to limit of the newest bars for one timeframe, oldest
// first. limit <= 0 means the whole series.
func (s *Store) Candles(symbol string, tf model.Timeframe, limit int) []model.Bar {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.symbols[model.NormalizeSymbol(symbol)]
	if !ok {
		return nil
	}
	bars := st.series[tf]
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return copyBars(bars)
}

// Indicators returns the symbol's current indicator snapshot.
func (s *Store) Indicators(symbol string) (indicator.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.symbols[model.NormalizeSymbol(symbol)]
	if !ok {
		return indicator.EmptySnapshot(), false
	}
	return st.snap, true
}

// ConfluenceFor returns the symbol's current confluence read model.
func (s *Store) ConfluenceFor(symbol string) (model.Confluence, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.symbols[model.NormalizeSymbol(symbol)]
	if !ok {
		return model.Confluence{}, false
	}
	return st.confluence, true
}

// TrendFor returns the symbol's classification on one timeframe.
func (s *Store) TrendFor(symbol string, tf model.Timeframe) model.Trend {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.symbols[model.NormalizeSymbol(symbol)]
	if !ok {
		return model.TrendNeutral
	}
	if t, ok := st.trends[tf]; ok {
		return t
	}
	return model.TrendNeutral
}

// Signals returns up to limit of the symbol's newest signals, newest first.
// limit <= 0 means all retained signals.
func (s *Store) Signals(symbol string, limit int) []model.Signal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.symbols[model.NormalizeSymbol(symbol)]
	if !ok {
		return nil
	}
	sigs := st.signals
	if limit > 0 && len(sigs) > limit {
		sigs = sigs[:limit]
	}
	return copySignals(sigs)
}

// Stale reports whether the symbol's derived state is older than the
// configured staleness window. Unknown symbols are stale by definition.
func (s *Store) Stale(symbol string) bool {
	nowMS := s.cfg.Now().UnixMilli()
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.symbols[model.NormalizeSymbol(symbol)]
	if !ok {
		return true
	}
	if st.lastUpdatedMS == 0 {
		return true
	}
	return nowMS-st.lastUpdatedMS > s.cfg.StaleAfter.Milliseconds()
}

func copyBars(bars []model.Bar) []model.Bar {
	if bars == nil {
		return nil
	}
	out := make([]model.Bar, len(bars))
	copy(out, bars)
	return out
}

func copySignals(sigs []model.Signal) []model.Signal {
	if sigs == nil {
		return nil
	}
	out := make([]model.Signal, len(sigs))
	copy(out, sigs)
	return out
}
