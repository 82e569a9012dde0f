package engine

import (
	"log"
	"math"
	"sync"
	"time"

	"signal-enginev1/internal/model"
)

// UpdateKind labels what mutation produced an Update event.
type UpdateKind string

const (
	UpdateKindBar      UpdateKind = "bar"
	UpdateKindTick     UpdateKind = "tick"
	UpdateKindBackfill UpdateKind = "backfill"
)

// Update describes one applied mutation. It is handed to the OnUpdate hook
// after the store's lock is released, so hooks may call selectors freely.
type Update struct {
	Symbol     string
	TF         model.Timeframe
	Kind       UpdateKind
	Bar        model.Bar // newest bar of TF after the mutation
	Recomputed bool
	Signals    []model.Signal // signals newly emitted by this update
}

// Store is the single entry point for all market state. Mutations take the
// write lock and run the merge → gate → recompute pipeline; selectors take
// the read lock and return copies.
type Store struct {
	mu      sync.RWMutex
	cfg     Config
	symbols map[string]*symbolState

	// Optional hooks, set before the store receives traffic. All of them are
	// invoked outside the lock.
	OnUpdate         func(Update)
	OnSignal         func(model.Signal)
	OnRecompute      func(symbol string, elapsed time.Duration)
	OnRecomputeSkip  func(symbol string)
	OnRecomputeError func(symbol string, err error)
	OnMergeReject    func(symbol string, tf model.Timeframe)
}

// NewStore creates an empty store. Call Initialize before wiring feeds in.
func NewStore(cfg Config) *Store {
	cfg.normalize()
	return &Store{
		cfg:     cfg,
		symbols: make(map[string]*symbolState),
	}
}

// Initialize seeds state for the watchlist plus the always-tracked macro
// symbols. Existing state survives, so calling it again is harmless.
func (s *Store) Initialize(watchlist []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sym := range append(model.MacroSymbols(), watchlist...) {
		sym = model.NormalizeSymbol(sym)
		if sym == "" {
			continue
		}
		if _, ok := s.symbols[sym]; !ok {
			s.symbols[sym] = newSymbolState(sym)
		}
	}
	log.Printf("[engine] initialized %d symbols (watchlist %d + macro %d)",
		len(s.symbols), len(watchlist), len(model.MacroSymbols()))
}

// Subscribe starts tracking a symbol. Idempotent.
func (s *Store) Subscribe(symbol string) {
	sym := model.NormalizeSymbol(symbol)
	if sym == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.symbols[sym]; !ok {
		s.symbols[sym] = newSymbolState(sym)
		log.Printf("[engine] subscribed %s", sym)
	}
}

// Unsubscribe drops a symbol and all its state. Macro symbols are protected:
// the call logs and leaves them alone.
func (s *Store) Unsubscribe(symbol string) {
	sym := model.NormalizeSymbol(symbol)
	if model.IsMacroSymbol(sym) {
		log.Printf("[engine] refusing to unsubscribe macro symbol %s", sym)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.symbols[sym]; ok {
		delete(s.symbols, sym)
		log.Printf("[engine] unsubscribed %s", sym)
	}
}

// ApplyBarClose merges a closed bar from the feed and runs the gated
// recompute. Bars for derived timeframes are rejected; those series are
// rebuilt from 1m and never written directly.
func (s *Store) ApplyBarClose(bc model.BarClose) {
	if err := bc.Validate(); err != nil {
		log.Printf("[engine] dropping invalid bar close: %v", err)
		return
	}
	if bc.TF.IsDerived() {
		log.Printf("[engine] dropping %s bar for derived timeframe %s", bc.Symbol, bc.TF)
		return
	}
	sym := model.NormalizeSymbol(bc.Symbol)
	bar := bc.Bar()
	nowMS := s.cfg.Now().UnixMilli()

	s.mu.Lock()
	st, ok := s.symbols[sym]
	if !ok {
		s.mu.Unlock()
		return
	}
	ref, hadRef := st.latest(bc.TF)
	outcome := st.mergeBar(bc.TF, bar, s.cfg.SeriesCap)
	if outcome == mergeRejected {
		s.mu.Unlock()
		log.Printf("[engine] rejecting out-of-order %s %s bar start=%d (newest=%d)",
			sym, bc.TF, bar.StartMS, ref.StartMS)
		if s.OnMergeReject != nil {
			s.OnMergeReject(sym, bc.TF)
		}
		return
	}
	s.finishMutation(st, Update{Symbol: sym, TF: bc.TF, Kind: UpdateKindBar, Bar: bar},
		s.gate(ref, hadRef, bar), nowMS)
}

// ApplyTick folds a quote tick into the primary series and runs the gated
// recompute. Ticks for untracked symbols are dropped.
func (s *Store) ApplyTick(tick model.QuoteTick) {
	if err := tick.Validate(); err != nil {
		log.Printf("[engine] dropping invalid tick: %v", err)
		return
	}
	sym := model.NormalizeSymbol(tick.Symbol)
	nowMS := s.cfg.Now().UnixMilli()

	s.mu.Lock()
	st, ok := s.symbols[sym]
	if !ok {
		s.mu.Unlock()
		return
	}
	ref, hadRef := st.latest(s.cfg.PrimaryTF)
	outcome := st.applyTick(tick, s.cfg.PrimaryTF, s.cfg.TickUpdateWindowMS, s.cfg.SeriesCap)
	if outcome == tickRejected {
		s.mu.Unlock()
		log.Printf("[engine] rejecting stale tick %s ts=%d (newest bar=%d)", sym, tick.TS, ref.StartMS)
		return
	}
	cur, _ := st.latest(s.cfg.PrimaryTF)
	s.finishMutation(st, Update{Symbol: sym, TF: s.cfg.PrimaryTF, Kind: UpdateKindTick, Bar: cur},
		s.gate(ref, hadRef, cur), nowMS)
}

// ApplyHistoricalBars merges a backfill batch through the live merge rules,
// then recomputes once for the whole batch. Returns how many bars were
// applied.
func (s *Store) ApplyHistoricalBars(symbol string, tf model.Timeframe, bars []model.Bar) int {
	if tf.IsDerived() {
		log.Printf("[engine] dropping %s backfill for derived timeframe %s", symbol, tf)
		return 0
	}
	sym := model.NormalizeSymbol(symbol)
	nowMS := s.cfg.Now().UnixMilli()

	s.mu.Lock()
	st, ok := s.symbols[sym]
	if !ok {
		s.mu.Unlock()
		return 0
	}
	applied, rejected := st.mergeHistorical(tf, bars, s.cfg.SeriesCap)
	if applied == 0 {
		s.mu.Unlock()
		if rejected > 0 {
			log.Printf("[engine] %s %s backfill: all %d bars rejected", sym, tf, rejected)
		}
		return 0
	}
	cur, _ := st.latest(tf)
	s.finishMutation(st, Update{Symbol: sym, TF: tf, Kind: UpdateKindBackfill, Bar: cur}, true, nowMS)
	if rejected > 0 {
		log.Printf("[engine] %s %s backfill: applied %d, rejected %d", sym, tf, applied, rejected)
	}
	return applied
}

// gate decides whether a mutation earns a recompute: any new bar start does,
// an in-place update only when the close moved more than RecomputeMovePct.
func (s *Store) gate(ref model.Bar, hadRef bool, cur model.Bar) bool {
	if !hadRef || cur.StartMS != ref.StartMS {
		return true
	}
	if ref.Close <= 0 {
		return true
	}
	return math.Abs(cur.Close-ref.Close)/ref.Close > s.cfg.RecomputeMovePct
}

// finishMutation runs the recompute when the gate fired, releases the lock
// and invokes hooks. Must be entered with the write lock held.
func (s *Store) finishMutation(st *symbolState, u Update, recompute bool, nowMS int64) {
	var (
		emitted    []model.Signal
		recErr     error
		recStart   time.Time
		recElapsed time.Duration
	)
	if recompute {
		recStart = time.Now()
		emitted, recErr = st.recompute(&s.cfg, nowMS)
		recElapsed = time.Since(recStart)
		u.Recomputed = recErr == nil
		u.Signals = emitted
	}
	s.mu.Unlock()

	switch {
	case recErr != nil:
		log.Printf("[engine] recompute failed for %s: %v (serving previous state)", u.Symbol, recErr)
		if s.OnRecomputeError != nil {
			s.OnRecomputeError(u.Symbol, recErr)
		}
	case recompute:
		if s.OnRecompute != nil {
			s.OnRecompute(u.Symbol, recElapsed)
		}
	default:
		if s.OnRecomputeSkip != nil {
			s.OnRecomputeSkip(u.Symbol)
		}
	}
	if s.OnSignal != nil {
		for _, sig := range emitted {
			s.OnSignal(sig)
		}
	}
	if s.OnUpdate != nil {
		s.OnUpdate(u)
	}
}
