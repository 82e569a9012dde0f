// Package feedsim is the development feed server: it speaks the same auth,
// candle and stream protocol as the live vendor, backed by a seeded
// random-walk simulation instead of an exchange. Pointing the engine at it
// gives a full end-to-end run with no credentials.
package feedsim

import (
	"sync"

	"signal-enginev1/internal/model"
)

// minuteMS is the primary bar width the simulator emits.
const minuteMS = 60_000

// Agg builds 1-minute OHLCV bars from simulated ticks. The generator drives
// Process; a bucket rollover finalizes the previous bar through OnBar.
// Forming reads the open bar so the server can resend it mid-minute, the way
// the live vendor does.
type Agg struct {
	mu     sync.Mutex
	states map[string]*barState

	// OnBar receives each finalized minute bar.
	OnBar func(symbol string, bar model.Bar)
	// OnDroppedTick fires when a tick arrives for an already-closed bucket.
	OnDroppedTick func()
}

// barState is the forming bar for one symbol plus the price-volume sum that
// backs its VWAP.
type barState struct {
	bucketMS int64
	bar      model.Bar
	pv       float64
}

// NewAgg creates an empty aggregator.
func NewAgg() *Agg {
	return &Agg{states: make(map[string]*barState)}
}

// Process folds one tick into the symbol's forming bar. A tick in a newer
// minute finalizes the old bar first; a tick for an older minute is dropped.
func (a *Agg) Process(symbol string, price float64, qty int64, tsMS int64) {
	bucket := tsMS - tsMS%minuteMS

	var final model.Bar
	hasFinal := false

	a.mu.Lock()
	state, exists := a.states[symbol]

	if exists && bucket < state.bucketMS {
		// Late tick — belongs to a closed bucket
		a.mu.Unlock()
		if a.OnDroppedTick != nil {
			a.OnDroppedTick()
		}
		return
	}

	if exists && bucket > state.bucketMS {
		final, hasFinal = state.bar, true
		delete(a.states, symbol)
		exists = false
	}

	if !exists {
		st := &barState{
			bucketMS: bucket,
			bar: model.Bar{
				StartMS:    bucket,
				Open:       price,
				High:       price,
				Low:        price,
				Close:      price,
				Volume:     qty,
				TradeCount: 1,
			},
			pv: price * float64(qty),
		}
		if qty > 0 {
			st.bar.VWAP = price
		}
		a.states[symbol] = st
	} else {
		b := &state.bar
		if price > b.High {
			b.High = price
		}
		if price < b.Low {
			b.Low = price
		}
		b.Close = price
		b.Volume += qty
		b.TradeCount++
		state.pv += price * float64(qty)
		if b.Volume > 0 {
			b.VWAP = state.pv / float64(b.Volume)
		}
	}
	a.mu.Unlock()

	// Hook runs outside the lock: OnBar fans out to clients and history.
	if hasFinal && a.OnBar != nil {
		a.OnBar(symbol, final)
	}
}

// Forming returns a copy of the open bar for symbol, false if none.
func (a *Agg) Forming(symbol string) (model.Bar, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	state, ok := a.states[symbol]
	if !ok {
		return model.Bar{}, false
	}
	return state.bar, true
}

// FlushAll finalizes every open bar, used on shutdown.
func (a *Agg) FlushAll() {
	type finalBar struct {
		symbol string
		bar    model.Bar
	}

	a.mu.Lock()
	var out []finalBar
	for symbol, state := range a.states {
		out = append(out, finalBar{symbol, state.bar})
		delete(a.states, symbol)
	}
	a.mu.Unlock()

	if a.OnBar == nil {
		return
	}
	for _, f := range out {
		a.OnBar(f.symbol, f.bar)
	}
}
