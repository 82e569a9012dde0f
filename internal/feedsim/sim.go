package feedsim

import (
	"context"
	"log"
	"math/rand"
	"time"

	"signal-enginev1/internal/model"
)

// Plausible starting prices for common symbols; anything else starts at 100.
var defaultStartPrices = map[string]float64{
	"SPY":   645,
	"QQQ":   575,
	"VIX":   15.5,
	"IWM":   242,
	"AAPL":  232,
	"MSFT":  505,
	"NVDA":  182,
	"TSLA":  335,
	"AMZN":  228,
	"GOOGL": 203,
	"META":  760,
}

const fallbackStartPrice = 100.0

// Simulator walks per-symbol prices and feeds the aggregator. One goroutine
// (Run) owns all simulation state after construction.
type Simulator struct {
	symbols  []string
	prices   map[string]float64
	rng      *rand.Rand
	agg      *Agg
	hist     *History
	interval time.Duration
	now      func() time.Time

	// barPushEvery resends the forming bar every Nth tick round, mimicking
	// the vendor's mid-minute bar updates. 0 disables.
	barPushEvery int
	tickRound    int

	// OnTick fires for every generated tick.
	OnTick func(symbol string, price float64, qty int64, tsMS int64)
	// OnForming fires with a copy of the open minute bar on resend rounds.
	OnForming func(symbol string, bar model.Bar)
}

// NewSimulator builds a simulator over the given symbols. startPrices
// overrides the defaults per symbol. seed 0 derives one from the clock.
func NewSimulator(symbols []string, startPrices map[string]float64, interval time.Duration, seed int64, agg *Agg, hist *History) *Simulator {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	prices := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		p, ok := startPrices[sym]
		if !ok {
			p, ok = defaultStartPrices[sym]
		}
		if !ok {
			p = fallbackStartPrice
		}
		prices[sym] = p
	}

	return &Simulator{
		symbols:      symbols,
		prices:       prices,
		rng:          rand.New(rand.NewSource(seed)),
		agg:          agg,
		hist:         hist,
		interval:     interval,
		now:          time.Now,
		barPushEvery: 5,
	}
}

// walk applies a tiny random step (±0.1%) to simulate price movement.
func (s *Simulator) walk(price float64, pctRange float64) float64 {
	pct := (s.rng.Float64()*2 - 1) * pctRange / 100.0
	next := price * (1 + pct)
	if next < 0.01 {
		next = 0.01
	}
	return next
}

func (s *Simulator) qty(symbol string) int64 {
	if symbol == "VIX" {
		return 0 // index, no prints
	}
	return s.rng.Int63n(4900) + 100
}

// SeedHistory pre-fills the archive with minutes1m minute bars and days1d
// daily bars per symbol, ending just before now, and leaves each symbol's
// live price at the last seeded close.
func (s *Simulator) SeedHistory(minutes1m, days1d int) {
	const dayMS = 24 * 60 * 60 * 1000
	nowMS := s.now().UnixMilli()
	minuteFloor := nowMS - nowMS%minuteMS
	dayFloor := nowMS - nowMS%dayMS

	for _, sym := range s.symbols {
		price := s.prices[sym]

		for i := int64(days1d); i >= 1; i-- {
			start := dayFloor - i*dayMS
			open := price
			price = s.walk(price, 1.0) // ±1% per day
			s.hist.Append(sym, model.TF1d, s.seedBar(sym, start, open, price, 0.5))
		}

		for i := int64(minutes1m); i >= 1; i-- {
			start := minuteFloor - i*minuteMS
			open := price
			price = s.walk(price, 0.1)
			s.hist.Append(sym, model.TF1m, s.seedBar(sym, start, open, price, 0.05))
		}

		s.prices[sym] = price
	}
	log.Printf("[feedsim] seeded history: %d×1m + %d×1d bars for %d symbols",
		minutes1m, days1d, len(s.symbols))
}

// seedBar shapes one historical bar around an open→close move, with wickPct
// of extra range on each side.
func (s *Simulator) seedBar(symbol string, startMS int64, open, close float64, wickPct float64) model.Bar {
	high, low := open, close
	if close > high {
		high = close
	}
	if open < low {
		low = open
	}
	high *= 1 + s.rng.Float64()*wickPct/100
	low *= 1 - s.rng.Float64()*wickPct/100

	vol := int64(0)
	if symbol != "VIX" {
		vol = s.rng.Int63n(900_000) + 100_000
	}
	bar := model.Bar{
		StartMS:    startMS,
		Open:       open,
		High:       high,
		Low:        low,
		Close:      close,
		Volume:     vol,
		TradeCount: vol / 150,
	}
	if vol > 0 {
		bar.VWAP = (high + low + close) / 3
	}
	return bar
}

// Run generates ticks on the configured interval until ctx is cancelled.
// Open bars are flushed on the way out.
func (s *Simulator) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("[feedsim] generator running: %d symbols, tick every %v", len(s.symbols), s.interval)

	for {
		select {
		case <-ctx.Done():
			s.agg.FlushAll()
			return
		case <-ticker.C:
			s.tickAll()
		}
	}
}

func (s *Simulator) tickAll() {
	tsMS := s.now().UnixMilli()
	s.tickRound++
	resend := s.barPushEvery > 0 && s.tickRound%s.barPushEvery == 0

	for _, sym := range s.symbols {
		price := s.walk(s.prices[sym], 0.1)
		s.prices[sym] = price
		qty := s.qty(sym)

		if s.OnTick != nil {
			s.OnTick(sym, price, qty, tsMS)
		}
		s.agg.Process(sym, price, qty, tsMS)

		if resend && s.OnForming != nil {
			if bar, ok := s.agg.Forming(sym); ok {
				s.OnForming(sym, bar)
			}
		}
	}
}
