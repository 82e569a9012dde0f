package strategy

import (
	"fmt"
	"log"
	"math"

	"signal-enginev1/internal/indicator"
	"signal-enginev1/internal/model"
)

// EMACrossover detects fast/slow EMA crossovers on the primary timeframe.
//
// Buy signal: fast EMA crosses above slow EMA (golden cross)
// Sell signal: fast EMA crosses below slow EMA (death cross)
//
// A crossover only becomes a signal when the symbol's confluence score clears
// confluenceMin; confidence is the confluence score clamped to confidenceCap
// so a derived signal never reads as near-certain.
type EMACrossover struct {
	name          string
	fastPeriod    int
	slowPeriod    int
	confluenceMin int
	confidenceCap int

	// OnSuppressed fires when a crossover is dropped by the confluence
	// floor, for metrics.
	OnSuppressed func(symbol string)
}

// NewEMACrossover creates the crossover detector.
// fastPeriod < slowPeriod (e.g., 9 and 20).
func NewEMACrossover(fastPeriod, slowPeriod, confluenceMin, confidenceCap int) *EMACrossover {
	return &EMACrossover{
		name:          "EMA_Crossover",
		fastPeriod:    fastPeriod,
		slowPeriod:    slowPeriod,
		confluenceMin: confluenceMin,
		confidenceCap: confidenceCap,
	}
}

func (d *EMACrossover) Name() string {
	return d.name
}

func (d *EMACrossover) Evaluate(ctx Context) *model.Signal {
	n := len(ctx.Bars)
	if n < 2 {
		return nil
	}
	closes := model.Closes(ctx.Bars)
	fast := indicator.EMA(closes, d.fastPeriod)
	slow := indicator.EMA(closes, d.slowPeriod)

	prevFast, curFast := fast[n-2], fast[n-1]
	prevSlow, curSlow := slow[n-2], slow[n-1]
	if math.IsNaN(prevFast) || math.IsNaN(prevSlow) || math.IsNaN(curFast) || math.IsNaN(curSlow) {
		return nil
	}

	var dir model.Direction
	var cross string
	switch {
	case prevFast < prevSlow && curFast > curSlow:
		dir, cross = model.DirectionBuy, "above"
	case prevFast > prevSlow && curFast < curSlow:
		dir, cross = model.DirectionSell, "below"
	default:
		return nil
	}

	if ctx.Confluence.Overall < d.confluenceMin {
		log.Printf("[strategy] %s: %s cross %s suppressed, confluence %d < %d",
			d.name, ctx.Symbol, cross, ctx.Confluence.Overall, d.confluenceMin)
		if d.OnSuppressed != nil {
			d.OnSuppressed(ctx.Symbol)
		}
		return nil
	}

	latest := ctx.Bars[n-1]
	confidence := ctx.Confluence.Overall
	if confidence > d.confidenceCap {
		confidence = d.confidenceCap
	}
	return &model.Signal{
		ID:         model.SignalID(d.name, ctx.Symbol, latest.StartMS),
		Symbol:     ctx.Symbol,
		Strategy:   d.name,
		Direction:  dir,
		Confidence: confidence,
		TS:         latest.StartMS,
		Price:      latest.Close,
		Reason: fmt.Sprintf("EMA%d crossed %s EMA%d (confluence %d, RSI %.1f)",
			d.fastPeriod, cross, d.slowPeriod, ctx.Confluence.Overall, ctx.Snap.RSI),
	}
}
