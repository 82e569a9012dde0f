package confluence

import (
	"math"

	"signal-enginev1/internal/indicator"
	"signal-enginev1/internal/model"
)

// Classify labels one timeframe's series by its EMA ladder: bull when
// close > fast > mid > slow, bear on the strict reverse, neutral otherwise.
// Any EMA still NaN (not enough history) forces neutral.
func Classify(closes []float64, cfg indicator.Config) model.Trend {
	n := len(closes)
	if n == 0 {
		return model.TrendNeutral
	}
	fast := indicator.Last(indicator.EMA(closes, cfg.EMAFast))
	mid := indicator.Last(indicator.EMA(closes, cfg.EMAMid))
	slow := indicator.Last(indicator.EMA(closes, cfg.EMASlow))
	if math.IsNaN(fast) || math.IsNaN(mid) || math.IsNaN(slow) {
		return model.TrendNeutral
	}
	close := closes[n-1]
	switch {
	case close > fast && fast > mid && mid > slow:
		return model.TrendBull
	case close < fast && fast < mid && mid < slow:
		return model.TrendBear
	}
	return model.TrendNeutral
}
