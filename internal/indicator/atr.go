package indicator

import (
	"math"

	"signal-enginev1/internal/model"
)

// ATR computes the Average True Range series using Wilder's smoothing.
//
// True range needs the previous close, so ranges exist from the second bar
// onward and the first valid output is at index period (period+1 bars
// consumed). The seed averages the first period true ranges simply; later
// values smooth with alpha 1/period, mirroring RSI.
func ATR(bars []model.Bar, period int) []float64 {
	out := nanSlice(len(bars))
	if period <= 0 || len(bars) < period+1 {
		return out
	}

	seed := 0.0
	for i := 1; i <= period; i++ {
		seed += trueRange(&bars[i], bars[i-1].Close)
	}
	out[period] = seed / float64(period)

	p := float64(period)
	for i := period + 1; i < len(bars); i++ {
		tr := trueRange(&bars[i], bars[i-1].Close)
		out[i] = (out[i-1]*(p-1) + tr) / p
	}
	return out
}

// trueRange is max(high-low, |high-prevClose|, |low-prevClose|).
func trueRange(b *model.Bar, prevClose float64) float64 {
	tr := b.High - b.Low
	if hc := math.Abs(b.High - prevClose); hc > tr {
		tr = hc
	}
	if lc := math.Abs(b.Low - prevClose); lc > tr {
		tr = lc
	}
	return tr
}
