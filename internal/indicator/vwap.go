package indicator

import (
	"math"

	"signal-enginev1/internal/model"
)

// VWAP computes the cumulative volume-weighted average price series over the
// supplied bars, using the typical price (high+low+close)/3 per bar.
//
// The accumulation is session-scoped by convention: callers pass only the
// bars inside the session window they care about. Outputs are NaN until the
// first bar with non-zero volume.
func VWAP(bars []model.Bar) []float64 {
	out := nanSlice(len(bars))

	var cumPV, cumVol float64
	for i := range bars {
		tp := (bars[i].High + bars[i].Low + bars[i].Close) / 3
		vol := float64(bars[i].Volume)
		cumPV += tp * vol
		cumVol += vol
		if cumVol > 0 {
			out[i] = cumPV / cumVol
		}
	}
	return out
}

// LastVWAP returns the final value of the VWAP series, or NaN for empty input.
func LastVWAP(bars []model.Bar) float64 {
	series := VWAP(bars)
	if len(series) == 0 {
		return math.NaN()
	}
	return series[len(series)-1]
}
