// Package rollup aggregates the authoritative 1-minute series into the
// coarser intraday timeframes (5m/15m/60m).
//
// Rollup is a wholesale recompute: every time the 1-minute series changes the
// derived series are rebuilt from scratch. The 500-bar cap on the source
// series keeps that cheap, and rebuilding avoids the drift an incremental
// builder accumulates when forming bars are replaced in place.
package rollup

import "signal-enginev1/internal/model"

// BucketStart floors a bar start to its bucket for the target timeframe.
// Equivalent to flooring the minute-of-day to a multiple of the target's
// minute width, since every supported width divides a day evenly.
func BucketStart(startMS int64, target model.Timeframe) int64 {
	width := target.Millis()
	return startMS - startMS%width
}

// Roll aggregates an ordered 1-minute series into the target timeframe.
//
// Per bucket: open = first constituent's open, high = max, low = min,
// close = last constituent's close, volume and trade count = sums. The
// rolled-up VWAP is a running pairwise average of constituent VWAPs — an
// approximation, not a volume-weighted recompute; consumers needing precise
// VWAP read the 1-minute series. Bucket boundaries come purely from the
// wall-clock bucket start: missing minutes never produce empty buckets.
//
// Only 5m/15m/60m are derivable; any other target returns nil (the 1m series
// is the source and the daily series is backfilled independently).
func Roll(oneMin []model.Bar, target model.Timeframe) []model.Bar {
	derivable := false
	for _, tf := range model.Derived() {
		if tf == target {
			derivable = true
			break
		}
	}
	if !derivable || len(oneMin) == 0 {
		return nil
	}

	out := make([]model.Bar, 0, len(oneMin)/target.Minutes()+1)
	for i := range oneMin {
		b := &oneMin[i]
		bucket := BucketStart(b.StartMS, target)

		if len(out) == 0 || out[len(out)-1].StartMS != bucket {
			nb := *b
			nb.StartMS = bucket
			out = append(out, nb)
			continue
		}

		cur := &out[len(out)-1]
		if b.High > cur.High {
			cur.High = b.High
		}
		if b.Low < cur.Low {
			cur.Low = b.Low
		}
		cur.Close = b.Close
		cur.Volume += b.Volume
		cur.TradeCount += b.TradeCount
		if b.VWAP > 0 {
			if cur.VWAP > 0 {
				cur.VWAP = (cur.VWAP + b.VWAP) / 2
			} else {
				cur.VWAP = b.VWAP
			}
		}
	}
	return out
}
