// Package confluence derives the per-timeframe trend classification and the
// weighted 0-100 confluence score from a symbol's indicator snapshot.
//
// Everything here is a pure function over its inputs so the scoring rules can
// be tuned and tested without a store or a live feed behind them.
package confluence

import (
	"math"

	"signal-enginev1/internal/indicator"
	"signal-enginev1/internal/model"
)

// Config carries every tunable threshold in the scoring rules. The values are
// deliberately named configuration, not literals buried in the arithmetic.
type Config struct {
	// AlignQuorum is how many timeframes must agree before the trend
	// sub-score reads fully aligned (85 bull / 15 bear).
	AlignQuorum int

	// RSI band considered healthy, and the midline that splits bull/bear
	// alignment for the momentum sub-score.
	RSIBandLow  float64
	RSIBandHigh float64
	RSIMidline  float64

	// Bollinger width / price sweet spot for the volatility sub-score.
	BBWidthTight float64
	BBWidthWide  float64

	// Volume spike: latest volume vs the trailing VolumeLookback-bar average.
	VolumeSpikeRatio float64
	VolumeLookback   int

	// Technical sub-score proximity: price within EMAProximityPct of the
	// fast EMA, or a fast/mid EMA gap under EMAGapPct of price.
	EMAProximityPct float64
	EMAGapPct       float64

	// Sub-score weights. Must sum to 1.0.
	WeightTrend      float64
	WeightMomentum   float64
	WeightTechnical  float64
	WeightVolume     float64
	WeightVolatility float64
}

// DefaultConfig returns the cockpit's production thresholds.
func DefaultConfig() Config {
	return Config{
		AlignQuorum:      3,
		RSIBandLow:       30,
		RSIBandHigh:      70,
		RSIMidline:       50,
		BBWidthTight:     0.02,
		BBWidthWide:      0.05,
		VolumeSpikeRatio: 1.2,
		VolumeLookback:   20,
		EMAProximityPct:  0.01,
		EMAGapPct:        0.005,
		WeightTrend:      0.30,
		WeightMomentum:   0.25,
		WeightTechnical:  0.20,
		WeightVolume:     0.15,
		WeightVolatility: 0.10,
	}
}

// Inputs is everything Score needs for one symbol, already computed upstream.
type Inputs struct {
	Bars      []model.Bar        // primary-TF series, ordered ascending
	Snap      indicator.Snapshot // primary-TF indicator snapshot
	Trends    model.TrendMap     // per-timeframe classification
	PrimaryTF model.Timeframe
	NowMS     int64
}

// Score computes the confluence read model. The overall value is always the
// rounded weighted sum of the five stored sub-scores.
func Score(in Inputs, cfg Config) model.Confluence {
	var c model.Confluence
	c.UpdatedMS = in.NowMS
	if len(in.Bars) == 0 {
		c.Scores = SubScoresNeutral()
		c.Overall = overall(c.Scores, cfg)
		return c
	}
	latest := in.Bars[len(in.Bars)-1]

	c.Scores.Trend, c.Components.TrendAligned = trendScore(in.Trends, cfg)
	c.Scores.Momentum, c.Components.RSIHealthy = momentumScore(in.Snap.RSI, in.Trends[in.PrimaryTF], cfg)
	c.Scores.Volatility = volatilityScore(in.Snap.BBWidthPct(latest.Close), cfg)
	c.Scores.Volume, c.Components.VolumeSpike = volumeScore(in.Bars, cfg)
	c.Scores.Technical, c.Components.AboveVWAP, c.Components.NearEMA = technicalScore(latest.Close, in.Snap, cfg)

	c.Overall = overall(c.Scores, cfg)
	return c
}

// SubScoresNeutral is the all-50 baseline used before any data exists.
func SubScoresNeutral() model.SubScores {
	return model.SubScores{Trend: 50, Momentum: 50, Volatility: 50, Volume: 45, Technical: 35}
}

func overall(s model.SubScores, cfg Config) int {
	sum := cfg.WeightTrend*float64(s.Trend) +
		cfg.WeightMomentum*float64(s.Momentum) +
		cfg.WeightTechnical*float64(s.Technical) +
		cfg.WeightVolume*float64(s.Volume) +
		cfg.WeightVolatility*float64(s.Volatility)
	return int(math.Round(sum))
}

// trendScore: 85/15 when a quorum of timeframes agrees, 70/30 when the 5m and
// 15m frames agree without a quorum, 50 otherwise.
func trendScore(trends model.TrendMap, cfg Config) (score int, aligned bool) {
	bulls := trends.Count(model.TrendBull)
	bears := trends.Count(model.TrendBear)

	switch {
	case bulls >= cfg.AlignQuorum:
		return 85, true
	case bears >= cfg.AlignQuorum:
		return 15, true
	case trends[model.TF5m] == model.TrendBull && trends[model.TF15m] == model.TrendBull:
		return 70, false
	case trends[model.TF5m] == model.TrendBear && trends[model.TF15m] == model.TrendBear:
		return 30, false
	}
	return 50, false
}

// momentumScore: 80 for a healthy RSI aligned with the primary trend, 65 for
// merely healthy, 30 for overbought/oversold, 50 when RSI is unavailable.
func momentumScore(rsi float64, primary model.Trend, cfg Config) (score int, healthy bool) {
	if math.IsNaN(rsi) {
		return 50, false
	}
	healthy = rsi >= cfg.RSIBandLow && rsi <= cfg.RSIBandHigh
	if !healthy {
		return 30, false
	}
	alignedBull := primary == model.TrendBull && rsi > cfg.RSIMidline
	alignedBear := primary == model.TrendBear && rsi < cfg.RSIMidline
	if alignedBull || alignedBear {
		return 80, true
	}
	return 65, true
}

// volatilityScore: 75 inside the band-width sweet spot, 40 when squeezed
// tighter, 35 when blown wider, 50 when the bands are unavailable.
func volatilityScore(widthPct float64, cfg Config) int {
	switch {
	case math.IsNaN(widthPct):
		return 50
	case widthPct < cfg.BBWidthTight:
		return 40
	case widthPct > cfg.BBWidthWide:
		return 35
	}
	return 75
}

// volumeScore: 80 when the latest bar's volume beats the spike ratio over the
// trailing average (lookback window includes the latest bar), else 45.
func volumeScore(bars []model.Bar, cfg Config) (score int, spike bool) {
	n := len(bars)
	window := cfg.VolumeLookback
	if window <= 0 || window > n {
		window = n
	}
	var sum int64
	for i := n - window; i < n; i++ {
		sum += bars[i].Volume
	}
	avg := float64(sum) / float64(window)
	if avg <= 0 {
		return 45, false
	}
	if float64(bars[n-1].Volume) > cfg.VolumeSpikeRatio*avg {
		return 80, true
	}
	return 45, false
}

// technicalScore: two conditions — price above session VWAP, and price near
// EMA support (within EMAProximityPct of the fast EMA, or a fast/mid gap
// under EMAGapPct of price). 85 for both, 65 for one, 35 for neither.
func technicalScore(close float64, snap indicator.Snapshot, cfg Config) (score int, aboveVWAP, nearEMA bool) {
	aboveVWAP = !math.IsNaN(snap.VWAP) && close > snap.VWAP

	if !math.IsNaN(snap.EMAFast) && snap.EMAFast > 0 {
		if math.Abs(close-snap.EMAFast)/snap.EMAFast <= cfg.EMAProximityPct {
			nearEMA = true
		}
	}
	if !nearEMA && close > 0 && !math.IsNaN(snap.EMAFast) && !math.IsNaN(snap.EMAMid) {
		if math.Abs(snap.EMAFast-snap.EMAMid)/close < cfg.EMAGapPct {
			nearEMA = true
		}
	}

	switch {
	case aboveVWAP && nearEMA:
		return 85, aboveVWAP, nearEMA
	case aboveVWAP || nearEMA:
		return 65, aboveVWAP, nearEMA
	}
	return 35, aboveVWAP, nearEMA
}
