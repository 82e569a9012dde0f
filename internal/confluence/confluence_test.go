package confluence

import (
	"math"
	"testing"

	"signal-enginev1/internal/indicator"
	"signal-enginev1/internal/model"
)

// nanSnap mirrors a snapshot computed before any history exists: every field
// NaN, the same shape the engine hands to Score on a fresh symbol.
func nanSnap() indicator.Snapshot {
	nan := math.NaN()
	return indicator.Snapshot{
		EMAFast: nan, EMAMid: nan, EMASlow: nan,
		RSI: nan, ATR: nan, VWAP: nan,
		BBUpper: nan, BBMiddle: nan, BBLower: nan,
	}
}

func volBars(vols ...int64) []model.Bar {
	bars := make([]model.Bar, len(vols))
	for i, v := range vols {
		bars[i] = model.Bar{
			StartMS: int64(i) * 60_000,
			Open:    100, High: 100, Low: 100, Close: 100,
			Volume: v,
		}
	}
	return bars
}

func baseInputs(bars []model.Bar) Inputs {
	return Inputs{
		Bars:      bars,
		Snap:      nanSnap(),
		Trends:    model.TrendMap{},
		PrimaryTF: model.TF1m,
		NowMS:     1_700_000_000_000,
	}
}

// ────────────────────────────────────────────────────────────────────────────
// Trend sub-score
// ────────────────────────────────────────────────────────────────────────────

func TestScore_TrendQuorum(t *testing.T) {
	cfg := DefaultConfig()

	in := baseInputs(volBars(100))
	in.Trends = model.TrendMap{
		model.TF1m:  model.TrendBull,
		model.TF5m:  model.TrendBull,
		model.TF15m: model.TrendBull,
		model.TF60m: model.TrendBear,
		model.TF1d:  model.TrendNeutral,
	}
	c := Score(in, cfg)
	if c.Scores.Trend != 85 {
		t.Fatalf("3 bullish timeframes: trend score = %d, want 85", c.Scores.Trend)
	}
	if !c.Components.TrendAligned {
		t.Fatalf("3 bullish timeframes: TrendAligned = false, want true")
	}

	in.Trends = model.TrendMap{
		model.TF1m:  model.TrendBear,
		model.TF5m:  model.TrendBear,
		model.TF15m: model.TrendBear,
		model.TF60m: model.TrendBull,
		model.TF1d:  model.TrendBull,
	}
	c = Score(in, cfg)
	if c.Scores.Trend != 15 {
		t.Fatalf("3 bearish timeframes: trend score = %d, want 15", c.Scores.Trend)
	}
}

func TestScore_TrendPartialAgreement(t *testing.T) {
	cfg := DefaultConfig()

	// Only 5m+15m agree: no quorum, partial bull reads 70.
	in := baseInputs(volBars(100))
	in.Trends = model.TrendMap{
		model.TF1m:  model.TrendNeutral,
		model.TF5m:  model.TrendBull,
		model.TF15m: model.TrendBull,
		model.TF60m: model.TrendBear,
		model.TF1d:  model.TrendBear,
	}
	c := Score(in, cfg)
	if c.Scores.Trend != 70 {
		t.Fatalf("5m/15m bullish: trend score = %d, want 70", c.Scores.Trend)
	}
	if c.Components.TrendAligned {
		t.Fatalf("partial agreement should not set TrendAligned")
	}

	in.Trends = model.TrendMap{
		model.TF1m:  model.TrendBull,
		model.TF5m:  model.TrendBear,
		model.TF15m: model.TrendBear,
		model.TF60m: model.TrendNeutral,
		model.TF1d:  model.TrendBull,
	}
	c = Score(in, cfg)
	if c.Scores.Trend != 30 {
		t.Fatalf("5m/15m bearish: trend score = %d, want 30", c.Scores.Trend)
	}

	in.Trends = model.TrendMap{
		model.TF5m:  model.TrendBull,
		model.TF15m: model.TrendBear,
	}
	c = Score(in, cfg)
	if c.Scores.Trend != 50 {
		t.Fatalf("mixed timeframes: trend score = %d, want 50", c.Scores.Trend)
	}
}

// ────────────────────────────────────────────────────────────────────────────
// Momentum sub-score
// ────────────────────────────────────────────────────────────────────────────

func TestScore_Momentum(t *testing.T) {
	cfg := DefaultConfig()

	// Healthy RSI above the midline with a bullish primary trend: 80.
	in := baseInputs(volBars(100))
	in.Snap.RSI = 60
	in.Trends = model.TrendMap{model.TF1m: model.TrendBull}
	c := Score(in, cfg)
	if c.Scores.Momentum != 80 || !c.Components.RSIHealthy {
		t.Fatalf("aligned healthy RSI: momentum = %d healthy = %v, want 80 true",
			c.Scores.Momentum, c.Components.RSIHealthy)
	}

	// Healthy RSI below the midline with a bearish primary trend: also 80.
	in.Snap.RSI = 40
	in.Trends = model.TrendMap{model.TF1m: model.TrendBear}
	c = Score(in, cfg)
	if c.Scores.Momentum != 80 {
		t.Fatalf("aligned bearish RSI: momentum = %d, want 80", c.Scores.Momentum)
	}

	// Healthy but against the trend: 65.
	in.Snap.RSI = 40
	in.Trends = model.TrendMap{model.TF1m: model.TrendBull}
	c = Score(in, cfg)
	if c.Scores.Momentum != 65 {
		t.Fatalf("healthy unaligned RSI: momentum = %d, want 65", c.Scores.Momentum)
	}

	// Overbought and oversold both read 30.
	in.Snap.RSI = 75
	c = Score(in, cfg)
	if c.Scores.Momentum != 30 || c.Components.RSIHealthy {
		t.Fatalf("overbought RSI: momentum = %d healthy = %v, want 30 false",
			c.Scores.Momentum, c.Components.RSIHealthy)
	}
	in.Snap.RSI = 25
	c = Score(in, cfg)
	if c.Scores.Momentum != 30 {
		t.Fatalf("oversold RSI: momentum = %d, want 30", c.Scores.Momentum)
	}

	// No RSI yet: neutral 50.
	in.Snap.RSI = math.NaN()
	c = Score(in, cfg)
	if c.Scores.Momentum != 50 {
		t.Fatalf("NaN RSI: momentum = %d, want 50", c.Scores.Momentum)
	}
}

// ────────────────────────────────────────────────────────────────────────────
// Volatility sub-score
// ────────────────────────────────────────────────────────────────────────────

func TestScore_Volatility(t *testing.T) {
	cfg := DefaultConfig()
	in := baseInputs(volBars(100)) // close 100

	// width = (101.5-98.5)/100 = 3% → inside the 2%..5% band.
	in.Snap.BBUpper, in.Snap.BBLower = 101.5, 98.5
	c := Score(in, cfg)
	if c.Scores.Volatility != 75 {
		t.Fatalf("3%% width: volatility = %d, want 75", c.Scores.Volatility)
	}

	// width = 1% → squeezed.
	in.Snap.BBUpper, in.Snap.BBLower = 100.5, 99.5
	c = Score(in, cfg)
	if c.Scores.Volatility != 40 {
		t.Fatalf("1%% width: volatility = %d, want 40", c.Scores.Volatility)
	}

	// width = 8% → blown out.
	in.Snap.BBUpper, in.Snap.BBLower = 104, 96
	c = Score(in, cfg)
	if c.Scores.Volatility != 35 {
		t.Fatalf("8%% width: volatility = %d, want 35", c.Scores.Volatility)
	}

	// No bands yet.
	in.Snap.BBUpper, in.Snap.BBLower = math.NaN(), math.NaN()
	c = Score(in, cfg)
	if c.Scores.Volatility != 50 {
		t.Fatalf("NaN bands: volatility = %d, want 50", c.Scores.Volatility)
	}
}

// ────────────────────────────────────────────────────────────────────────────
// Volume sub-score
// ────────────────────────────────────────────────────────────────────────────

func TestScore_VolumeSpike(t *testing.T) {
	cfg := DefaultConfig()

	// avg(100,100,100,100,200) = 120; 200 > 1.2·120 = 144 → spike.
	c := Score(baseInputs(volBars(100, 100, 100, 100, 200)), cfg)
	if c.Scores.Volume != 80 || !c.Components.VolumeSpike {
		t.Fatalf("spike: volume = %d spike = %v, want 80 true", c.Scores.Volume, c.Components.VolumeSpike)
	}

	// Flat volume: 100 > 1.2·100 is false.
	c = Score(baseInputs(volBars(100, 100, 100, 100, 100)), cfg)
	if c.Scores.Volume != 45 || c.Components.VolumeSpike {
		t.Fatalf("flat: volume = %d spike = %v, want 45 false", c.Scores.Volume, c.Components.VolumeSpike)
	}

	// All-zero volume series can't spike.
	c = Score(baseInputs(volBars(0, 0, 0)), cfg)
	if c.Scores.Volume != 45 {
		t.Fatalf("zero volume: volume = %d, want 45", c.Scores.Volume)
	}
}

// ────────────────────────────────────────────────────────────────────────────
// Technical sub-score
// ────────────────────────────────────────────────────────────────────────────

func TestScore_Technical(t *testing.T) {
	cfg := DefaultConfig()
	in := baseInputs(volBars(100)) // close 100

	// Above VWAP and within 1% of the fast EMA: |100-99.5|/99.5 ≈ 0.50%.
	in.Snap.VWAP = 99
	in.Snap.EMAFast = 99.5
	c := Score(in, cfg)
	if c.Scores.Technical != 85 || !c.Components.AboveVWAP || !c.Components.NearEMA {
		t.Fatalf("both conditions: technical = %d above = %v near = %v, want 85 true true",
			c.Scores.Technical, c.Components.AboveVWAP, c.Components.NearEMA)
	}

	// Near EMA only (price below VWAP).
	in.Snap.VWAP = 101
	c = Score(in, cfg)
	if c.Scores.Technical != 65 || c.Components.AboveVWAP {
		t.Fatalf("near EMA only: technical = %d above = %v, want 65 false",
			c.Scores.Technical, c.Components.AboveVWAP)
	}

	// Neither: far from the fast EMA and a wide fast/mid gap.
	in.Snap.VWAP = 101
	in.Snap.EMAFast = 90
	in.Snap.EMAMid = 85
	c = Score(in, cfg)
	if c.Scores.Technical != 35 || c.Components.NearEMA {
		t.Fatalf("neither condition: technical = %d near = %v, want 35 false",
			c.Scores.Technical, c.Components.NearEMA)
	}

	// The gap route: price far from the fast EMA but |110-110.3|/100 = 0.3%
	// fast/mid gap still counts as EMA support.
	in.Snap.VWAP = 99
	in.Snap.EMAFast = 110
	in.Snap.EMAMid = 110.3
	c = Score(in, cfg)
	if c.Scores.Technical != 85 || !c.Components.NearEMA {
		t.Fatalf("tight EMA gap: technical = %d near = %v, want 85 true",
			c.Scores.Technical, c.Components.NearEMA)
	}
}

// ────────────────────────────────────────────────────────────────────────────
// Overall weighting
// ────────────────────────────────────────────────────────────────────────────

func TestScore_OverallWeightedSum(t *testing.T) {
	cfg := DefaultConfig()

	// Best case on every rule:
	//   trend 85, momentum 80, technical 85, volume 80, volatility 75
	//   0.30·85 + 0.25·80 + 0.20·85 + 0.15·80 + 0.10·75
	//   = 25.5 + 20 + 17 + 12 + 7.5 = 82
	in := baseInputs(volBars(100, 100, 100, 100, 200))
	in.Trends = model.TrendMap{
		model.TF1m:  model.TrendBull,
		model.TF5m:  model.TrendBull,
		model.TF15m: model.TrendBull,
	}
	in.Snap.RSI = 60
	in.Snap.VWAP = 99
	in.Snap.EMAFast = 99.5
	in.Snap.BBUpper, in.Snap.BBLower = 101.5, 98.5
	c := Score(in, cfg)
	if c.Overall != 82 {
		t.Fatalf("best case: overall = %d, want 82", c.Overall)
	}
	if c.UpdatedMS != in.NowMS {
		t.Fatalf("UpdatedMS = %d, want %d", c.UpdatedMS, in.NowMS)
	}

	// Worst case:
	//   trend 15, momentum 30, technical 35, volume 45, volatility 35
	//   4.5 + 7.5 + 7 + 6.75 + 3.5 = 29.25 → 29
	in = baseInputs(volBars(100, 100, 100))
	in.Trends = model.TrendMap{
		model.TF1m:  model.TrendBear,
		model.TF5m:  model.TrendBear,
		model.TF15m: model.TrendBear,
	}
	in.Snap.RSI = 80
	in.Snap.VWAP = 101
	in.Snap.EMAFast = 90
	in.Snap.EMAMid = 85
	in.Snap.BBUpper, in.Snap.BBLower = 104, 96
	c = Score(in, cfg)
	if c.Overall != 29 {
		t.Fatalf("worst case: overall = %d, want 29", c.Overall)
	}
}

func TestScore_EmptyBarsNeutralBaseline(t *testing.T) {
	// No data at all: every rule reads its unavailable value.
	//   0.30·50 + 0.25·50 + 0.20·35 + 0.15·45 + 0.10·50 = 46.25 → 46
	c := Score(Inputs{NowMS: 42}, DefaultConfig())
	if c.Overall != 46 {
		t.Fatalf("empty inputs: overall = %d, want 46", c.Overall)
	}
	if c.UpdatedMS != 42 {
		t.Fatalf("empty inputs: UpdatedMS = %d, want 42", c.UpdatedMS)
	}
}

func TestScore_OverallStaysInBounds(t *testing.T) {
	cfg := DefaultConfig()
	for _, in := range []Inputs{
		{},
		baseInputs(volBars(1)),
		baseInputs(volBars(100, 500)),
	} {
		c := Score(in, cfg)
		if c.Overall < 0 || c.Overall > 100 {
			t.Fatalf("overall %d out of [0,100]", c.Overall)
		}
	}
}
