package indicator

import (
	"encoding/json"
	"math"

	"signal-enginev1/internal/model"
)

// Config holds the periods used for a symbol's indicator snapshot.
type Config struct {
	EMAFast   int
	EMAMid    int
	EMASlow   int
	RSIPeriod int
	ATRPeriod int
	BBPeriod  int
	BBMult    float64
}

// DefaultConfig returns the standard cockpit periods: EMA 9/20/50, RSI 14,
// ATR 14, Bollinger 20 x 2.0.
func DefaultConfig() Config {
	return Config{
		EMAFast:   9,
		EMAMid:    20,
		EMASlow:   50,
		RSIPeriod: 14,
		ATRPeriod: 14,
		BBPeriod:  20,
		BBMult:    2.0,
	}
}

// Snapshot is the latest value of every configured indicator for one
// timeframe. It is recomputed wholesale from the full candle history on each
// qualifying update, never incrementally. Fields are NaN while the series is
// too short for their period.
type Snapshot struct {
	EMAFast  float64
	EMAMid   float64
	EMASlow  float64
	RSI      float64
	ATR      float64
	VWAP     float64
	BBUpper  float64
	BBMiddle float64
	BBLower  float64
}

// ComputeSnapshot derives the snapshot from a bar series. sessionBars is the
// suffix of bars inside the current trading session and feeds only VWAP; the
// trailing-window indicators use the whole series.
func ComputeSnapshot(bars, sessionBars []model.Bar, cfg Config) Snapshot {
	closes := model.Closes(bars)

	upper, middle, lower := BollingerBands(closes, cfg.BBPeriod, cfg.BBMult)

	return Snapshot{
		EMAFast:  Last(EMA(closes, cfg.EMAFast)),
		EMAMid:   Last(EMA(closes, cfg.EMAMid)),
		EMASlow:  Last(EMA(closes, cfg.EMASlow)),
		RSI:      Last(RSI(closes, cfg.RSIPeriod)),
		ATR:      Last(ATR(bars, cfg.ATRPeriod)),
		VWAP:     Last(VWAP(sessionBars)),
		BBUpper:  Last(upper),
		BBMiddle: Last(middle),
		BBLower:  Last(lower),
	}
}

// BBWidthPct returns the band width relative to price ((upper-lower)/price),
// or NaN when the bands or price are not available.
func (s *Snapshot) BBWidthPct(price float64) float64 {
	if price <= 0 || math.IsNaN(s.BBUpper) || math.IsNaN(s.BBLower) {
		return math.NaN()
	}
	return (s.BBUpper - s.BBLower) / price
}

// MarshalJSON renders NaN fields as null so the snapshot can cross JSON
// boundaries (gateway, redis) without tripping encoding/json.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"ema_fast":  jsonNumber(s.EMAFast),
		"ema_mid":   jsonNumber(s.EMAMid),
		"ema_slow":  jsonNumber(s.EMASlow),
		"rsi":       jsonNumber(s.RSI),
		"atr":       jsonNumber(s.ATR),
		"vwap":      jsonNumber(s.VWAP),
		"bb_upper":  jsonNumber(s.BBUpper),
		"bb_middle": jsonNumber(s.BBMiddle),
		"bb_lower":  jsonNumber(s.BBLower),
	})
}

func jsonNumber(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

// EmptySnapshot returns a snapshot with every field NaN, the derived state of
// a symbol before its first recompute.
func EmptySnapshot() Snapshot {
	nan := math.NaN()
	return Snapshot{
		EMAFast: nan, EMAMid: nan, EMASlow: nan,
		RSI: nan, ATR: nan, VWAP: nan,
		BBUpper: nan, BBMiddle: nan, BBLower: nan,
	}
}

// Last returns the final element of a series, or NaN for empty input.
func Last(series []float64) float64 {
	if len(series) == 0 {
		return math.NaN()
	}
	return series[len(series)-1]
}
