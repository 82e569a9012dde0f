// Package model defines the core market-data types shared across the engine:
// bars, timeframes, inbound event schemas, trend/confluence read models and
// strategy signals. Prices are float64 (US equities trade in decimal dollars);
// timestamps are epoch milliseconds to match the provider wire format.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Bar is one OHLCV sample for a fixed interval. StartMS is the bucket start
// in epoch milliseconds and is the identity of the bar within its series:
// series are ordered ascending and unique by StartMS.
type Bar struct {
	StartMS    int64   `json:"start_ms"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	Volume     int64   `json:"volume"`
	VWAP       float64 `json:"vwap,omitempty"`
	TradeCount int64   `json:"trade_count,omitempty"`
}

// Time returns the bar's bucket start as a time.Time (UTC).
func (b *Bar) Time() time.Time {
	return time.UnixMilli(b.StartMS).UTC()
}

// JSON serializes the bar, ignoring marshal errors (struct is always valid).
func (b *Bar) JSON() []byte {
	data, _ := json.Marshal(b)
	return data
}

// Timeframe is a bar interval expressed as a minute width.
type Timeframe int

const (
	TF1m  Timeframe = 1
	TF5m  Timeframe = 5
	TF15m Timeframe = 15
	TF60m Timeframe = 60
	TF1d  Timeframe = 1440
)

// Intraday lists the intraday timeframes, finest first.
// The 1m series is authoritative; 5m/15m/60m are derived from it.
func Intraday() []Timeframe { return []Timeframe{TF1m, TF5m, TF15m, TF60m} }

// Derived lists the timeframes recomputed by rollup whenever the 1m series changes.
func Derived() []Timeframe { return []Timeframe{TF5m, TF15m, TF60m} }

// AllTimeframes lists every supported timeframe including the daily series.
func AllTimeframes() []Timeframe { return []Timeframe{TF1m, TF5m, TF15m, TF60m, TF1d} }

// Minutes returns the minute width of the timeframe.
func (tf Timeframe) Minutes() int { return int(tf) }

// Millis returns the bucket width in milliseconds.
func (tf Timeframe) Millis() int64 { return int64(tf) * 60_000 }

// Valid reports whether tf is one of the supported timeframes.
func (tf Timeframe) Valid() bool {
	switch tf {
	case TF1m, TF5m, TF15m, TF60m, TF1d:
		return true
	}
	return false
}

// IsDerived reports whether tf is rebuilt from the 1m series rather than fed
// by the provider.
func (tf Timeframe) IsDerived() bool {
	switch tf {
	case TF5m, TF15m, TF60m:
		return true
	}
	return false
}

func (tf Timeframe) String() string {
	switch tf {
	case TF1m:
		return "1m"
	case TF5m:
		return "5m"
	case TF15m:
		return "15m"
	case TF60m:
		return "60m"
	case TF1d:
		return "1d"
	}
	return Itoa(int(tf)) + "m"
}

// ParseTimeframe parses a label like "5m" or "1d" back into a Timeframe.
func ParseTimeframe(s string) (Timeframe, error) {
	switch s {
	case "1m":
		return TF1m, nil
	case "5m":
		return TF5m, nil
	case "15m":
		return TF15m, nil
	case "60m", "1h":
		return TF60m, nil
	case "1d", "D":
		return TF1d, nil
	}
	return 0, fmt.Errorf("unknown timeframe %q", s)
}

// MarshalText makes Timeframe render as its label in JSON values and map keys.
func (tf Timeframe) MarshalText() ([]byte, error) {
	return []byte(tf.String()), nil
}

// UnmarshalText parses a timeframe label.
func (tf *Timeframe) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeframe(string(b))
	if err != nil {
		return err
	}
	*tf = parsed
	return nil
}

// Closes extracts the close column from a bar series.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i := range bars {
		out[i] = bars[i].Close
	}
	return out
}

// Highs extracts the high column from a bar series.
func Highs(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i := range bars {
		out[i] = bars[i].High
	}
	return out
}

// Lows extracts the low column from a bar series.
func Lows(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i := range bars {
		out[i] = bars[i].Low
	}
	return out
}

// Volumes extracts the volume column from a bar series.
func Volumes(bars []Bar) []int64 {
	out := make([]int64, len(bars))
	for i := range bars {
		out[i] = bars[i].Volume
	}
	return out
}
