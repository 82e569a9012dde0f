package model

// Trend classifies one timeframe's direction from its EMA ladder:
// close > fast EMA > mid EMA > slow EMA is bull, the strict reverse is bear,
// anything else (including insufficient history) is neutral.
type Trend string

const (
	TrendBull    Trend = "bull"
	TrendBear    Trend = "bear"
	TrendNeutral Trend = "neutral"
)

// TrendMap holds the classification per timeframe. Timeframe's TextMarshaler
// makes it serialize with "1m"/"5m"... keys for the UI.
type TrendMap map[Timeframe]Trend

// Count returns how many timeframes carry the given trend.
func (m TrendMap) Count(t Trend) int {
	n := 0
	for _, v := range m {
		if v == t {
			n++
		}
	}
	return n
}

// Clone returns an independent copy of the map.
func (m TrendMap) Clone() TrendMap {
	if m == nil {
		return nil
	}
	out := make(TrendMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
