package model

import "encoding/json"

// Direction is the side of a strategy signal.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Signal is an immutable strategy-signal record. TS is the start of the bar
// that triggered it and Price that bar's close. Signals are retained only in
// the per-symbol ring (newest first, bounded); anything older falls off.
type Signal struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Strategy   string    `json:"strategy"`
	Direction  Direction `json:"direction"`
	Confidence int       `json:"confidence"`
	TS         int64     `json:"ts"` // triggering bar start, epoch ms
	Price      float64   `json:"price"`
	Reason     string    `json:"reason"`
}

// SignalID builds the deterministic identity for a signal: one strategy can
// emit at most one signal per symbol per triggering bar.
func SignalID(strategy, symbol string, barStartMS int64) string {
	return strategy + ":" + symbol + ":" + Itoa64(barStartMS)
}

// JSON serializes the signal, ignoring marshal errors (struct is always valid).
func (s *Signal) JSON() []byte {
	data, _ := json.Marshal(s)
	return data
}
