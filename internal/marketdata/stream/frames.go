package stream

import (
	"fmt"

	"signal-enginev1/internal/model"
)

// frame is the flat JSON envelope both directions of the feed socket use.
// Client frames: auth, subscribe, unsubscribe. Server frames: status, tick,
// bar. Unused fields stay omitted on the wire.
type frame struct {
	Type string `json:"type"`

	// auth
	Token string `json:"token,omitempty"`

	// subscribe / unsubscribe
	Symbols []string `json:"symbols,omitempty"`

	// status
	State string `json:"state,omitempty"`

	// tick + bar
	Symbol string  `json:"symbol,omitempty"`
	Volume int64   `json:"volume,omitempty"`
	TS     int64   `json:"ts,omitempty"`
	Price  float64 `json:"price,omitempty"`

	// bar
	TF    string  `json:"tf,omitempty"`
	Open  float64 `json:"open,omitempty"`
	High  float64 `json:"high,omitempty"`
	Low   float64 `json:"low,omitempty"`
	Close float64 `json:"close,omitempty"`
	VWAP  float64 `json:"vwap,omitempty"`
	Start int64   `json:"start,omitempty"`
}

const (
	frameAuth        = "auth"
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	frameStatus      = "status"
	frameTick        = "tick"
	frameBar         = "bar"

	stateAuthenticated = "authenticated"
)

// quoteTick converts a tick frame into a validated model event.
func (f *frame) quoteTick() (model.QuoteTick, error) {
	t := model.QuoteTick{Symbol: f.Symbol, Price: f.Price, Volume: f.Volume, TS: f.TS}
	if err := t.Validate(); err != nil {
		return model.QuoteTick{}, err
	}
	return t, nil
}

// barClose converts a bar frame into a validated model event.
func (f *frame) barClose() (model.BarClose, error) {
	tf, err := model.ParseTimeframe(f.TF)
	if err != nil {
		return model.BarClose{}, fmt.Errorf("bar frame: %w", err)
	}
	b := model.BarClose{
		Symbol:  f.Symbol,
		TF:      tf,
		Open:    f.Open,
		High:    f.High,
		Low:     f.Low,
		Close:   f.Close,
		Volume:  f.Volume,
		VWAP:    f.VWAP,
		StartMS: f.Start,
	}
	if err := b.Validate(); err != nil {
		return model.BarClose{}, err
	}
	return b, nil
}
