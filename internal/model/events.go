package model

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the shared validator for inbound event schemas. Provider
// payloads are checked once here, at the ingestion boundary, so merge logic
// downstream never has to defend against malformed fields.
var validate = validator.New()

// QuoteTick is a sub-bar price update pushed by the provider stream.
type QuoteTick struct {
	Symbol string  `json:"symbol" validate:"required"`
	Price  float64 `json:"price" validate:"required,gt=0"`
	Volume int64   `json:"volume" validate:"gte=0"`
	TS     int64   `json:"ts" validate:"required,gt=0"` // epoch ms
}

// Validate checks the tick against its schema.
func (t *QuoteTick) Validate() error {
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("quote tick: %w", err)
	}
	return nil
}

// BarClose is a completed (or still-forming, resent) bar pushed by the
// provider stream. Providers resend the current bar with updated OHLCV until
// it closes; the merge layer applies those resends by StartMS equality.
type BarClose struct {
	Symbol  string    `json:"symbol" validate:"required"`
	TF      Timeframe `json:"tf" validate:"required"`
	Open    float64   `json:"open" validate:"required,gt=0"`
	High    float64   `json:"high" validate:"required,gt=0"`
	Low     float64   `json:"low" validate:"required,gt=0"`
	Close   float64   `json:"close" validate:"required,gt=0"`
	Volume  int64     `json:"volume" validate:"gte=0"`
	VWAP    float64   `json:"vwap" validate:"gte=0"`
	StartMS int64     `json:"start" validate:"required,gt=0"`
}

// Validate checks the bar event against its schema plus the OHLC ordering
// constraints the tag syntax cannot express.
func (b *BarClose) Validate() error {
	if err := validate.Struct(b); err != nil {
		return fmt.Errorf("bar close: %w", err)
	}
	if !b.TF.Valid() {
		return fmt.Errorf("bar close: unsupported timeframe %d", b.TF)
	}
	if b.High < b.Low || b.High < b.Open || b.High < b.Close || b.Low > b.Open || b.Low > b.Close {
		return fmt.Errorf("bar close: inconsistent OHLC for %s at %d", b.Symbol, b.StartMS)
	}
	return nil
}

// Bar converts the validated event into a series bar.
func (b *BarClose) Bar() Bar {
	return Bar{
		StartMS: b.StartMS,
		Open:    b.Open,
		High:    b.High,
		Low:     b.Low,
		Close:   b.Close,
		Volume:  b.Volume,
		VWAP:    b.VWAP,
	}
}

// ConnState is the streaming connection lifecycle state.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateAuthenticated
	StateError
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateError:
		return "error"
	}
	return "disconnected"
}
