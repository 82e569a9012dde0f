// Package closedetector detects the official closing price by observing
// post-close tick stability. After the 4:00 PM ET close the feed keeps
// emitting the auction settle for a while; when the quoted price stops
// changing for StableFor, the closing price is considered captured and the
// live session can disconnect.
package closedetector

import (
	"log"
	"time"
)

// Detector observes ticks after the session close time and decides when the
// closing price has been captured (quote becomes constant).
type Detector struct {
	lastPrice   float64
	stableSince time.Time
	closeTime   time.Time // 4:00 PM ET for the session being watched

	// StableFor is how long the quote must remain constant to be considered
	// the closing price. Default: 30 seconds.
	StableFor time.Duration

	// MaxGrace is the hard deadline after closeTime. If the quote hasn't
	// stabilized by closeTime + MaxGrace, disconnect anyway. Default: 5 minutes.
	MaxGrace time.Duration
}

// New creates a Detector for the given session close time.
func New(closeTime time.Time) *Detector {
	return &Detector{
		closeTime: closeTime,
		StableFor: 30 * time.Second,
		MaxGrace:  5 * time.Minute,
	}
}

// IsPostClose returns true if now is after the session close.
func (d *Detector) IsPostClose(now time.Time) bool {
	return now.After(d.closeTime)
}

// Observe records a tick price and returns true if the session should
// disconnect (quote has stabilized or hard deadline reached).
func (d *Detector) Observe(price float64, now time.Time) bool {
	// Hard deadline: always disconnect after MaxGrace
	if now.After(d.closeTime.Add(d.MaxGrace)) {
		log.Printf("[closedetector] hard deadline %v reached — disconnecting", d.MaxGrace)
		return true
	}

	// Only start observing after close time
	if !d.IsPostClose(now) {
		d.lastPrice = price
		return false
	}

	// Quote changed — reset stability timer
	if price != d.lastPrice {
		d.lastPrice = price
		d.stableSince = now
		return false
	}

	// Quote unchanged — check if stable long enough
	if d.stableSince.IsZero() {
		d.stableSince = now
		return false
	}

	if now.Sub(d.stableSince) >= d.StableFor {
		log.Printf("[closedetector] quote %.2f stable for %v after close — closing price captured",
			d.lastPrice, d.StableFor)
		return true
	}

	return false
}

// ClosingPrice returns the last observed price (the closing price).
func (d *Detector) ClosingPrice() float64 {
	return d.lastPrice
}
