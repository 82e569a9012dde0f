// Package pump is the single-writer apply loop between the provider stream
// and the engine store. The stream's read goroutine offers quote ticks into a
// lock-free SPSC ring and bar closes into a small buffered channel; one
// consumer goroutine drains both into the store. The socket reader is never
// blocked by a slow recompute, and every mutation still enters the engine
// from a single goroutine.
package pump

import (
	"context"
	"log"

	"signal-enginev1/internal/engine"
	"signal-enginev1/internal/model"
	"signal-enginev1/internal/ringbuf"
)

const (
	// DefaultRingSize buffers roughly a minute of worst-case tick flow.
	DefaultRingSize = 4096

	// DefaultBarBuffer holds bar closes; they arrive at most once per symbol
	// per minute, so a small buffer is plenty.
	DefaultBarBuffer = 256
)

// Pump moves stream events into the engine store.
//
// Producer side (OfferTick, OfferBar) must be called from a single goroutine,
// the stream reader. Run is the single consumer.
type Pump struct {
	store *engine.Store
	ring  *ringbuf.Ring
	bars  chan model.BarClose
	kick  chan struct{}

	// OnTickDrop fires when the ring is full and a tick is discarded.
	OnTickDrop func(model.QuoteTick)
	// OnBarDrop fires when the bar channel is full and a close is discarded.
	OnBarDrop func(model.BarClose)
}

// New creates a pump in front of the given store. Sizes <= 0 use defaults.
func New(store *engine.Store, ringSize, barBuffer int) *Pump {
	if ringSize <= 0 {
		ringSize = DefaultRingSize
	}
	if barBuffer <= 0 {
		barBuffer = DefaultBarBuffer
	}
	return &Pump{
		store: store,
		ring:  ringbuf.New(ringSize),
		bars:  make(chan model.BarClose, barBuffer),
		kick:  make(chan struct{}, 1),
	}
}

// OfferTick hands a tick to the consumer. Non-blocking: a full ring drops the
// tick (the next one supersedes it anyway).
func (p *Pump) OfferTick(t model.QuoteTick) {
	if !p.ring.Push(t) {
		if p.OnTickDrop != nil {
			p.OnTickDrop(t)
		}
		return
	}
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// OfferBar hands a bar close to the consumer. Non-blocking: a full channel
// drops the close, which backfill later repairs.
func (p *Pump) OfferBar(b model.BarClose) {
	select {
	case p.bars <- b:
	default:
		if p.OnBarDrop != nil {
			p.OnBarDrop(b)
		}
		log.Printf("[pump] bar channel full, dropping %s %s close", b.Symbol, b.TF)
	}
}

// Run drains ticks and bar closes into the store until ctx is cancelled.
// Relative ordering between the two lanes is not guaranteed; the store's
// merge-by-time rules make either order land correctly.
func (p *Pump) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-p.bars:
			p.store.ApplyBarClose(b)
		case <-p.kick:
			for {
				t, ok := p.ring.Pop()
				if !ok {
					break
				}
				p.store.ApplyTick(t)
			}
		}
	}
}

// Depth returns the number of ticks waiting in the ring.
func (p *Pump) Depth() int {
	return p.ring.Len()
}

// Overflow returns the total ticks dropped on a full ring.
func (p *Pump) Overflow() uint64 {
	return p.ring.Overflow()
}
