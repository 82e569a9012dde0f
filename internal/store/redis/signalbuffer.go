package redis

import (
	"sync"

	"signal-enginev1/internal/model"
)

// signalBuffer queues signals shed while the circuit is open. Signals are
// discrete events alert consumers must not miss, so they are replayed once
// the circuit closes. Confluence snapshots are latest-wins and never queued;
// a newer snapshot supersedes anything a replay could deliver.
type signalBuffer struct {
	mu     sync.Mutex
	queue  []model.Signal
	maxBuf int
}

func newSignalBuffer(maxBuf int) *signalBuffer {
	if maxBuf <= 0 {
		maxBuf = 1000
	}
	return &signalBuffer{maxBuf: maxBuf}
}

// add appends a signal, dropping the oldest when full.
func (b *signalBuffer) add(sig model.Signal) (dropped bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) >= b.maxBuf {
		b.queue = b.queue[1:]
		dropped = true
	}
	b.queue = append(b.queue, sig)
	return dropped
}

// drain takes ownership of the queued signals, oldest first.
func (b *signalBuffer) drain() []model.Signal {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.queue
	b.queue = nil
	return out
}

func (b *signalBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}
