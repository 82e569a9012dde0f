// Package redis publishes derived engine state to downstream consumers
// (alert composers, dashboards) over Redis streams and pub/sub. Writes are
// fire-and-forget: failures are logged and counted, never surfaced to the
// compute path, and a circuit breaker sheds writes while the server is down.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"
	"unsafe"

	goredis "github.com/go-redis/redis/v8"

	"signal-enginev1/internal/model"
)

const (
	// Stream trimming: confluence updates arrive per gated recompute, signals
	// are rare. Both windows are generous for consumers that poll.
	confStreamMaxLen = 2000
	sigStreamMaxLen  = 500

	defaultLatestTTL = 30 * time.Minute
)

// PublisherConfig configures the outbound Redis publisher.
type PublisherConfig struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int

	LatestTTL    time.Duration // TTL on conf:latest keys, default 30m
	MaxFailures  int           // consecutive failures before the breaker opens, default 5
	ResetTimeout time.Duration // wait before a half-open probe, default 10s
	SignalBuffer int           // signals queued while the circuit is open, default 1000
}

// Publisher writes confluence snapshots and strategy signals to Redis.
// Implements model.OutboundPublisher.
type Publisher struct {
	client  *goredis.Client
	breaker *CircuitBreaker
	pending *signalBuffer
	ttl     time.Duration

	// OnError fires once per failed or shed write, for metrics.
	OnError func()
	// OnReplay fires after queued signals are replayed on circuit close.
	OnReplay func(count int)
	// OnBreakerOpen fires each time the circuit trips open.
	OnBreakerOpen func()
}

// New connects and pings the server. A publisher is only returned when the
// initial ping succeeds; the caller decides whether to run without one.
func New(cfg PublisherConfig) (*Publisher, error) {
	if cfg.LatestTTL <= 0 {
		cfg.LatestTTL = defaultLatestTTL
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 10 * time.Second
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	p := &Publisher{
		client:  client,
		breaker: NewCircuitBreaker(cfg.MaxFailures, cfg.ResetTimeout),
		pending: newSignalBuffer(cfg.SignalBuffer),
		ttl:     cfg.LatestTTL,
	}
	p.breaker.OnStateChange = func(from, to State) {
		log.Printf("[redis] circuit breaker %s -> %s", from, to)
		if to == StateOpen && p.OnBreakerOpen != nil {
			p.OnBreakerOpen()
		}
		if to == StateClosed {
			go p.replayPending()
		}
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return p, nil
}

// Client returns the underlying client for liveness checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// BreakerState returns the current circuit state for health reporting.
func (p *Publisher) BreakerState() State { return p.breaker.CurrentState() }

// PublishConfluence writes a symbol's derived snapshot: XADD to the symbol's
// stream (trimmed), SET the latest key with TTL, PUBLISH for live subscribers.
func (p *Publisher) PublishConfluence(ctx context.Context, symbol string, payload []byte) {
	// Zero-copy []byte->string (safe: payload is not mutated after this).
	jsonData := *(*string)(unsafe.Pointer(&payload))

	err := p.breaker.Execute(func() error {
		pipe := p.client.Pipeline()
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: "conf:stream:" + symbol,
			MaxLen: confStreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": jsonData},
		})
		pipe.Set(ctx, "conf:latest:"+symbol, jsonData, p.ttl)
		pipe.Publish(ctx, "pub:conf:"+symbol, jsonData)
		_, err := pipe.Exec(ctx)
		return err
	})
	p.noteResult(err, "confluence "+symbol)
}

// PublishSignal writes a strategy signal: XADD + PUBLISH. No latest key;
// consumers read the stream or listen live. Signals shed while the circuit is
// open are queued and replayed when it closes.
func (p *Publisher) PublishSignal(ctx context.Context, sig model.Signal) {
	jsonBytes := sig.JSON()
	jsonData := *(*string)(unsafe.Pointer(&jsonBytes))

	err := p.breaker.Execute(func() error {
		pipe := p.client.Pipeline()
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: "sig:stream:" + sig.Symbol,
			MaxLen: sigStreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": jsonData},
		})
		pipe.Publish(ctx, "pub:sig:"+sig.Symbol, jsonData)
		_, err := pipe.Exec(ctx)
		return err
	})
	if err == ErrCircuitOpen {
		p.pending.add(sig)
	}
	p.noteResult(err, "signal "+sig.ID)
}

// PendingSignals returns the number of signals queued for replay.
func (p *Publisher) PendingSignals() int { return p.pending.len() }

// replayPending re-publishes queued signals, oldest first. Replays go back
// through the breaker, so a relapse re-queues whatever is left.
func (p *Publisher) replayPending() {
	queued := p.pending.drain()
	if len(queued) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, sig := range queued {
		p.PublishSignal(ctx, sig)
	}
	log.Printf("[redis] replayed %d queued signals", len(queued))
	if p.OnReplay != nil {
		p.OnReplay(len(queued))
	}
}

// noteResult counts every failure but only logs real errors; shed writes while
// the breaker is open would flood the log.
func (p *Publisher) noteResult(err error, what string) {
	if err == nil {
		return
	}
	if p.OnError != nil {
		p.OnError()
	}
	if err != ErrCircuitOpen {
		log.Printf("[redis] publish %s: %v", what, err)
	}
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
