// Package backfill seeds the engine with history at startup. It walks the
// watch set sequentially, intraday series first: cached bars from local
// storage seed each series when a history reader is configured, then vendor
// candles are fetched in chunks from wherever the cache ends, every batch
// flowing through the store's merge path.
//
// Backfill must finish before the live stream connects: merges reject bars
// older than a series' newest, so history arriving after live bars would be
// discarded.
package backfill

import (
	"context"
	"log"
	"time"

	"signal-enginev1/internal/engine"
	"signal-enginev1/internal/model"
)

// Config tunes lookback windows and fetch pacing.
type Config struct {
	Fetcher model.CandleFetcher
	Store   *engine.Store

	// History, when set, warm-starts each series from local storage before
	// the first vendor request; the fetch then resumes after the newest
	// cached bar. Read errors degrade to a full vendor fill.
	History   model.HistoryReader
	WarmLimit int // newest cached bars loaded per series, default 500

	IntradayDays int // 1m lookback, default 2
	DailyDays    int // 1d lookback, default 365

	ChunkBars  int           // max bars per request, default 500
	RetryDelay time.Duration // flat delay between chunk retries, default 2s
	MaxRetries int           // attempts per chunk before skipping the series, default 3
	Throttle   time.Duration // pause between vendor requests, default 150ms, negative disables

	Now func() time.Time
}

// Backfiller fills one series at a time. A chunk that keeps failing skips the
// rest of its series; the run continues with the next one.
type Backfiller struct {
	cfg Config

	// OnSeriesDone fires after each (symbol, tf) series with the applied count.
	OnSeriesDone func(symbol string, tf model.Timeframe, applied int)
	// OnError fires when a series is abandoned after MaxRetries.
	OnError func(symbol string, tf model.Timeframe, err error)
}

// New builds a Backfiller with defaults filled in.
func New(cfg Config) *Backfiller {
	if cfg.WarmLimit <= 0 {
		cfg.WarmLimit = 500
	}
	if cfg.IntradayDays <= 0 {
		cfg.IntradayDays = 2
	}
	if cfg.DailyDays <= 0 {
		cfg.DailyDays = 365
	}
	if cfg.ChunkBars <= 0 {
		cfg.ChunkBars = 500
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Throttle < 0 {
		cfg.Throttle = 0
	} else if cfg.Throttle == 0 {
		cfg.Throttle = 150 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Backfiller{cfg: cfg}
}

// Run backfills every symbol sequentially, 1m history then daily. Blocks until
// done or ctx is cancelled. Returns the total bars applied.
func (b *Backfiller) Run(ctx context.Context, symbols []string) int {
	started := b.cfg.Now()
	total := 0
	for _, sym := range symbols {
		if ctx.Err() != nil {
			break
		}
		for _, tf := range []model.Timeframe{model.TF1m, model.TF1d} {
			applied, err := b.fillSeries(ctx, sym, tf)
			total += applied
			if err != nil {
				log.Printf("[backfill] %s %s abandoned: %v", sym, tf, err)
				if b.OnError != nil {
					b.OnError(sym, tf, err)
				}
				continue
			}
			if b.OnSeriesDone != nil {
				b.OnSeriesDone(sym, tf, applied)
			}
		}
	}
	log.Printf("[backfill] done: %d bars across %d symbols in %v",
		total, len(symbols), b.cfg.Now().Sub(started).Truncate(time.Millisecond))
	return total
}

// fillSeries walks [lookback, now) in chunk windows. Empty chunks (weekends,
// halts) advance past the window; non-empty chunks resume after the last bar.
func (b *Backfiller) fillSeries(ctx context.Context, symbol string, tf model.Timeframe) (int, error) {
	days := b.cfg.IntradayDays
	if tf == model.TF1d {
		days = b.cfg.DailyDays
	}
	now := b.cfg.Now()
	width := tf.Millis()
	from := now.AddDate(0, 0, -days).UnixMilli() / width * width
	to := now.UnixMilli()

	applied := 0
	if b.cfg.History != nil {
		n, resumeMS := b.warmStart(symbol, tf, from)
		applied += n
		if resumeMS > from {
			from = resumeMS
		}
	}
	for from < to {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		chunkTo := from + int64(b.cfg.ChunkBars)*width
		if chunkTo > to {
			chunkTo = to
		}

		bars, err := b.fetchChunk(ctx, symbol, tf, from, chunkTo)
		if err != nil {
			return applied, err
		}
		if len(bars) == 0 {
			from = chunkTo
			continue
		}

		applied += b.cfg.Store.ApplyHistoricalBars(symbol, tf, bars)
		next := bars[len(bars)-1].StartMS + width
		if next <= from {
			// Vendor returned bars before the requested window; skip ahead
			// rather than spin.
			next = chunkTo
		}
		from = next

		if b.cfg.Throttle > 0 && from < to {
			select {
			case <-ctx.Done():
				return applied, ctx.Err()
			case <-time.After(b.cfg.Throttle):
			}
		}
	}
	return applied, nil
}

// warmStart seeds the series with cached bars inside the lookback window and
// returns where the vendor fetch should resume. Cached history is applied
// through the same merge path as vendor bars.
func (b *Backfiller) warmStart(symbol string, tf model.Timeframe, windowStartMS int64) (applied int, resumeMS int64) {
	cached, err := b.cfg.History.ReadBars(symbol, tf, windowStartMS-1, b.cfg.WarmLimit)
	if err != nil {
		log.Printf("[backfill] %s %s warm start failed, falling back to vendor: %v", symbol, tf, err)
		return 0, 0
	}
	if len(cached) == 0 {
		return 0, 0
	}
	applied = b.cfg.Store.ApplyHistoricalBars(symbol, tf, cached)
	resumeMS = cached[len(cached)-1].StartMS + tf.Millis()
	log.Printf("[backfill] %s %s warm started with %d cached bars", symbol, tf, applied)
	return applied, resumeMS
}

func (b *Backfiller) fetchChunk(ctx context.Context, symbol string, tf model.Timeframe, fromMS, toMS int64) ([]model.Bar, error) {
	var lastErr error
	for attempt := 1; attempt <= b.cfg.MaxRetries; attempt++ {
		bars, err := b.cfg.Fetcher.GetCandles(ctx, symbol, tf, fromMS, toMS)
		if err == nil {
			return bars, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Printf("[backfill] %s %s chunk [%d, %d) attempt %d/%d: %v",
			symbol, tf, fromMS, toMS, attempt, b.cfg.MaxRetries, err)
		if attempt < b.cfg.MaxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(b.cfg.RetryDelay):
			}
		}
	}
	return nil, lastErr
}
