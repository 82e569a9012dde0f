// Package replay feeds recorded 1-minute bars from SQLite back through the
// engine's merge path at a configurable speed, so the full recompute pipeline
// (rollups, indicators, confluence, signals) can be exercised offline against
// a captured session.
package replay

import (
	"context"
	"log"
	"sort"
	"time"

	"signal-enginev1/internal/model"
	sqlitestore "signal-enginev1/internal/store/sqlite"
)

// Replayer reads stored primary-TF bars and replays them as bar-close events
// at a speed multiplier.
type Replayer struct {
	reader *sqlitestore.Reader
}

// New creates a Replayer backed by a SQLite reader.
func New(reader *sqlitestore.Reader) *Replayer {
	return &Replayer{reader: reader}
}

// Run replays 1m bars for the given symbols in timestamp order, calling emit
// for each. An empty symbols slice replays every symbol in the database.
// speed controls playback: 1.0 = real-time, 10.0 = 10x, 0 = as fast as
// possible. fromMS filters to bars strictly after that epoch-ms stamp (0 =
// all). Returns the number of bars emitted.
func (r *Replayer) Run(ctx context.Context, symbols []string, fromMS int64, speed float64, emit func(model.BarClose)) (int, error) {
	if len(symbols) == 0 {
		var err error
		symbols, err = r.reader.Symbols(model.TF1m)
		if err != nil {
			return 0, err
		}
	}

	var events []model.BarClose
	for _, sym := range symbols {
		bars, err := r.reader.ReadBars(sym, model.TF1m, fromMS, 0)
		if err != nil {
			return 0, err
		}
		for _, b := range bars {
			events = append(events, model.BarClose{
				Symbol:  sym,
				TF:      model.TF1m,
				Open:    b.Open,
				High:    b.High,
				Low:     b.Low,
				Close:   b.Close,
				Volume:  b.Volume,
				VWAP:    b.VWAP,
				StartMS: b.StartMS,
			})
		}
	}

	if len(events) == 0 {
		log.Println("[replay] no bars found in SQLite")
		return 0, nil
	}

	// Interleave symbols by minute; tie-break on symbol for a stable run.
	sort.Slice(events, func(i, j int) bool {
		if events[i].StartMS != events[j].StartMS {
			return events[i].StartMS < events[j].StartMS
		}
		return events[i].Symbol < events[j].Symbol
	})

	log.Printf("[replay] loaded %d bars across %d symbols, speed=%.1fx", len(events), len(symbols), speed)

	var prevMS int64
	emitted := 0

	for _, bc := range events {
		select {
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d bars", emitted)
			return emitted, ctx.Err()
		default:
		}

		// Simulate time gaps between bars
		if speed > 0 && prevMS > 0 && bc.StartMS > prevMS {
			scaledGap := time.Duration(float64(bc.StartMS-prevMS)/speed) * time.Millisecond
			// Cap max sleep to skim over overnight gaps
			if scaledGap > 5*time.Second {
				scaledGap = 5 * time.Second
			}
			select {
			case <-ctx.Done():
				return emitted, ctx.Err()
			case <-time.After(scaledGap):
			}
		}
		prevMS = bc.StartMS

		emit(bc)
		emitted++
	}

	log.Printf("[replay] completed: %d bars replayed", emitted)
	return emitted, nil
}
