package main

import (
	"context"
	"log"
	"sync"
	"time"

	"signal-enginev1/internal/marketdata/closedetector"
	"signal-enginev1/internal/marketdata/stream"
	"signal-enginev1/internal/markethours"
	"signal-enginev1/internal/metrics"
	"signal-enginev1/internal/model"
)

// closeWatchSymbol is the quote watched for post-close stabilization. SPY
// trades the same session as the whole watchlist and always streams (macro
// set), so its last print marks the close for everyone.
const closeWatchSymbol = "SPY"

// closeWatcher routes live ticks to the current session's close detector.
// Disarmed (sim mode, off-session) it is a no-op.
type closeWatcher struct {
	mu     sync.Mutex
	det    *closedetector.Detector
	cancel context.CancelFunc
}

func newCloseWatcher() *closeWatcher { return &closeWatcher{} }

func (w *closeWatcher) arm(det *closedetector.Detector, cancel context.CancelFunc) {
	w.mu.Lock()
	w.det, w.cancel = det, cancel
	w.mu.Unlock()
}

func (w *closeWatcher) disarm() {
	w.mu.Lock()
	w.det, w.cancel = nil, nil
	w.mu.Unlock()
}

// Observe feeds one tick to the armed detector and ends the session as soon
// as the closing price is captured, instead of waiting out the full grace
// period.
func (w *closeWatcher) Observe(t model.QuoteTick) {
	if t.Symbol != closeWatchSymbol {
		return
	}
	w.mu.Lock()
	det, cancel := w.det, w.cancel
	w.mu.Unlock()
	if det == nil {
		return
	}
	if det.Observe(t.Price, time.Now()) {
		log.Printf("[signalengine] closing price %.2f captured, ending session", det.ClosingPrice())
		cancel()
	}
}

// runLiveLoop gates the feed connection to exchange hours: sleep until just
// before the next open, hold one streaming session until the close is
// captured, repeat. Each connect fetches a fresh session token through the
// stream's Token hook. Blocks until ctx is cancelled.
func runLiveLoop(ctx context.Context, ing *stream.Ingest, watch *closeWatcher, health *metrics.HealthStatus) {
	for {
		now := time.Now()
		if !markethours.IsMarketOpen(now) {
			connectAt := markethours.WSConnectTime(markethours.NextOpen(now))
			wait := connectAt.Sub(now)
			if wait > 0 {
				log.Printf("[signalengine] ⏸ %s", markethours.StatusString(now))
				log.Printf("[signalengine] sleeping %v until stream connect at %s",
					wait.Truncate(time.Second), connectAt.In(markethours.Eastern).Format("Mon 15:04"))
				health.SetStreamConnected(false)

				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
				}
			}
		}

		closeTime := markethours.TodayClose(time.Now())
		det := closedetector.New(closeTime)
		sessionCtx, cancel := context.WithDeadline(ctx, closeTime.Add(det.MaxGrace))
		watch.arm(det, cancel)

		log.Printf("[signalengine] 📡 connecting — streaming until ~%s ET",
			closeTime.In(markethours.Eastern).Format("15:04"))
		if err := ing.Start(sessionCtx); err != nil {
			log.Printf("[signalengine] stream session ended: %v", err)
		}
		watch.disarm()
		cancel()
		log.Println("[signalengine] 🔌 stream disconnected — market close")

		if ctx.Err() != nil {
			return
		}
	}
}
