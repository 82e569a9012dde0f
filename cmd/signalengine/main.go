package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"signal-enginev1/config"
	"signal-enginev1/internal/bus"
	"signal-enginev1/internal/engine"
	"signal-enginev1/internal/gateway"
	"signal-enginev1/internal/logger"
	"signal-enginev1/internal/marketdata/backfill"
	"signal-enginev1/internal/marketdata/pump"
	"signal-enginev1/internal/marketdata/stream"
	"signal-enginev1/internal/markethours"
	"signal-enginev1/internal/metrics"
	"signal-enginev1/internal/model"
	redisstore "signal-enginev1/internal/store/redis"
	sqlitestore "signal-enginev1/internal/store/sqlite"
	"signal-enginev1/internal/strategy"
	"signal-enginev1/pkg/feedapi"
)

const (
	updateBufSize  = 4096
	fanoutBufSize  = 2048
	tickRingSize   = 4096
	barBufSize     = 256
	sqliteBarQueue = 2048
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[signalengine] starting...")
	start := time.Now()

	// ---- Load config (env + optional yaml overrides) ----
	cfg := config.Load()
	logger.Init("signalengine", logger.ParseLevel(getEnv("LOG_LEVEL", "info")))
	log.Printf("[signalengine] mode=%s watchlist=%v", cfg.Mode, cfg.Overrides.Watchlist)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Setup context for graceful shutdown ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- SQLite: bar persistence + warm-start reads ----
	os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
	sqlWriter, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[signalengine] sqlite init failed: %v", err)
	}
	defer sqlWriter.Close()
	health.SetSQLiteOK(true)

	var history *sqlitestore.Reader
	if r, err := sqlitestore.NewReader(cfg.SQLitePath); err != nil {
		log.Printf("[signalengine] WARNING: sqlite reader init failed: %v (cold backfill)", err)
	} else {
		history = r
		defer history.Close()
	}

	// ---- Redis publisher (optional; the engine runs without it) ----
	pub, err := redisstore.New(redisstore.PublisherConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Printf("[signalengine] WARNING: redis init failed: %v (continuing without redis)", err)
		health.SetRedisConnected(false)
	} else {
		pub.OnError = func() { prom.RedisPublishErrors.Inc() }
		pub.OnReplay = func(count int) { prom.RedisSignalReplays.Add(float64(count)) }
		pub.OnBreakerOpen = func() { prom.RedisBreakerTrips.Inc() }
		health.SetRedisConnected(true)
		log.Println("[signalengine] redis publisher ready")
	}

	// ---- Periodic liveness checks ----
	if pub != nil {
		health.StartLivenessChecker(ctx, pub.Client(), sqlWriter.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, sqlWriter.DB(), 10*time.Second)
	}

	// ---- Engine store ----
	engCfg := cfg.Overrides.EngineConfig()
	engCfg.SessionStart = markethours.SessionStartMS
	for _, det := range engCfg.Detectors {
		if xo, ok := det.(*strategy.EMACrossover); ok {
			xo.OnSuppressed = func(string) { prom.SignalsSuppressed.Inc() }
		}
	}
	store := engine.NewStore(engCfg)

	// ---- Vendor client + feed stream ----
	vendor := feedapi.New(feedapi.Config{
		BaseURL:    cfg.FeedRESTURL,
		APIKey:     cfg.FeedAPIKey,
		ClientID:   cfg.FeedClientID,
		TOTPSecret: cfg.FeedTOTPSecret,
	})
	ing := stream.New(stream.Config{
		URL:   cfg.FeedWSURL,
		Token: vendor.GenerateSession,
	}, nil)

	// ---- Gateway hub + watchlist ----
	hub := gateway.NewHub(store, ing, redisClient(pub))
	watch := cfg.Overrides.Watchlist
	if restored := hub.Watchlist.Load(ctx); len(restored) > 0 {
		watch = restored
	} else {
		hub.Watchlist.Seed(watch)
	}
	store.Initialize(watch)
	ing.Subscribe(store.Symbols()...)
	prom.SymbolsTracked.Set(float64(len(store.Symbols())))
	health.SetSymbolCount(len(store.Symbols()))

	// ---- Update bus: store hook → fan-out → gateway / sqlite / redis ----
	updateCh := make(chan engine.Update, updateBufSize)
	fanout := bus.New(fanoutBufSize)
	fanout.OnDrop = func(subscriberIdx int) {
		prom.FanoutDropsTotal.WithLabelValues(strconv.Itoa(subscriberIdx)).Inc()
	}

	gatewayCh := fanout.Subscribe()
	sqliteCh := fanout.Subscribe()
	var redisCh <-chan engine.Update
	if pub != nil {
		redisCh = fanout.Subscribe()
	}
	go fanout.Run(ctx, updateCh)

	// ---- Engine hooks → metrics + bus ----
	store.OnUpdate = func(u engine.Update) {
		select {
		case updateCh <- u:
		default:
			prom.FanoutDropsTotal.WithLabelValues("input").Inc()
		}
	}
	store.OnRecompute = func(symbol string, elapsed time.Duration) {
		prom.RecomputesTotal.Inc()
		prom.RecomputeDur.Observe(elapsed.Seconds())
		hub.RecordRecompute(symbol, elapsed)
	}
	store.OnRecomputeSkip = func(string) { prom.RecomputeSkips.Inc() }
	store.OnRecomputeError = func(string, error) { prom.RecomputeErrors.Inc() }
	store.OnMergeReject = func(string, model.Timeframe) { prom.MergesRejected.Inc() }
	store.OnSignal = func(sig model.Signal) {
		prom.SignalsTotal.WithLabelValues(sig.Strategy, string(sig.Direction)).Inc()
		log.Printf("[signalengine] 🚨 %s %s @ %.2f (confidence %d): %s",
			sig.Direction, sig.Symbol, sig.Price, sig.Confidence, sig.Reason)
	}

	// ---- Tick pump (feed → store, off the WS read loop) ----
	tickPump := pump.New(store, tickRingSize, barBufSize)
	tickPump.OnTickDrop = func(model.QuoteTick) {
		prom.FanoutDropsTotal.WithLabelValues("tick_ring").Inc()
	}
	tickPump.OnBarDrop = func(model.BarClose) {
		prom.FanoutDropsTotal.WithLabelValues("bar_queue").Inc()
	}
	go tickPump.Run(ctx)

	closeWatch := newCloseWatcher()
	ing.OnTick = func(t model.QuoteTick) {
		prom.TicksTotal.Inc()
		health.SetLastTickTime(time.Now())
		tickPump.OfferTick(t)
		if cfg.Mode == config.ModeLive {
			closeWatch.Observe(t)
		}
	}
	ing.OnBarClose = func(bc model.BarClose) {
		prom.BarsTotal.WithLabelValues(bc.TF.String()).Inc()
		tickPump.OfferBar(bc)
	}
	ing.OnState = func(s model.ConnState) {
		prom.StreamState.Set(float64(s))
		health.SetStreamConnected(s == model.StateAuthenticated)
	}
	ing.OnReconnect = func() { prom.StreamReconnects.Inc() }

	// ---- Gateway consumes the bus ----
	go hub.Run(ctx, gatewayCh)
	go hub.StartMetricsBroadcast(ctx, start)

	// ---- SQLite consumer: persist the live bar flow ----
	// Backfill batches are skipped; the vendor remains the source of truth
	// for history and re-serves it on the next boot.
	barCh := make(chan model.SymbolBar, sqliteBarQueue)
	go sqlWriter.Run(ctx, barCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-sqliteCh:
				if !ok {
					return
				}
				if u.Kind == engine.UpdateKindBackfill {
					continue
				}
				select {
				case barCh <- model.SymbolBar{Symbol: u.Symbol, TF: u.TF, Bar: u.Bar}:
				default:
					prom.FanoutDropsTotal.WithLabelValues("sqlite_bars").Inc()
				}
			}
		}
	}()

	// ---- Redis consumer: confluence snapshots + signals for other services ----
	if pub != nil {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case u, ok := <-redisCh:
					if !ok {
						return
					}
					for _, sig := range u.Signals {
						pub.PublishSignal(ctx, sig)
					}
					if !u.Recomputed {
						continue
					}
					snap, found := store.Indicators(u.Symbol)
					if !found {
						continue
					}
					conf, _ := store.ConfluenceFor(u.Symbol)
					trends := make(model.TrendMap, len(model.AllTimeframes()))
					for _, tf := range model.AllTimeframes() {
						trends[tf] = store.TrendFor(u.Symbol, tf)
					}
					payload, err := json.Marshal(gateway.DerivedUpdate{
						Symbol:     u.Symbol,
						Confluence: conf,
						Trends:     trends,
						Indicators: snap,
						Stale:      store.Stale(u.Symbol),
						TS:         time.Now().UTC().Format(time.RFC3339Nano),
					})
					if err != nil {
						continue
					}
					pub.PublishConfluence(ctx, u.Symbol, payload)
				}
			}
		}()
	}

	// ---- Samplers: channel saturation, symbol count, market state ----
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for i, s := range fanout.ChannelStats() {
					if s.Cap > 0 {
						pct := float64(s.Len) / float64(s.Cap) * 100
						prom.ChannelSaturationPct.WithLabelValues("fanout_" + strconv.Itoa(i)).Set(pct)
					}
				}
				prom.ChannelSaturationPct.WithLabelValues("update_in").
					Set(float64(len(updateCh)) / float64(cap(updateCh)) * 100)
				prom.ChannelSaturationPct.WithLabelValues("tick_ring").
					Set(float64(tickPump.Depth()) / float64(tickRingSize) * 100)

				tracked := len(store.Symbols())
				prom.SymbolsTracked.Set(float64(tracked))
				health.SetSymbolCount(tracked)
				prom.GatewayClients.Set(float64(hub.ClientCount()))
				if markethours.IsMarketOpen(time.Now()) {
					prom.MarketState.Set(1)
				} else {
					prom.MarketState.Set(0)
				}
				if pub != nil {
					prom.RedisBreakerState.Set(float64(pub.BreakerState()))
				}
			}
		}
	}()

	// ---- Backfill history, then open the feed ----
	bfCfg := backfill.Config{Fetcher: vendor, Store: store}
	if history != nil {
		bfCfg.History = history
	}
	bf := backfill.New(bfCfg)
	bf.OnSeriesDone = func(symbol string, tf model.Timeframe, applied int) {
		prom.BackfillBarsTotal.Add(float64(applied))
	}
	bf.OnError = func(symbol string, tf model.Timeframe, err error) {
		prom.BackfillErrorsTotal.Inc()
	}

	go func() {
		applied := bf.Run(ctx, store.Symbols())
		health.SetBackfillDone(true)
		log.Printf("[signalengine] backfill done, %d bars applied", applied)
		if ctx.Err() != nil {
			return
		}
		if cfg.Mode == config.ModeLive {
			runLiveLoop(ctx, ing, closeWatch, health)
		} else if err := ing.Start(ctx); err != nil {
			log.Printf("[signalengine] stream ended: %v", err)
		}
	}()

	// ---- Gateway HTTP server (WS + REST) ----
	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, hub, start)
	gwSrv := &http.Server{Addr: cfg.GatewayAddr, Handler: mux}
	go func() {
		log.Printf("[signalengine] gateway listening on %s", cfg.GatewayAddr)
		if err := gwSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[signalengine] gateway server failed: %v", err)
		}
	}()

	// ═══════════════════════════════════════════════════════════════
	// Startup banner: SIM vs LIVE
	// ═══════════════════════════════════════════════════════════════
	if cfg.Mode == config.ModeLive {
		log.Println("[signalengine] ╔═══════════════════════════════════════════════════════════════╗")
		log.Println("[signalengine] ║  Signal Engine — LIVE MODE                                    ║")
		log.Println("[signalengine] ║                                                               ║")
		log.Println("[signalengine] ║  [Feed WS] → [Pump] → [Store] → [Fan-out] → [Gateway/Outputs] ║")
		log.Println("[signalengine] ║  Feed WS (market hours): 9:30 AM – 4:00 PM ET, Mon–Fri        ║")
		log.Println("[signalengine] ║  Fresh session token at each market open                      ║")
		log.Println("[signalengine] ╚═══════════════════════════════════════════════════════════════╝")
		log.Printf("[signalengine] %s", markethours.StatusString(time.Now()))
	} else {
		log.Println("[signalengine] ╔═══════════════════════════════════════════════════════════════╗")
		log.Println("[signalengine] ║  Signal Engine — SIM MODE                                     ║")
		log.Println("[signalengine] ║                                                               ║")
		log.Println("[signalengine] ║  [Feed WS] → [Pump] → [Store] → [Fan-out] → [Gateway/Outputs] ║")
		log.Printf("[signalengine] ║  Feed: %-54s ║", cfg.FeedWSURL)
		log.Println("[signalengine] ║  No vendor credentials required                               ║")
		log.Println("[signalengine] ╚═══════════════════════════════════════════════════════════════╝")
	}

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[signalengine] shutdown signal received, cleaning up...")
	cancel()

	// Give goroutines time to flush buffers
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	gwSrv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)

	if pub != nil {
		pub.Close()
	}

	log.Println("[signalengine] shutdown complete.")
}

func redisClient(p *redisstore.Publisher) *goredis.Client {
	if p == nil {
		return nil
	}
	return p.Client()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
