package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the signal engine.
type Metrics struct {
	// Inbound feed
	TicksTotal       prometheus.Counter
	BarsTotal        *prometheus.CounterVec // labels: tf
	MergesRejected   prometheus.Counter
	StreamReconnects prometheus.Counter
	StreamState      prometheus.Gauge // 0=disconnected 1=connecting 2=connected 3=authenticated 4=error

	// Recompute pipeline
	RecomputesTotal   prometheus.Counter
	RecomputeSkips    prometheus.Counter
	RecomputeErrors   prometheus.Counter
	RecomputeDur      prometheus.Histogram
	SignalsTotal      *prometheus.CounterVec // labels: strategy, direction
	SymbolsTracked    prometheus.Gauge
	SignalsSuppressed prometheus.Counter

	// Backfill
	BackfillBarsTotal   prometheus.Counter
	BackfillErrorsTotal prometheus.Counter

	// Fan-out backpressure
	FanoutDropsTotal     *prometheus.CounterVec // labels: subscriber
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel_name

	// Outbound Redis
	RedisPublishErrors prometheus.Counter
	RedisBreakerState  prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisBreakerTrips  prometheus.Counter
	RedisSignalReplays prometheus.Counter

	// Gateway
	GatewayClients prometheus.Gauge

	// Market session
	MarketState prometheus.Gauge // 0=closed, 1=open
}

// NewMetrics registers and returns all Prometheus metrics. Call once per
// process; metrics live on the default registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_ticks_total",
			Help: "Total quote ticks received from the feed",
		}),
		BarsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigengine_bars_total",
			Help: "Bar closes merged into a series (by timeframe)",
		}, []string{"tf"}),
		MergesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_merges_rejected_total",
			Help: "Bars and ticks rejected by the merge path (out of order or invalid)",
		}),
		StreamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_stream_reconnects_total",
			Help: "Feed WebSocket reconnection attempts",
		}),
		StreamState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sigengine_stream_state",
			Help: "Feed connection state (0=disconnected 1=connecting 2=connected 3=authenticated 4=error)",
		}),

		RecomputesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_recomputes_total",
			Help: "Full derived-state recomputes",
		}),
		RecomputeSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_recompute_skips_total",
			Help: "Mutations absorbed without a recompute (move below the gate)",
		}),
		RecomputeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_recompute_errors_total",
			Help: "Recomputes that panicked and kept the previous state",
		}),
		RecomputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sigengine_recompute_duration_seconds",
			Help:    "Recompute latency per symbol mutation",
			Buckets: []float64{0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigengine_signals_total",
			Help: "Strategy signals emitted (by strategy and direction)",
		}, []string{"strategy", "direction"}),
		SymbolsTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sigengine_symbols_tracked",
			Help: "Symbols currently tracked (watchlist plus macro set)",
		}),
		SignalsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_signals_suppressed_total",
			Help: "Crossovers suppressed by the confluence floor",
		}),

		BackfillBarsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_backfill_bars_total",
			Help: "Historical bars applied during backfill",
		}),
		BackfillErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_backfill_errors_total",
			Help: "Backfill series abandoned after retries",
		}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigengine_fanout_drops_total",
			Help: "Updates dropped by the fan-out bus per subscriber",
		}, []string{"subscriber"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sigengine_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),

		RedisPublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_redis_publish_errors_total",
			Help: "Failed or shed outbound Redis writes",
		}),
		RedisBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sigengine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisSignalReplays: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_redis_signal_replays_total",
			Help: "Signals replayed to Redis after the circuit closed",
		}),

		GatewayClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sigengine_gateway_clients",
			Help: "Connected gateway WebSocket clients",
		}),

		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sigengine_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}),
	}

	prometheus.MustRegister(
		m.TicksTotal,
		m.BarsTotal,
		m.MergesRejected,
		m.StreamReconnects,
		m.StreamState,
		m.RecomputesTotal,
		m.RecomputeSkips,
		m.RecomputeErrors,
		m.RecomputeDur,
		m.SignalsTotal,
		m.SymbolsTracked,
		m.SignalsSuppressed,
		m.BackfillBarsTotal,
		m.BackfillErrorsTotal,
		m.FanoutDropsTotal,
		m.ChannelSaturationPct,
		m.RedisPublishErrors,
		m.RedisBreakerState,
		m.RedisBreakerTrips,
		m.RedisSignalReplays,
		m.GatewayClients,
		m.MarketState,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	StreamConnected bool
	LastTickTime    time.Time
	RedisConnected  bool
	SQLiteOK        bool
	BackfillDone    bool
	SymbolCount     int

	RedisLatencyMs  float64
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetStreamConnected(v bool) {
	h.mu.Lock()
	h.StreamConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetBackfillDone(v bool) {
	h.mu.Lock()
	h.BackfillDone = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSymbolCount(n int) {
	h.mu.Lock()
	h.SymbolCount = n
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Nil dependencies are
// skipped (the service may run without Redis or SQLite).
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.StreamConnected || !h.RedisConnected || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		StreamConnected bool    `json:"stream_connected"`
		LastTickTime    string  `json:"last_tick_time"`
		TickAge         string  `json:"tick_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		BackfillDone    bool    `json:"backfill_done"`
		SymbolCount     int     `json:"symbol_count"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		StreamConnected: h.StreamConnected,
		LastTickTime:    h.LastTickTime.Format(time.RFC3339),
		TickAge:         tickAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		BackfillDone:    h.BackfillDone,
		SymbolCount:     h.SymbolCount,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
