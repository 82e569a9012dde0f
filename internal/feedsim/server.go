package feedsim

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"signal-enginev1/internal/model"
)

// Config sets up the dev feed server.
type Config struct {
	Addr         string             // listen address, default ":9010"
	Symbols      []string           // simulated universe
	StartPrices  map[string]float64 // per-symbol overrides
	TickInterval time.Duration      // tick generation period, default 250ms
	Seed         int64              // RNG seed, 0 = from clock
	SeedMinutes  int                // 1m history bars per symbol, default 780
	SeedDays     int                // 1d history bars per symbol, default 400
}

// DefaultSymbols is the simulated universe when none is configured: the macro
// trio the engine always tracks plus a handful of liquid names.
var DefaultSymbols = []string{"SPY", "QQQ", "VIX", "AAPL", "MSFT", "NVDA", "TSLA", "AMZN"}

const sessionTTL = 12 * time.Hour

// Service runs the generator, the WS hub and the HTTP API as one unit.
type Service struct {
	cfg  Config
	hub  *Hub
	sim  *Simulator
	agg  *Agg
	hist *History

	mu       sync.Mutex
	sessions map[string]time.Time // token → expiry
}

// New wires the simulator, aggregator, history and hub together.
func New(cfg Config) *Service {
	if cfg.Addr == "" {
		cfg.Addr = ":9010"
	}
	if len(cfg.Symbols) == 0 {
		cfg.Symbols = DefaultSymbols
	}
	if cfg.SeedMinutes <= 0 {
		cfg.SeedMinutes = 780 // two full sessions
	}
	if cfg.SeedDays <= 0 {
		cfg.SeedDays = 400
	}

	s := &Service{
		cfg:      cfg,
		hist:     NewHistory(),
		agg:      NewAgg(),
		sessions: make(map[string]time.Time),
	}
	s.hub = NewHub(s.checkToken)
	s.sim = NewSimulator(cfg.Symbols, cfg.StartPrices, cfg.TickInterval, cfg.Seed, s.agg, s.hist)

	s.agg.OnBar = func(symbol string, bar model.Bar) {
		s.hist.Append(symbol, model.TF1m, bar)
		s.hub.Broadcast(symbol, barFrame(symbol, model.TF1m, bar))
	}
	s.sim.OnTick = func(symbol string, price float64, qty int64, tsMS int64) {
		s.hub.Broadcast(symbol, tickFrame(symbol, price, qty, tsMS))
	}
	s.sim.OnForming = func(symbol string, bar model.Bar) {
		s.hub.Broadcast(symbol, barFrame(symbol, model.TF1m, bar))
	}
	return s
}

// Run seeds history, starts the generator and serves HTTP until ctx dies.
func (s *Service) Run(ctx context.Context) error {
	s.sim.SeedHistory(s.cfg.SeedMinutes, s.cfg.SeedDays)

	simCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.sim.Run(simCtx)

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Printf("[feedsim] listening on %s (WS: ws://localhost%s/ws)", s.cfg.Addr, s.cfg.Addr)

	select {
	case <-ctx.Done():
		shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		srv.Shutdown(shutCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Handler builds the HTTP surface: vendor API plus the feed socket.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/session", s.handleSession)
	mux.HandleFunc("/candles", s.handleCandles)
	mux.HandleFunc("/ws", s.hub.HandleWS)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"barsim"}`))
	})
	return mux
}

// ClientCount exposes the hub's subscriber count.
func (s *Service) ClientCount() int { return s.hub.ClientCount() }

// ── sessions ──

func (s *Service) issueToken() (string, time.Time) {
	buf := make([]byte, 16)
	rand.Read(buf)
	token := hex.EncodeToString(buf)
	expiry := time.Now().Add(sessionTTL)

	s.mu.Lock()
	for t, exp := range s.sessions {
		if time.Now().After(exp) {
			delete(s.sessions, t)
		}
	}
	s.sessions[token] = expiry
	s.mu.Unlock()
	return token, expiry
}

func (s *Service) checkToken(token string) bool {
	if token == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.sessions[token]
	return ok && time.Now().Before(exp)
}

// ── HTTP handlers ──

// apiEnvelope matches the vendor response shape the engine's feedapi client
// parses.
type apiEnvelope struct {
	Status  bool   `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, body apiEnvelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

// handleSession issues a bearer token. Any client_id is accepted; the TOTP
// code is ignored since there is nothing to protect.
func (s *Service) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, apiEnvelope{Message: "POST required"})
		return
	}
	var req struct {
		ClientID string `json:"client_id"`
		Code     string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ClientID == "" {
		writeJSON(w, http.StatusBadRequest, apiEnvelope{Message: "client_id required"})
		return
	}

	token, expiry := s.issueToken()
	log.Printf("[feedsim] session issued to client %q", req.ClientID)
	writeJSON(w, http.StatusOK, apiEnvelope{
		Status: true,
		Data: map[string]any{
			"token":      token,
			"expires_ms": expiry.UnixMilli(),
		},
	})
}

// handleCandles serves [start,o,h,l,c,vol,vwap] rows from the seeded archive.
func (s *Service) handleCandles(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !s.checkToken(token) {
		writeJSON(w, http.StatusUnauthorized, apiEnvelope{Message: "invalid session"})
		return
	}

	q := r.URL.Query()
	symbol := q.Get("symbol")
	tf, err := model.ParseTimeframe(q.Get("tf"))
	if err != nil || symbol == "" {
		writeJSON(w, http.StatusBadRequest, apiEnvelope{Message: "symbol and tf required"})
		return
	}
	if tf != model.TF1m && tf != model.TF1d {
		writeJSON(w, http.StatusBadRequest, apiEnvelope{Message: "only 1m and 1d history served"})
		return
	}
	fromMS, _ := strconv.ParseInt(q.Get("from"), 10, 64)
	toMS, _ := strconv.ParseInt(q.Get("to"), 10, 64)

	bars := s.hist.Range(symbol, tf, fromMS, toMS)
	rows := make([][]float64, 0, len(bars))
	for _, b := range bars {
		rows = append(rows, []float64{
			float64(b.StartMS), b.Open, b.High, b.Low, b.Close, float64(b.Volume), b.VWAP,
		})
	}
	writeJSON(w, http.StatusOK, apiEnvelope{Status: true, Data: rows})
}
