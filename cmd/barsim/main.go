// cmd/barsim — Dev feed server.
// Serves the vendor surface the engine expects (session auth, candle history,
// tick/bar WebSocket) from a random-walk simulator, so the full pipeline runs
// without live feed credentials.
//
// Config (env vars):
//
//	BARSIM_ADDR          — listen address (default: ":9010")
//	BARSIM_SYMBOLS       — comma-separated symbols (default: built-in universe)
//	BARSIM_PRICES        — SYMBOL:PRICE start-price overrides, comma-separated
//	BARSIM_TICK_MS       — tick generation interval milliseconds (default: "250")
//	BARSIM_SEED          — RNG seed for reproducible runs (default: from clock)
//	BARSIM_SEED_MINUTES  — 1m history bars seeded per symbol (default: "780")
//	BARSIM_SEED_DAYS     — 1d history bars seeded per symbol (default: "400")
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"signal-enginev1/internal/feedsim"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[barsim] starting dev feed server...")

	// Config
	addr := envOrDefault("BARSIM_ADDR", ":9010")
	symbols := parseSymbols(os.Getenv("BARSIM_SYMBOLS"))
	prices := parsePrices(os.Getenv("BARSIM_PRICES"))
	tickMS := envIntOrDefault("BARSIM_TICK_MS", 250)
	seed := int64(envIntOrDefault("BARSIM_SEED", 0))
	seedMinutes := envIntOrDefault("BARSIM_SEED_MINUTES", 780)
	seedDays := envIntOrDefault("BARSIM_SEED_DAYS", 400)

	if len(symbols) == 0 {
		symbols = feedsim.DefaultSymbols
	}
	log.Printf("[barsim] symbols: %v", symbols)
	log.Printf("[barsim] tick interval: %dms, seeding %dm1 + %dd1 bars per symbol",
		tickMS, seedMinutes, seedDays)

	svc := feedsim.New(feedsim.Config{
		Addr:         addr,
		Symbols:      symbols,
		StartPrices:  prices,
		TickInterval: time.Duration(tickMS) * time.Millisecond,
		Seed:         seed,
		SeedMinutes:  seedMinutes,
		SeedDays:     seedDays,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("[barsim] shutdown signal received")
		cancel()
	}()

	if err := svc.Run(ctx); err != nil {
		log.Fatalf("[barsim] server error: %v", err)
	}
	log.Println("[barsim] shutdown complete.")
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func parseSymbols(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToUpper(part))
		}
	}
	return out
}

// parsePrices parses "SYMBOL:PRICE,SYMBOL:PRICE" start-price overrides.
func parsePrices(s string) map[string]float64 {
	prices := make(map[string]float64)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		seg := strings.SplitN(part, ":", 2)
		if len(seg) != 2 {
			log.Printf("[barsim] skipping invalid price spec: %q", part)
			continue
		}
		p, err := strconv.ParseFloat(strings.TrimSpace(seg[1]), 64)
		if err != nil || p <= 0 {
			log.Printf("[barsim] skipping invalid price spec: %q", part)
			continue
		}
		prices[strings.ToUpper(strings.TrimSpace(seg[0]))] = p
	}
	return prices
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
