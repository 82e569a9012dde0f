package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeOverrides(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write overrides: %v", err)
	}
	return path
}

func TestLoadOverrides_MissingFileUsesDefaults(t *testing.T) {
	ov, err := LoadOverrides(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadOverrides: %v", err)
	}
	if ov.Indicator.EMAFast != 9 || ov.Indicator.EMAMid != 20 || ov.Indicator.EMASlow != 50 {
		t.Errorf("EMA defaults = %d/%d/%d, want 9/20/50",
			ov.Indicator.EMAFast, ov.Indicator.EMAMid, ov.Indicator.EMASlow)
	}
	if ov.Indicator.BBMult != 2.0 {
		t.Errorf("BBMult = %v, want 2.0", ov.Indicator.BBMult)
	}
	if ov.Signals.ConfluenceMin != 30 || ov.Signals.ConfidenceCap != 79 {
		t.Errorf("signal gates = %d/%d, want 30/79", ov.Signals.ConfluenceMin, ov.Signals.ConfidenceCap)
	}
	if ov.Engine.RecomputeMovePct != 0.005 {
		t.Errorf("RecomputeMovePct = %v, want 0.005", ov.Engine.RecomputeMovePct)
	}
	if len(ov.Watchlist) != 0 {
		t.Errorf("watchlist = %v, want empty (Load fills the default)", ov.Watchlist)
	}
}

func TestLoadOverrides_PartialFileKeepsDefaultsElsewhere(t *testing.T) {
	path := writeOverrides(t, `
watchlist: [aapl, nvda]
indicator:
  rsi_period: 21
signals:
  confluence_min: 40
`)
	ov, err := LoadOverrides(path)
	if err != nil {
		t.Fatalf("LoadOverrides: %v", err)
	}
	if got := ov.Watchlist; len(got) != 2 || got[0] != "aapl" || got[1] != "nvda" {
		t.Errorf("watchlist = %v", got)
	}
	if ov.Indicator.RSIPeriod != 21 {
		t.Errorf("RSIPeriod = %d, want 21", ov.Indicator.RSIPeriod)
	}
	if ov.Indicator.EMAFast != 9 {
		t.Errorf("EMAFast = %d, want default 9", ov.Indicator.EMAFast)
	}
	if ov.Signals.ConfluenceMin != 40 {
		t.Errorf("ConfluenceMin = %d, want 40", ov.Signals.ConfluenceMin)
	}
	if ov.Signals.CrossoverSlow != 20 {
		t.Errorf("CrossoverSlow = %d, want default 20", ov.Signals.CrossoverSlow)
	}
}

func TestLoadOverrides_RejectsBadWeightSum(t *testing.T) {
	path := writeOverrides(t, `
confluence:
  weight_trend: 0.50
`)
	// Remaining weights default to 0.25+0.20+0.15+0.10, pushing the sum to 1.20.
	_, err := LoadOverrides(path)
	if err == nil {
		t.Fatal("expected weight-sum error, got nil")
	}
	if !strings.Contains(err.Error(), "weights sum") {
		t.Errorf("error = %v, want weight-sum complaint", err)
	}
}

func TestLoadOverrides_RejectsInvertedEMAOrder(t *testing.T) {
	path := writeOverrides(t, `
indicator:
  ema_fast: 50
  ema_mid: 20
`)
	if _, err := LoadOverrides(path); err == nil {
		t.Fatal("expected validation error for ema_mid <= ema_fast, got nil")
	}
}

func TestLoadOverrides_RejectsMalformedYAML(t *testing.T) {
	path := writeOverrides(t, "watchlist: [unterminated")
	if _, err := LoadOverrides(path); err == nil {
		t.Fatal("expected parse error, got nil")
	}
}

func TestEngineConfigMapping(t *testing.T) {
	ov := DefaultOverrides()
	ov.Indicator.EMAFast = 5
	ov.Indicator.EMAMid = 13
	ov.Indicator.EMASlow = 34
	ov.Signals.CrossoverFast = 5
	ov.Signals.CrossoverSlow = 13
	ov.Engine.RecomputeMovePct = 0.01
	ov.Engine.StaleAfterSec = 30

	cfg := ov.EngineConfig()
	if cfg.Indicator.EMAFast != 5 || cfg.Indicator.EMAMid != 13 || cfg.Indicator.EMASlow != 34 {
		t.Errorf("indicator periods = %d/%d/%d, want 5/13/34",
			cfg.Indicator.EMAFast, cfg.Indicator.EMAMid, cfg.Indicator.EMASlow)
	}
	if cfg.RecomputeMovePct != 0.01 {
		t.Errorf("RecomputeMovePct = %v, want 0.01", cfg.RecomputeMovePct)
	}
	if cfg.StaleAfter != 30*time.Second {
		t.Errorf("StaleAfter = %v, want 30s", cfg.StaleAfter)
	}
	if len(cfg.Detectors) != 1 {
		t.Fatalf("detectors = %d, want 1", len(cfg.Detectors))
	}
	// Fields outside the override surface keep engine defaults.
	if cfg.SeriesCap != 500 {
		t.Errorf("SeriesCap = %d, want 500", cfg.SeriesCap)
	}
	if cfg.SignalRingSize != 10 {
		t.Errorf("SignalRingSize = %d, want 10", cfg.SignalRingSize)
	}
}

func TestLoad_SimModeNeedsNoCredentials(t *testing.T) {
	t.Setenv("MODE", "sim")
	t.Setenv("FEED_API_KEY", "")
	t.Setenv("FEED_CLIENT_ID", "")
	t.Setenv("FEED_TOTP_SECRET", "")
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("WATCHLIST", "")

	cfg := Load()
	if cfg.Mode != ModeSim {
		t.Errorf("Mode = %q, want sim", cfg.Mode)
	}
	if cfg.FeedAPIKey != "sim" || cfg.FeedClientID != "sim" {
		t.Errorf("sim credentials = %q/%q, want sim/sim", cfg.FeedAPIKey, cfg.FeedClientID)
	}
	if cfg.FeedWSURL != "ws://localhost:9010/ws" {
		t.Errorf("FeedWSURL = %q", cfg.FeedWSURL)
	}
	if len(cfg.Overrides.Watchlist) != len(DefaultWatchlist) {
		t.Errorf("watchlist = %v, want default %v", cfg.Overrides.Watchlist, DefaultWatchlist)
	}
}

func TestLoad_WatchlistEnvOverride(t *testing.T) {
	t.Setenv("MODE", "sim")
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("WATCHLIST", "spy, tsla ,amd")

	cfg := Load()
	want := []string{"spy", "tsla", "amd"}
	if len(cfg.Overrides.Watchlist) != len(want) {
		t.Fatalf("watchlist = %v, want %v", cfg.Overrides.Watchlist, want)
	}
	for i, s := range want {
		if cfg.Overrides.Watchlist[i] != s {
			t.Errorf("watchlist[%d] = %q, want %q", i, cfg.Overrides.Watchlist[i], s)
		}
	}
}
