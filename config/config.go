// Package config loads the daemon configuration. Connection settings and
// credentials come from environment variables; the watch universe and the
// scoring thresholds come from an optional YAML overrides file so they can be
// tuned without touching the environment. Missing override fields fall back
// to the production defaults and the merged result is validated before the
// engine sees it.
package config

import (
	"fmt"
	"log"
	"math"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"signal-enginev1/internal/engine"
	"signal-enginev1/internal/indicator"
	"signal-enginev1/internal/strategy"
)

// Run modes. Sim points the feed layer at a local bar simulator and needs no
// credentials; live requires the full vendor credential set.
const (
	ModeSim  = "sim"
	ModeLive = "live"
)

var validate = validator.New()

// DefaultWatchlist is the boot universe when neither the overrides file nor
// the WATCHLIST env var names one. Macro symbols are tracked regardless.
var DefaultWatchlist = []string{"AAPL", "MSFT", "NVDA", "TSLA", "AMZN"}

// Config holds all application configuration.
type Config struct {
	Mode string // sim | live

	// Vendor feed endpoints and credentials. In sim mode the defaults point
	// at cmd/barsim and the credential fields stay empty.
	FeedWSURL      string
	FeedRESTURL    string
	FeedAPIKey     string
	FeedClientID   string
	FeedTOTPSecret string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string

	// Listen addresses
	GatewayAddr string
	MetricsAddr string

	Overrides Overrides
}

// Overrides is the YAML-tunable slice of the configuration: the watchlist and
// every scoring threshold an operator may want to move without a rebuild.
type Overrides struct {
	Watchlist []string `yaml:"watchlist" validate:"dive,required"`

	Indicator struct {
		EMAFast   int     `yaml:"ema_fast" default:"9" validate:"gt=0"`
		EMAMid    int     `yaml:"ema_mid" default:"20" validate:"gtfield=EMAFast"`
		EMASlow   int     `yaml:"ema_slow" default:"50" validate:"gtfield=EMAMid"`
		RSIPeriod int     `yaml:"rsi_period" default:"14" validate:"gt=1"`
		ATRPeriod int     `yaml:"atr_period" default:"14" validate:"gt=0"`
		BBPeriod  int     `yaml:"bb_period" default:"20" validate:"gt=1"`
		BBMult    float64 `yaml:"bb_mult" default:"2.0" validate:"gt=0"`
	} `yaml:"indicator"`

	// Confluence sub-score weights. Must sum to 1.0; checked in Validate.
	Confluence struct {
		WeightTrend      float64 `yaml:"weight_trend" default:"0.30" validate:"gte=0,lte=1"`
		WeightMomentum   float64 `yaml:"weight_momentum" default:"0.25" validate:"gte=0,lte=1"`
		WeightTechnical  float64 `yaml:"weight_technical" default:"0.20" validate:"gte=0,lte=1"`
		WeightVolume     float64 `yaml:"weight_volume" default:"0.15" validate:"gte=0,lte=1"`
		WeightVolatility float64 `yaml:"weight_volatility" default:"0.10" validate:"gte=0,lte=1"`
	} `yaml:"confluence"`

	Signals struct {
		CrossoverFast int `yaml:"crossover_fast" default:"9" validate:"gt=0"`
		CrossoverSlow int `yaml:"crossover_slow" default:"20" validate:"gtfield=CrossoverFast"`
		ConfluenceMin int `yaml:"confluence_min" default:"30" validate:"gte=0,lte=100"`
		ConfidenceCap int `yaml:"confidence_cap" default:"79" validate:"gte=0,lte=100"`
	} `yaml:"signals"`

	Engine struct {
		RecomputeMovePct float64 `yaml:"recompute_move_pct" default:"0.005" validate:"gt=0,lt=1"`
		StaleAfterSec    int     `yaml:"stale_after_sec" default:"10" validate:"gt=0"`
	} `yaml:"engine"`
}

// Load reads the environment, layers the overrides file on top of the
// defaults, and exits on anything unusable. The overrides file path comes
// from CONFIG_FILE; a missing file at the default path just means defaults.
func Load() *Config {
	cfg := &Config{
		Mode: getEnv("MODE", ModeSim),

		FeedWSURL:   getEnv("FEED_WS_URL", "ws://localhost:9010/ws"),
		FeedRESTURL: getEnv("FEED_REST_URL", "http://localhost:9010"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/bars.db"),

		GatewayAddr: getEnv("GATEWAY_ADDR", ":8090"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
	}

	switch cfg.Mode {
	case ModeSim:
		// Credentials optional: barsim accepts any client id.
		cfg.FeedAPIKey = getEnv("FEED_API_KEY", "sim")
		cfg.FeedClientID = getEnv("FEED_CLIENT_ID", "sim")
		cfg.FeedTOTPSecret = getEnv("FEED_TOTP_SECRET", "")
	case ModeLive:
		cfg.FeedAPIKey = mustEnv("FEED_API_KEY")
		cfg.FeedClientID = mustEnv("FEED_CLIENT_ID")
		cfg.FeedTOTPSecret = mustEnv("FEED_TOTP_SECRET")
	default:
		log.Fatalf("[config] MODE must be %q or %q, got %q", ModeSim, ModeLive, cfg.Mode)
	}

	path := getEnv("CONFIG_FILE", "config.yaml")
	ov, err := LoadOverrides(path)
	if err != nil {
		log.Fatalf("[config] %v", err)
	}
	if v := os.Getenv("WATCHLIST"); v != "" {
		ov.Watchlist = splitList(v)
	}
	if len(ov.Watchlist) == 0 {
		ov.Watchlist = append([]string(nil), DefaultWatchlist...)
	}
	cfg.Overrides = ov
	return cfg
}

// LoadOverrides parses the YAML overrides file at path. A missing file is not
// an error: every threshold then carries its default. A present but invalid
// file is.
func LoadOverrides(path string) (Overrides, error) {
	var ov Overrides
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &ov); err != nil {
			return ov, fmt.Errorf("parse %s: %w", path, err)
		}
		log.Printf("[config] loaded overrides from %s", path)
	case os.IsNotExist(err):
		// Defaults only.
	default:
		return ov, fmt.Errorf("read %s: %w", path, err)
	}

	if err := defaults.Set(&ov); err != nil {
		return ov, fmt.Errorf("apply defaults: %w", err)
	}
	if err := ov.Validate(); err != nil {
		return ov, fmt.Errorf("validate %s: %w", path, err)
	}
	return ov, nil
}

// DefaultOverrides returns the all-defaults override set.
func DefaultOverrides() Overrides {
	var ov Overrides
	if err := defaults.Set(&ov); err != nil {
		panic(err)
	}
	ov.Watchlist = append([]string(nil), DefaultWatchlist...)
	return ov
}

// Validate checks the tag rules plus the cross-field constraint the tags
// cannot express: the five confluence weights must sum to 1.
func (o *Overrides) Validate() error {
	if err := validate.Struct(o); err != nil {
		return err
	}
	sum := o.Confluence.WeightTrend + o.Confluence.WeightMomentum +
		o.Confluence.WeightTechnical + o.Confluence.WeightVolume + o.Confluence.WeightVolatility
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("confluence weights sum to %.4f, want 1.0", sum)
	}
	return nil
}

// EngineConfig maps the overrides onto the engine tuning, starting from the
// production defaults so fields outside the override surface keep theirs.
func (o Overrides) EngineConfig() engine.Config {
	cfg := engine.DefaultConfig()

	cfg.Indicator = indicator.Config{
		EMAFast:   o.Indicator.EMAFast,
		EMAMid:    o.Indicator.EMAMid,
		EMASlow:   o.Indicator.EMASlow,
		RSIPeriod: o.Indicator.RSIPeriod,
		ATRPeriod: o.Indicator.ATRPeriod,
		BBPeriod:  o.Indicator.BBPeriod,
		BBMult:    o.Indicator.BBMult,
	}

	cfg.Confluence.WeightTrend = o.Confluence.WeightTrend
	cfg.Confluence.WeightMomentum = o.Confluence.WeightMomentum
	cfg.Confluence.WeightTechnical = o.Confluence.WeightTechnical
	cfg.Confluence.WeightVolume = o.Confluence.WeightVolume
	cfg.Confluence.WeightVolatility = o.Confluence.WeightVolatility

	cfg.Detectors = []strategy.Detector{
		strategy.NewEMACrossover(
			o.Signals.CrossoverFast,
			o.Signals.CrossoverSlow,
			o.Signals.ConfluenceMin,
			o.Signals.ConfidenceCap,
		),
	}

	cfg.RecomputeMovePct = o.Engine.RecomputeMovePct
	cfg.StaleAfter = time.Duration(o.Engine.StaleAfterSec) * time.Second
	return cfg
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
