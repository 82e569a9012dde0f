package model

// SubScores are the five weighted inputs to the overall confluence score.
// Each is an integer in [0,100] chosen from a small rule table.
type SubScores struct {
	Trend      int `json:"trend"`
	Momentum   int `json:"momentum"`
	Volatility int `json:"volatility"`
	Volume     int `json:"volume"`
	Technical  int `json:"technical"`
}

// Components are the boolean signal-quality flags surfaced alongside the
// numeric scores so the UI can explain what is driving the number.
type Components struct {
	TrendAligned bool `json:"trend_aligned"` // quorum of timeframes agree
	AboveVWAP    bool `json:"above_vwap"`
	RSIHealthy   bool `json:"rsi_healthy"` // inside the configured band
	VolumeSpike  bool `json:"volume_spike"`
	NearEMA      bool `json:"near_ema"` // price near fast EMA or tight fast/mid gap
}

// Confluence is the composite 0-100 signal-quality read model for one symbol.
// Overall is always the rounded weighted sum of the stored sub-scores.
type Confluence struct {
	Overall    int        `json:"overall"`
	Scores     SubScores  `json:"scores"`
	Components Components `json:"components"`
	UpdatedMS  int64      `json:"updated_ms"`
}
