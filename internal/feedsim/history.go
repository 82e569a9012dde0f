package feedsim

import (
	"sync"

	"signal-enginev1/internal/model"
)

// History caps: two sessions of minute bars, a year-plus of dailies.
const (
	historyCap1m = 4096
	historyCap1d = 500
)

// History is the bounded per-symbol bar archive behind the /candles endpoint.
// The seeder fills it at boot and the aggregator appends live closes.
type History struct {
	mu   sync.RWMutex
	bars map[string]map[model.Timeframe][]model.Bar
}

// NewHistory creates an empty archive.
func NewHistory() *History {
	return &History{bars: make(map[string]map[model.Timeframe][]model.Bar)}
}

func capFor(tf model.Timeframe) int {
	if tf == model.TF1d {
		return historyCap1d
	}
	return historyCap1m
}

// Append stores a bar. A bar with the StartMS of the newest stored bar
// replaces it; older starts are ignored. The series is evicted from the front
// past its cap.
func (h *History) Append(symbol string, tf model.Timeframe, bar model.Bar) {
	h.mu.Lock()
	defer h.mu.Unlock()

	byTF, ok := h.bars[symbol]
	if !ok {
		byTF = make(map[model.Timeframe][]model.Bar)
		h.bars[symbol] = byTF
	}

	series := byTF[tf]
	if n := len(series); n > 0 {
		last := series[n-1].StartMS
		if bar.StartMS == last {
			series[n-1] = bar
			return
		}
		if bar.StartMS < last {
			return
		}
	}
	series = append(series, bar)
	if max := capFor(tf); len(series) > max {
		series = series[len(series)-max:]
	}
	byTF[tf] = series
}

// Range returns bars with fromMS <= StartMS < toMS, ascending. toMS <= 0
// means no upper bound.
func (h *History) Range(symbol string, tf model.Timeframe, fromMS, toMS int64) []model.Bar {
	h.mu.RLock()
	defer h.mu.RUnlock()

	byTF, ok := h.bars[symbol]
	if !ok {
		return nil
	}
	series := byTF[tf]

	var out []model.Bar
	for _, b := range series {
		if b.StartMS < fromMS {
			continue
		}
		if toMS > 0 && b.StartMS >= toMS {
			break
		}
		out = append(out, b)
	}
	return out
}

// LastClose returns the close of the newest 1m bar, false if none stored.
func (h *History) LastClose(symbol string) (float64, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	byTF, ok := h.bars[symbol]
	if !ok {
		return 0, false
	}
	series := byTF[model.TF1m]
	if len(series) == 0 {
		return 0, false
	}
	return series[len(series)-1].Close, true
}
