package rollup

import (
	"reflect"
	"testing"

	"signal-enginev1/internal/model"
)

// minuteBar builds a 1m bar at the given minute offset from a fixed session
// open aligned to an hour boundary.
func minuteBar(minute int, open, high, low, close float64, volume int64) model.Bar {
	const base = int64(1_700_000_000_000) // not bucket-aligned on purpose
	start := base - base%3_600_000 + int64(minute)*60_000
	return model.Bar{
		StartMS: start,
		Open:    open,
		High:    high,
		Low:     low,
		Close:   close,
		Volume:  volume,
	}
}

func TestRoll_FiveMinuteAggregation(t *testing.T) {
	// minutes 0-4 land in one bucket, 5-6 in the next
	oneMin := []model.Bar{
		minuteBar(0, 10, 11, 9, 10.5, 100),
		minuteBar(1, 10.5, 12, 10, 11, 150),
		minuteBar(2, 11, 11.5, 8, 9, 200),
		minuteBar(3, 9, 10, 8.5, 9.5, 50),
		minuteBar(4, 9.5, 13, 9, 12, 300),
		minuteBar(5, 12, 12.5, 11.5, 12.2, 80),
		minuteBar(6, 12.2, 12.4, 12, 12.1, 20),
	}

	out := Roll(oneMin, model.TF5m)
	if len(out) != 2 {
		t.Fatalf("expected 2 rolled bars, got %d", len(out))
	}

	first := out[0]
	if first.StartMS != oneMin[0].StartMS {
		t.Errorf("first bucket start = %d, want %d", first.StartMS, oneMin[0].StartMS)
	}
	if first.StartMS%model.TF5m.Millis() != 0 {
		t.Errorf("bucket start %d not aligned to 5m", first.StartMS)
	}
	if first.Open != 10 {
		t.Errorf("open = %v, want first constituent's open 10", first.Open)
	}
	if first.Close != 12 {
		t.Errorf("close = %v, want last constituent's close 12", first.Close)
	}
	if first.High != 13 {
		t.Errorf("high = %v, want max 13", first.High)
	}
	if first.Low != 8 {
		t.Errorf("low = %v, want min 8", first.Low)
	}
	if first.Volume != 800 {
		t.Errorf("volume = %d, want exact sum 800", first.Volume)
	}

	second := out[1]
	if second.StartMS != first.StartMS+model.TF5m.Millis() {
		t.Errorf("second bucket start = %d, want %d", second.StartMS, first.StartMS+model.TF5m.Millis())
	}
	if second.Volume != 100 {
		t.Errorf("second volume = %d, want 100", second.Volume)
	}
}

func TestRoll_HighLowBoundEveryConstituent(t *testing.T) {
	oneMin := []model.Bar{
		minuteBar(0, 10, 14, 9, 11, 10),
		minuteBar(1, 11, 12, 7, 8, 20),
		minuteBar(2, 8, 16, 8, 15, 30),
		minuteBar(3, 15, 15.5, 13, 13.5, 40),
	}
	out := Roll(oneMin, model.TF5m)
	if len(out) != 1 {
		t.Fatalf("expected 1 bucket, got %d", len(out))
	}
	for i, c := range oneMin {
		if out[0].High < c.High {
			t.Errorf("bucket high %v below constituent %d high %v", out[0].High, i, c.High)
		}
		if out[0].Low > c.Low {
			t.Errorf("bucket low %v above constituent %d low %v", out[0].Low, i, c.Low)
		}
	}
}

func TestRoll_MissingMinutesProduceNoEmptyBuckets(t *testing.T) {
	// Bars at minutes 0,1 and 11,12 — the 5-9 bucket simply does not exist.
	oneMin := []model.Bar{
		minuteBar(0, 10, 10, 10, 10, 1),
		minuteBar(1, 10, 10, 10, 10, 1),
		minuteBar(11, 11, 11, 11, 11, 1),
		minuteBar(12, 11, 11, 11, 11, 1),
	}
	out := Roll(oneMin, model.TF5m)
	if len(out) != 2 {
		t.Fatalf("expected 2 buckets with a gap between, got %d", len(out))
	}
	gap := out[1].StartMS - out[0].StartMS
	if gap != 2*model.TF5m.Millis() {
		t.Errorf("bucket gap = %dms, want %dms (one empty bucket skipped)", gap, 2*model.TF5m.Millis())
	}
}

func TestRoll_PairwiseVWAPApproximation(t *testing.T) {
	// running pairwise average: ((10+12)/2 + 14)/2 = 12.5
	oneMin := []model.Bar{
		minuteBar(0, 10, 10, 10, 10, 1),
		minuteBar(1, 10, 10, 10, 10, 1),
		minuteBar(2, 10, 10, 10, 10, 1),
	}
	oneMin[0].VWAP = 10
	oneMin[1].VWAP = 12
	oneMin[2].VWAP = 14

	out := Roll(oneMin, model.TF5m)
	if got := out[0].VWAP; got != 12.5 {
		t.Errorf("pairwise VWAP = %v, want 12.5", got)
	}
}

func TestRoll_VWAPSkipsMissingValues(t *testing.T) {
	oneMin := []model.Bar{
		minuteBar(0, 10, 10, 10, 10, 1), // no vwap
		minuteBar(1, 10, 10, 10, 10, 1),
	}
	oneMin[1].VWAP = 11

	out := Roll(oneMin, model.TF5m)
	if got := out[0].VWAP; got != 11 {
		t.Errorf("VWAP = %v, want 11 (zero constituents skipped)", got)
	}
}

func TestRoll_SixtyMinuteAlignment(t *testing.T) {
	oneMin := []model.Bar{
		minuteBar(2, 10, 10, 10, 10, 5),
		minuteBar(59, 11, 11, 11, 11, 5),
		minuteBar(61, 12, 12, 12, 12, 5),
	}
	out := Roll(oneMin, model.TF60m)
	if len(out) != 2 {
		t.Fatalf("expected 2 hourly buckets, got %d", len(out))
	}
	for _, b := range out {
		if b.StartMS%model.TF60m.Millis() != 0 {
			t.Errorf("hourly bucket %d not aligned", b.StartMS)
		}
	}
	if out[0].Volume != 10 || out[1].Volume != 5 {
		t.Errorf("hourly volumes = %d,%d, want 10,5", out[0].Volume, out[1].Volume)
	}
}

func TestRoll_NonDerivableTargets(t *testing.T) {
	oneMin := []model.Bar{minuteBar(0, 10, 10, 10, 10, 1)}
	if out := Roll(oneMin, model.TF1m); out != nil {
		t.Errorf("Roll to 1m should return nil, got %d bars", len(out))
	}
	if out := Roll(oneMin, model.TF1d); out != nil {
		t.Errorf("Roll to 1d should return nil, got %d bars", len(out))
	}
}

func TestRoll_EmptyAndDeterministic(t *testing.T) {
	if out := Roll(nil, model.TF5m); out != nil {
		t.Errorf("Roll(nil) = %v, want nil", out)
	}

	oneMin := []model.Bar{
		minuteBar(0, 10, 11, 9, 10.5, 100),
		minuteBar(1, 10.5, 12, 10, 11, 150),
		minuteBar(7, 11, 11.5, 10.8, 11.2, 60),
	}
	a := Roll(oneMin, model.TF5m)
	b := Roll(oneMin, model.TF5m)
	if !reflect.DeepEqual(a, b) {
		t.Error("Roll is not deterministic for identical input")
	}
}
