package markethours

import (
	"testing"
	"time"
)

// 2026-08-25 is a regular Tuesday session.
func et(day, hour, min int) time.Time {
	return time.Date(2026, 8, day, hour, min, 0, 0, Eastern)
}

func TestIsMarketOpen(t *testing.T) {
	tests := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"mid_session", et(25, 10, 0), true},
		{"at_open", et(25, 9, 30), true},
		{"before_open", et(25, 9, 29), false},
		{"pre_market", et(25, 3, 0), false},
		{"after_close", et(25, 16, 0), false},
		{"saturday", et(22, 11, 0), false},
		{"sunday", et(23, 11, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsMarketOpen(tt.t); got != tt.want {
				t.Errorf("IsMarketOpen(%v) = %v, want %v", tt.t, got, tt.want)
			}
		})
	}
}

func TestNextOpenSkipsWeekend(t *testing.T) {
	// Saturday noon → Monday 9:30
	got := NextOpen(et(22, 12, 0))
	want := et(24, 9, 30)
	if !got.Equal(want) {
		t.Errorf("NextOpen(Sat) = %v, want %v", got, want)
	}

	// Tuesday pre-open → same day 9:30
	got = NextOpen(et(25, 8, 0))
	want = et(25, 9, 30)
	if !got.Equal(want) {
		t.Errorf("NextOpen(pre-open) = %v, want %v", got, want)
	}
}

func TestSessionStart(t *testing.T) {
	mid := et(25, 14, 3)
	want := et(25, 9, 30)
	if got := SessionStart(mid); !got.Equal(want) {
		t.Errorf("SessionStart = %v, want %v", got, want)
	}
	if got := SessionStartMS(mid.UnixMilli()); got != want.UnixMilli() {
		t.Errorf("SessionStartMS = %d, want %d", got, want.UnixMilli())
	}

	// A pre-market stamp maps to the same day's open, not the prior session.
	if got := SessionStartMS(et(25, 7, 0).UnixMilli()); got != want.UnixMilli() {
		t.Errorf("SessionStartMS(pre-market) = %d, want %d", got, want.UnixMilli())
	}
}

func TestTimeUntilClose(t *testing.T) {
	if d := TimeUntilClose(et(25, 15, 0)); d != time.Hour {
		t.Errorf("TimeUntilClose(15:00) = %v, want 1h", d)
	}
	if d := TimeUntilClose(et(25, 18, 0)); d != 0 {
		t.Errorf("TimeUntilClose(18:00) = %v, want 0", d)
	}
}
