// Package markethours is the NYSE session clock: open/close checks, next-open
// scheduling for the live loop, and the session-start mapping used by the
// session-scoped VWAP.
//
// Holiday and half-day awareness comes from the scmhub/calendar XNYS calendar.
// When the calendar (or the America/New_York tzdata) cannot be loaded we fall
// back to a plain Mon–Fri 9:30–16:00 clock plus the static holiday table in
// holidays.go, so the engine still runs in stripped-down containers.
package markethours

import (
	"fmt"
	"log"
	"time"

	"github.com/scmhub/calendar"
)

// Regular NYSE session in Eastern time.
const (
	OpenHour    = 9
	OpenMinute  = 30
	CloseHour   = 16
	CloseMinute = 0

	// Pre-open warm-up timing for the live loop.
	PreOpenMinutesBefore   = 5 // wake 5 min before open for session login
	WSConnectMinutesBefore = 1 // connect the stream 1 min before open
)

// Eastern is the exchange timezone. Loaded from tzdata; a fixed EST zone is
// the last resort (wrong for half the year, but better than UTC).
var Eastern *time.Location

// nyse is the XNYS trading calendar, nil when the calendar could not be
// resolved and the weekday fallback applies.
var nyse *calendar.Calendar

func init() {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		log.Printf("[markethours] America/New_York tzdata unavailable (%v), using fixed EST", err)
		loc = time.FixedZone("EST", -5*3600)
	}
	Eastern = loc

	nyse = calendar.GetCalendar("xnys")
	if nyse == nil {
		log.Printf("[markethours] XNYS calendar unavailable, falling back to weekday clock + static holidays")
		return
	}
	if nyse.Loc != nil {
		Eastern = nyse.Loc
	}
}

// IsMarketOpen returns true if t falls within the regular NYSE session
// (9:30 AM – 4:00 PM ET, Mon–Fri, excluding holidays and half-day closes).
func IsMarketOpen(t time.Time) bool {
	if nyse != nil {
		return nyse.IsOpen(t)
	}
	et := t.In(Eastern)
	if !IsTradingDay(et) {
		return false
	}
	hm := et.Hour()*60 + et.Minute()
	return hm >= OpenHour*60+OpenMinute && hm < CloseHour*60+CloseMinute
}

// IsWeekday returns true if t is Mon–Fri in Eastern time.
func IsWeekday(t time.Time) bool {
	wd := t.In(Eastern).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay returns true if t is a regular NYSE trading day.
func IsTradingDay(t time.Time) bool {
	if nyse != nil {
		return nyse.IsBusinessDay(t)
	}
	et := t.In(Eastern)
	return IsWeekday(et) && !isFallbackHoliday(et)
}

// NextOpen returns the next market open (9:30 AM ET on the next trading day).
// If t is before today's open on a trading day, returns today's open.
func NextOpen(t time.Time) time.Time {
	et := t.In(Eastern)

	todayOpen := time.Date(et.Year(), et.Month(), et.Day(), OpenHour, OpenMinute, 0, 0, Eastern)
	if et.Before(todayOpen) && IsTradingDay(et) {
		return todayOpen
	}

	d := et.AddDate(0, 0, 1)
	for i := 0; i < 10; i++ { // long weekends + holiday clusters
		if IsTradingDay(d) {
			return time.Date(d.Year(), d.Month(), d.Day(), OpenHour, OpenMinute, 0, 0, Eastern)
		}
		d = d.AddDate(0, 0, 1)
	}
	return time.Date(et.Year(), et.Month(), et.Day()+1, OpenHour, OpenMinute, 0, 0, Eastern)
}

// NextPreOpen returns the next warm-up instant (9:25 AM ET on the next trading
// day), used to schedule session login before the stream connects.
func NextPreOpen(t time.Time) time.Time {
	return NextOpen(t).Add(-time.Duration(PreOpenMinutesBefore) * time.Minute)
}

// WSConnectTime returns when the stream should connect for the given open.
func WSConnectTime(openTime time.Time) time.Time {
	return openTime.Add(-time.Duration(WSConnectMinutesBefore) * time.Minute)
}

// TodayClose returns today's regular close (4:00 PM ET).
func TodayClose(t time.Time) time.Time {
	et := t.In(Eastern)
	return time.Date(et.Year(), et.Month(), et.Day(), CloseHour, CloseMinute, 0, 0, Eastern)
}

// TimeUntilClose returns the duration until today's close, 0 if already past.
func TimeUntilClose(t time.Time) time.Duration {
	d := TodayClose(t).Sub(t.In(Eastern))
	if d < 0 {
		return 0
	}
	return d
}

// TimeUntilOpen returns the duration until the next market open.
func TimeUntilOpen(t time.Time) time.Duration {
	return NextOpen(t).Sub(t.In(Eastern))
}

// SessionStart returns the 9:30 AM ET open of the trading day containing t.
func SessionStart(t time.Time) time.Time {
	et := t.In(Eastern)
	return time.Date(et.Year(), et.Month(), et.Day(), OpenHour, OpenMinute, 0, 0, Eastern)
}

// SessionStartMS maps a bar timestamp (Unix ms) to its session open in Unix ms.
// This is the engine's SessionStart hook: bars stamped before the open map to
// the same day's open and fall outside the session-scoped VWAP window.
func SessionStartMS(ms int64) int64 {
	return SessionStart(time.UnixMilli(ms)).UnixMilli()
}

// StatusString returns a human-readable market status.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		return fmt.Sprintf("Market Open — closes in %s", fmtDur(TimeUntilClose(t)))
	}
	next := NextOpen(t)
	et := next.In(Eastern)
	return fmt.Sprintf("Market Closed — opens %s %s ET (%s)",
		et.Weekday().String()[:3], et.Format("15:04"), fmtDur(next.Sub(t)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
