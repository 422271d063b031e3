package util

import (
	"time"
)

// TradingCalendar provides NYSE/Nasdaq regular-session awareness: weekdays
// 09:30-16:00 America/New_York, excluding exchange holidays. Early closes are
// not modelled.
type TradingCalendar struct {
	loc   *time.Location
	open  time.Duration
	close time.Duration
}

// NewTradingCalendar creates a TradingCalendar for US equities.
func NewTradingCalendar() *TradingCalendar {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		// No tzdata available: fall back to a fixed EST offset.
		loc = time.FixedZone("EST", -5*60*60)
	}
	return &TradingCalendar{
		loc:   loc,
		open:  9*time.Hour + 30*time.Minute,
		close: 16 * time.Hour,
	}
}

// IsMarketOpen returns whether the regular session is open at time t.
func (tc *TradingCalendar) IsMarketOpen(t time.Time) bool {
	local := t.In(tc.loc)
	if !tc.IsTradingDay(local) {
		return false
	}
	since := local.Sub(tc.midnight(local))
	return since >= tc.open && since < tc.close
}

// IsTradingDay reports whether t's date (in exchange time) has a session.
func (tc *TradingCalendar) IsTradingDay(t time.Time) bool {
	local := t.In(tc.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !isHoliday(local)
}

// NextOpen returns the next market open time at or after t.
func (tc *TradingCalendar) NextOpen(t time.Time) time.Time {
	local := t.In(tc.loc)
	for i := 0; i < 10; i++ {
		day := tc.midnight(local).AddDate(0, 0, i)
		if !tc.IsTradingDay(day) {
			continue
		}
		open := day.Add(tc.open)
		if !open.Before(local) {
			return open
		}
	}
	return time.Time{}
}

func (tc *TradingCalendar) midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, tc.loc)
}

// ---------------------------------------------------------------------------
// Holidays
// ---------------------------------------------------------------------------

func isHoliday(t time.Time) bool {
	y, m, d := t.Date()
	for _, h := range holidays(y) {
		if h.m == m && h.d == d {
			return true
		}
	}
	// New Year's Day of next year observed on Dec 31 is not a market holiday,
	// so no lookahead is needed.
	return false
}

type monthDay struct {
	m time.Month
	d int
}

// holidays returns the observed NYSE full-day closures for year.
func holidays(year int) []monthDay {
	days := []monthDay{
		nthWeekday(year, time.January, time.Monday, 3),   // Martin Luther King Jr. Day
		nthWeekday(year, time.February, time.Monday, 3),  // Washington's Birthday
		goodFriday(year),
		lastWeekday(year, time.May, time.Monday),         // Memorial Day
		nthWeekday(year, time.September, time.Monday, 1), // Labor Day
		nthWeekday(year, time.November, time.Thursday, 4), // Thanksgiving
	}
	// Saturday New Year's is not observed on the preceding Friday.
	if nyd := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC); nyd.Weekday() != time.Saturday {
		days = append(days, observed(nyd))
	}
	days = append(days, observed(time.Date(year, time.July, 4, 0, 0, 0, 0, time.UTC)))
	days = append(days, observed(time.Date(year, time.December, 25, 0, 0, 0, 0, time.UTC)))
	if year >= 2022 {
		days = append(days, observed(time.Date(year, time.June, 19, 0, 0, 0, 0, time.UTC)))
	}
	return days
}

// observed shifts Saturday holidays to Friday and Sunday holidays to Monday.
func observed(t time.Time) monthDay {
	switch t.Weekday() {
	case time.Saturday:
		t = t.AddDate(0, 0, -1)
	case time.Sunday:
		t = t.AddDate(0, 0, 1)
	}
	return monthDay{t.Month(), t.Day()}
}

func nthWeekday(year int, month time.Month, wd time.Weekday, n int) monthDay {
	t := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(wd) - int(t.Weekday()) + 7) % 7
	t = t.AddDate(0, 0, offset+7*(n-1))
	return monthDay{t.Month(), t.Day()}
}

func lastWeekday(year int, month time.Month, wd time.Weekday) monthDay {
	t := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC)
	offset := (int(t.Weekday()) - int(wd) + 7) % 7
	t = t.AddDate(0, 0, -offset)
	return monthDay{t.Month(), t.Day()}
}

// goodFriday uses the anonymous Gregorian Easter algorithm.
func goodFriday(year int) monthDay {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	easter := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	gf := easter.AddDate(0, 0, -2)
	return monthDay{gf.Month(), gf.Day()}
}
