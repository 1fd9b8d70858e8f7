package util

import "time"

// DateLayout is the wire and storage layout for logical trading dates.
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD date as UTC midnight.
func ParseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Day truncates t to midnight UTC of its calendar date in t's location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatDate renders a logical date.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// IsWeekend reports whether t falls on Saturday or Sunday.
func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// MostRecentTradingDay rolls weekends back to the preceding Friday.
// Exchange holidays are not modelled; a holiday simply yields no bars.
func MostRecentTradingDay(now time.Time) time.Time {
	d := Day(now)
	for IsWeekend(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// MarketDay is MostRecentTradingDay on the calendar of loc, so a clock
// running in UTC still picks the exchange's date. A nil loc keeps now's
// own location.
func MarketDay(now time.Time, loc *time.Location) time.Time {
	if loc != nil {
		now = now.In(loc)
	}
	return MostRecentTradingDay(now)
}

// PreviousTradingDay returns the weekday strictly before d.
func PreviousTradingDay(d time.Time) time.Time {
	p := Day(d).AddDate(0, 0, -1)
	for IsWeekend(p) {
		p = p.AddDate(0, 0, -1)
	}
	return p
}

// DaysBetween returns the whole calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}
