package todo

import (
	"fmt"
	"strings"
	"time"
)

// Period names a calendar window for task listings.
type Period string

const (
	PeriodToday Period = "today"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodAll   Period = "all"
)

// ParsePeriod accepts the Period names.
func ParsePeriod(s string) (Period, bool) {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case PeriodToday, PeriodWeek, PeriodMonth, PeriodAll:
		return p, true
	}
	return "", false
}

// Bounds returns the inclusive window of p that contains now, in now's zone.
// Weeks start on Monday.
func (p Period) Bounds(now time.Time) (time.Time, time.Time, error) {
	today := midnight(now)
	switch p {
	case PeriodToday:
		start, end := DayBounds(today)
		return start, end, nil
	case PeriodWeek:
		offset := (int(today.Weekday()) + 6) % 7
		start := today.AddDate(0, 0, -offset)
		return start, endOf(start.AddDate(0, 0, 7)), nil
	case PeriodMonth:
		start := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location())
		return start, endOf(start.AddDate(0, 1, 0)), nil
	}
	return time.Time{}, time.Time{}, fmt.Errorf("period %q has no bounds", p)
}

// DayBounds returns [00:00:00, 23:59:59] of day.
func DayBounds(day time.Time) (time.Time, time.Time) {
	start := midnight(day)
	return start, endOf(start.AddDate(0, 0, 1))
}

var dayLayouts = []string{"02.01.2006", "02:01:2006", "2.1.2006"}

// ParseDay reads a dd.mm.yyyy (or dd:mm:yyyy) date in loc.
func ParseDay(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dayLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q: want dd.mm.yyyy", s)
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// endOf is one second before the next boundary; stored times have second
// precision.
func endOf(next time.Time) time.Time { return next.Add(-time.Second) }
