package models

import "time"

const DayLayout = "2006-01-02"

// DayOf returns the calendar day of t (as seen in t's own location) at UTC midnight.
// Dates never carry a time-of-day component.
func DayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Today returns the current calendar day in loc, expressed at UTC midnight.
func Today(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return DayOf(now.In(loc))
}

// ParseDay parses YYYY-MM-DD into a UTC-midnight day.
func ParseDay(s string) (time.Time, error) {
	return time.ParseInLocation(DayLayout, s, time.UTC)
}

// DayKey formats a day as YYYY-MM-DD.
func DayKey(t time.Time) string {
	return DayOf(t).Format(DayLayout)
}

// Period names a window for hourly views.
type Period string

const (
	PeriodToday Period = "today"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// ParsePeriod maps a query value to a Period; anything unknown is today.
func ParsePeriod(s string) Period {
	switch Period(s) {
	case PeriodWeek:
		return PeriodWeek
	case PeriodMonth:
		return PeriodMonth
	default:
		return PeriodToday
	}
}

// Start returns the UTC-midnight start boundary of the period relative to today.
func (p Period) Start(today time.Time) time.Time {
	today = DayOf(today)
	switch p {
	case PeriodWeek:
		return today.AddDate(0, 0, -7)
	case PeriodMonth:
		return today.AddDate(0, 0, -30)
	default:
		return today
	}
}
