package util

import "time"

// WeekEnd returns the Friday that closes the trading week containing t.
// Saturday and Sunday belong to the week that ended on the preceding Friday.
func WeekEnd(t time.Time) time.Time {
	y, m, d := t.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	switch wd := day.Weekday(); wd {
	case time.Saturday:
		return day.AddDate(0, 0, -1)
	case time.Sunday:
		return day.AddDate(0, 0, -2)
	default:
		return day.AddDate(0, 0, int(time.Friday-wd))
	}
}

// LastCompletedWeek returns the most recent Friday on or before t. On a
// Friday it returns t's own date.
func LastCompletedWeek(t time.Time) time.Time {
	y, m, d := t.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	back := (int(day.Weekday()) - int(time.Friday) + 7) % 7
	return day.AddDate(0, 0, -back)
}

// IsWeekend reports whether t falls on a Saturday or Sunday.
func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
