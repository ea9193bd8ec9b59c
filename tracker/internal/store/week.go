package store

import "time"

// WeekStart returns Monday 00:00:00 UTC of the ISO week containing t.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// ThisWeek returns [Monday, next Monday) around t.
func ThisWeek(t time.Time) (start, end time.Time) {
	start = WeekStart(t)
	return start, start.AddDate(0, 0, 7)
}

// LastWeek returns [previous Monday, this Monday) relative to t.
func LastWeek(t time.Time) (start, end time.Time) {
	end = WeekStart(t)
	return end.AddDate(0, 0, -7), end
}
