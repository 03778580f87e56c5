package eventindex

import "time"

// DayStart truncates t to 00:00 of its day in loc.
func DayStart(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// MonthStart truncates t to 00:00 on the first of its month in loc.
func MonthStart(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
}

// RecurringDay is the sentinel day key of the recurring bucket.
func RecurringDay(loc *time.Location) time.Time {
	return time.Date(9999, time.December, 31, 0, 0, 0, 0, loc)
}
