package batch

import "time"

// weekdayKeys are the seven fixed keys used to index per-day quantities in a
// preference document, ordered to match time.Weekday (Sunday = 0).
var weekdayKeys = [7]string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

// WeekdayKey returns the three-letter weekday key for the given wall-clock
// time.
func WeekdayKey(t time.Time) string {
	return weekdayKeys[int(t.Weekday())]
}
