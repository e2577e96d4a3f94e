package result

import "time"

// DaysUntil computes the signed number of days from today until the given
// YYYY-MM-DD expiration date. ok is false when the date is absent or
// malformed; it never panics. today is truncated to a calendar date so the
// result is stable within a day.
func DaysUntil(expiration string, today time.Time) (days int, ok bool) {
	if expiration == "" {
		return 0, false
	}
	exp, err := time.Parse("2006-01-02", expiration)
	if err != nil {
		return 0, false
	}
	t := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	return int(exp.Sub(t).Hours() / 24), true
}
