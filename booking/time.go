package booking

import "time"

// Clock returns the current instant. Tests replace it to pin "now".
type Clock func() time.Time

// SystemClock is the wall clock in UTC.
func SystemClock() time.Time {
	return time.Now().UTC()
}

// FixedClock returns a Clock that always reports t.
func FixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

// DateOf truncates t to its calendar day, expressed as midnight UTC.
// Calendar arithmetic on these values is immune to DST shifts.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of whole calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(DateOf(b).Sub(DateOf(a)).Hours() / 24)
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, err
	}
	return DateOf(t), nil
}

// ExpiryAfter is local midnight at the start of the day after end, in loc.
// A ledger funded for a subscription ending on end stops being usable then.
func ExpiryAfter(end time.Time, loc *time.Location) time.Time {
	y, m, d := end.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}
