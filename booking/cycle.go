package booking

import "time"

// Weekly cycles are anchored to the subscription start date: cycle k begins
// on start + 7k days. Cycle 0 is the activation week and is funded when the
// ledger is opened, so the scheduler only resets cycles k >= 1. Week numbers
// are 1-based (cycle k is week k+1).

// CycleIndex returns k for day, clamped at 0 for days before start.
func CycleIndex(start, day time.Time) int {
	days := DaysBetween(start, day)
	if days < 0 {
		return 0
	}
	return days / 7
}

// CycleDate returns the first day of cycle k.
func CycleDate(start time.Time, k int) time.Time {
	return DateOf(start).AddDate(0, 0, 7*k)
}

// CurrentCycle returns the cycle containing day and its week number.
func CurrentCycle(start, day time.Time) (time.Time, int) {
	k := CycleIndex(start, day)
	return CycleDate(start, k), k + 1
}

// NextCycle returns the first cycle strictly after the one containing day.
func NextCycle(start, day time.Time) (time.Time, int) {
	k := CycleIndex(start, day) + 1
	return CycleDate(start, k), k + 1
}

// DueForReset reports whether day falls in a cycle the scheduler resets.
func DueForReset(start, day time.Time) bool {
	return !DateOf(day).Before(DateOf(start)) && CycleIndex(start, day) >= 1
}
