package scheduler

import "time"

// Predicate decides whether billing should run on the day containing t
type Predicate func(t time.Time) bool

// FirstDayOfMonth holds on the first calendar day of every month
func FirstDayOfMonth(t time.Time) bool {
	return t.Day() == 1
}

// DayOfMonth returns a predicate holding on the given day of every month.
// Days past the end of a month are clamped to its last day, so DayOfMonth(31)
// fires on 30 April and 28/29 February.
func DayOfMonth(day int) Predicate {
	return func(t time.Time) bool {
		last := time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
		target := day
		if target > last {
			target = last
		}
		return t.Day() == target
	}
}

// Always holds every day
func Always(time.Time) bool { return true }

// Never holds on no day
func Never(time.Time) bool { return false }
