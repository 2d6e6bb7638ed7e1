package pipeline

import "time"

// Clock is a wall-clock time of day.
type Clock struct {
	Hour, Minute int
}

// Next returns the first instant strictly after now at c in now's location.
func (c Clock) Next(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), c.Hour, c.Minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (c Clock) String() string {
	return time.Date(0, 1, 1, c.Hour, c.Minute, 0, 0, time.UTC).Format("15:04")
}
