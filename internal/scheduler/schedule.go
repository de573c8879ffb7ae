package scheduler

import "time"

// Schedule reports when a task is next due.
type Schedule interface {
	Next(after time.Time) time.Time
}

// ScheduleFunc adapts a plain function to Schedule.
type ScheduleFunc func(after time.Time) time.Time

func (f ScheduleFunc) Next(after time.Time) time.Time { return f(after) }

// Every is due d after the previous run finished.
func Every(d time.Duration) Schedule {
	return ScheduleFunc(func(after time.Time) time.Time { return after.Add(d) })
}

// Daily is due once a day at hour:minute local time.
func Daily(hour, minute int) Schedule {
	return ScheduleFunc(func(after time.Time) time.Time {
		y, m, d := after.Date()
		at := time.Date(y, m, d, hour, minute, 0, 0, after.Location())
		if !at.After(after) {
			at = at.AddDate(0, 0, 1)
		}
		return at
	})
}
