package framework

import "time"

// Clock abstracts time so polling loops can be driven by a simulated clock.
type Clock interface {
	Now() time.Time
	// Sleep suspends the caller for d.
	Sleep(d time.Duration)
}

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// ClockOrSystem returns c or SystemClock when c is nil.
func ClockOrSystem(c Clock) Clock {
	if c == nil {
		return SystemClock
	}
	return c
}
