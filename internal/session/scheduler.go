package session

import "time"

// Timer is a pending delayed transition.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d. It exists so the hold timers can be driven
// by tests without sleeping.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type wallClock struct{}

func (wallClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
