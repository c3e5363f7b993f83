package bridge

import "time"

// Timer is a scheduled callback.
type Timer interface {
	Stop() bool
}

// Clock schedules request timeouts.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
