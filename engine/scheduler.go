package engine

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Timer is a pending scheduled call.
type Timer interface {
	Stop() bool
}

// Scheduler drives the round lifecycle. Production uses wall-clock time;
// tests inject virtual time.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type clockScheduler struct {
	c clock.Clock
}

// NewClockScheduler adapts a clock.Clock. A nil clock means the wall clock.
func NewClockScheduler(c clock.Clock) Scheduler {
	if c == nil {
		c = clock.New()
	}
	return clockScheduler{c: c}
}

func (s clockScheduler) Now() time.Time { return s.c.Now() }

func (s clockScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return s.c.AfterFunc(d, f)
}
