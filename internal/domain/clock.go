package domain

import (
	"time"

	"github.com/jonboulle/clockwork"
)

var clock clockwork.Clock = clockwork.NewRealClock()

// SetClock replaces the source of batch report, quarantine and publish
// timestamps. nil restores the wall clock.
func SetClock(c clockwork.Clock) {
	if c == nil {
		c = clockwork.NewRealClock()
	}
	clock = c
}

// Now is the current time in UTC according to the configured clock.
func Now() time.Time {
	return clock.Now().UTC()
}
