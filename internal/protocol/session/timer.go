package session

import (
	"time"

	"github.com/andres-erbsen/clock"
)

// Timer is a countdown gate. A new Timer is already expired.
type Timer struct {
	clk      clock.Clock
	duration time.Duration
	deadline time.Time
}

func NewTimer(clk clock.Clock, d time.Duration) *Timer {
	if clk == nil {
		clk = clock.New()
	}
	return &Timer{clk: clk, duration: d}
}

// Start arms the timer for its default duration.
func (t *Timer) Start() {
	t.StartFor(t.duration)
}

func (t *Timer) StartFor(d time.Duration) {
	t.deadline = t.clk.Now().Add(d)
}

func (t *Timer) Expired() bool {
	return !t.clk.Now().Before(t.deadline)
}

// Remaining is zero once the timer has expired.
func (t *Timer) Remaining() time.Duration {
	if left := t.deadline.Sub(t.clk.Now()); left > 0 {
		return left
	}
	return 0
}
