// Package timertest provides a manually advanced clock for tests.
package timertest

import (
	"sort"
	"sync"
	"time"

	"github.com/lei/lighthouse-kiosk/internal/timer"
)

// Clock is a timer.Clock whose time only moves on Advance
type Clock struct {
	mu      sync.Mutex
	now     time.Duration
	seq     int
	pending []*fakeTimer
}

// New creates a clock at time zero
func New() *Clock {
	return &Clock{}
}

type fakeTimer struct {
	clock   *Clock
	at      time.Duration
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// AfterFunc implements timer.Clock
func (c *Clock) AfterFunc(d time.Duration, f func()) timer.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	t := &fakeTimer{clock: c, at: c.now + d, seq: c.seq, fn: f}
	c.pending = append(c.pending, t)
	return t
}

// Advance moves time forward by d, firing due callbacks in time order on the
// calling goroutine. Callbacks scheduled while advancing fire too if due.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now + d
	c.mu.Unlock()

	for {
		t := c.nextDue(target)
		if t == nil {
			break
		}
		t.fn()
	}

	c.mu.Lock()
	c.now = target
	c.mu.Unlock()
}

func (c *Clock) nextDue(target time.Duration) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	live := c.pending[:0]
	for _, t := range c.pending {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	c.pending = live

	sort.Slice(c.pending, func(i, j int) bool {
		if c.pending[i].at != c.pending[j].at {
			return c.pending[i].at < c.pending[j].at
		}
		return c.pending[i].seq < c.pending[j].seq
	})

	if len(c.pending) == 0 || c.pending[0].at > target {
		return nil
	}
	t := c.pending[0]
	t.fired = true
	c.now = t.at
	return t
}

// Pending returns the number of scheduled, unfired timers
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, t := range c.pending {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}
