// Package timer provides cancellable timers that hold one active handle at a
// time. Stop and Cancel are single operations: once they return, the
// callback will not run again until the next Start or Schedule.
package timer

import (
	"sync"
	"time"
)

// Timer is a scheduled callback that can be stopped
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// RealClock schedules on the runtime timer
type RealClock struct{}

// AfterFunc implements Clock
func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Pulse calls a function repeatedly with a fixed period.
//
// The callback runs while the pulse's lock is held, so it must not call
// methods on the same Pulse.
type Pulse struct {
	clock Clock

	mu     sync.Mutex
	handle Timer
	gen    uint64
}

// NewPulse creates an idle pulse
func NewPulse(clock Clock) *Pulse {
	if clock == nil {
		clock = RealClock{}
	}
	return &Pulse{clock: clock}
}

// Start begins calling fn every period, replacing any running pulse
func (p *Pulse) Start(period time.Duration, fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	gen := p.gen
	p.scheduleLocked(gen, period, fn)
}

func (p *Pulse) scheduleLocked(gen uint64, period time.Duration, fn func()) {
	p.handle = p.clock.AfterFunc(period, func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		if p.gen != gen {
			return
		}
		fn()
		p.scheduleLocked(gen, period, fn)
	})
}

// Stop cancels the pulse. It is a no-op when no pulse is running.
func (p *Pulse) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Pulse) stopLocked() {
	p.gen++
	if p.handle != nil {
		p.handle.Stop()
		p.handle = nil
	}
}

// Running reports whether a pulse is active
func (p *Pulse) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handle != nil
}

// Deferred runs a function once after a delay unless cancelled first.
//
// The callback runs while the lock is held, so it must not call methods on
// the same Deferred.
type Deferred struct {
	clock Clock

	mu     sync.Mutex
	handle Timer
	gen    uint64
}

// NewDeferred creates a deferred call with nothing pending
func NewDeferred(clock Clock) *Deferred {
	if clock == nil {
		clock = RealClock{}
	}
	return &Deferred{clock: clock}
}

// Schedule arranges for fn to run after d, replacing any pending call
func (d *Deferred) Schedule(delay time.Duration, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cancelLocked()
	gen := d.gen
	d.handle = d.clock.AfterFunc(delay, func() {
		d.mu.Lock()
		defer d.mu.Unlock()

		if d.gen != gen {
			return
		}
		d.handle = nil
		fn()
	})
}

// Cancel drops the pending call, if any
func (d *Deferred) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
}

func (d *Deferred) cancelLocked() {
	d.gen++
	if d.handle != nil {
		d.handle.Stop()
		d.handle = nil
	}
}

// Pending reports whether a call is scheduled
func (d *Deferred) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handle != nil
}
