// Package debounce provides a resettable single-shot timer for coalescing
// bursts of triggers into one action.
package debounce

import (
	"sync"
	"time"
)

// SingleShot runs an action once, a fixed delay after the most recent
// Reset.  Each Reset restarts the countdown, so a burst of triggers
// produces a single run after the burst goes quiet.
//
// The action runs on its own goroutine.  After Shutdown the timer is inert:
// further Resets neither arm the timer nor run the action.
type SingleShot struct {
	mu       sync.Mutex
	delay    time.Duration
	action   func()
	timer    *time.Timer
	pending  bool
	shutdown bool
}

// NewSingleShot returns a disarmed timer that will run action delay after
// the latest Reset.
func NewSingleShot(delay time.Duration, action func()) *SingleShot {
	return &SingleShot{delay: delay, action: action}
}

// Reset arms the timer, restarting the countdown if already armed.
func (s *SingleShot) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.pending = true
	s.timer = time.AfterFunc(s.delay, s.fire)
}

func (s *SingleShot) fire() {
	s.mu.Lock()
	if s.shutdown || !s.pending {
		s.mu.Unlock()
		return
	}
	s.pending = false
	s.mu.Unlock()

	s.action()
}

// ActionPending reports whether the timer is armed and the action has not
// run yet.
func (s *SingleShot) ActionPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Shutdown cancels any armed timer and makes the instance inert.  It does
// not wait for an action already in flight.
func (s *SingleShot) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdown = true
	s.pending = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
