// Package budget caps how often jobs may call paid or rate-limited external
// services: a sliding-window limiter for bursts and a store-backed daily
// allowance.
package budget

import (
	"fmt"
	"sync"
	"time"

	"github.com/teranos/cadence/errors"
)

// ErrBudgetExceeded is returned when a call would exceed a limit. Callers
// inside a job return it so the runner retries with backoff.
var ErrBudgetExceeded = errors.New("budget exceeded")

// Limiter enforces max calls per time window using a sliding window
type Limiter struct {
	maxCalls  int
	window    time.Duration
	mu        sync.Mutex
	callTimes []time.Time
	timeNow   func() time.Time
}

// NewLimiter creates a per-minute limiter with real time
func NewLimiter(maxCallsPerMinute int) *Limiter {
	return NewLimiterWithClock(maxCallsPerMinute, time.Minute, time.Now)
}

// NewLimiterWithClock creates a limiter with an injectable clock
func NewLimiterWithClock(maxCalls int, window time.Duration, timeNow func() time.Time) *Limiter {
	return &Limiter{
		maxCalls:  maxCalls,
		window:    window,
		callTimes: make([]time.Time, 0, max(maxCalls, 0)),
		timeNow:   timeNow,
	}
}

// Allow records a call, or returns ErrBudgetExceeded if the window is full.
// A limiter with maxCalls <= 0 allows everything.
func (r *Limiter) Allow() error {
	if r == nil || r.maxCalls <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.timeNow()
	r.removeExpiredCalls(now)

	if len(r.callTimes) >= r.maxCalls {
		err := errors.Wrapf(ErrBudgetExceeded, "%d calls per %s", r.maxCalls, r.window)
		err = errors.WithDetail(err, fmt.Sprintf("Current calls in window: %d", len(r.callTimes)))
		err = errors.WithDetail(err, fmt.Sprintf("Window frees up at: %s", r.callTimes[0].Add(r.window).Format(time.RFC3339)))
		return err
	}

	r.callTimes = append(r.callTimes, now)
	return nil
}

// removeExpiredCalls drops timestamps outside the window. Must be called with lock held.
func (r *Limiter) removeExpiredCalls(now time.Time) {
	cutoff := now.Add(-r.window)

	expired := 0
	for _, callTime := range r.callTimes {
		if !callTime.After(cutoff) {
			expired++
		} else {
			break
		}
	}

	r.callTimes = r.callTimes[expired:]
}

// Stats returns the calls in the current window and the remaining capacity
func (r *Limiter) Stats() (callsInWindow int, remaining int) {
	if r == nil {
		return 0, 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeExpiredCalls(r.timeNow())

	callsInWindow = len(r.callTimes)
	remaining = r.maxCalls - callsInWindow
	if remaining < 0 {
		remaining = 0
	}
	return callsInWindow, remaining
}
