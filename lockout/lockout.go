// Package lockout implements the failed login state machine. It is pure: the
// caller loads State from the user record, asks the Policy what to do, and
// persists the State it gets back.
package lockout

import (
	"math"
	"time"
)

const (
	DefaultThreshold = 5
	DefaultDuration  = 30 * time.Minute
)

// State is the lockout data kept on a user record.
type State struct {
	FailedAttempts int
	LockoutEnd     *time.Time
}

// Status is the state machine position.
type Status int

const (
	Active Status = iota
	Locked
)

func (s Status) String() string {
	if s == Locked {
		return "locked"
	}
	return "active"
}

// Decision is the outcome of evaluating a State at a point in time.
type Decision struct {
	Status    Status
	Remaining time.Duration // zero unless Locked
}

// Locked reports whether the decision rejects the attempt.
func (d Decision) Locked() bool {
	return d.Status == Locked
}

// RemainingMinutes is the remaining lockout rounded up to whole minutes.
func (d Decision) RemainingMinutes() int {
	return RemainingMinutes(d.Remaining)
}

// Policy holds the threshold and window.
type Policy struct {
	Threshold int
	Duration  time.Duration
}

// DefaultPolicy locks for 30 minutes after 5 failures.
func DefaultPolicy() Policy {
	return Policy{Threshold: DefaultThreshold, Duration: DefaultDuration}
}

// Evaluate computes the status at now. A lockout whose window has passed is
// Active; nothing advances it in the background.
func (p Policy) Evaluate(s State, now time.Time) Decision {
	if s.LockoutEnd != nil && now.Before(*s.LockoutEnd) {
		return Decision{Status: Locked, Remaining: s.LockoutEnd.Sub(now)}
	}
	return Decision{Status: Active}
}

// Normalize clears a lockout whose window has elapsed, restarting the counter.
func (p Policy) Normalize(s State, now time.Time) State {
	if s.LockoutEnd != nil && !now.Before(*s.LockoutEnd) {
		return State{}
	}
	return s
}

// RecordFailure applies a failed password check. Locked states are returned
// unchanged; the counter never moves while the window is open.
func (p Policy) RecordFailure(s State, now time.Time) (State, Decision) {
	if d := p.Evaluate(s, now); d.Locked() {
		return s, d
	}

	next := p.Normalize(s, now)
	next.FailedAttempts++
	if next.FailedAttempts >= p.threshold() {
		end := now.Add(p.Duration)
		next.LockoutEnd = &end
		return next, Decision{Status: Locked, Remaining: p.Duration}
	}
	next.LockoutEnd = nil
	return next, Decision{Status: Active}
}

// RecordSuccess resets the state regardless of its previous value.
func (p Policy) RecordSuccess() State {
	return State{}
}

func (p Policy) threshold() int {
	if p.Threshold < 1 {
		return DefaultThreshold
	}
	return p.Threshold
}

// RemainingMinutes rounds d up to whole minutes, never below 1 for a positive d.
func RemainingMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Minutes()))
}
