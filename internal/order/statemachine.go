package order

import (
	"errors"
	"time"
)

// ErrInvalidTransition is returned when a requested status does not directly
// follow the current status in the lifecycle chain.
var ErrInvalidTransition = errors.New("invalid status transition")

// AttemptTransition decides whether requested may follow current. The chain is
// forward-only and single-step: pending -> confirmed -> preparing -> completed
// -> paid. Every other pair is rejected. The function carries no knowledge of
// roles or timers; those gates belong to the service layer.
func AttemptTransition(current, requested Status) error {
	if next[current] != requested {
		return ErrInvalidTransition
	}
	return nil
}

// LockAt returns the lock timestamp after a transition into confirmed. The
// existing value wins when already set, so a racing auto-confirm and an
// explicit staff confirm cannot move the lock time.
func LockAt(existing *time.Time, now time.Time) *time.Time {
	if existing != nil {
		return existing
	}
	t := now
	return &t
}
