package order

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAttemptTransitionForwardChain(t *testing.T) {
	allowed := map[Status]Status{
		StatusPending:   StatusConfirmed,
		StatusConfirmed: StatusPreparing,
		StatusPreparing: StatusCompleted,
		StatusCompleted: StatusPaid,
	}

	statuses := []Status{StatusPending, StatusConfirmed, StatusPreparing, StatusCompleted, StatusPaid}
	for _, current := range statuses {
		for _, requested := range statuses {
			err := AttemptTransition(current, requested)
			if allowed[current] == requested {
				require.NoError(t, err, "%s -> %s should be accepted", current, requested)
			} else {
				require.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s should be rejected", current, requested)
			}
		}
	}
}

func TestAttemptTransitionRejectsUnknownStatus(t *testing.T) {
	require.ErrorIs(t, AttemptTransition(Status("cancelled"), StatusConfirmed), ErrInvalidTransition)
	require.ErrorIs(t, AttemptTransition(StatusPaid, Status("archived")), ErrInvalidTransition)
}

func TestLockAtIsIdempotent(t *testing.T) {
	first := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	locked := LockAt(nil, first)
	require.NotNil(t, locked)
	require.Equal(t, first, *locked)

	// A later confirm must not move the lock time.
	again := LockAt(locked, first.Add(42*time.Second))
	require.Equal(t, locked, again)
	require.Equal(t, first, *again)
}
