package order

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIsEditableBoundary(t *testing.T) {
	createdAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.True(t, IsEditable(createdAt, createdAt))
	require.True(t, IsEditable(createdAt, createdAt.Add(EditWindow-time.Millisecond)))
	require.False(t, IsEditable(createdAt, createdAt.Add(EditWindow)))
	require.False(t, IsEditable(createdAt, createdAt.Add(EditWindow+time.Hour)))
}

func TestIsEditableMissingCreatedAt(t *testing.T) {
	// Malformed records resolve permissive rather than fail-closed.
	require.True(t, IsEditable(time.Time{}, time.Now()))
}

func TestRemaining(t *testing.T) {
	createdAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.Equal(t, EditWindow, Remaining(createdAt, createdAt))
	require.Equal(t, time.Minute, Remaining(createdAt, createdAt.Add(EditWindow-time.Minute)))
	require.Equal(t, time.Duration(0), Remaining(createdAt, createdAt.Add(EditWindow)))
	require.Equal(t, time.Duration(0), Remaining(createdAt, createdAt.Add(2*EditWindow)))
	require.Equal(t, EditWindow, Remaining(time.Time{}, createdAt))
}
