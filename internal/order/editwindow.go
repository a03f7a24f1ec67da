package order

import "time"

// EditWindow is the period after creation during which item and total mutation
// is permitted. The server evaluates it against the persisted creation time and
// the device client against its local placement time; both sides share this
// constant so the two clocks cannot drift apart on policy.
const EditWindow = 5 * time.Minute

// IsEditable reports whether item mutation is still permitted for an order
// created at createdAt. A zero createdAt marks a malformed record and resolves
// permissive (editable) rather than fail-closed. Editability is a time-only
// fact; the pending-status gate is layered on top by the service.
func IsEditable(createdAt, now time.Time) bool {
	if createdAt.IsZero() {
		return true
	}
	return now.Sub(createdAt) < EditWindow
}

// Remaining returns how much of the edit window is left at now, clamped to
// zero. A zero createdAt yields the full window.
func Remaining(createdAt, now time.Time) time.Duration {
	if createdAt.IsZero() {
		return EditWindow
	}
	left := EditWindow - now.Sub(createdAt)
	if left < 0 {
		return 0
	}
	return left
}
