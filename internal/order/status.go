package order

// Status defines the lifecycle status of an order
type Status string

const (
	// StatusPending represents a freshly placed order still inside the edit window
	StatusPending Status = "pending"
	// StatusConfirmed represents an order locked for the kitchen
	StatusConfirmed Status = "confirmed"
	// StatusPreparing represents an order the kitchen is working on
	StatusPreparing Status = "preparing"
	// StatusCompleted represents an order ready to be settled
	StatusCompleted Status = "completed"
	// StatusPaid represents a settled order (terminal)
	StatusPaid Status = "paid"
)

// next maps each status to the only status allowed to follow it.
var next = map[Status]Status{
	StatusPending:   StatusConfirmed,
	StatusConfirmed: StatusPreparing,
	StatusPreparing: StatusCompleted,
	StatusCompleted: StatusPaid,
}

// Valid reports whether s is a known order status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusPreparing, StatusCompleted, StatusPaid:
		return true
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusPaid
}

// String returns a string representation of Status
func (s Status) String() string {
	return string(s)
}

// StatusFromString converts a string to a Status
func StatusFromString(status string) Status {
	s := Status(status)
	if !s.Valid() {
		return StatusPending
	}
	return s
}
