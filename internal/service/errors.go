package service

import "errors"

// Rejection is a guard failure surfaced to the caller with a machine code.
// Rejections are terminal decisions: they are never retried automatically.
type Rejection struct {
	Code    string
	Message string
}

// Error implements the error interface
func (r *Rejection) Error() string {
	return r.Message
}

// Guard rejections
var (
	ErrInvalidTransition = &Rejection{Code: "INVALID_TRANSITION", Message: "requested status does not follow the current status"}
	ErrEditWindowExpired = &Rejection{Code: "EDIT_WINDOW_EXPIRED", Message: "the edit window for this order has expired"}
	ErrNotPending        = &Rejection{Code: "NOT_PENDING", Message: "items can only be changed while the order is pending"}
	ErrNotCompleted      = &Rejection{Code: "NOT_COMPLETED", Message: "only completed orders can be marked as paid"}
	ErrAlreadyDeleted    = &Rejection{Code: "ALREADY_DELETED", Message: "order has been deleted"}
	ErrCannotDeletePaid  = &Rejection{Code: "CANNOT_DELETE_PAID", Message: "paid orders cannot be deleted"}
)

// AsRejection unwraps err into a Rejection when it is one.
func AsRejection(err error) (*Rejection, bool) {
	var rejection *Rejection
	if errors.As(err, &rejection) {
		return rejection, true
	}
	return nil, false
}
