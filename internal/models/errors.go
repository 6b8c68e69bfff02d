package models

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrDeadlinePassed  = errors.New("deadline passed")
	ErrAlreadyTerminal = errors.New("already in a terminal state")
	ErrNotCommitted    = errors.New("user order is not committed")
	// ErrConflict means a compare-and-set lost a race; nothing was persisted.
	ErrConflict = errors.New("concurrent modification")
	// ErrBusy means a record lock is held by another request; nothing happened.
	ErrBusy           = errors.New("record is busy")
	ErrPersistence    = errors.New("persistence failure")
	ErrInvalidStatus  = errors.New("invalid status value")
	ErrInvalidRequest = errors.New("invalid request")
	ErrCartInactive   = errors.New("cart is not active")
)
