package models

import "errors"

// Error kinds returned across packages. Wrap with fmt.Errorf("%w: ...") and
// test with errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrActionInFlight  = errors.New("action already in flight")
	ErrClosed          = errors.New("session closed")
)
