package storage

import "github.com/pkg/errors"

// Sentinel errors for the storage error taxonomy. Callers should use
// errors.Is against these, since adapter methods wrap them with
// github.com/pkg/errors for stack context.
var (
	// ErrUnavailable is returned when the handle is not open.
	ErrUnavailable = errors.New("storage: unavailable")
	// ErrBusy is returned when the store remains locked past the busy timeout.
	ErrBusy = errors.New("storage: busy")
	// ErrIntegrity is returned when a constraint violation surfaces from
	// within a transaction.
	ErrIntegrity = errors.New("storage: integrity violation")
)
