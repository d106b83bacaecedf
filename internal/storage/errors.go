package storage

import (
	"errors"
	"fmt"
)

// Storage error kinds. Every error returned by the adapter matches exactly
// one of these through errors.Is, whichever backend produced it.
var (
	// ErrDuplicateKey is a uniqueness violation (e.g. account email).
	// Expected and recoverable: callers map it to a user-facing conflict.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrMalformedStatement is a programmer error: empty statement or a
	// placeholder count that does not match the arguments.
	ErrMalformedStatement = errors.New("malformed statement")

	// ErrConnectionUnavailable means the backend could not be reached.
	ErrConnectionUnavailable = errors.New("connection unavailable")

	// ErrStorageFault is any other backend failure.
	ErrStorageFault = errors.New("storage fault")
)

// Error carries a storage error kind together with the native backend error.
//
// errors.Is(err, ErrDuplicateKey) matches on Kind; errors.As can still reach
// the driver error (*pq.Error, *sqlite.Error) through Unwrap for logging.
type Error struct {
	Kind    error   // one of the Err* kinds above
	Backend Backend // which backend raised it
	Op      string  // short description of what was attempted
	Err     error   // original backend error, may be nil for MalformedStatement
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("storage(%s): %s: %v", e.Backend, e.Op, e.Kind)
	}
	return fmt.Sprintf("storage(%s): %s: %v: %v", e.Backend, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is match the kind as well as anything in the native chain.
func (e *Error) Is(target error) bool { return target == e.Kind }

// kindLabel is the metrics/log label for an error kind.
func kindLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrDuplicateKey):
		return "duplicate_key"
	case errors.Is(err, ErrMalformedStatement):
		return "malformed_statement"
	case errors.Is(err, ErrConnectionUnavailable):
		return "connection_unavailable"
	default:
		return "storage_fault"
	}
}
