package ledger

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a sequence lookup finds no matching entry.
var ErrNotFound = errors.New("ledger: entry not found")

// ErrEmptyKey is returned when a Signer is constructed without a secret key.
var ErrEmptyKey = errors.New("ledger: signing key must not be empty")

// ValidationError reports malformed record input. It is raised before any
// hashing occurs and is safe to surface to the caller.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ledger: invalid %s: %s", e.Field, e.Reason)
}

// WriteError reports that an entry could not be durably persisted. Callers
// following the fail-closed policy must treat it as fatal to the business
// action that triggered the audit write.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("ledger: write failed during %s: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
