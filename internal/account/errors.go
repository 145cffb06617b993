package account

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the backing store holds no account state.
var ErrNotFound = errors.New("account: no stored state")

// MalformedStateError is returned when the stored blob is not a decodable
// account document. Section names the part that failed, if known.
type MalformedStateError struct {
	Section string
	Err     error
}

func (e *MalformedStateError) Error() string {
	if e.Section == "" {
		return fmt.Sprintf("account: malformed state: %v", e.Err)
	}
	return fmt.Sprintf("account: malformed %s: %v", e.Section, e.Err)
}

func (e *MalformedStateError) Unwrap() error { return e.Err }

// MissingFieldError is returned when a mandatory field is absent or null.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("account: missing required field %q", e.Field)
}

// InvalidIdentifierError is returned when a stable id or profile key does
// not parse.
type InvalidIdentifierError struct {
	Field string
	Value string
	Err   error
}

func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("account: invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *InvalidIdentifierError) Unwrap() error { return e.Err }

// PersistenceError is returned when the state cannot be encoded or the
// backing store rejects a read or write.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("account: %s state: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
