package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Local validation errors. The store is unchanged when one is returned.
var (
	ErrDuplicateID      = errors.New("duplicate criterion id")
	ErrNotRemovable     = errors.New("criterion comes from the dream house and cannot be removed")
	ErrOutOfRange       = errors.New("value out of range")
	ErrInvalidMove      = errors.New("invalid move")
	ErrIndexOutOfRange  = errors.New("index out of range")
	ErrUnknownCategory  = errors.New("unknown category")
	ErrStaleReference   = errors.New("house is no longer attached")
	ErrCriterionMissing = errors.New("criterion not found")
	ErrReservedID       = errors.New("criterion id is outside the dream house range")
)

// Remote errors. They never roll back local edits.
var (
	ErrNetwork = errors.New("network error")
	ErrAuth    = errors.New("not authorized")
	ErrRemote  = errors.New("remote error")
)

// RemoteError is a non-success response from the criteria service.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote status %d: %s", e.Status, e.Message)
}

func (e *RemoteError) Unwrap() error {
	if e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden {
		return ErrAuth
	}
	return ErrRemote
}
