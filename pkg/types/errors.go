package types

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the content stores and the index subsystem.
// Callers match them with errors.Is; producers wrap them with context.
var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("revision conflict")
	ErrRateLimited         = errors.New("rate limited")
	ErrForbidden           = errors.New("forbidden")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrMalformedPayload    = errors.New("malformed payload")
	ErrAllocationExhausted = errors.New("identifier allocation exhausted")
	ErrTreeTruncated       = errors.New("tree listing truncated")
)

// RemoteError is returned when the remote content store rejects a call
type RemoteError struct {
	Op      string
	Path    string
	Status  int
	Message string
	Err     error // one of the sentinels above, or nil
}

func (e *RemoteError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %d %s", e.Op, e.Path, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %d %s", e.Op, e.Status, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is, or wraps, ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err is, or wraps, ErrConflict
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
