package database

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// OpenErrorKind classifies why the database could not be opened or used.
// Recovery policy dispatches on the kind, never on error text.
type OpenErrorKind int

const (
	Unknown OpenErrorKind = iota
	VersionMismatch
	InvalidState
	NotFound
)

func (k OpenErrorKind) String() string {
	switch k {
	case VersionMismatch:
		return "version_mismatch"
	case InvalidState:
		return "invalid_state"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// OpenError is returned by Open, Reopen and Recreate.
type OpenError struct {
	Kind OpenErrorKind
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open database (%s): %v", e.Kind, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// Corrupt reports whether the failure belongs to a class that a destructive
// recreation can fix.
func (e *OpenError) Corrupt() bool {
	switch e.Kind {
	case VersionMismatch, InvalidState, NotFound:
		return true
	}
	return false
}

// KindOf extracts the OpenErrorKind from err, or Unknown.
func KindOf(err error) OpenErrorKind {
	var oe *OpenError
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return Unknown
}

// IsCorrupt reports whether err is an OpenError of a recoverable corruption class.
func IsCorrupt(err error) bool {
	var oe *OpenError
	return errors.As(err, &oe) && oe.Corrupt()
}

// classify converts a raw badger open error into an OpenError. Badger does not
// export typed errors for manifest/checksum damage, so those are recognised
// here once, at the boundary, and nowhere else.
func classify(err error) error {
	var oe *OpenError
	if errors.As(err, &oe) {
		return err
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return &OpenError{Kind: NotFound, Err: err}
	case errors.Is(err, badger.ErrDBClosed):
		return &OpenError{Kind: InvalidState, Err: err}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "manifest has unsupported version"),
		strings.Contains(msg, "unsupported version"):
		return &OpenError{Kind: VersionMismatch, Err: err}
	case strings.Contains(msg, "checksum mismatch"),
		strings.Contains(msg, "corrupt"),
		strings.Contains(msg, "bad magic"):
		return &OpenError{Kind: InvalidState, Err: err}
	}
	// Directory lock contention and permission problems land here: they must
	// never trigger a destructive recreate.
	return &OpenError{Kind: Unknown, Err: err}
}
