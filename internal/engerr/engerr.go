// Package engerr defines the engine's error taxonomy as a closed set of
// kinds, following the teacher's sentinel-error idiom (see
// daemon/manager/store.go's ErrSessionNotFound family) generalized into a
// typed wrapper so the control plane can map any failure to an audit status
// and an exit code without string-matching messages.
package engerr

import (
	"errors"
	"fmt"
)

// Kind is one of the error taxonomy entries named by the engine's design.
type Kind string

const (
	PolicyDenied     Kind = "PolicyDenied"
	SnapshotNotFound Kind = "SnapshotNotFound"
	ManifestCorrupt  Kind = "ManifestCorrupt"
	ChunkMissing     Kind = "ChunkMissing"
	RollbackDetected Kind = "RollbackDetected"
	AuditCorrupt     Kind = "AuditCorrupt"
	IoError          Kind = "IoError"
	LockHeld         Kind = "LockHeld"
	ConfigInvalid    Kind = "ConfigInvalid"
)

// Error pairs a taxonomy kind with a human-readable message and an optional
// underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a taxonomy error with no underlying cause.
func New(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a taxonomy kind to an underlying error.
func Wrap(kind Kind, cause error, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the taxonomy kind from err, if any *Error is in its chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err's taxonomy kind equals kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
