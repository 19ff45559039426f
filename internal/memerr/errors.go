// Package memerr defines the error kinds used across the memory engine's
// service layer, so callers can distinguish degrade-gracefully conditions
// from fatal ones without string-matching messages.
package memerr

import "errors"

// Kind is a machine-readable error classification, surfaced to tool callers
// as error.kind alongside a human-readable error.message.
type Kind string

const (
	KindStorage                Kind = "StorageError"
	KindNotFound                Kind = "NotFound"
	KindAmbiguous                Kind = "Ambiguous"
	KindEmbeddingUnavailable     Kind = "EmbeddingUnavailable"
	KindLanguageModelUnavailable Kind = "LanguageModelUnavailable"
	KindMigrationFailure         Kind = "MigrationFailure"
	KindSchemaMismatch           Kind = "SchemaMismatch"
	KindDeadlineExceeded         Kind = "DeadlineExceeded"
)

// Error wraps a Kind with a message and an optional underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind around a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to KindStorage for
// unclassified errors — handlers must never let an unexpected error panic
// the process or leak an internal message.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorage
}
