// Package buildcoreerrors defines the error kinds and propagation
// conventions shared across the build core. Rather than introducing a
// typed-error hierarchy with its own interfaces, it pairs
// github.com/pkg/errors.Wrap-style cause chains with a small Kind enum and
// WithKind/KindOf helpers, so callers can classify an error (notFound,
// invalidState, etc.) without losing that chain.
package buildcoreerrors

import (
	stderrors "errors"

	"github.com/pkg/errors"
)

// Kind classifies an error by its failure category.
type Kind uint8

const (
	// KindUnknown is the zero value: no classification applied.
	KindUnknown Kind = iota
	// KindNotFound indicates a missing entity (container, snapshot, index
	// entry).
	KindNotFound
	// KindExists indicates a duplicate id or hostname.
	KindExists
	// KindInvalidState indicates an illegal snapshot transition or an
	// operation issued against the wrong state.
	KindInvalidState
	// KindInvalidFormat indicates an unparseable DiffKey or a malformed
	// manifest.
	KindInvalidFormat
	// KindStorageFailure indicates a content store I/O or ingest failure.
	KindStorageFailure
	// KindEncodingFailed indicates an unexpected UTF-8 failure on canonical
	// serialization; this must be unreachable for internally-controlled
	// strings.
	KindEncodingFailed
	// KindExecutionFailed indicates an operation executor body raised.
	KindExecutionFailed
	// KindUnsupportedOperation indicates an executor received an operation
	// it does not claim.
	KindUnsupportedOperation
)

// String renders the kind for logging.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "notFound"
	case KindExists:
		return "exists"
	case KindInvalidState:
		return "invalidState"
	case KindInvalidFormat:
		return "invalidFormat"
	case KindStorageFailure:
		return "storageFailure"
	case KindEncodingFailed:
		return "encodingFailed"
	case KindExecutionFailed:
		return "executionFailed"
	case KindUnsupportedOperation:
		return "unsupportedOperation"
	default:
		return "unknown"
	}
}

// kindedError pairs a Kind with a wrapped cause.
type kindedError struct {
	kind  Kind
	cause error
}

func (e *kindedError) Error() string {
	return e.cause.Error()
}

func (e *kindedError) Unwrap() error {
	return e.cause
}

// WithKind wraps err (via errors.Wrap, so the original cause and stack trace
// survive) and tags the result with kind. message is attached the same way
// errors.Wrap attaches context elsewhere in this codebase.
func WithKind(kind Kind, err error, message string) error {
	if err == nil {
		return nil
	}
	return &kindedError{kind: kind, cause: errors.Wrap(err, message)}
}

// New constructs a fresh kinded error with no wrapped cause.
func New(kind Kind, message string) error {
	return &kindedError{kind: kind, cause: errors.New(message)}
}

// KindOf extracts the Kind attached to err, if any, walking the cause chain
// via errors.As. It returns KindUnknown if err was never tagged.
func KindOf(err error) Kind {
	var ke *kindedError
	if stderrors.As(err, &ke) {
		return ke.kind
	}
	return KindUnknown
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
