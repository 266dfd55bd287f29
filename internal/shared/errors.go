// Package shared contains the error taxonomy used at the public operation boundary.
package shared

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors of the public taxonomy. Success is a nil error.
var (
	// ErrInvalidArgument indicates that a required input was absent or malformed
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNoMatch indicates that a lookup found nothing
	ErrNoMatch = errors.New("no match")

	// ErrOutOfMemory indicates that an allocation could not be satisfied
	ErrOutOfMemory = errors.New("out of memory")

	// ErrInternal indicates an engine failure, retry exhaustion or a build mismatch
	ErrInternal = errors.New("internal error")

	// ErrAccessDenied indicates that the caller may not perform the operation
	ErrAccessDenied = errors.New("access denied")

	// ErrAlreadyExists indicates a uniqueness violation or already-initialized storage
	ErrAlreadyExists = errors.New("already exists")
)

// Kind represents a category of error for easier classification and handling.
type Kind int

const (
	// KindUnknown represents an unclassified error
	KindUnknown Kind = iota
	// KindInvalidArgument represents absent or malformed input
	KindInvalidArgument
	// KindNoMatch represents lookups that found nothing
	KindNoMatch
	// KindOutOfMemory represents allocation failures
	KindOutOfMemory
	// KindInternal represents engine and internal failures
	KindInternal
	// KindAccessDenied represents refused access
	KindAccessDenied
	// KindAlreadyExists represents uniqueness conflicts
	KindAlreadyExists
	// KindCanceled represents context cancellation
	KindCanceled
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindNoMatch:
		return "NoMatch"
	case KindOutOfMemory:
		return "OutOfMemory"
	case KindInternal:
		return "Internal"
	case KindAccessDenied:
		return "AccessDenied"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindCanceled:
		return "Canceled"
	default:
		return "Unknown"
	}
}

var kindToSentinel = map[Kind]error{
	KindInvalidArgument: ErrInvalidArgument,
	KindNoMatch:         ErrNoMatch,
	KindOutOfMemory:     ErrOutOfMemory,
	KindInternal:        ErrInternal,
	KindAccessDenied:    ErrAccessDenied,
	KindAlreadyExists:   ErrAlreadyExists,
}

// kindPriorities defines the deterministic order for error classification.
// Higher priority (lower index) kinds are checked first in KindOf.
var kindPriorities = []struct {
	kind Kind
	err  error
}{
	{KindCanceled, nil},
	{KindInvalidArgument, ErrInvalidArgument},
	{KindAlreadyExists, ErrAlreadyExists},
	{KindNoMatch, ErrNoMatch},
	{KindAccessDenied, ErrAccessDenied},
	{KindOutOfMemory, ErrOutOfMemory},
	{KindInternal, ErrInternal},
}

// KindOf returns the Kind of the given error by checking against known sentinel errors.
// It traverses the error chain using a deterministic priority order, so an error
// marked both AlreadyExists and Internal classifies as AlreadyExists.
// Returns KindUnknown for nil and unrecognized errors.
//
// Example:
//
//	switch shared.KindOf(err) {
//	case shared.KindAlreadyExists:
//	    fmt.Println("user already registered")
//	case shared.KindInvalidArgument:
//	    return usageError
//	default:
//	    return err
//	}
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	for _, priority := range kindPriorities {
		if priority.kind == KindCanceled {
			if IsCanceled(err) {
				return KindCanceled
			}
			continue
		}
		if errors.Is(err, priority.err) {
			return priority.kind
		}
	}

	return KindUnknown
}

// HasKind reports whether the given error has the specified kind.
func HasKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// ErrorOf returns the sentinel error for the given Kind.
// For KindUnknown and KindCanceled, it returns nil.
func ErrorOf(kind Kind) error {
	if sentinel, exists := kindToSentinel[kind]; exists {
		return sentinel
	}
	return nil
}

// MarkKind wraps an error with the sentinel for kind, preserving the original
// error through wrapping, so both KindOf(MarkKind(err, kind)) == kind and
// errors.Is(MarkKind(err, kind), err) hold.
// If err is nil, returns the sentinel error for the kind.
// Marking an error with a kind it already has returns it unchanged.
//
// Example adapting engine errors at an operation boundary:
//
//	switch sqlite.CodeOf(err) {
//	case sqlite.CodeConstraint:
//	    return shared.MarkKind(err, shared.KindAlreadyExists)
//	default:
//	    return shared.MarkKind(err, shared.KindInternal)
//	}
func MarkKind(err error, kind Kind) error {
	if err == nil {
		return ErrorOf(kind)
	}

	sentinel := ErrorOf(kind)
	if sentinel == nil {
		return err
	}

	if KindOf(err) == kind {
		return err
	}

	return fmt.Errorf("%w: %w", sentinel, err)
}

// Wrap wraps an error with additional context.
// It returns a new error that formats as "context: err".
// If err is nil, Wrap returns nil.
// If context is empty, returns the original error.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	if context == "" {
		return err
	}
	return fmt.Errorf("%s: %w", context, err)
}

// Wrapf wraps an error with a formatted context message.
// If err is nil, Wrapf returns nil.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	context := fmt.Sprintf(format, args...)
	if context == "" {
		return err
	}
	return fmt.Errorf("%s: %w", context, err)
}

// InvalidArgumentf builds an InvalidArgument error with a formatted message.
func InvalidArgumentf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// IsCanceled reports whether the error indicates a canceled context.
func IsCanceled(err error) bool {
	return err != nil && errors.Is(err, context.Canceled)
}

// IsInvalidArgument reports whether the error indicates absent or malformed input.
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

// IsNoMatch reports whether the error indicates an empty lookup.
func IsNoMatch(err error) bool {
	return errors.Is(err, ErrNoMatch)
}

// IsOutOfMemory reports whether the error indicates an allocation failure.
func IsOutOfMemory(err error) bool {
	return errors.Is(err, ErrOutOfMemory)
}

// IsInternal reports whether the error indicates an internal failure.
func IsInternal(err error) bool {
	return errors.Is(err, ErrInternal)
}

// IsAccessDenied reports whether the error indicates refused access.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsAlreadyExists reports whether the error indicates a uniqueness conflict.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}
