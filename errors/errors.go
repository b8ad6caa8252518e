// Package errors provides error handling for pricehist.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Hints and details for operator-facing messages
//
// On top of that it defines the ingestion error taxonomy. Every failure in the
// pipeline wraps exactly one of the sentinels below so callers can route it
// with errors.Is:
//
//	if errors.Is(err, errors.ErrFatalResource) {
//	    // stop the whole run
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
	CombineErrors      = crdb.CombineErrors
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// GetStack returns the reportable stack trace attached to err, if any.
var GetStack = crdb.GetReportableStackTrace

// Generic sentinels.
var (
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")
)

// Ingestion taxonomy. Scope of each:
//
//	ErrRemoteUnavailable  date has no published archive; date is skipped, not failed
//	ErrTransientIO        network or timeout; retried, then fails the date
//	ErrCorruptArchive     archive cannot be opened or walked; fails the date
//	ErrMalformedRecord    one entry; counted and skipped
//	ErrStoreWrite         one batch; split and retried, then counted
//	ErrFatalResource      disk full, permission denied, store out of space; aborts the run
var (
	ErrRemoteUnavailable = New("remote archive unavailable")
	ErrTransientIO       = New("transient i/o failure")
	ErrCorruptArchive    = New("corrupt archive")
	ErrMalformedRecord   = New("malformed record")
	ErrStoreWrite        = New("store write failed")
	ErrFatalResource     = New("fatal resource error")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// IsFatal reports whether err must abort the entire run.
func IsFatal(err error) bool {
	return err != nil && Is(err, ErrFatalResource)
}

// IsRemoteUnavailable reports whether err means the archive does not exist upstream.
func IsRemoteUnavailable(err error) bool {
	return err != nil && Is(err, ErrRemoteUnavailable)
}

// IsTransient reports whether err is worth another attempt.
func IsTransient(err error) bool {
	return err != nil && Is(err, ErrTransientIO)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidRequest, Newf(format, args...).Error())
}

// Fatal marks err as a run-aborting resource failure while keeping its message
// and stack.
func Fatal(err error, msg string) error {
	if err == nil {
		return nil
	}
	return Mark(Wrap(err, msg), ErrFatalResource)
}

// Classify marks err with the given taxonomy sentinel. The original message
// and chain stay intact so errors.Is still finds both.
func Classify(err error, kind error) error {
	if err == nil {
		return nil
	}
	return Mark(err, kind)
}
