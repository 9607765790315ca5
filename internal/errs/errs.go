// Package errs defines the core's error taxonomy (spec §7): a closed set of
// kinds that every handler translates into before it ever reaches the
// dispatcher's response envelope. No exceptions cross that boundary —
// everything is a *Error with a stable Kind and a human-readable message.
package errs

import "fmt"

// Kind is the closed set of error kinds from spec.md §7.
type Kind string

const (
	ArgumentMissing      Kind = "ArgumentMissing"
	ArgumentInvalid      Kind = "ArgumentInvalid"
	UnknownCommand       Kind = "UnknownCommand"
	NotFound             Kind = "NotFound"
	AlreadyExists        Kind = "AlreadyExists"
	IllegalState         Kind = "IllegalState"
	LimitExceeded        Kind = "LimitExceeded"
	ResourceExhausted    Kind = "ResourceExhausted"
	Timeout              Kind = "Timeout"
	CAPTCHADetected      Kind = "CAPTCHADetected"
	VerificationFailed   Kind = "VerificationFailed"
	UnknownExportFormat  Kind = "UnknownExportFormat"
	Shutdown             Kind = "Shutdown"
	PageGone             Kind = "PageGone"
	TransportClosed      Kind = "TransportClosed"
	CertificateInvalid   Kind = "CertificateInvalid"
	ProxyUnavailable     Kind = "ProxyUnavailable"
	Unauthorized         Kind = "Unauthorized"
)

// Error is the core's single error type; Kind is what callers switch on,
// Message is what gets surfaced to a client verbatim.
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

// New builds an *Error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error carrying an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// MissingArg is a convenience constructor for the dispatcher's "<arg> is
// required" contract (spec §4.J).
func MissingArg(name string) *Error {
	return New(ArgumentMissing, name+" is required")
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error, and
// reports ArgumentInvalid for anything else so callers always get a kind.
func KindOf(err error) Kind {
	var e *Error
	if asError(err, &e) {
		return e.Kind
	}
	return ArgumentInvalid
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
