package api

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure the backend client can produce. Callers
// branch on kinds, never on status codes or error strings.
type ErrorKind int

const (
	ErrUnknown ErrorKind = iota
	ErrAuthExpired
	ErrAuthUnavailable
	ErrNetworkTimeout
	ErrNetworkUnreachable
	ErrJobNotFound
	ErrJobNotReady
	ErrServer
	ErrValidation
	ErrRecoveryFailed
)

func (k ErrorKind) String() string {
	switch k {
	case ErrAuthExpired:
		return "AuthExpired"
	case ErrAuthUnavailable:
		return "AuthUnavailable"
	case ErrNetworkTimeout:
		return "NetworkTimeout"
	case ErrNetworkUnreachable:
		return "NetworkUnreachable"
	case ErrJobNotFound:
		return "JobNotFound"
	case ErrJobNotReady:
		return "JobNotReady"
	case ErrServer:
		return "ServerError"
	case ErrValidation:
		return "Validation"
	case ErrRecoveryFailed:
		return "RecoveryFailed"
	default:
		return "Unknown"
	}
}

// Transient reports whether a failure of this kind is worth retrying on the
// same request without operator involvement. Transient failures feed the
// poller's backoff instead of stopping it.
func (k ErrorKind) Transient() bool {
	switch k {
	case ErrNetworkTimeout, ErrNetworkUnreachable, ErrServer:
		return true
	default:
		return false
	}
}

// Error carries a classified failure plus the HTTP status (when one was
// received) and the underlying cause.
type Error struct {
	Kind    ErrorKind
	Message string
	Status  int
	Cause   error
}

func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func WrapError(err error, kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: err}
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind.String(), e.Message)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s | cause: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// IsKind reports whether err (or anything it wraps) is an Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind == kind
	}
	return false
}

// KindOf extracts the kind from err, or ErrUnknown for foreign errors.
func KindOf(err error) ErrorKind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ErrUnknown
}

// UserMessage maps an error to the line shown to the user. Degraded-but-present
// beats a hard failure, so most kinds read as advisories.
func UserMessage(err error) string {
	switch KindOf(err) {
	case ErrAuthExpired:
		return "Your session expired. Sign in again and retry."
	case ErrAuthUnavailable:
		return "Could not reach the sign-in service. Check your connection and retry."
	case ErrNetworkTimeout:
		return "The server is taking longer than usual. The request will be retried."
	case ErrNetworkUnreachable:
		return "Network unreachable. Check your connection."
	case ErrJobNotFound:
		return "This translation job has expired or does not exist."
	case ErrJobNotReady:
		return "The translation is not finished yet."
	case ErrValidation:
		return "The selected file cannot be translated. Check the file type and size."
	case ErrRecoveryFailed:
		return "The upload may still be processing. Use recover to look it up again."
	default:
		return "Something went wrong. Please try again later."
	}
}
