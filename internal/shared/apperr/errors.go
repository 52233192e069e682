package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how the caller is expected to react to it.
type Kind string

const (
	KindNotFound   Kind = "NOT_FOUND"
	KindConflict   Kind = "CONFLICT"
	KindValidation Kind = "VALIDATION"
	KindTransient  Kind = "TRANSIENT"
	KindFatal      Kind = "FATAL"
)

// Error is the error type returned by the reservation, payment and ticketing engines.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NotFound(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

func Conflict(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

func Validation(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

// Transient wraps an error that is worth retrying (deadlocks, dropped connections).
func Transient(code string, err error) *Error {
	return &Error{Kind: KindTransient, Code: code, Message: "transient failure", Err: err}
}

// Fatal wraps an error after retries are exhausted or when nothing can be retried.
func Fatal(code string, err error) *Error {
	return &Error{Kind: KindFatal, Code: code, Message: "unrecoverable failure", Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsBusiness reports whether err is a business-rule violation the caller must handle.
func IsBusiness(err error) bool {
	switch KindOf(err) {
	case KindNotFound, KindConflict, KindValidation:
		return true
	}
	return false
}
