// Package domainerrors carries typed failures across the service boundary.
// Handlers map a Code to a transport status; callers use Retryable to decide
// whether a request may be repeated.
package domainerrors

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeBadRequest        Code = "bad_request"
	CodeNotFound          Code = "not_found"
	CodeInvalidTransition Code = "invalid_transition"
	CodeUnauthorized      Code = "unauthorized"
	CodeStoreFailure      Code = "store_failure"
)

// Error is a coded failure. Err, when set, is the underlying cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(err error, code Code, message string) error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the code of the outermost coded error in err's chain, or
// the empty code if there is none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// Retryable reports whether err is a store failure. Client-caused errors
// never are.
func Retryable(err error) bool {
	return HasCode(err, CodeStoreFailure)
}
