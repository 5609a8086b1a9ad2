// Package apperr defines the coded errors surfaced to users.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound = errors.New("not found")
	ErrNoModels = errors.New("no models found")
)

// Code identifies a class of user-visible failure. Codes are stable.
type Code string

const (
	CodeConfigInvalid     Code = "CONFIG_INVALID"
	CodeNoModelsFound     Code = "NO_MODELS_FOUND"
	CodeUnsupportedSource Code = "UNSUPPORTED_SOURCE"
	CodeExtractionFailed  Code = "EXTRACTION_FAILED"
	CodeValidationFailed  Code = "VALIDATION_FAILED"
	CodeRenderFailed      Code = "RENDER_FAILED"
	CodeWriteFailed       Code = "WRITE_FAILED"
)

// Error is a failure with a stable code, a short cause and a list of
// suggestions the user can act on.
type Error struct {
	Code        Code
	Cause       string
	Suggestions []string
	Err         error
}

// New returns a coded error.
func New(code Code, cause string, suggestions ...string) *Error {
	return &Error{Code: code, Cause: cause, Suggestions: suggestions}
}

// Wrap returns a coded error wrapping err.
func Wrap(err error, code Code, cause string, suggestions ...string) *Error {
	return &Error{Code: code, Cause: cause, Suggestions: suggestions, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Cause, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// Format renders err for a terminal: code and cause on the first line,
// suggestions below. Errors without a code are printed as-is.
func Format(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return err.Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Code, e.Cause)
	if e.Err != nil {
		fmt.Fprintf(&b, "\n  reason: %v", e.Err)
	}
	for _, s := range e.Suggestions {
		fmt.Fprintf(&b, "\n  - %s", s)
	}
	return b.String()
}
