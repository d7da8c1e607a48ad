// Package apperr defines the coded error taxonomy shared by the execution pipeline.
//
// Every expected failure mode of a submission (unsupported language, file
// preparation, sandbox start, timeout, unreadable report, rejected code) carries
// a Code so that transports can tell "your code failed" apart from "the platform
// failed to run your code".
package apperr

import (
	"errors"
	"fmt"
)

// Code identifies a class of failure
type Code int

const (
	Internal Code = iota + 1000
	InvalidRequest
	LanguageNotSupported
	PreparationFailed
	SandboxFailure
	ExecutionTimeout
	ResultParseFailed
	CodeRejected
	KeywordSystemError
)

var codeNames = map[Code]string{
	Internal:             "INTERNAL",
	InvalidRequest:       "INVALID_REQUEST",
	LanguageNotSupported: "LANGUAGE_NOT_SUPPORTED",
	PreparationFailed:    "PREPARATION_FAILED",
	SandboxFailure:       "SANDBOX_FAILURE",
	ExecutionTimeout:     "EXECUTION_TIMEOUT",
	ResultParseFailed:    "RESULT_PARSE_FAILED",
	CodeRejected:         "CODE_REJECTED",
	KeywordSystemError:   "KEYWORD_SYSTEM_ERROR",
}

var codeMessages = map[Code]string{
	Internal:             "Internal error",
	InvalidRequest:       "Invalid request",
	LanguageNotSupported: "Language is not supported",
	PreparationFailed:    "Failed to prepare execution environment",
	SandboxFailure:       "Sandbox failed to run the code",
	ExecutionTimeout:     "Execution timed out",
	ResultParseFailed:    "Failed to parse test results",
	CodeRejected:         "Code contains a forbidden operation",
	KeywordSystemError:   "Keyword validation failed unexpectedly",
}

// String returns the stable wire name of the code
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CODE_%d", int(c))
}

// Message returns the default message for the code
func (c Code) Message() string {
	if msg, ok := codeMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// Error is an error with a code and optional context
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code.Message()
	}
	if e.Err != nil && e.Err.Error() != msg {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code, so that
// errors.Is(err, apperr.New(apperr.ExecutionTimeout)) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithDetail attaches a key/value pair
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates an error with the default message of code
func New(code Code) *Error {
	return &Error{Code: code, Message: code.Message()}
}

// Newf creates an error with a formatted message
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches code to err. A nil err yields nil.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	if message == "" {
		message = code.Message()
	}
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the code from err, Internal when err carries none
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}

// Is reports whether err carries code
func Is(err error, code Code) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}
