package protocol

import (
	"errors"
	"fmt"
)

const (
	CodeValidation         = "VALIDATION"
	CodeDuplicateRequest   = "DUPLICATE_REQUEST"
	CodeBackendUnreachable = "BACKEND_UNREACHABLE"
	CodeBackendUnhealthy   = "BACKEND_UNHEALTHY"
	CodeBackendError       = "BACKEND_ERROR"
	CodeUnknownAction      = "UNKNOWN_ACTION"
	CodeTabNotFound        = "TAB_NOT_FOUND"
	CodePageUnavailable    = "PAGE_UNAVAILABLE"
	CodeEvalFailure        = "EVAL_FAILURE"
	CodeEvalTimeout        = "EVAL_TIMEOUT"
	CodeCDPUnavailable     = "CDP_UNAVAILABLE"
	CodeInternal           = "INTERNAL"
)

// CodedError is a typed error used for stable mapping onto message
// responses and HTTP status codes.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

// NewError builds a *CodedError.
func NewError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// CodeOf returns the code carried by err, or CodeInternal when err is not
// a *CodedError.
func CodeOf(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return false
	}
	return coded.Code == code
}

// UserMessage returns the text shown to the user for err.
func UserMessage(err error) string {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return err.Error()
	}
	switch coded.Code {
	case CodeDuplicateRequest:
		return "a request is already in progress"
	case CodeBackendUnreachable:
		return "translation server is unreachable"
	case CodeBackendUnhealthy:
		return "translation model service is not connected"
	}
	return coded.Message
}
