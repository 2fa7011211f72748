package domain

import (
	"errors"
	"fmt"
)

// Code identifies an error kind. Every kind is recoverable by the caller;
// only CodeServerError signals corruption or an unexpected failure.
type Code string

const (
	CodeItemNotFound      Code = "ITEM_NOT_FOUND"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeWIPLimitExceeded  Code = "WIP_LIMIT_EXCEEDED"
	CodeDependencyBlocked Code = "DEPENDENCY_BLOCKED"
	CodeDependencyCycle   Code = "DEPENDENCY_CYCLE"
	CodeMissingDependency Code = "MISSING_DEPENDENCY"
	CodeAlreadyClaimed    Code = "ALREADY_CLAIMED"
	CodeInvalidAgent      Code = "INVALID_AGENT"
	CodeAgentRequired     Code = "AGENT_REQUIRED"
	CodeInvalidStage      Code = "INVALID_STAGE"
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeDuplicateID       Code = "DUPLICATE_ID"
	CodeLockTimeout       Code = "LOCK_TIMEOUT"
	CodeServerError       Code = "SERVER_ERROR"
)

// Error is the structured result every failed operation returns.
type Error struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	ItemID  string         `json:"itemId,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.ItemID != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.ItemID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errf builds an Error with a formatted message.
func Errf(code Code, itemID, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), ItemID: itemID}
}

// With attaches a detail key and returns the error for chaining.
func (e *Error) With(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// CodeOf extracts the error code, defaulting to SERVER_ERROR for plain errors.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeServerError
}

// AsError returns err as a structured Error, wrapping plain errors as
// SERVER_ERROR so callers always see the envelope.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return &Error{Code: CodeServerError, Message: err.Error()}
}

// ExitStatus maps an error to the fixed per-kind process exit code table.
func ExitStatus(err error) int {
	if err == nil {
		return 0
	}
	switch CodeOf(err) {
	case CodeValidation, CodeDuplicateID:
		return 2
	case CodeItemNotFound:
		return 3
	case CodeInvalidTransition, CodeInvalidStage:
		return 4
	case CodeWIPLimitExceeded:
		return 5
	case CodeDependencyBlocked, CodeDependencyCycle:
		return 6
	case CodeAlreadyClaimed, CodeInvalidAgent:
		return 7
	case CodeAgentRequired:
		return 8
	case CodeLockTimeout:
		return 9
	default:
		return 1
	}
}
