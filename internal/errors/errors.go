// Package errors provides the error taxonomy shared by the state store, the
// router and the management API.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure classes a client action can hit.
var (
	ErrValidation  = errors.New("validation failure")
	ErrNotFound    = errors.New("not found")
	ErrPersistence = errors.New("persistence failure")
	ErrUnavailable = errors.New("service unavailable")
)

// Wire codes sent back to sessions in error frames.
const (
	CodeValidation  = "validation_failure"
	CodeNotFound    = "not_found"
	CodePersistence = "persistence_failure"
	CodeUnavailable = "unavailable"
	CodeInternal    = "internal"
)

// ActionError ties a failure to the action that produced it.
type ActionError struct {
	Action  string
	Kind    error
	Message string
	Err     error
}

func (e *ActionError) Error() string {
	msg := e.Message
	if msg == "" && e.Kind != nil {
		msg = e.Kind.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Action, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Action, msg)
}

// Is lets errors.Is match the sentinel kind.
func (e *ActionError) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

func (e *ActionError) Unwrap() error { return e.Err }

// Validation builds a validation failure for action.
func Validation(action, format string, args ...any) *ActionError {
	return &ActionError{Action: action, Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a not-found failure for action.
func NotFound(action, format string, args ...any) *ActionError {
	return &ActionError{Action: action, Kind: ErrNotFound, Message: fmt.Sprintf(format, args...)}
}

// Persistence wraps a snapshot read/write error.
func Persistence(op string, err error) *ActionError {
	return &ActionError{Action: op, Kind: ErrPersistence, Message: "snapshot " + op + " failed", Err: err}
}

// Code maps err to its wire code.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrPersistence):
		return CodePersistence
	case errors.Is(err, ErrUnavailable):
		return CodeUnavailable
	default:
		return CodeInternal
	}
}

// Message returns the client-facing text for err. Internal errors are not
// described to clients.
func Message(err error) string {
	var ae *ActionError
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	if Code(err) == CodeInternal {
		return "internal error"
	}
	return err.Error()
}
