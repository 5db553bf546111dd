// Package apperr formalizes the error-kind taxonomy used across use-case
// packages, generalizing the ad hoc fmt.Errorf + HTTP status switch that
// used to live inline in internal/api/handler.go.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error independent of transport.
type Kind string

const (
	Validation           Kind = "VALIDATION"
	Auth                 Kind = "AUTH"
	NotFound             Kind = "NOT_FOUND"
	Conflict             Kind = "CONFLICT"
	ExchangeConnectivity Kind = "EXCHANGE_CONNECTIVITY"
	ExchangeRejected     Kind = "EXCHANGE_REJECTED"
	RateLimit            Kind = "RATE_LIMIT"
	Invariant            Kind = "INVARIANT"
	Internal             Kind = "INTERNAL"
)

// Error is the typed error every use-case returns instead of a bare string.
type Error struct {
	Kind    Kind
	Code    string // short machine-readable tag, e.g. "INVALID_STATE_TRANSITION"
	Message string
	Err     error // wrapped cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with no wrapped cause.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap attaches a kind/code/message to an existing error.
func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// HTTPStatus maps a Kind onto the HTTP status code controllers should return.
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case Validation:
		return http.StatusBadRequest
	case Auth:
		return http.StatusUnauthorized
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case ExchangeConnectivity:
		return http.StatusBadGateway
	case ExchangeRejected:
		return http.StatusUnprocessableEntity
	case RateLimit:
		return http.StatusTooManyRequests
	case Invariant:
		return http.StatusUnprocessableEntity
	case Internal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Common, reusable sentinels for the state-machine and lifecycle packages.
var (
	ErrInvalidTransition = New(Invariant, "INVALID_TRANSITION", "invalid state transition")
	ErrInvalidState      = New(Invariant, "INVALID_STATE", "invalid state for requested operation")
	ErrNotRunning        = New(NotFound, "NOT_RUNNING", "no running instance for this id")
	ErrHandlerMissing    = New(Internal, "NO_HANDLER", "no handler registered")
)

// InvalidTransition builds a kind-Invariant error naming the attempted
// transition, for rejecting an event against a terminal order state.
func InvalidTransition(from, event string) *Error {
	return New(Invariant, "INVALID_TRANSITION", fmt.Sprintf("cannot apply %s from state %s", event, from))
}

// InvalidState builds a kind-Invariant error for a lifecycle gate failure,
// e.g. starting a bot that is already RUNNING.
func InvalidState(message string) *Error {
	return New(Invariant, "INVALID_STATE", message)
}
