// Package errors is the typed error taxonomy shared by services and the HTTP
// layer. A Code decides the HTTP status, retry hint and what the client sees.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

// Generic codes.
const (
	CodeValidation     Code = "VALIDATION_ERROR"
	CodeNotFound       Code = "NOT_FOUND"
	CodeForbidden      Code = "FORBIDDEN"
	CodeConflict       Code = "CONFLICT"
	CodeIdempotency    Code = "IDEMPOTENCY_KEY_REUSED"
	CodeInternal       Code = "INTERNAL_ERROR"
	CodeDependency     Code = "DEPENDENCY_ERROR"
	CodeServiceOffline Code = "SERVICE_UNAVAILABLE"
)

// Material lifecycle codes.
const (
	CodeInvariantViolation     Code = "INVARIANT_VIOLATION"
	CodeIllegalTransition      Code = "ILLEGAL_TRANSITION"
	CodeMissingJustification   Code = "MISSING_JUSTIFICATION"
	CodeOutOfSequence          Code = "OUT_OF_SEQUENCE"
	CodeNothingToSpawn         Code = "NOTHING_TO_SPAWN"
	CodeParentNotEligible      Code = "PARENT_NOT_ELIGIBLE"
	CodeDuplicateSpawnToken    Code = "DUPLICATE_SPAWN_TOKEN"
	CodeConcurrentModification Code = "CONCURRENT_MODIFICATION"
)

// Metadata is how a code surfaces over HTTP.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

// Shorthands for the table below.
func clientFault(status int, msg string) Metadata {
	return Metadata{HTTPStatus: status, PublicMessage: msg, DetailsAllowed: true}
}

func transient(status int, msg string, details bool) Metadata {
	return Metadata{HTTPStatus: status, Retryable: true, PublicMessage: msg, DetailsAllowed: details}
}

var catalog = map[Code]Metadata{
	CodeValidation:     clientFault(http.StatusBadRequest, "validation failed"),
	CodeNotFound:       {HTTPStatus: http.StatusNotFound, PublicMessage: "resource not found"},
	CodeForbidden:      clientFault(http.StatusForbidden, "actor role not permitted"),
	CodeConflict:       {HTTPStatus: http.StatusConflict, PublicMessage: "conflict detected"},
	CodeIdempotency:    clientFault(http.StatusConflict, "idempotency key reused"),
	CodeInternal:       transient(http.StatusInternalServerError, "internal server error", false),
	CodeDependency:     transient(http.StatusServiceUnavailable, "dependency unavailable", true),
	CodeServiceOffline: transient(http.StatusServiceUnavailable, "service unavailable", false),

	CodeInvariantViolation:     clientFault(http.StatusUnprocessableEntity, "quantity invariant violated"),
	CodeIllegalTransition:      clientFault(http.StatusConflict, "status transition not allowed"),
	CodeMissingJustification:   clientFault(http.StatusUnprocessableEntity, "a note is required for this decision"),
	CodeOutOfSequence:          clientFault(http.StatusConflict, "approval acted out of turn"),
	CodeNothingToSpawn:         clientFault(http.StatusUnprocessableEntity, "nothing to spawn"),
	CodeParentNotEligible:      clientFault(http.StatusConflict, "parent line not eligible"),
	CodeDuplicateSpawnToken:    clientFault(http.StatusConflict, "spawn token already used"),
	CodeConcurrentModification: transient(http.StatusConflict, "line was modified concurrently; re-read and retry", true),
}

// MetadataFor treats unknown codes as internal errors.
func MetadataFor(code Code) Metadata {
	meta, ok := catalog[code]
	if !ok {
		return catalog[CodeInternal]
	}
	return meta
}

// Error is a coded error with an optional cause and client-visible details.
// Methods are safe on a nil receiver.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches err as the cause. A nil err yields a plain New.
func Wrap(code Code, err error, message string) *Error {
	e := New(code, message)
	e.cause = err
	return e
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

// WithDetails sets details in place and returns e for chaining.
func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return string(e.code) + ": " + e.message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain, or nil.
func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// IsCode reports whether the outermost *Error in err's chain carries code.
func IsCode(err error, code Code) bool {
	return As(err).codeOr("") == code
}

// Retryable reports whether callers are expected to retry err automatically.
func Retryable(err error) bool {
	typed := As(err)
	return typed != nil && MetadataFor(typed.code).Retryable
}

func (e *Error) codeOr(fallback Code) Code {
	if e == nil {
		return fallback
	}
	return e.code
}
