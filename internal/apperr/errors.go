// Package apperr defines the error taxonomy shared by the service layers and
// its mapping onto HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for transport mapping.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindAuth
	KindNotFound
	KindConflict
	KindLiveness
	KindBiometric
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindLiveness:
		return "liveness"
	case KindBiometric:
		return "biometric"
	case KindPersistence:
		return "persistence"
	}
	return "unknown"
}

// Machine-readable codes carried in responses.
const (
	CodeValidation       = "Validation"
	CodeMissingHeader    = "MissingHeader"
	CodeMalformedToken   = "MalformedToken"
	CodeExpired          = "Expired"
	CodeInvalid          = "Invalid"
	CodeUnauthorized     = "Unauthorized"
	CodeBadCredentials   = "BadCredentials"
	CodeNotFound         = "NotFound"
	CodeNoEnrollment     = "NoEnrollment"
	CodeNoSection        = "NoSection"
	CodeNoSchedule       = "NoSchedule"
	CodeExists           = "Exists"
	CodeLivenessFailed   = "LivenessFailed"
	CodeNoMatch          = "NoMatch"
	CodeEnrollmentFailed = "EnrollmentFailed"
	CodeComparisonFailed = "ComparisonFailed"
	CodePersistence      = "Persistence"
)

// Error is a classified failure with a stable code and a human message.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error with the same kind and code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// Status maps the error onto an HTTP status code.
func (e *Error) Status() int {
	switch e.Kind {
	case KindValidation, KindLiveness:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindBiometric:
		if e.Code == CodeNoMatch {
			return http.StatusUnauthorized
		}
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// New builds an error without a cause.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap builds an error around cause.
func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

func Validation(message string) *Error {
	return New(KindValidation, CodeValidation, message)
}

func Auth(code, message string) *Error {
	return New(KindAuth, code, message)
}

func NotFound(code, message string) *Error {
	return New(KindNotFound, code, message)
}

func Conflict(message string) *Error {
	return New(KindConflict, CodeExists, message)
}

func Liveness(reason string) *Error {
	return New(KindLiveness, CodeLivenessFailed, reason)
}

// Persistence wraps a store failure.
func Persistence(op string, cause error) *Error {
	return Wrap(KindPersistence, CodePersistence, op+" failed", cause)
}

// As extracts an *Error from err. Unclassified errors come back as a
// persistence-kind internal error so callers always have a status to render.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(KindPersistence, CodePersistence, "internal error", err)
}

// HasCode reports whether err is an *Error carrying code.
func HasCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
