// Package apperr is the error taxonomy shared by the diagnosis pipeline and
// its HTTP surface. Every failure that reaches a handler is one of five kinds.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindValidation Kind = iota + 1
	KindNotFound
	KindAuthorization
	KindUpstream
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindAuthorization:
		return "authorization"
	case KindUpstream:
		return "upstream"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// Status is the HTTP status a kind maps to.
func (k Kind) Status() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindAuthorization:
		return http.StatusForbidden
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (k Kind) defaultCode() string {
	switch k {
	case KindValidation:
		return "VALIDATION_FAILED"
	case KindNotFound:
		return "NOT_FOUND"
	case KindAuthorization:
		return "AUTHORIZATION_FAILED"
	case KindUpstream:
		return "UPSTREAM_UNAVAILABLE"
	default:
		return "DATABASE_ERROR"
	}
}

// internal reports whether details must be hidden from the caller.
func (k Kind) internal() bool {
	return k == KindUpstream || k == KindPersistence
}

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, code, msg string, err error) *Error {
	if code == "" {
		code = kind.defaultCode()
	}
	return &Error{Kind: kind, Code: code, Message: msg, Err: err}
}

func Validation(code, format string, args ...any) *Error {
	return newErr(KindValidation, code, fmt.Sprintf(format, args...), nil)
}

func NotFound(what string) *Error {
	return newErr(KindNotFound, "", what+" not found", nil)
}

func Authorization(msg string) *Error {
	return newErr(KindAuthorization, "", msg, nil)
}

func Upstream(msg string, err error) *Error {
	return newErr(KindUpstream, "", msg, err)
}

func Persistence(msg string, err error) *Error {
	return newErr(KindPersistence, "", msg, err)
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
