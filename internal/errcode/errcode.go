// Package errcode defines the small, stable error vocabulary shared by the
// coordinator and the nodes. Numbers are stable on the wire: they appear in
// response payloads (errorNum) and in the per-document error-count header.
package errcode

import (
	"errors"
	"fmt"
)

// Code is a numeric domain error code.
type Code int

const (
	NoError                  Code = 0
	Internal                 Code = 4
	BadParameter             Code = 10
	ShuttingDown             Code = 30
	Conflict                 Code = 1200
	DocumentNotFound         Code = 1202
	DataSourceNotFound       Code = 1203
	UniqueConstraintViolated Code = 1210
	DocumentKeyBad           Code = 1221
	ClusterTimeout           Code = 1457
	ConnectionLost           Code = 1464
	BackendUnavailable       Code = 1478
)

var names = map[Code]string{
	NoError:                  "no error",
	Internal:                 "internal error",
	BadParameter:             "bad parameter",
	ShuttingDown:             "shutdown in progress",
	Conflict:                 "conflict",
	DocumentNotFound:         "document not found",
	DataSourceNotFound:       "collection or view not found",
	UniqueConstraintViolated: "unique constraint violated",
	DocumentKeyBad:           "illegal document key",
	ClusterTimeout:           "timeout in cluster operation",
	ConnectionLost:           "connection lost",
	BackendUnavailable:       "backend unavailable",
}

// String returns the default message for the code.
func (c Code) String() string {
	if s, ok := names[c]; ok {
		return s
	}
	return fmt.Sprintf("error %d", int(c))
}

// Error is an error carrying a domain code.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return e.Message
}

// Is matches any *Error with the same code, so sentinels below work with
// errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New builds an *Error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the domain code from err. nil maps to NoError and errors
// without a code map to Internal.
func CodeOf(err error) Code {
	if err == nil {
		return NoError
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}

var (
	ErrBackendUnavailable = &Error{Code: BackendUnavailable}
	ErrShuttingDown       = &Error{Code: ShuttingDown}
	ErrBadParameter       = &Error{Code: BadParameter}
)
