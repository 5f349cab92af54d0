package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Services translate every storage or gateway failure into one
// of these before it crosses the service boundary; callers match with
// errors.Is and never see raw store errors.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrIllegalState = errors.New("illegal state")
	ErrBadRequest   = errors.New("bad request")
	ErrUnauthorized = errors.New("unauthorized")
	ErrUpstream     = errors.New("upstream failure")
)

// StateError is a state-machine violation with a stable code.
type StateError struct {
	Code string
}

func (e *StateError) Error() string {
	return "illegal state: " + e.Code
}

func (e *StateError) Unwrap() error {
	return ErrIllegalState
}

// IllegalState builds a StateError carrying a stable code such as
// "dataset_has_only_one_version".
func IllegalState(code string) error {
	return &StateError{Code: code}
}

// RequestError is a structurally invalid request. Fields lists every
// offending field, not just the first one found.
type RequestError struct {
	Code   string
	Fields []string
}

func (e *RequestError) Error() string {
	if len(e.Fields) == 0 {
		return "bad request: " + e.Code
	}
	return fmt.Sprintf("bad request: %s: %s", e.Code, strings.Join(e.Fields, ", "))
}

func (e *RequestError) Unwrap() error {
	return ErrBadRequest
}

// BadRequest builds a RequestError with a stable code and the offending
// fields.
func BadRequest(code string, fields ...string) error {
	return &RequestError{Code: code, Fields: fields}
}

// AuthzError is a tenancy rejection.
type AuthzError struct {
	Code    string
	Tenancy string
}

func (e *AuthzError) Error() string {
	if e.Tenancy == "" {
		return "unauthorized: " + e.Code
	}
	return fmt.Sprintf("unauthorized: %s: %s", e.Code, e.Tenancy)
}

func (e *AuthzError) Unwrap() error {
	return ErrUnauthorized
}

// Unauthorized builds an AuthzError for a tenancy the caller does not own.
func Unauthorized(code, tenancy string) error {
	return &AuthzError{Code: code, Tenancy: tenancy}
}

// Upstream wraps a collaborator failure as a generic upstream error. The
// underlying error stays reachable for logging but callers only match
// ErrUpstream.
func Upstream(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUpstream, op, err)
}

// ErrorCode extracts the stable code from a taxonomy error, or "" when the
// error carries none.
func ErrorCode(err error) string {
	var stateErr *StateError
	if errors.As(err, &stateErr) {
		return stateErr.Code
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Code
	}
	var authzErr *AuthzError
	if errors.As(err, &authzErr) {
		return authzErr.Code
	}
	return ""
}
