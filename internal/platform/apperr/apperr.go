// Package apperr defines the error taxonomy shared by services and the HTTP
// error handler. Services return these errors (optionally wrapped); only the
// HTTP boundary decides status codes and client-facing messages.
package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
)

// ValidationError carries field-level validation failures.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Validation accumulates field errors. The zero value is ready to use.
type Validation struct {
	fields map[string]string
}

// Add records msg for field. The first message for a field wins.
func (v *Validation) Add(field, msg string) {
	if v.fields == nil {
		v.fields = make(map[string]string)
	}
	if _, ok := v.fields[field]; !ok {
		v.fields[field] = msg
	}
}

// Check records msg for field when ok is false.
func (v *Validation) Check(ok bool, field, msg string) {
	if !ok {
		v.Add(field, msg)
	}
}

// Err returns a *ValidationError when any field failed, nil otherwise.
func (v *Validation) Err() error {
	if len(v.fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: v.fields}
}

// Invalid is a shorthand for a single-field validation error.
func Invalid(field, msg string) error {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// Forbidden wraps ErrForbidden with a reason that is safe to show to clients.
func Forbidden(reason string) error {
	return &reasonError{kind: ErrForbidden, reason: reason}
}

// NotFound wraps ErrNotFound with the name of the missing entity.
func NotFound(entity string) error {
	return &reasonError{kind: ErrNotFound, reason: entity + " not found"}
}

// Conflict wraps ErrConflict with a reason that is safe to show to clients.
func Conflict(reason string) error {
	return &reasonError{kind: ErrConflict, reason: reason}
}

type reasonError struct {
	kind   error
	reason string
}

func (e *reasonError) Error() string { return fmt.Sprintf("%s: %s", e.kind, e.reason) }
func (e *reasonError) Unwrap() error { return e.kind }

// Reason returns the client-safe reason attached by Forbidden, NotFound or
// Conflict, or "" when err carries none.
func Reason(err error) string {
	var re *reasonError
	if errors.As(err, &re) {
		return re.reason
	}
	return ""
}
