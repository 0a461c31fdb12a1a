package rbac

import (
	"errors"
	"fmt"
)

// Domain errors returned by the service. Callers match them with errors.Is.
var (
	ErrDuplicateRole             = errors.New("duplicate role")
	ErrDuplicateAssignment       = errors.New("duplicate assignment")
	ErrRoleNotFound              = errors.New("role not found")
	ErrAssignmentNotFound        = errors.New("assignment not found")
	ErrRoleInUse                 = errors.New("role in use")
	ErrSystemRoleImmutable       = errors.New("system role is immutable")
	ErrInvalidPermissionKey      = errors.New("invalid permission key")
	ErrPermissionNotFound        = errors.New("permission not found")
	ErrDuplicatePermission       = errors.New("duplicate permission")
	ErrSystemPermissionImmutable = errors.New("system permission is immutable")
	ErrOverrideNotFound          = errors.New("override not found")
	ErrInvalidInput              = errors.New("invalid input")
)

// Error carries a domain error kind together with a caller-facing message
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes Kind so errors.Is matches the sentinel
func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// IsDomainError reports whether err is one of the typed domain errors
func IsDomainError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}
