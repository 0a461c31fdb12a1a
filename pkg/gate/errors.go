package gate

import (
	"net/http"
)

// Code identifies an authorization outcome
type Code string

const (
	CodeTokenRequired    Code = "TOKEN_REQUIRED"
	CodeInvalidToken     Code = "INVALID_TOKEN"
	CodeTokenExpired     Code = "TOKEN_EXPIRED"
	CodeMalformedToken   Code = "MALFORMED_TOKEN"
	CodeTokenNotActive   Code = "TOKEN_NOT_ACTIVE"
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodeRoleRequired     Code = "ROLE_REQUIRED"
	CodeLoadFailed       Code = "AUTHORIZATION_LOAD_FAILED"
)

// Class groups codes by how a transport should answer them
type Class int

const (
	ClassUnauthenticated Class = iota
	ClassForbidden
	ClassInternal
)

// HTTPStatus returns the status code for the class
func (c Class) HTTPStatus() int {
	switch c {
	case ClassUnauthenticated:
		return http.StatusUnauthorized
	case ClassForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Class returns the class of the code
func (c Code) Class() Class {
	switch c {
	case CodeTokenRequired, CodeInvalidToken, CodeTokenExpired, CodeMalformedToken, CodeTokenNotActive:
		return ClassUnauthenticated
	case CodePermissionDenied, CodeRoleRequired:
		return ClassForbidden
	default:
		return ClassInternal
	}
}

// Error is a rejected authorization. Message is safe to show to callers;
// Err holds the underlying cause and is never serialized.
type Error struct {
	Code     Code     `json:"error"`
	Message  string   `json:"message"`
	Required []string `json:"required,omitempty"`
	Missing  []string `json:"missing,omitempty"`
	Err      error    `json:"-"`
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Class returns the error's class
func (e *Error) Class() Class {
	return e.Code.Class()
}

var defaultMessages = map[Code]string{
	CodeTokenRequired:    "Authentication token required",
	CodeInvalidToken:     "Invalid authentication token",
	CodeTokenExpired:     "Authentication token has expired",
	CodeMalformedToken:   "Malformed authentication token",
	CodeTokenNotActive:   "Authentication token is not valid yet",
	CodePermissionDenied: "Insufficient permissions",
	CodeRoleRequired:     "Required role missing",
	CodeLoadFailed:       "Failed to load authorization context",
}

func newError(code Code, cause error) *Error {
	return &Error{Code: code, Message: defaultMessages[code], Err: cause}
}
