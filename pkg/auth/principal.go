package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Principal is the verified identity behind a credential
type Principal struct {
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	Role      string    `json:"role,omitempty"` // legacy single-role claim
	Subject   string    `json:"sub,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Verifier validates a raw credential
type Verifier interface {
	Verify(ctx context.Context, token string) (*Principal, error)
}

// VerifierFunc adapts a function to Verifier
type VerifierFunc func(ctx context.Context, token string) (*Principal, error)

// Verify implements Verifier
func (f VerifierFunc) Verify(ctx context.Context, token string) (*Principal, error) {
	return f(ctx, token)
}

// VerifyErrorCode classifies a verification failure
type VerifyErrorCode string

const (
	CodeInvalid   VerifyErrorCode = "INVALID_TOKEN"
	CodeExpired   VerifyErrorCode = "TOKEN_EXPIRED"
	CodeMalformed VerifyErrorCode = "MALFORMED_TOKEN"
	CodeNotActive VerifyErrorCode = "TOKEN_NOT_ACTIVE"
)

// VerifyError is returned by every Verifier on failure
type VerifyError struct {
	Code VerifyErrorCode
	Err  error
}

func (e *VerifyError) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *VerifyError) Unwrap() error {
	return e.Err
}

// ErrorCode returns the VerifyErrorCode carried by err, or CodeInvalid when
// err is not a *VerifyError
func ErrorCode(err error) VerifyErrorCode {
	var ve *VerifyError
	if errors.As(err, &ve) {
		return ve.Code
	}
	return CodeInvalid
}

func verifyError(code VerifyErrorCode, format string, args ...interface{}) *VerifyError {
	return &VerifyError{Code: code, Err: fmt.Errorf(format, args...)}
}
