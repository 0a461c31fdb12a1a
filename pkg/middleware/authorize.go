package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/platinummonkey/assetguard/pkg/contextkeys"
	"github.com/platinummonkey/assetguard/pkg/gate"
	"github.com/platinummonkey/assetguard/pkg/httputil"
)

// DefaultCookieName is the cookie checked for a credential before the
// Authorization header
const DefaultCookieName = "token"

// Decider makes authorization decisions. *gate.Gate satisfies it.
type Decider interface {
	Authorize(ctx context.Context, credential string, req gate.Requirement) (*gate.AuthContext, error)
}

// Authorizer protects handlers with gate requirements
type Authorizer struct {
	decider    Decider
	cookieName string
}

// AuthorizerOption configures an Authorizer
type AuthorizerOption func(*Authorizer)

// WithCookieName overrides the credential cookie name
func WithCookieName(name string) AuthorizerOption {
	return func(a *Authorizer) { a.cookieName = name }
}

// NewAuthorizer creates an authorizer over d
func NewAuthorizer(d Decider, opts ...AuthorizerOption) *Authorizer {
	a := &Authorizer{decider: d, cookieName: DefaultCookieName}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Require rejects requests whose caller does not meet req. On success the
// AuthContext and actor id are stored in the request context.
func (a *Authorizer) Require(req gate.Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential := ExtractCredential(r, a.cookieName)

			ac, err := a.decider.Authorize(r.Context(), credential, req)
			if err != nil {
				WriteGateError(w, err)
				return
			}

			ctx := contextkeys.WithAuth(r.Context(), ac)
			ctx = contextkeys.WithActorID(ctx, ac.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Authenticate requires only a valid credential
func (a *Authorizer) Authenticate() func(http.Handler) http.Handler {
	return a.Require(gate.Authenticated())
}

// ExtractCredential returns the credential of r. The cookie wins over the
// Authorization header.
func ExtractCredential(r *http.Request, cookieName string) string {
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
			return c.Value
		}
	}

	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// WriteGateError writes the JSON body for an authorization failure
func WriteGateError(w http.ResponseWriter, err error) {
	var gerr *gate.Error
	if !errors.As(err, &gerr) {
		httputil.WriteErrorCode(w, http.StatusInternalServerError, string(gate.CodeLoadFailed), "Failed to load authorization context")
		return
	}
	httputil.WriteErrorBody(w, gerr.Class().HTTPStatus(), httputil.ErrorBody{
		Error:    string(gerr.Code),
		Message:  gerr.Message,
		Required: gerr.Required,
		Missing:  gerr.Missing,
	})
}

// GetAuthContext returns the AuthContext stored by Require, or nil
func GetAuthContext(r *http.Request) *gate.AuthContext {
	return AuthContextFrom(r.Context())
}

// AuthContextFrom returns the AuthContext stored in ctx, or nil
func AuthContextFrom(ctx context.Context) *gate.AuthContext {
	ac, _ := ctx.Value(contextkeys.AuthKey).(*gate.AuthContext)
	return ac
}
