// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/assetguard/pkg/contextkeys"
//	ctx = contextkeys.WithAuth(ctx, authCtx)
//	authCtx, _ := ctx.Value(contextkeys.AuthKey).(*gate.AuthContext)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// AuthKey contains *gate.AuthContext
	// Set by: middleware.Authorizer (pkg/middleware/authorize.go)
	// Required by: admin API handlers, downstream protected handlers
	// Type: *gate.AuthContext
	AuthKey Key = "auth_context"

	// ActorIDKey contains the acting user's ID
	// Set by: middleware.Authorizer after a successful decision
	// Used by: rbac.Service for audit attribution and createdBy defaults
	// Type: int64
	ActorIDKey Key = "actor_id"

	// RequestIDKey contains request ID string (UUID)
	// Set by: middleware.RequestID
	// Used by: Logger, audit trail, error correlation
	// Type: string
	RequestIDKey Key = "request_id"
)

// WithAuth adds the authorization context to the context
func WithAuth(ctx context.Context, authCtx interface{}) context.Context {
	return context.WithValue(ctx, AuthKey, authCtx)
}

// WithActorID adds the acting user's ID to the context
func WithActorID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, ActorIDKey, userID)
}

// GetActorID retrieves the acting user's ID from context
func GetActorID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(ActorIDKey).(int64)
	return id, ok
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
