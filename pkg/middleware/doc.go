// Package middleware adapts the authorization gate and rate limiting to net/http.
//
// # Middleware Components
//
// RequestID: correlation id for logs and audit events
//
//	router.Use(middleware.RequestID(logger))
//	// reuses X-Request-ID when present, otherwise a new UUID
//
// Authorizer: per-route authorization through gate.Gate
//
//	authz := middleware.NewAuthorizer(g)
//	router.Handle("/equipment", authz.Require(gate.Permission("equipment", "read"))(h))
//	// credential from the "token" cookie, else Authorization: Bearer
//	// failures answer {"error", "message", "required", "missing"} with 401/403/500
//
// RateLimitMiddleware: token bucket per user, per client IP when anonymous
//
//	rl := middleware.NewRateLimitMiddleware(
//		middleware.NewRateLimiter(middleware.PerUserRateLimitConfig()),
//		middleware.NewRateLimiter(middleware.DefaultRateLimitConfig()),
//	)
//
// DistributedRateLimiter shares the same limits across replicas through Redis
// and plugs into RateLimitMiddleware in place of the in-memory limiter.
//
// # Rate Limiting
//
// Default (Anonymous): 100 req/min, 10 burst
// Per-User: 1000 req/min, 50 burst
package middleware
