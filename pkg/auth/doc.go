// Package auth verifies the bearer credentials presented to assetguard.
//
// # Overview
//
// A Verifier turns a raw token into a Principal carrying the numeric user
// ID, the username and an optional legacy role claim. Verification failures
// are *VerifyError values whose Code distinguishes expired, not yet valid,
// malformed and otherwise invalid tokens.
//
// # Verifiers
//
// JWTVerifier checks HS256 or RS256 tokens signed by a known key:
//
//	v, err := auth.NewJWTVerifier(auth.JWTConfig{
//		Algorithm: auth.HS256,
//		Secret:    os.Getenv("ASSETGUARD_JWT_SECRET"),
//		Issuer:    "assetguard",
//	})
//	principal, err := v.Verify(ctx, token)
//
// OIDCVerifier checks ID tokens from an OpenID Connect provider discovered
// at its issuer URL.
//
// JWTIssuer mints tokens for development and tests. Production tokens come
// from the application's session service.
package auth
