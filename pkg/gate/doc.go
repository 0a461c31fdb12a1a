// Package gate makes the per-request authorization decision.
//
// Authorize verifies the credential, builds the caller's AuthContext from
// cached roles and effective permissions, and evaluates a Requirement
// against it. The gate knows nothing about HTTP; pkg/middleware adapts it.
//
//	g := gate.New(verifier, svc.Resolver(), gate.WithLogger(logger))
//	ac, err := g.Authorize(ctx, token, gate.Permission("equipment", "update"))
//	var gerr *gate.Error
//	if errors.As(err, &gerr) {
//		status := gerr.Class().HTTPStatus()
//	}
//
// A caller holding the superuser role (rbac.SuperuserRoleName by default),
// either as a stored role or as the token's legacy role claim, satisfies
// every requirement.
package gate
