// Package api provides the admin HTTP API for roles, assignments, overrides
// and the permission catalog.
//
// # Architecture
//
// The API is built on gorilla/mux and organized into handler groups that each
// register their own routes:
//
//   - RoleHandlers: role CRUD, clone and hierarchy
//   - UserHandlers: assignments, direct overrides and effective permissions
//   - PermissionHandlers: the permission catalog
//   - AuthzHandlers: the caller's own context and ad-hoc checks
//
// Every route is wrapped by middleware.Authorizer with the permission it
// needs. Role mutations additionally require the caller's highest role to
// outrank the target role; superusers skip that check.
//
//	server := api.NewServer(api.Deps{
//		Service:    svc,
//		Gate:       g,
//		Authorizer: middleware.NewAuthorizer(g),
//		Logger:     logger,
//	})
//	http.ListenAndServe(":8080", server)
//
// # API Endpoints
//
//	GET    /api/v1/roles                              roles:read
//	POST   /api/v1/roles                              roles:manage
//	GET    /api/v1/roles/hierarchy                    roles:read
//	GET    /api/v1/roles/{id}                         roles:read
//	PUT    /api/v1/roles/{id}                         roles:manage + outrank
//	DELETE /api/v1/roles/{id}                         roles:manage + outrank
//	POST   /api/v1/roles/{id}/clone                   roles:manage + outrank
//	GET    /api/v1/users/{id}/roles                   roles:read
//	POST   /api/v1/users/{id}/roles                   roles:assign + outrank
//	DELETE /api/v1/users/{id}/roles/{roleID}          roles:assign + outrank
//	PUT    /api/v1/users/{id}/permissions             permissions:manage
//	DELETE /api/v1/users/{id}/permissions             permissions:manage
//	GET    /api/v1/users/{id}/effective-permissions   self, or roles:read
//	GET    /api/v1/permissions                        permissions:read
//	POST   /api/v1/permissions                        permissions:manage
//	PATCH  /api/v1/permissions/{id}                   permissions:manage
//	POST   /api/v1/authz/check                        authenticated
//	GET    /api/v1/me                                 authenticated
//
// # Error Handling
//
// Errors use the httputil.ErrorBody shape. Gate failures keep their codes;
// rbac domain errors map to 400, 404, 409 or 422.
package api
