// Package httputil holds the JSON plumbing shared by the HTTP surfaces.
//
// Every error leaves the process as the same body:
//
//	{"error": "ROLE_IN_USE", "message": "role 4 has 3 live assignments"}
//
// gate failures add "required" and "missing" lists. WriteDomainError maps
// rbac domain errors onto statuses:
//
//	400  ErrInvalidInput, ErrInvalidPermissionKey
//	404  ErrRoleNotFound, ErrAssignmentNotFound, ErrPermissionNotFound, ErrOverrideNotFound
//	409  ErrDuplicateRole, ErrDuplicateAssignment, ErrDuplicatePermission, ErrRoleInUse
//	422  ErrSystemRoleImmutable, ErrSystemPermissionImmutable
//
// Anything else is logged and answered with a bare 500.
package httputil
