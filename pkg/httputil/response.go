package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/platinummonkey/assetguard/pkg/contextkeys"
	"github.com/platinummonkey/assetguard/pkg/observability"
	"github.com/platinummonkey/assetguard/pkg/rbac"
)

// ErrorBody is the JSON shape of every error response
type ErrorBody struct {
	Error    string   `json:"error"`
	Message  string   `json:"message"`
	Required []string `json:"required,omitempty"`
	Missing  []string `json:"missing,omitempty"`
}

// Error codes for failures that do not come from the gate
const (
	CodeInvalidInput         = "INVALID_INPUT"
	CodeInvalidPermissionKey = "INVALID_PERMISSION_KEY"
	CodeRoleNotFound         = "ROLE_NOT_FOUND"
	CodeAssignmentNotFound   = "ASSIGNMENT_NOT_FOUND"
	CodePermissionNotFound   = "PERMISSION_NOT_FOUND"
	CodeOverrideNotFound     = "OVERRIDE_NOT_FOUND"
	CodeDuplicateRole        = "DUPLICATE_ROLE"
	CodeDuplicateAssignment  = "DUPLICATE_ASSIGNMENT"
	CodeDuplicatePermission  = "DUPLICATE_PERMISSION"
	CodeRoleInUse            = "ROLE_IN_USE"
	CodeSystemRoleImmutable  = "SYSTEM_ROLE_IMMUTABLE"
	CodeSystemPermImmutable  = "SYSTEM_PERMISSION_IMMUTABLE"
	CodeRoleManagementDenied = "ROLE_MANAGEMENT_DENIED"
	CodeOverrideDenied       = "OVERRIDE_DENIED"
	CodeRateLimited          = "RATE_LIMITED"
	CodeInternal             = "INTERNAL_ERROR"
)

var domainStatus = []struct {
	kind   error
	status int
	code   string
}{
	{rbac.ErrInvalidInput, http.StatusBadRequest, CodeInvalidInput},
	{rbac.ErrInvalidPermissionKey, http.StatusBadRequest, CodeInvalidPermissionKey},
	{rbac.ErrRoleNotFound, http.StatusNotFound, CodeRoleNotFound},
	{rbac.ErrAssignmentNotFound, http.StatusNotFound, CodeAssignmentNotFound},
	{rbac.ErrPermissionNotFound, http.StatusNotFound, CodePermissionNotFound},
	{rbac.ErrOverrideNotFound, http.StatusNotFound, CodeOverrideNotFound},
	{rbac.ErrDuplicateRole, http.StatusConflict, CodeDuplicateRole},
	{rbac.ErrDuplicateAssignment, http.StatusConflict, CodeDuplicateAssignment},
	{rbac.ErrDuplicatePermission, http.StatusConflict, CodeDuplicatePermission},
	{rbac.ErrRoleInUse, http.StatusConflict, CodeRoleInUse},
	{rbac.ErrSystemRoleImmutable, http.StatusUnprocessableEntity, CodeSystemRoleImmutable},
	{rbac.ErrSystemPermissionImmutable, http.StatusUnprocessableEntity, CodeSystemPermImmutable},
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteErrorBody writes body with the given status
func WriteErrorBody(w http.ResponseWriter, status int, body ErrorBody) {
	_ = WriteJSON(w, status, body)
}

// WriteErrorCode writes an error with a code and a caller-facing message
func WriteErrorCode(w http.ResponseWriter, status int, code, message string) {
	WriteErrorBody(w, status, ErrorBody{Error: code, Message: message})
}

// WriteBadRequest writes a 400 INVALID_INPUT
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorCode(w, http.StatusBadRequest, CodeInvalidInput, message)
}

// WriteNoContent writes a 204
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// StatusFor returns the status and code for an rbac domain error, and false
// for anything else
func StatusFor(err error) (int, string, bool) {
	if !rbac.IsDomainError(err) {
		return 0, "", false
	}
	for _, d := range domainStatus {
		if errors.Is(err, d.kind) {
			return d.status, d.code, true
		}
	}
	return http.StatusBadRequest, CodeInvalidInput, true
}

// WriteDomainError answers err. Domain errors carry their own message; any
// other error is logged with the request id and hidden behind a 500.
func WriteDomainError(w http.ResponseWriter, r *http.Request, logger *observability.Logger, err error) {
	if status, code, ok := StatusFor(err); ok {
		WriteErrorCode(w, status, code, err.Error())
		return
	}

	if logger != nil {
		logger.WithFields(map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"request_id": contextkeys.GetRequestID(r.Context()),
		}).WithError(err).Error("Request failed")
	}
	WriteErrorCode(w, http.StatusInternalServerError, CodeInternal, "Internal server error")
}
