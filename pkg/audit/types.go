package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Role management events
	EventTypeRoleCreate EventType = "role.create"
	EventTypeRoleUpdate EventType = "role.update"
	EventTypeRoleDelete EventType = "role.delete"
	EventTypeRoleClone  EventType = "role.clone"

	// Assignment events
	EventTypeRoleAssign     EventType = "assignment.assign"
	EventTypeRoleRemove     EventType = "assignment.remove"
	EventTypeOverrideSet    EventType = "override.set"
	EventTypeOverrideRemove EventType = "override.remove"
	EventTypeExpirySweep    EventType = "assignment.expiry_sweep"

	// Catalog events
	EventTypePermissionCreate EventType = "permission.create"
	EventTypePermissionToggle EventType = "permission.toggle"

	// Authorization events
	EventTypeAccessDenied EventType = "authz.access_denied"
	EventTypeLoadFailed   EventType = "authz.load_failed"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource being acted on
type ResourceType string

const (
	ResourceTypeRole       ResourceType = "role"
	ResourceTypeUser       ResourceType = "user"
	ResourceTypePermission ResourceType = "permission"
	ResourceTypeRequest    ResourceType = "request"
)

// Event represents a single audit log entry
type Event struct {
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor information
	ActorID  *int64 `json:"actor_id,omitempty"`
	Username string `json:"username,omitempty"`

	// Resource information
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`
	TargetUserID *int64       `json:"target_user_id,omitempty"`

	// Request context
	RequestID string `json:"request_id,omitempty"`
	Path      string `json:"path,omitempty"`

	// Additional details
	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Changes      *ChangeDetails         `json:"changes,omitempty"`
}

// ChangeDetails tracks before/after values for updates
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}
