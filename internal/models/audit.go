package models

import "time"

// AuditAction constants represent actions to be logged.
const (
	AuditActionLogin           = "LOGIN"
	AuditActionLogout          = "LOGOUT"
	AuditActionPasswordChange  = "PASSWORD_CHANGE"
	AuditActionEnrolled        = "ENROLLED"
	AuditActionDropped         = "DROPPED"
	AuditActionWaitlisted      = "WAITLISTED"
	AuditActionWaitlistRemoved = "WAITLIST_REMOVED"
	AuditActionSectionCreate   = "SECTION_CREATE"
	AuditActionSectionUpdate   = "SECTION_UPDATE"
	AuditActionUserCreate      = "USER_CREATE"
	AuditActionUserUpdate      = "USER_UPDATE"
	AuditActionUserDelete      = "USER_DELETE"
)

// AuditEntityEnrollment is the entity type stamped on enrollment transitions.
const AuditEntityEnrollment = "ENROLLMENT"

// AuditEvent is the transition notification handed to the audit sink after
// each successful enrollment state change. Delivery is best effort; the
// originating transition never rolls back on sink failure.
type AuditEvent struct {
	ActorID    string                 `json:"actor_id"`
	Action     string                 `json:"action"`
	EntityType string                 `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// AuditLog represents a persisted audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	ActorID    *string   `db:"actor_id" json:"actor_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	EntityType string    `db:"entity_type" json:"entity_type"`
	EntityID   *string   `db:"entity_id" json:"entity_id,omitempty"`
	Metadata   []byte    `db:"metadata" json:"metadata,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
