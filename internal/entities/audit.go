package entities

import "time"

type AuditEventType string

const (
	AuditEventAuth    AuditEventType = "auth"
	AuditEventProfile AuditEventType = "profile"
)

// Audit actions recorded for the auth view.
const (
	AuditActionSignup      = "signup"
	AuditActionLogin       = "login"
	AuditActionGitHubLogin = "github_login"
	AuditActionOAuthReturn = "oauth_callback"
	AuditActionLogout      = "logout"
	AuditActionProfileSave = "profile_insert"
)

type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusFailed  AuditStatus = "failed"
)

type AuditEvent struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	UserRef       string         `gorm:"index;size:255" json:"user_ref"` // provider user ID or submitted email
	EventType     AuditEventType `gorm:"index;size:50" json:"event_type"`
	Action        string         `gorm:"size:100" json:"action"`
	Description   string         `gorm:"size:500" json:"description"`
	IPAddress     string         `gorm:"size:45" json:"ip_address,omitempty"`
	UserAgent     string         `gorm:"size:500" json:"user_agent,omitempty"`
	Status        AuditStatus    `gorm:"size:20" json:"status"`
	ErrorMsg      string         `gorm:"size:500" json:"error_msg,omitempty"`
	CorrelationID string         `gorm:"index;size:36" json:"correlation_id,omitempty"`
	CreatedAt     time.Time      `gorm:"index" json:"created_at"`
}

func (AuditEvent) TableName() string {
	return "audit_events"
}
