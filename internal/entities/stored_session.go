package entities

import (
	"time"

	"gorm.io/gorm"
)

// StoredSession is a provider session kept by the CLI between invocations.
type StoredSession struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	// ProjectURL identifies the identity provider the session belongs to
	ProjectURL string `gorm:"type:varchar(255);not null;uniqueIndex" json:"project_url"`

	// AccessToken and RefreshToken are base64-encoded AES-256-GCM ciphertext
	AccessToken  string `gorm:"type:text;not null" json:"-"`
	RefreshToken string `gorm:"type:text" json:"-"`

	TokenType string `gorm:"type:varchar(50);default:bearer" json:"token_type"`

	// ExpiresAt is when the access token expires (nullable when unknown)
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// User is the encrypted JSON of the session user
	User string `gorm:"type:text" json:"-"`
}

func (StoredSession) TableName() string {
	return "stored_sessions"
}

// IsExpiringSoon checks if the access token expires within the given duration
func (s *StoredSession) IsExpiringSoon(within time.Duration) bool {
	if s.ExpiresAt == nil {
		return false
	}
	return time.Now().Add(within).After(*s.ExpiresAt)
}
