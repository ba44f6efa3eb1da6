package entities

import "time"

// UserProfile is the application-side record written after sign-up. The
// provider owns credentials; no password is kept here.
type UserProfile struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"uniqueIndex;size:64" json:"user_id"`
	Email     string    `gorm:"index;size:255;not null" json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

func (UserProfile) TableName() string {
	return "users"
}
