// Package users stores the application-side record of each signed-up user.
//
// # Usage
//
//	repo, err := users.NewRepository(db, "users")
//	err = repo.Insert(ctx, []identity.UserRecord{{UserID: id, Email: email, CreatedAt: now}})
package users

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/mrlokans/authview/internal/entities"
	"github.com/mrlokans/authview/internal/identity"
)

var _ identity.UsersTable = (*Repository)(nil)

var ErrEmptyEmail = errors.New("user record email is required")

// Repository handles user record operations on a named table.
type Repository struct {
	db    *gorm.DB
	table string
}

// NewRepository creates the table if needed and returns a repository for it.
func NewRepository(db *gorm.DB, table string) (*Repository, error) {
	if table == "" {
		table = entities.UserProfile{}.TableName()
	}
	if err := db.Table(table).AutoMigrate(&entities.UserProfile{}); err != nil {
		return nil, fmt.Errorf("failed to migrate %s table: %w", table, err)
	}
	return &Repository{db: db, table: table}, nil
}

// Insert writes records in one transaction.
func (r *Repository) Insert(ctx context.Context, records []identity.UserRecord) error {
	if len(records) == 0 {
		return nil
	}

	profiles := make([]entities.UserProfile, 0, len(records))
	for _, rec := range records {
		if rec.Email == "" {
			return ErrEmptyEmail
		}
		profiles = append(profiles, entities.UserProfile{
			UserID:    rec.UserID,
			Email:     rec.Email,
			CreatedAt: rec.CreatedAt,
		})
	}

	if err := r.db.WithContext(ctx).Table(r.table).Create(&profiles).Error; err != nil {
		return fmt.Errorf("insert into %s: %w", r.table, err)
	}
	return nil
}

// GetByUserID retrieves the record for a provider user ID.
func (r *Repository) GetByUserID(ctx context.Context, userID string) (*entities.UserProfile, error) {
	var profile entities.UserProfile
	err := r.db.WithContext(ctx).Table(r.table).Where("user_id = ?", userID).First(&profile).Error
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// GetByEmail retrieves the most recent record for an email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*entities.UserProfile, error) {
	var profile entities.UserProfile
	err := r.db.WithContext(ctx).Table(r.table).Where("email = ?", email).Order("id DESC").First(&profile).Error
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// Count returns the number of stored records.
func (r *Repository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Table(r.table).Count(&count).Error
	return count, err
}
