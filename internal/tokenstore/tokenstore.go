// Package tokenstore keeps the CLI's provider session between invocations,
// encrypted with AES-256-GCM in a local SQLite database.
package tokenstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mrlokans/authview/internal/crypto"
	"github.com/mrlokans/authview/internal/entities"
	"github.com/mrlokans/authview/internal/identity"
)

// keyPurpose is the HKDF info used when the key is a passphrase.
const keyPurpose = "authview/tokenstore"

// TokenStore provides encrypted storage for provider sessions, one per
// provider project URL.
type TokenStore struct {
	db        *gorm.DB
	encryptor *crypto.Encryptor
}

// Config holds configuration for the token store
type Config struct {
	// DatabasePath is the path to the SQLite database file
	DatabasePath string

	// EncryptionKey is either a base64-encoded 32-byte key or a passphrase
	// of at least 16 bytes. If empty, the key file is used.
	EncryptionKey string

	// KeyFilePath holds a generated key. It is created on first use.
	KeyFilePath string

	Logger *zap.Logger
}

// New creates a new TokenStore with the given configuration
func New(cfg Config) (*TokenStore, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	encryptor, err := resolveEncryptor(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve encryption key: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(cfg.DatabasePath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&entities.StoredSession{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &TokenStore{db: db, encryptor: encryptor}, nil
}

// resolveEncryptor builds the encryptor from the configured key, falling
// back to the key file and generating it when missing.
func resolveEncryptor(cfg Config) (*crypto.Encryptor, error) {
	if cfg.EncryptionKey != "" {
		return encryptorFromKey(cfg.EncryptionKey)
	}
	if cfg.KeyFilePath == "" {
		return nil, errors.New("no encryption key or key file configured")
	}

	if data, err := os.ReadFile(cfg.KeyFilePath); err == nil {
		return crypto.NewEncryptorFromBase64(strings.TrimSpace(string(data)))
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	newKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate encryption key: %w", err)
	}
	if err := os.WriteFile(cfg.KeyFilePath, []byte(newKey), 0600); err != nil {
		return nil, fmt.Errorf("failed to save encryption key to %s: %w", cfg.KeyFilePath, err)
	}
	cfg.Logger.Info("generated token encryption key", zap.String("path", cfg.KeyFilePath))

	return crypto.NewEncryptorFromBase64(newKey)
}

func encryptorFromKey(key string) (*crypto.Encryptor, error) {
	if raw, err := base64.StdEncoding.DecodeString(key); err == nil && len(raw) == crypto.KeySize {
		return crypto.NewEncryptor(raw)
	}
	return crypto.NewEncryptorFromSecret([]byte(key), keyPurpose)
}

// Save stores session for projectURL, replacing any previous one.
func (s *TokenStore) Save(projectURL string, session *identity.Session) error {
	if session == nil {
		return s.Delete(projectURL)
	}

	access, err := s.encryptor.Encrypt(session.AccessToken, projectURL)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refresh, err := s.encryptor.Encrypt(session.RefreshToken, projectURL)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	var user string
	if session.User != nil {
		raw, err := json.Marshal(session.User)
		if err != nil {
			return fmt.Errorf("failed to encode user: %w", err)
		}
		if user, err = s.encryptor.Encrypt(string(raw), projectURL); err != nil {
			return fmt.Errorf("failed to encrypt user: %w", err)
		}
	}

	var expiresAt *time.Time
	if exp := session.Expiry(); !exp.IsZero() {
		expiresAt = &exp
	}

	record := &entities.StoredSession{ProjectURL: projectURL}
	result := s.db.Where("project_url = ?", projectURL).
		Assign(map[string]interface{}{
			"access_token":  access,
			"refresh_token": refresh,
			"token_type":    session.TokenType,
			"expires_at":    expiresAt,
			"user":          user,
			"updated_at":    time.Now(),
		}).
		FirstOrCreate(record)
	if result.Error != nil {
		return fmt.Errorf("failed to save session: %w", result.Error)
	}
	return nil
}

// Load returns the session stored for projectURL, or nil.
func (s *TokenStore) Load(projectURL string) (*identity.Session, error) {
	var record entities.StoredSession
	result := s.db.Where("project_url = ?", projectURL).First(&record)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session: %w", result.Error)
	}
	return s.decrypt(&record)
}

// Delete removes the session stored for projectURL.
func (s *TokenStore) Delete(projectURL string) error {
	result := s.db.Unscoped().Where("project_url = ?", projectURL).
		Delete(&entities.StoredSession{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete session: %w", result.Error)
	}
	return nil
}

func (s *TokenStore) decrypt(record *entities.StoredSession) (*identity.Session, error) {
	access, err := s.encryptor.Decrypt(record.AccessToken, record.ProjectURL)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	refresh, err := s.encryptor.Decrypt(record.RefreshToken, record.ProjectURL)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	session := &identity.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    record.TokenType,
	}
	if record.ExpiresAt != nil {
		session.ExpiresAt = record.ExpiresAt.Unix()
	}

	if record.User != "" {
		raw, err := s.encryptor.Decrypt(record.User, record.ProjectURL)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt user: %w", err)
		}
		var user identity.User
		if err := json.Unmarshal([]byte(raw), &user); err != nil {
			return nil, fmt.Errorf("failed to decode user: %w", err)
		}
		session.User = &user
	}
	return session, nil
}

// Close closes the database connection
func (s *TokenStore) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}

// ProjectStorage adapts the store to a single provider project, for use as
// the provider client's session storage.
type ProjectStorage struct {
	store      *TokenStore
	projectURL string
}

// For returns the session storage of projectURL.
func (s *TokenStore) For(projectURL string) *ProjectStorage {
	return &ProjectStorage{store: s, projectURL: projectURL}
}

func (p *ProjectStorage) LoadSession(context.Context) (*identity.Session, error) {
	return p.store.Load(p.projectURL)
}

func (p *ProjectStorage) SaveSession(_ context.Context, session *identity.Session) error {
	return p.store.Save(p.projectURL, session)
}

func (p *ProjectStorage) RemoveSession(context.Context) error {
	return p.store.Delete(p.projectURL)
}
