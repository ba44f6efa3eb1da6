package auth

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/mrlokans/authview/internal/crypto"
)

const csrfKeyPurpose = "authview/csrf"

// GenerateSessionSecret creates a random 32-byte secret for CSRF token signing.
func GenerateSessionSecret() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// SessionSecretBytes turns a configured secret into a 32-byte CSRF key. A
// hex-encoded 32-byte secret is used as is; any other secret of at least
// 16 bytes is stretched with HKDF.
func SessionSecretBytes(secret string) ([]byte, error) {
	if key, err := hex.DecodeString(secret); err == nil && len(key) == 32 {
		return key, nil
	}
	key, err := crypto.DeriveKey([]byte(secret), csrfKeyPurpose)
	if err != nil {
		return nil, ErrInvalidSessionSecret
	}
	return key, nil
}
